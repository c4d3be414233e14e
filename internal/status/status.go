// Package status renders the daemon's read-only view for the CLI.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/msageha/autosteer/internal/live"
	"github.com/msageha/autosteer/internal/lock"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/profile"
	"github.com/msageha/autosteer/internal/reconcile"
	"github.com/msageha/autosteer/internal/uds"
)

// Report is the payload of the daemon "status" command.
type Report struct {
	Daemon     DaemonInfo            `json:"daemon"`
	Channel    *live.Status          `json:"channel,omitempty"`
	Queue      *model.QueueStatus    `json:"queue,omitempty"`
	QueueStale bool                  `json:"queue_stale,omitempty"`
	Tasks      []TaskLine            `json:"tasks,omitempty"`
	TasksStale bool                  `json:"tasks_stale,omitempty"`
	Drafts     []DraftLine           `json:"drafts,omitempty"`
	Cache      *reconcile.CacheStats `json:"cache,omitempty"`
}

type DaemonInfo struct {
	Running bool   `json:"running"`
	Pid     int    `json:"pid,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	// Unresponsive means the daemon lock is held but the socket did not answer.
	Unresponsive bool `json:"unresponsive,omitempty"`
}

type TaskLine struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Status    model.TaskStatus `json:"status"`
	ProfileID string           `json:"profile_id,omitempty"`
	SteerMode model.PhaseMode  `json:"steer_mode,omitempty"`
}

type DraftLine struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phases  int    `json:"phases"`
	Dirty   bool   `json:"dirty"`
	Issues  int    `json:"issues,omitempty"`
	SavedAt string `json:"saved_at,omitempty"`
}

var (
	titleStyle        = lipgloss.NewStyle().Bold(true)
	labelStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	reconnectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	offlineStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	staleStyle        = lipgloss.NewStyle().Faint(true).Italic(true)
)

// Run asks the daemon in workspaceDir for its report and prints it. When the
// daemon is not running only the local drafts are shown.
func Run(workspaceDir string, jsonOutput bool, w io.Writer) error {
	report := Fetch(workspaceDir)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	Render(w, report)
	return nil
}

// Fetch returns the daemon's report, or a local-only one when it cannot be
// reached.
func Fetch(workspaceDir string) Report {
	client := uds.NewClient(filepath.Join(workspaceDir, uds.DefaultSocketName))
	resp, err := client.SendCommand("status", nil)
	if err == nil && resp.Success {
		var r Report
		if err := json.Unmarshal(resp.Data, &r); err == nil {
			return r
		}
	}

	r := Report{Daemon: DaemonInfo{Running: false}}
	if lockPath := lock.DaemonLockPath(workspaceDir); lock.Held(lockPath) {
		r.Daemon.Unresponsive = true
		r.Daemon.Pid, _ = lock.HolderPID(lockPath)
	}
	r.Drafts = LocalDrafts(profile.NewStore(workspaceDir), nil)
	return r
}

// LocalDrafts lists stored drafts. issues maps draft id to its validation
// error count when known.
func LocalDrafts(store *profile.Store, issues map[string]int) []DraftLine {
	drafts, err := store.List("")
	if err != nil {
		return nil
	}
	out := make([]DraftLine, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, DraftLine{
			ID:      d.ID,
			Name:    d.Name,
			Phases:  d.Phases,
			Dirty:   d.Dirty,
			Issues:  issues[d.ID],
			SavedAt: d.SavedAt,
		})
	}
	return out
}

// ConnectionIndicator is the one-line live channel badge.
func ConnectionIndicator(s *live.Status) string {
	switch {
	case s == nil:
		return offlineStyle.Render("● no channel")
	case s.Connected:
		return connectedStyle.Render("● live")
	case s.GaveUp:
		msg := "● offline (gave up"
		if s.Attempts > 0 {
			msg += fmt.Sprintf(" after %d attempts", s.Attempts)
		}
		return offlineStyle.Render(msg + ")")
	default:
		return reconnectingStyle.Render(fmt.Sprintf("● reconnecting (attempt %d)", s.Attempts+1))
	}
}

func Render(w io.Writer, r Report) {
	if r.Daemon.Running {
		line := "running"
		if r.Daemon.Pid > 0 {
			line += fmt.Sprintf(" pid=%d", r.Daemon.Pid)
		}
		if r.Daemon.Uptime != "" {
			line += " up " + r.Daemon.Uptime
		}
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Daemon:"), line)
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Channel:"), ConnectionIndicator(r.Channel))
		if r.Channel != nil && r.Channel.LastError != "" && !r.Channel.Connected {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("last error:"), r.Channel.LastError)
		}
	} else if r.Daemon.Unresponsive {
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Daemon:"),
			offlineStyle.Render(fmt.Sprintf("unresponsive (lock held by pid %d)", r.Daemon.Pid)))
	} else {
		fmt.Fprintf(w, "%s stopped\n", titleStyle.Render("Daemon:"))
	}

	if r.Queue != nil {
		q := r.Queue
		state := "idle"
		switch {
		case q.Paused:
			state = "paused"
		case q.Running:
			state = "running"
		}
		if q.RateLimited {
			state += ", rate limited"
			if q.ResetAt != "" {
				state += " until " + q.ResetAt
			}
		}
		fmt.Fprintf(w, "\n%s %s  pending=%d in_progress=%d%s\n",
			titleStyle.Render("Queue:"), state, q.Pending, q.InProgress, staleMark(r.QueueStale))
	}

	if len(r.Tasks) > 0 {
		fmt.Fprintf(w, "\n%s%s\n", titleStyle.Render("Tasks:"), staleMark(r.TasksStale))
		fmt.Fprintf(w, "  %-28s  %-11s  %s\n", labelStyle.Render("ID"), labelStyle.Render("STATUS"), labelStyle.Render("STEER"))
		for _, t := range r.Tasks {
			steer := "-"
			switch {
			case t.ProfileID != "":
				steer = "profile " + t.ProfileID
			case t.SteerMode != "":
				steer = "mode " + string(t.SteerMode)
			}
			fmt.Fprintf(w, "  %-28s  %-11s  %s\n", t.ID, t.Status, steer)
		}
	}

	if len(r.Drafts) > 0 {
		fmt.Fprintf(w, "\n%s\n", titleStyle.Render("Drafts:"))
		for _, d := range r.Drafts {
			var flags []string
			if d.Dirty {
				flags = append(flags, "unsaved")
			}
			if d.Issues > 0 {
				flags = append(flags, fmt.Sprintf("%d issues", d.Issues))
			}
			suffix := ""
			if len(flags) > 0 {
				suffix = " (" + strings.Join(flags, ", ") + ")"
			}
			fmt.Fprintf(w, "  %-28s  %s  phases=%d%s\n", d.ID, d.Name, d.Phases, suffix)
		}
	}

	if r.Cache != nil {
		fmt.Fprintf(w, "\n%s %d/%d entries, %d stale, %d hits, %d misses\n",
			titleStyle.Render("Cache:"), r.Cache.Size, r.Cache.MaxSize, r.Cache.Stale, r.Cache.Hits, r.Cache.Misses)
	}
}

func staleMark(stale bool) string {
	if !stale {
		return ""
	}
	return " " + staleStyle.Render("(stale)")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/msageha/autosteer/internal/condition"
	"github.com/msageha/autosteer/internal/daemon"
	"github.com/msageha/autosteer/internal/execution"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/notify"
	"github.com/msageha/autosteer/internal/profile"
	"github.com/msageha/autosteer/internal/setup"
	"github.com/msageha/autosteer/internal/status"
	"github.com/msageha/autosteer/internal/uds"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "exec":
		runExec(os.Args[2:])
	case "seek":
		runSeek(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "move":
		runMove(os.Args[2:])
	case "reconnect":
		sendCommand("reconnect", daemon.CmdReconnect, nil)
	case "stop":
		sendCommand("stop", daemon.CmdShutdown, nil)
	case "watch":
		runWatch(os.Args[2:])
	case "notes":
		runNotes(os.Args[2:])
	case "performance":
		runPerformance(os.Args[2:])
	case "profile":
		runProfile(os.Args[2:])
	case "notify":
		runNotify(os.Args[2:])
	case "version":
		fmt.Printf("autosteer %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDaemon(_ []string) {
	workspaceDir := mustWorkspaceDir()

	cfg, err := setup.LoadConfig(workspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(workspaceDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	var dir, name string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			if dir != "" {
				fmt.Fprintln(os.Stderr, "usage: autosteer setup <project_dir> [--name <project_name>]")
				os.Exit(1)
			}
			dir = args[i]
		}
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "usage: autosteer setup <project_dir> [--name <project_name>]")
		os.Exit(1)
	}
	ws, err := setup.Init(dir, setup.Options{ProjectName: name})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", ws)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: autosteer status [--json]\n", a)
			os.Exit(1)
		}
	}

	workspaceDir := mustWorkspaceDir()
	if err := status.Run(workspaceDir, jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runExec(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: autosteer exec <task_id>")
		os.Exit(1)
	}
	data := sendCommand("exec", daemon.CmdExecState, daemon.TaskParams{TaskID: args[0]})
	if data == nil {
		return
	}
	var res daemon.ExecStateResult
	if err := json.Unmarshal(data, &res); err != nil {
		return
	}
	p := res.Projection
	stale := ""
	if res.Stale {
		stale = " (stale)"
	}
	fmt.Fprintf(os.Stderr, "%s: %s phase %d/%d iteration %d/%d total %d%s\n",
		p.TaskID, p.Status, displayPhase(p), p.PhaseCount, p.PhaseIteration, p.MaxIterations, p.TotalIterations, stale)
}

func displayPhase(p execution.Projection) int {
	if p.PhaseIndex >= p.PhaseCount {
		return p.PhaseCount
	}
	return p.PhaseIndex + 1
}

func runSeek(args []string) {
	var req execution.SeekRequest
	phaseSet := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--phase", "--iteration", "--profile", "--scenario":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
				os.Exit(1)
			}
			flag, val := args[i], args[i+1]
			i++
			switch flag {
			case "--phase":
				req.PhaseIndex = mustAtoi(flag, val)
				phaseSet = true
			case "--iteration":
				req.PhaseIteration = mustAtoi(flag, val)
			case "--profile":
				req.ProfileID = val
			case "--scenario":
				req.ScenarioContext = val
			}
		default:
			if req.TaskID != "" {
				fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", args[i])
				os.Exit(1)
			}
			req.TaskID = args[i]
		}
	}
	if req.TaskID == "" || !phaseSet {
		fmt.Fprintln(os.Stderr, "usage: autosteer seek <task_id> --phase <index> [--iteration <n>] [--profile <id>] [--scenario <text>]")
		os.Exit(1)
	}
	sendCommand("seek", daemon.CmdSeek, req)
}

func runReset(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: autosteer reset <task_id>")
		os.Exit(1)
	}
	sendCommand("reset", daemon.CmdReset, daemon.TaskParams{TaskID: args[0]})
}

func runMove(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: autosteer move <task_id> <todo|in_progress|review|done>")
		os.Exit(1)
	}
	sendCommand("move", daemon.CmdMoveTask, daemon.MoveTaskParams{
		TaskID: args[0],
		Status: model.TaskStatus(args[1]),
	})
}

func runWatch(_ []string) {
	workspaceDir := mustWorkspaceDir()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := uds.NewClient(filepath.Join(workspaceDir, uds.DefaultSocketName))
	client.SetHint("is the daemon running? start it with 'autosteer daemon'")
	conn, err := client.OpenStream(ctx, daemon.CmdWatch, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		frame, err := uds.ReadRawFrame(conn)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "watch: %v\n", err)
				os.Exit(1)
			}
			return
		}
		fmt.Println(string(frame))
	}
}

func runNotes(args []string) {
	usage := "usage: autosteer notes <open <task_id>|edit <text>|save|discard>"
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	switch args[0] {
	case "open":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: autosteer notes open <task_id>")
			os.Exit(1)
		}
		sendCommand("notes open", daemon.CmdNotesOpen, daemon.TaskParams{TaskID: args[1]})
	case "edit":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: autosteer notes edit <text>")
			os.Exit(1)
		}
		sendCommand("notes edit", daemon.CmdNotesEdit, daemon.NotesEditParams{Text: args[1]})
	case "save":
		sendCommand("notes save", daemon.CmdNotesSave, nil)
	case "discard":
		sendCommand("notes discard", daemon.CmdNotesDiscard, nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown notes subcommand: %s\n%s\n", args[0], usage)
		os.Exit(1)
	}
}

func runPerformance(args []string) {
	var params daemon.PerformanceParams
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--profile":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--profile requires a value")
				os.Exit(1)
			}
			i++
			params.ProfileID = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: autosteer performance [--profile <id>]\n", args[i])
			os.Exit(1)
		}
	}
	sendCommand("performance", daemon.CmdPerformance, params)
}

func runProfile(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: autosteer profile <list|templates|new|validate|describe|save|discard> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		runProfileList(args[1:])
	case "templates":
		runProfileTemplates(args[1:])
	case "new":
		runProfileNew(args[1:])
	case "validate":
		runProfileValidate(args[1:])
	case "describe":
		runProfileDescribe(args[1:])
	case "save":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: autosteer profile save <id>")
			os.Exit(1)
		}
		sendCommand("profile save", daemon.CmdProfileSave, daemon.ProfileSaveParams{ID: args[1]})
	case "discard":
		runProfileDiscard(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown profile subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func runProfileList(args []string) {
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}
	store := profile.NewStore(mustWorkspaceDir())
	drafts, err := store.List(pattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "profile list: %v\n", err)
		os.Exit(1)
	}
	for _, d := range drafts {
		dirty := ""
		if d.Dirty {
			dirty = " *"
		}
		fmt.Printf("%s\t%s\t%d phases%s\n", d.ID, d.Name, d.Phases, dirty)
	}
}

func runProfileTemplates(_ []string) {
	templates := mustTemplates(mustWorkspaceDir())
	for _, t := range templates {
		fmt.Printf("%s\t%s\t%d phases\n", t.ID, t.Name, len(t.Phases))
	}
}

func runProfileNew(args []string) {
	var ref, name string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			ref = args[i]
		}
	}
	if ref == "" {
		fmt.Fprintln(os.Stderr, "usage: autosteer profile new <template_id|template_name> [--name <name>]")
		os.Exit(1)
	}

	workspaceDir := mustWorkspaceDir()
	tpl, ok := profile.FindTemplate(mustTemplates(workspaceDir), ref)
	if !ok {
		fmt.Fprintf(os.Stderr, "profile new: template %q not found\n", ref)
		os.Exit(1)
	}
	d := profile.FromTemplate(tpl)
	if name != "" {
		d.SetName(name)
	}
	if err := profile.NewStore(workspaceDir).Save(d); err != nil {
		fmt.Fprintf(os.Stderr, "profile new: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(d.ID())
}

func runProfileValidate(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: autosteer profile validate <id>")
		os.Exit(1)
	}
	d := mustDraft(args[0])
	ve := d.Validate()
	fmt.Fprint(os.Stderr, ve.FormatStderr())
	if ve.HasErrors() {
		os.Exit(1)
	}
	fmt.Println("ok")
}

func runProfileDescribe(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: autosteer profile describe <id>")
		os.Exit(1)
	}
	p := mustDraft(args[0]).Profile()
	fmt.Printf("%s (%s)\n", p.Name, p.ID)
	if p.Description != "" {
		fmt.Printf("  %s\n", p.Description)
	}
	for i, ph := range p.Phases {
		fmt.Printf("  %d. %s x%d: stop when %s\n", i+1, ph.Mode, ph.MaxIterations, condition.DescribeAll(ph.StopConditions))
	}
}

func runProfileDiscard(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: autosteer profile discard <id>")
		os.Exit(1)
	}
	if err := profile.NewStore(mustWorkspaceDir()).Delete(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "profile discard: %v\n", err)
		os.Exit(1)
	}
}

func runNotify(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: autosteer notify <title> <message>")
		os.Exit(1)
	}
	if err := notify.Send(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(1)
	}
}

// sendCommand sends one control command to the daemon, prints the response
// data and returns it. Failures exit the process.
func sendCommand(label, command string, params any) json.RawMessage {
	workspaceDir := mustWorkspaceDir()

	client := uds.NewClient(filepath.Join(workspaceDir, uds.DefaultSocketName))
	client.SetHint("is the daemon running? start it with 'autosteer daemon'")
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
		os.Exit(1)
	}

	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", label, code, msg)
		if code == uds.ErrCodeUnavailable {
			os.Exit(2)
		}
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(resp.Data, "", "  ")
	fmt.Println(string(out))
	return resp.Data
}

func mustWorkspaceDir() string {
	cwd, err := os.Getwd()
	if err == nil {
		if dir := setup.FindWorkspaceDir(cwd); dir != "" {
			return dir
		}
	}
	fmt.Fprintf(os.Stderr, "error: %s/ directory not found. Run 'autosteer setup <dir>' first.\n", setup.WorkspaceDirName)
	os.Exit(1)
	return ""
}

func mustTemplates(workspaceDir string) []model.Profile {
	templates, err := profile.LoadTemplates(os.DirFS(workspaceDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load templates: %v\n", err)
		os.Exit(1)
	}
	return templates
}

func mustDraft(id string) *profile.Draft {
	d, err := profile.NewStore(mustWorkspaceDir()).Load(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load draft %s: %v\n", id, err)
		os.Exit(1)
	}
	return d
}

func mustAtoi(flag, val string) int {
	n, err := strconv.Atoi(val)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid number %q\n", flag, val)
		os.Exit(1)
	}
	return n
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `autosteer %s: Auto Steer profile editor and execution monitor

Usage: autosteer <command> [options]

Workspace:
  setup <dir> [--name <name>]   Initialize .autosteer/ directory
  daemon                        Run daemon process
  stop                          Stop the daemon
  status [--json]               Show daemon, channel, queue and draft status
  watch                         Stream live events

Execution (CLI → Daemon):
  exec <task_id>                Show execution progress
  seek <task_id> --phase <i> [--iteration <n>] [--profile <id>] [--scenario <text>]
  reset <task_id>               Restart execution from the first phase
  move <task_id> <status>       Move a task on the board
  reconnect                     Reconnect the live channel
  notes open <task_id>          Open task notes for editing
  notes edit <text>             Replace the open notes draft
  notes save | notes discard    Save or drop the notes draft
  performance [--profile <id>]  List recorded profile runs

Profiles:
  profile list [pattern]        List local drafts
  profile templates             List starter profiles
  profile new <template> [--name <name>]
  profile validate <id>         Validate a draft
  profile describe <id>         Summarize phases and stop conditions
  profile save <id>             Save a draft through the daemon
  profile discard <id>          Delete a local draft

Utilities:
  notify <title> <msg>          Desktop notification
  version                       Show version
  help                          Show this help

`, version)
}

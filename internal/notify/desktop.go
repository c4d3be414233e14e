package notify

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

type deliverFunc func(title, message string) error

// ErrNoDesktop is returned by Send on hosts without a supported notifier.
var ErrNoDesktop = errors.New("no desktop notifier available")

// Send shows one notice on the desktop right away.
func Send(title, message string) error {
	deliver := desktop()
	if deliver == nil {
		return ErrNoDesktop
	}
	return deliver(title, message)
}

// desktop picks the notifier command for this host, or nil when there is none.
func desktop() deliverFunc {
	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("osascript"); err == nil {
			return osascript
		}
	case "linux", "freebsd", "openbsd":
		if _, err := exec.LookPath("notify-send"); err == nil {
			return notifySend
		}
	}
	return nil
}

func osascript(title, message string) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s" sound name "default"`,
		appleScriptString(message), appleScriptString(title))
	return run(exec.Command("osascript", "-e", script))
}

func notifySend(title, message string) error {
	return run(exec.Command("notify-send", "--app-name=autosteer", "--urgency=critical", "--", title, message))
}

func run(cmd *exec.Cmd) error {
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// appleScriptString escapes s for use inside an AppleScript string literal.
func appleScriptString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ").Replace(s)
}

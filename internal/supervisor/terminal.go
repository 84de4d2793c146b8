package supervisor

import (
	"fmt"
	"os/exec"
	"strings"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/validation"
)

// terminalStrategy builds the command that opens a new terminal session
// running a spec. One strategy is chosen per platform family at startup.
type terminalStrategy interface {
	command(spec Spec) ([]string, error)
}

// linuxTerminal tries common terminal emulators in order. The shell stays
// open after the server exits so its output can be read.
type linuxTerminal struct {
	lookPath func(string) (string, error)
}

func (t linuxTerminal) command(spec Spec) ([]string, error) {
	lookPath := t.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	script := posixScript(spec) + "; exec bash"

	candidates := [][]string{
		{"gnome-terminal", "--", "bash", "-c", script},
		{"konsole", "-e", "bash", "-c", script},
		{"xfce4-terminal", "-x", "bash", "-c", script},
		{"x-terminal-emulator", "-e", "bash", "-c", script},
		{"xterm", "-e", "bash", "-c", script},
	}
	for _, argv := range candidates {
		if _, err := lookPath(argv[0]); err == nil {
			return argv, nil
		}
	}
	return nil, siteerrors.NewUnsupportedError("NO_TERMINAL", "no supported terminal emulator found on PATH")
}

// darwinTerminal asks Terminal.app to run the spec in a new window.
type darwinTerminal struct{}

func (darwinTerminal) command(spec Spec) ([]string, error) {
	script := posixScript(spec)
	return []string{
		"osascript", "-e",
		`tell application "Terminal" to do script "` + appleScriptEscape(script) + `"`,
	}, nil
}

// windowsTerminal opens a new console that stays open after the server.
type windowsTerminal struct{}

func (windowsTerminal) command(spec Spec) ([]string, error) {
	for _, w := range append([]string{spec.Dir}, spec.Argv()...) {
		if err := validation.ValidateConsoleArgument(w); err != nil {
			return nil, siteerrors.NewSpawnError("CONSOLE_ARGUMENT",
				fmt.Sprintf("cannot pass %q to the console", w), err)
		}
	}
	line := `cd /d "` + spec.Dir + `" && ` + windowsJoin(spec.Argv())
	return []string{"cmd", "/c", "start", "sitedesk server", "cmd", "/k", line}, nil
}

type unsupportedTerminal struct{}

func (unsupportedTerminal) command(Spec) ([]string, error) {
	return nil, siteerrors.NewUnsupportedError("NO_TERMINAL", "detached launch is not supported on this platform")
}

// posixScript renders "cd DIR && ENV=... CMD ARGS" with every word quoted.
func posixScript(spec Spec) string {
	var b strings.Builder
	b.WriteString("cd ")
	b.WriteString(shellQuote(spec.Dir))
	b.WriteString(" &&")
	for _, kv := range spec.Env {
		b.WriteByte(' ')
		b.WriteString(shellQuote(kv))
	}
	for _, arg := range spec.Argv() {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:,+@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func appleScriptEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func windowsJoin(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t&|<>^\"") {
			a = `"` + strings.ReplaceAll(a, `"`, `""`) + `"`
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

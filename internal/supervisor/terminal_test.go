package supervisor

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

var terminalSpec = Spec{
	Command: "python3",
	Args:    []string{"app.py"},
	Dir:     "/home/alex/Desktop/my site",
	Env:     []string{"PORT=5000"},
}

func onPath(names ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, n := range names {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestLinuxTerminalPrefersGnome(t *testing.T) {
	argv, err := linuxTerminal{lookPath: onPath("xterm", "gnome-terminal")}.command(terminalSpec)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"gnome-terminal", "--", "bash", "-c",
		"cd '/home/alex/Desktop/my site' && PORT=5000 python3 app.py; exec bash",
	}, argv)
}

func TestLinuxTerminalFallsBack(t *testing.T) {
	argv, err := linuxTerminal{lookPath: onPath("xterm")}.command(terminalSpec)
	require.NoError(t, err)
	assert.Equal(t, "xterm", argv[0])
	assert.Equal(t, "-e", argv[1])

	_, err = linuxTerminal{lookPath: onPath()}.command(terminalSpec)
	assert.True(t, errors.Is(err, siteerrors.ErrUnsupported))
}

func TestDarwinTerminal(t *testing.T) {
	argv, err := darwinTerminal{}.command(terminalSpec)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"osascript", "-e",
		`tell application "Terminal" to do script "cd '/home/alex/Desktop/my site' && PORT=5000 python3 app.py"`,
	}, argv)
}

func TestWindowsTerminal(t *testing.T) {
	spec := Spec{Command: "python", Args: []string{"app.py"}, Dir: `C:\Users\alex\Desktop\site`}
	argv, err := windowsTerminal{}.command(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cmd", "/c", "start", "sitedesk server", "cmd", "/k",
		`cd /d "C:\Users\alex\Desktop\site" && python app.py`,
	}, argv)
}

func TestWindowsTerminalRejectsConsoleExpansion(t *testing.T) {
	for _, spec := range []Spec{
		{Command: "python", Args: []string{"app.py"}, Dir: `C:\Users\%USERNAME%\site`},
		{Command: "python", Args: []string{`app".py`}, Dir: `C:\site`},
	} {
		_, err := windowsTerminal{}.command(spec)
		assert.True(t, errors.Is(err, siteerrors.ErrProcessSpawnFailed), "dir %q args %q", spec.Dir, spec.Args)
	}
}

func TestUnsupportedTerminal(t *testing.T) {
	_, err := unsupportedTerminal{}.command(terminalSpec)
	assert.True(t, errors.Is(err, siteerrors.ErrUnsupported))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, "/a/b-c_d.py", shellQuote("/a/b-c_d.py"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'has space'", shellQuote("has space"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'سطح المكتب'", shellQuote("سطح المكتب"))
}

func TestAppleScriptEscape(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ bye`, appleScriptEscape(`say "hi" \ bye`))
}

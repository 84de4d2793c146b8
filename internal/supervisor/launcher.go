package supervisor

import (
	"context"
	"os"
	"os/exec"
	"sync"
)

// Spec describes how to launch the site server.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Argv returns the full command line.
func (s Spec) Argv() []string {
	return append([]string{s.Command}, s.Args...)
}

// Process is a launched server the supervisor can stop.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. It may be called once.
	Wait() error
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
}

// Launcher starts server processes.
type Launcher interface {
	// Launch starts a child the supervisor tracks.
	Launch(ctx context.Context, spec Spec) (Process, error)
	// LaunchDetached starts the server in a new terminal session and
	// returns without a handle.
	LaunchDetached(ctx context.Context, spec Spec) error
}

// ExecLauncher launches real processes.
type ExecLauncher struct {
	// Stdout and Stderr receive the managed child's output. Nil discards.
	Stdout, Stderr *os.File
	terminal       terminalStrategy
}

// NewExecLauncher creates a launcher using the host's terminal strategy.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{terminal: hostTerminal()}
}

// Launch starts spec as a child in its own process group.
func (l *ExecLauncher) Launch(ctx context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	if l.Stdout != nil {
		cmd.Stdout = l.Stdout
	}
	if l.Stderr != nil {
		cmd.Stderr = l.Stderr
	}
	setProcessGroup(cmd)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

// LaunchDetached opens a terminal running spec and releases it.
func (l *ExecLauncher) LaunchDetached(ctx context.Context, spec Spec) error {
	argv, err := l.terminal.command(spec)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Not tied to ctx: the terminal must outlive the request that opened it.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

type execProcess struct {
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() error {
	p.once.Do(func() { p.err = p.cmd.Wait() })
	return p.err
}

func (p *execProcess) Terminate() error { return terminateGroup(p.cmd.Process) }

func (p *execProcess) Kill() error { return killGroup(p.cmd.Process) }

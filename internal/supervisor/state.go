// Package supervisor owns the site server's lifecycle state.
//
// State changes in two ways only. Explicit Start and Stop calls hold the
// supervisor's mutex. Observations (liveness edges from the poller, process
// exits, startup deadlines) are queued on one channel and applied serially
// by Run. Every transition is published as an Event.
package supervisor

import (
	"errors"
	"time"
)

// State is the supervisor's view of the site server.
type State string

const (
	StateStopped     State = "stopped"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateUnreachable State = "unreachable"
)

// Mode is how the current session was launched.
type Mode string

const (
	ModeNone     Mode = ""
	ModeManaged  Mode = "managed"
	ModeDetached Mode = "detached"
	// ModeExternal marks a server found alive that sitedesk did not start.
	ModeExternal Mode = "external"
)

// ReasonShutdown is the reason of the final transition Shutdown reports.
const ReasonShutdown = "supervisor shut down"

// ParseMode maps a config launch value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeManaged):
		return ModeManaged, nil
	case string(ModeDetached):
		return ModeDetached, nil
	default:
		return ModeNone, errors.New("launch mode must be managed or detached")
	}
}

var (
	// ErrAlreadyRunning is returned by Start while a session is live.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrStartInProgress is returned by Start while a start is pending.
	ErrStartInProgress = errors.New("server start in progress")
	// ErrClosed is returned once the supervisor has shut down.
	ErrClosed = errors.New("supervisor closed")
)

// Event reports one state transition.
type Event struct {
	ID     string    `json:"id" yaml:"id"`
	From   State     `json:"from" yaml:"from"`
	To     State     `json:"to" yaml:"to"`
	Mode   Mode      `json:"mode,omitempty" yaml:"mode,omitempty"`
	Reason string    `json:"reason" yaml:"reason"`
	Error  string    `json:"error,omitempty" yaml:"error,omitempty"`
	PID    int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	At     time.Time `json:"at" yaml:"at"`
	Err    error     `json:"-" yaml:"-"`
}

// Status is a snapshot of the supervisor.
type Status struct {
	State     State     `json:"state" yaml:"state"`
	Mode      Mode      `json:"mode,omitempty" yaml:"mode,omitempty"`
	PID       int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Since     time.Time `json:"since" yaml:"since"`
	URL       string    `json:"url" yaml:"url"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

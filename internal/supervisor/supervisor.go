package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitedesk/sitedesk/internal/config"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
	"github.com/sitedesk/sitedesk/internal/monitoring"
)

// Config configures a Supervisor.
type Config struct {
	ProjectRoot  string
	Entrypoint   string
	Command      string
	Args         []string
	Port         int
	Environment  string
	URL          string
	StartupGrace time.Duration
	StopGrace    time.Duration
	EventBuffer  int
}

// ConfigFromSettings derives a supervisor Config for the project at root.
func ConfigFromSettings(cfg *config.Config, root string) Config {
	return Config{
		ProjectRoot:  root,
		Entrypoint:   cfg.Project.Entrypoint,
		Command:      cfg.Server.Command,
		Args:         cfg.Server.Args,
		Port:         cfg.Server.Port,
		Environment:  cfg.Server.Environment,
		URL:          cfg.ProbeURL(),
		StartupGrace: cfg.Server.StartupGrace,
		StopGrace:    cfg.Server.StopGrace,
	}
}

// Spec builds the launch spec: the command runs the entrypoint from the
// project root with the project on its import path.
func (c Config) Spec() Spec {
	args := append(append([]string{}, c.Args...), c.Entrypoint)
	env := []string{
		"SITEDESK_PROJECT_PATH=" + c.ProjectRoot,
		"PYTHONPATH=" + c.ProjectRoot,
		"PORT=" + strconv.Itoa(c.Port),
	}
	if c.Environment != "" {
		env = append(env, "FLASK_ENV="+c.Environment)
	}
	return Spec{Command: c.Command, Args: args, Dir: c.ProjectRoot, Env: env}
}

type observationKind int

const (
	obsLiveness observationKind = iota
	obsExit
	obsDeadline
)

type observation struct {
	kind  observationKind
	alive bool
	err   error
	proc  Process
	gen   uint64
}

// Supervisor tracks one site server session at a time.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	metrics  *monitoring.Metrics
	logger   logging.Logger

	mu        sync.Mutex
	state     State
	mode      Mode
	proc      Process
	stopping  Process
	exited    chan struct{}
	gen       uint64
	since     time.Time
	lastError string
	deadline  *time.Timer

	observations chan observation
	events       chan Event
	done         chan struct{}
	closeOnce    sync.Once
}

// New creates a stopped supervisor.
func New(cfg Config, launcher Launcher, metrics *monitoring.Metrics, logger logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = 15 * time.Second
	}
	s := &Supervisor{
		cfg:          cfg,
		launcher:     launcher,
		metrics:      metrics,
		logger:       logger.WithComponent("supervisor"),
		state:        StateStopped,
		since:        time.Now(),
		observations: make(chan observation, 16),
		events:       make(chan Event, cfg.EventBuffer),
		done:         make(chan struct{}),
	}
	metrics.SetServerState(string(StateStopped))
	return s
}

// Events delivers state transitions. Events are dropped when the buffer is
// full and nobody reads.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Status returns a snapshot of the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state,
		Mode:      s.mode,
		Since:     s.since,
		URL:       s.cfg.URL,
		LastError: s.lastError,
	}
	if s.proc != nil {
		st.PID = s.proc.Pid()
	}
	return st
}

// ObserveLiveness queues a liveness observation. It is the poller's sink.
func (s *Supervisor) ObserveLiveness(o monitoring.Observation) {
	s.observe(observation{kind: obsLiveness, alive: o.Alive, err: o.Err})
}

func (s *Supervisor) observe(o observation) {
	select {
	case s.observations <- o:
	case <-s.done:
	}
}

// Run applies observations until ctx ends or Close is called.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case o := <-s.observations:
			s.handle(ctx, o)
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		}
	}
}

// Close stops Run and releases pending observers. A managed server is left
// alone; call Shutdown first to stop it.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.deadline != nil {
			s.deadline.Stop()
		}
		s.mu.Unlock()
	})
}

func (s *Supervisor) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Start launches the server. Starting while the server answers, or while a
// managed process is still alive, returns ErrAlreadyRunning without
// spawning. An unreachable detached session can be started again.
func (s *Supervisor) Start(ctx context.Context, mode Mode) error {
	if s.closed() {
		return ErrClosed
	}
	if mode != ModeDetached {
		mode = ModeManaged
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateStarting:
		return ErrStartInProgress
	case s.state == StateRunning, s.state == StateUnreachable && s.proc != nil:
		return ErrAlreadyRunning
	}

	if err := s.preflight(); err != nil {
		s.lastError = siteerrors.Describe(err)
		s.logger.Error(ctx, err, "Cannot start server")
		return err
	}

	spec := s.cfg.Spec()
	s.gen++
	gen := s.gen
	s.transition(ctx, StateStarting, mode, "start requested", nil)

	switch mode {
	case ModeDetached:
		if err := s.launcher.LaunchDetached(ctx, spec); err != nil {
			spawnErr := siteerrors.NewSpawnError("DETACHED_LAUNCH", "cannot open a terminal for the server", err)
			s.transition(ctx, StateStopped, ModeNone, "spawn failed", spawnErr)
			return spawnErr
		}
	default:
		proc, err := s.launcher.Launch(ctx, spec)
		if err != nil {
			spawnErr := siteerrors.NewSpawnError("SPAWN", "cannot start the server process", err).
				WithContext("command", spec.Command)
			s.transition(ctx, StateStopped, ModeNone, "spawn failed", spawnErr)
			return spawnErr
		}
		s.proc = proc
		s.exited = make(chan struct{})
		go s.waitExit(proc, s.exited)
		s.logger.Info(ctx, "Server process started", "pid", proc.Pid(), "argv", spec.Argv())
	}

	s.deadline = time.AfterFunc(s.cfg.StartupGrace, func() {
		s.observe(observation{kind: obsDeadline, gen: gen})
	})
	return nil
}

// preflight checks the entrypoint and the command before anything spawns.
func (s *Supervisor) preflight() error {
	entry := filepath.Join(s.cfg.ProjectRoot, s.cfg.Entrypoint)
	if info, err := os.Stat(entry); err != nil || info.IsDir() {
		return siteerrors.NewSpawnError("ENTRYPOINT_MISSING",
			fmt.Sprintf("entrypoint %s not found", s.cfg.Entrypoint), err).WithPath(entry)
	}
	if _, err := exec.LookPath(s.cfg.Command); err != nil {
		return siteerrors.NewSpawnError("EXECUTABLE_MISSING",
			fmt.Sprintf("command %q not found", s.cfg.Command), err)
	}
	return nil
}

func (s *Supervisor) waitExit(proc Process, exited chan struct{}) {
	err := proc.Wait()
	close(exited)
	s.observe(observation{kind: obsExit, proc: proc, err: err})
}

// Stop ends a managed session: a graceful signal, up to StopGrace to exit,
// then a kill. Sessions sitedesk has no handle for cannot be stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	if s.proc == nil {
		mode := s.mode
		s.mu.Unlock()
		return siteerrors.NewUnsupportedError("STOP_UNSUPPORTED",
			fmt.Sprintf("a %s server has no handle; stop it where it runs", mode))
	}
	proc, exited := s.proc, s.exited
	s.stopping = proc
	s.mu.Unlock()

	s.logger.Info(ctx, "Stopping server", "pid", proc.Pid(), "grace", s.cfg.StopGrace)
	if err := proc.Terminate(); err != nil {
		s.logger.Warn(ctx, err, "Graceful stop failed, killing", "pid", proc.Pid())
	}

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-exited:
	case <-grace.C:
		s.logger.Warn(ctx, nil, "Server ignored stop signal, killing", "pid", proc.Pid())
		if err := proc.Kill(); err != nil {
			s.logger.Warn(ctx, err, "Kill failed", "pid", proc.Pid())
		}
		select {
		case <-exited:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == proc {
		s.transition(ctx, StateStopped, ModeNone, "stopped", nil)
	}
	return nil
}

// Shutdown stops a managed server if one is running, resets the state to
// Stopped and closes the supervisor. Detached and adopted servers keep
// running.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	managed := s.proc != nil
	s.mu.Unlock()

	var err error
	if managed {
		err = s.Stop(ctx)
	}

	s.mu.Lock()
	if s.state != StateStopped {
		s.transition(ctx, StateStopped, ModeNone, ReasonShutdown, nil)
	}
	s.mu.Unlock()

	s.Close()
	return err
}

func (s *Supervisor) handle(ctx context.Context, o observation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o.kind {
	case obsLiveness:
		s.handleLiveness(ctx, o.alive, o.err)
	case obsExit:
		if o.proc != s.proc {
			return
		}
		if o.proc == s.stopping {
			s.transition(ctx, StateStopped, ModeNone, "stopped", nil)
			return
		}
		if s.state == StateStarting {
			err := siteerrors.NewSpawnError("EXITED_DURING_START", "server exited before answering", o.err)
			s.transition(ctx, StateStopped, ModeNone, "process exited during startup", err)
			return
		}
		s.transition(ctx, StateStopped, ModeNone, "process exited", o.err)
	case obsDeadline:
		if o.gen != s.gen || s.state != StateStarting {
			return
		}
		err := siteerrors.NewUnresponsiveError("STARTUP_TIMEOUT",
			fmt.Sprintf("server did not answer within %s", s.cfg.StartupGrace)).
			WithContext("url", s.cfg.URL)
		if s.proc == nil {
			// Only a probe could ever tell a detached launch apart from a
			// failed one.
			s.transition(ctx, StateStopped, ModeNone, "startup timeout", err)
			return
		}
		s.transition(ctx, StateUnreachable, s.mode, "startup timeout", err)
	}
}

func (s *Supervisor) handleLiveness(ctx context.Context, alive bool, probeErr error) {
	if alive {
		switch s.state {
		case StateStopped:
			s.transition(ctx, StateRunning, ModeExternal, "server found running", nil)
		case StateStarting:
			s.transition(ctx, StateRunning, s.mode, "server answered", nil)
		case StateUnreachable:
			s.transition(ctx, StateRunning, s.mode, "server answered again", nil)
		}
		return
	}

	switch s.state {
	case StateRunning:
		if s.hasSession() {
			s.transition(ctx, StateUnreachable, s.mode, "probe failed", probeErr)
			return
		}
		s.transition(ctx, StateStopped, ModeNone, "server went away", probeErr)
	case StateStarting:
		// The startup deadline decides; early failures are expected.
	}
}

// hasSession reports whether sitedesk launched the current server.
func (s *Supervisor) hasSession() bool {
	return s.proc != nil || s.mode == ModeDetached
}

// transition must be called with mu held.
func (s *Supervisor) transition(ctx context.Context, to State, mode Mode, reason string, err error) {
	from := s.state
	s.state = to
	s.mode = mode
	s.since = time.Now()

	ev := Event{
		ID:     uuid.NewString(),
		From:   from,
		To:     to,
		Mode:   mode,
		Reason: reason,
		At:     s.since,
		Err:    err,
	}
	if s.proc != nil {
		ev.PID = s.proc.Pid()
	}
	if err != nil {
		ev.Error = siteerrors.Describe(err)
		s.lastError = ev.Error
	}

	if to == StateStopped {
		s.proc = nil
		s.stopping = nil
		s.exited = nil
	}
	if to != StateStarting && s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}

	s.metrics.SetServerState(string(to))
	if err != nil {
		s.logger.Warn(ctx, err, "Server state changed", "from", from, "to", to, "reason", reason)
	} else {
		s.logger.Info(ctx, "Server state changed", "from", from, "to", to, "reason", reason)
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Warn(ctx, nil, "Event buffer full, dropping event", "to", to, "reason", reason)
	}
}

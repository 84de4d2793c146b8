package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sitedesk/sitedesk/internal/controller"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/monitoring"
	"github.com/sitedesk/sitedesk/internal/server"
	"github.com/sitedesk/sitedesk/internal/supervisor"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start, stop, and check the site server",
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the site server once and ask a running sitedesk for its state",
	Args:  cobra.NoArgs,
	RunE:  runServerStatus,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch the site server and follow its state",
	Long: `Launch the configured site server command and print every state
change until interrupted. On interrupt a managed server is stopped.

With --detached the server runs in its own session, survives sitedesk, and
the command returns once the server answers.

Examples:
  sitedesk server start
  sitedesk server start --detached`,
	Args: cobra.NoArgs,
	RunE: runServerStart,
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running sitedesk to stop the site server it manages",
	Args:  cobra.NoArgs,
	RunE:  runServerStop,
}

var (
	serverFlags       *OutputFlags
	serverDetached    bool
	serverWaitTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStatusCmd, serverStartCmd, serverStopCmd)

	serverFlags = AddOutputFlags(serverStatusCmd)
	serverStartCmd.Flags().BoolVar(&serverDetached, "detached", false, "Run the server in its own session and return once it answers")
	serverStartCmd.Flags().DurationVar(&serverWaitTimeout, "wait", 0, "Give up waiting for a detached server after this long (default from server.start_timeout)")
}

// serverReport combines the direct probe with what a running instance knows.
type serverReport struct {
	URL        string                   `json:"url" yaml:"url"`
	Alive      bool                     `json:"alive" yaml:"alive"`
	ProbeError string                   `json:"probe_error,omitempty" yaml:"probe_error,omitempty"`
	Instance   *controller.StatusReport `json:"instance,omitempty" yaml:"instance,omitempty"`
}

func runServerStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	report := serverReport{URL: a.cfg.ProbeURL()}
	probeErr := monitoring.NewHTTPProber(report.URL, a.cfg.Monitor.ProbeTimeout).Probe(ctx)
	report.Alive = probeErr == nil
	report.ProbeError = siteerrors.Describe(probeErr)

	if a.cfg.API.Enabled {
		status, err := server.NewClient(a.cfg.APIAddr(), a.cfg.Monitor.ProbeTimeout).Status(ctx)
		if err == nil {
			report.Instance = &status
		} else {
			a.logger.Debug(ctx, "No sitedesk instance answered", "addr", a.cfg.APIAddr(), "error", err.Error())
		}
	}

	return render(cmd, serverFlags, report, func(w io.Writer) {
		state := "down"
		if report.Alive {
			state = "up"
		}
		fmt.Fprintf(w, "Server:\t%s (%s)\n", report.URL, state)
		if report.ProbeError != "" {
			fmt.Fprintf(w, "Probe:\t%s\n", report.ProbeError)
		}
		if report.Instance != nil {
			fmt.Fprintf(w, "State:\t%s\n", report.Instance.Server.State)
			if report.Instance.Server.Mode != supervisor.ModeNone {
				fmt.Fprintf(w, "Mode:\t%s\n", report.Instance.Server.Mode)
			}
			if report.Instance.Server.PID != 0 {
				fmt.Fprintf(w, "PID:\t%d\n", report.Instance.Server.PID)
			}
			fmt.Fprintf(w, "Project:\t%s\n", report.Instance.Project.Root)
		}
	})
}

// eventPrinter prints supervisor state changes and can end the run once a
// detached launch settles.
type eventPrinter struct {
	out      io.Writer
	detached bool
	cancel   context.CancelFunc
	started  bool

	// last is the state reached before shutdown.
	last      supervisor.State
	lastError string
}

func (p *eventPrinter) Broadcast(typ string, data any) error {
	ev, ok := data.(supervisor.Event)
	if !ok || typ != controller.EventServerState || ev.Reason == supervisor.ReasonShutdown {
		return nil
	}
	p.last = ev.To
	if ev.Error != "" {
		p.lastError = ev.Error
	}
	line := fmt.Sprintf("%s  %s -> %s (%s)", ev.At.Format(time.TimeOnly), ev.From, ev.To, ev.Reason)
	if ev.PID != 0 {
		line += fmt.Sprintf(" pid=%d", ev.PID)
	}
	if ev.Error != "" {
		line += ": " + ev.Error
	}
	fmt.Fprintln(p.out, line)

	if !p.detached {
		return nil
	}
	switch ev.To {
	case supervisor.StateStarting:
		p.started = true
	case supervisor.StateRunning:
		p.cancel()
	case supervisor.StateUnreachable, supervisor.StateStopped:
		if p.started {
			p.cancel()
		}
	}
	return nil
}

func runServerStart(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	layout, err := a.locate()
	if err != nil {
		return err
	}

	cfg := *a.cfg
	cfg.Server.AutoStart = true
	cfg.Server.Launch = string(supervisor.ModeManaged)
	if serverDetached {
		cfg.Server.Launch = string(supervisor.ModeDetached)
	}

	ctrl, err := controller.New(controller.Options{
		Config:   &cfg,
		Layout:   layout,
		Registry: prometheus.NewRegistry(),
	}, a.logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &eventPrinter{out: cmd.OutOrStdout()}
	if serverDetached {
		wait := serverWaitTimeout
		if wait <= 0 {
			wait = cfg.Server.StartTimeout + cfg.Monitor.Interval
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
		printer.detached = true
		printer.cancel = cancel
	}
	ctrl.SetPublisher(printer)

	if err := ctrl.Run(ctx); err != nil {
		return err
	}

	if serverDetached && printer.last != supervisor.StateRunning && printer.lastError != "" {
		return fmt.Errorf("detached server did not come up: %s", printer.lastError)
	}
	return nil
}

func runServerStop(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.API.Enabled {
		return siteerrors.NewConfigError("API_DISABLED", "the control API is disabled (api.enabled=false); stop the server from the instance that started it")
	}
	client := server.NewClient(a.cfg.APIAddr(), a.cfg.Server.StopGrace+5*time.Second)
	if err := client.StopServer(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
	return nil
}

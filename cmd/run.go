package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sitedesk/sitedesk/internal/controller"
	"github.com/sitedesk/sitedesk/internal/hub"
	"github.com/sitedesk/sitedesk/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Supervise the site server and serve the control API",
	Long: `Run sitedesk in the foreground for one project: poll the site server,
launch and stop it on request, watch the asset directory, and serve the
control API with its websocket event stream until interrupted.

Only one sitedesk may run per project; a second one exits with an error.

Examples:
  sitedesk run
  sitedesk run --auto-start
  sitedesk run --api-port 5090
  sitedesk run --no-api`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("auto-start", false, "Launch the site server once running")
	runCmd.Flags().Int("api-port", 0, "Control API port (default from api.port)")
	runCmd.Flags().Bool("no-api", false, "Do not serve the control API")

	bindRunFlags()
}

func bindRunFlags() {
	_ = viper.BindPFlag("server.auto_start", runCmd.Flags().Lookup("auto-start"))
	_ = viper.BindPFlag("api.port", runCmd.Flags().Lookup("api-port"))
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if noAPI, _ := cmd.Flags().GetBool("no-api"); noAPI {
		a.cfg.API.Enabled = false
	}

	layout, err := a.locate()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctrl, err := controller.New(controller.Options{
		Config:   a.cfg,
		Layout:   layout,
		Registry: reg,
	}, a.logger)
	if err != nil {
		return err
	}

	events := hub.New(hub.Options{
		AllowedOrigins: a.cfg.API.AllowedOrigins,
		Handler:        ctrl.HandleMessage,
	}, a.logger)
	ctrl.SetPublisher(events)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	if a.cfg.API.Enabled {
		api := server.New(server.Options{
			Addr:               a.cfg.APIAddr(),
			Events:             events,
			Gatherer:           reg,
			MutationsPerMinute: a.cfg.API.MutationsPerMinute,
			AllowedOrigins:     a.cfg.API.AllowedOrigins,
		}, ctrl, a.logger)
		g.Go(func() error {
			return api.ListenAndServe(gctx)
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if herr := events.Shutdown(shutdownCtx); herr != nil {
		a.logger.Warn(shutdownCtx, herr, "Event hub did not close cleanly")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

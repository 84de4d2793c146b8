package cmd

import (
	"image/png"

	"github.com/spf13/cobra"

	"github.com/sitedesk/sitedesk/internal/assets"
	"github.com/sitedesk/sitedesk/internal/config"
	"github.com/sitedesk/sitedesk/internal/logging"
	"github.com/sitedesk/sitedesk/internal/project"
	"github.com/sitedesk/sitedesk/internal/transform"
)

// app bundles what every command needs: the loaded configuration and a
// logger writing to the command's stderr.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	closeLog func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, closeLog: closer}, nil
}

func (a *app) Close() {
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func (a *app) locate() (project.Layout, error) {
	return project.NewLocator(project.OptionsFromConfig(a.cfg), a.logger).Locate()
}

func (a *app) store() (*assets.Store, error) {
	layout, err := a.locate()
	if err != nil {
		return nil, err
	}
	return assets.NewStore(layout, a.cfg.Project.Documents, a.logger), nil
}

func (a *app) engine() (*transform.Engine, error) {
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	return transform.NewEngine(store, transform.Options{Encode: encodeOptions(a.cfg)}, a.logger), nil
}

func encodeOptions(cfg *config.Config) assets.EncodeOptions {
	opts := assets.DefaultEncodeOptions()
	opts.JPEGQuality = cfg.Transform.JPEGQuality
	opts.PNGCompression = png.CompressionLevel(cfg.Transform.PNGCompression)
	return opts
}

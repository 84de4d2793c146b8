// Package controller turns commands into calls on the transform engine and
// the server supervisor, and turns their results and events into messages
// for dashboard clients.
package controller

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitedesk/sitedesk/internal/assets"
	"github.com/sitedesk/sitedesk/internal/config"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
	"github.com/sitedesk/sitedesk/internal/monitoring"
	"github.com/sitedesk/sitedesk/internal/project"
	"github.com/sitedesk/sitedesk/internal/supervisor"
	"github.com/sitedesk/sitedesk/internal/transform"
	"github.com/sitedesk/sitedesk/internal/watcher"
)

// LockFileName is created in the project root while a controller runs.
const LockFileName = ".sitedesk.lock"

// ErrLocked is returned by Run when another controller holds the project.
var ErrLocked = errors.New("another sitedesk instance is running for this project")

// Event types published to dashboard clients.
const (
	EventServerState   = "server_state"
	EventAssetsChanged = "assets_changed"
	EventTransform     = "transform_result"
)

// Publisher delivers events to clients. The websocket hub implements it.
type Publisher interface {
	Broadcast(typ string, data any) error
}

// Options configures a Controller. Nil collaborators get production
// defaults.
type Options struct {
	Config   *config.Config
	Layout   project.Layout
	Launcher supervisor.Launcher
	Prober   monitoring.Prober
	Registry prometheus.Registerer
	// WatchDelay is the debounce window for asset change batches.
	WatchDelay time.Duration
}

// Controller owns every long-lived component of a sitedesk run.
type Controller struct {
	cfg     *config.Config
	layout  project.Layout
	store   *assets.Store
	engine  *transform.Engine
	sup     *supervisor.Supervisor
	poller  *monitoring.Poller
	metrics *monitoring.Metrics
	logger  logging.Logger

	lock       *flock.Flock
	watchDelay time.Duration

	mu        sync.RWMutex
	publisher Publisher
	running   bool
}

// New wires the components for layout.
func New(opts Options, logger logging.Logger) (*Controller, error) {
	if opts.Config == nil {
		return nil, siteerrors.NewConfigError("CONTROLLER_CONFIG", "controller needs a configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg := opts.Config

	metrics := monitoring.NewMetrics(opts.Registry)

	store := assets.NewStore(opts.Layout, cfg.Project.Documents, logger)
	engine := transform.NewEngine(store, transform.Options{
		Encode: assets.EncodeOptions{
			JPEGQuality:    cfg.Transform.JPEGQuality,
			PNGCompression: png.CompressionLevel(cfg.Transform.PNGCompression),
		},
		Observer: metrics,
	}, logger)

	launcher := opts.Launcher
	if launcher == nil {
		launcher = supervisor.NewExecLauncher()
	}
	sup := supervisor.New(supervisor.ConfigFromSettings(cfg, opts.Layout.Root), launcher, metrics, logger)

	prober := opts.Prober
	if prober == nil {
		prober = monitoring.NewHTTPProber(cfg.ProbeURL(), cfg.Monitor.ProbeTimeout)
	}
	// No silent baseline: a server already up at launch is adopted.
	poller := monitoring.NewPoller(prober, monitoring.PollerConfig{Interval: cfg.Monitor.Interval},
		sup.ObserveLiveness, metrics, logger)

	delay := opts.WatchDelay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}

	return &Controller{
		cfg:        cfg,
		layout:     opts.Layout,
		store:      store,
		engine:     engine,
		sup:        sup,
		poller:     poller,
		metrics:    metrics,
		logger:     logger.WithComponent("controller"),
		lock:       flock.New(filepath.Join(opts.Layout.Root, LockFileName)),
		watchDelay: delay,
	}, nil
}

// SetPublisher routes future events to p.
func (c *Controller) SetPublisher(p Publisher) {
	c.mu.Lock()
	c.publisher = p
	c.mu.Unlock()
}

// Layout returns the project this controller serves.
func (c *Controller) Layout() project.Layout { return c.layout }

// Store returns the asset store.
func (c *Controller) Store() *assets.Store { return c.store }

// Engine returns the transform engine.
func (c *Controller) Engine() *transform.Engine { return c.engine }

func (c *Controller) publish(typ string, data any) {
	c.mu.RLock()
	p := c.publisher
	c.mu.RUnlock()
	if p == nil {
		return
	}
	if err := p.Broadcast(typ, data); err != nil {
		c.logger.Debug(context.Background(), "Event not published", "type", typ, "error", err.Error())
	}
}

// Run holds the project lock and runs the supervisor, the poller, and the
// asset watcher until ctx ends. A managed server is stopped on the way out.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return monitoring.ErrAlreadyStarted
	}
	c.running = true
	c.mu.Unlock()

	ok, err := c.lock.TryLock()
	if err != nil {
		return siteerrors.NewIOError("LOCK", "cannot acquire project lock", err).WithPath(c.lock.Path())
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, c.lock.Path())
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn(context.Background(), err, "Cannot release project lock")
		}
	}()

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		_ = c.sup.Run(ctx)
	}()

	forwardStop := make(chan struct{})
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		c.forwardServerEvents(forwardStop)
	}()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	fw, err := watcher.NewAssetWatcher(c.layout.AssetsDir, c.watchDelay, c.logger)
	if err != nil {
		// Editing still works without live refresh.
		c.logger.Warn(ctx, err, "Asset watcher unavailable")
	} else {
		fw.AddHandler(c.onAssetChanges)
		_ = fw.Start(watchCtx)
	}

	if err := c.poller.Start(ctx); err != nil {
		c.logger.Error(ctx, err, "Cannot start liveness poller")
	}

	c.logger.Info(ctx, "Controller running", "project", c.layout.Root, "assets", c.layout.AssetsDir)

	if c.cfg.Server.AutoStart {
		if err := c.StartServer(ctx, ""); err != nil && !errors.Is(err, supervisor.ErrAlreadyRunning) {
			c.logger.Error(ctx, err, "Auto-start failed")
		}
	}

	<-ctx.Done()

	c.poller.Stop()
	if fw != nil {
		cancelWatch()
		_ = fw.Stop()
		fw.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.StopGrace+5*time.Second)
	defer cancel()
	if err := c.sup.Shutdown(shutdownCtx); err != nil {
		c.logger.Error(shutdownCtx, err, "Server did not stop cleanly")
	}
	<-supDone
	close(forwardStop)
	<-forwardDone

	c.logger.Info(shutdownCtx, "Controller stopped")
	return nil
}

func (c *Controller) forwardServerEvents(stop <-chan struct{}) {
	events := c.sup.Events()
	for {
		select {
		case ev := <-events:
			c.publish(EventServerState, ev)
		case <-stop:
			// Deliver what the shutdown produced.
			for {
				select {
				case ev := <-events:
					c.publish(EventServerState, ev)
				default:
					return
				}
			}
		}
	}
}

// AssetsChanged is published after each debounced batch of file changes.
type AssetsChanged struct {
	Changes []watcher.ChangeEvent `json:"changes"`
	Assets  []string              `json:"assets"`
}

func (c *Controller) onAssetChanges(ctx context.Context, changes []watcher.ChangeEvent) error {
	names, err := c.store.List()
	if err != nil {
		return err
	}
	c.logger.Debug(ctx, "Assets changed", "changes", len(changes), "assets", len(names))
	c.publish(EventAssetsChanged, AssetsChanged{Changes: changes, Assets: names})
	return nil
}

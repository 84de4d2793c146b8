// Package monitoring watches the site server from the outside.
//
// The Poller probes the server on a fixed interval and reports liveness
// edges. It never owns server state; it only tells its sink what it saw.
package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitedesk/sitedesk/internal/logging"
)

// ErrAlreadyStarted is returned by Start on a poller that was started
// before, including one that has since been stopped.
var ErrAlreadyStarted = errors.New("poller already started")

// Observation is one emitted liveness edge.
type Observation struct {
	ID      string        `json:"id"`
	Alive   bool          `json:"alive"`
	At      time.Time     `json:"at"`
	Latency time.Duration `json:"latency"`
	Err     error         `json:"-"`
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	// SilentBaseline makes the first probe only establish the reference
	// value. Later probes emit when they differ from it.
	SilentBaseline bool
}

// Poller probes on a fixed interval and emits only on changes.
type Poller struct {
	prober   Prober
	interval time.Duration
	silent   bool
	sink     func(Observation)
	metrics  *Metrics
	logger   logging.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	known   bool
	last    bool

	// emitMu is held from the stop check until the sink returns, so once
	// Stop holds it no further emission can begin.
	emitMu sync.Mutex

	resync   chan struct{}
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPoller creates a poller that reports edges to sink.
func NewPoller(prober Prober, cfg PollerConfig, sink func(Observation), metrics *Metrics, logger logging.Logger) *Poller {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Poller{
		prober:   prober,
		interval: cfg.Interval,
		silent:   cfg.SilentBaseline,
		sink:     sink,
		metrics:  metrics,
		logger:   logger.WithComponent("poller"),
		resync:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start launches the poll goroutine. It probes immediately, then once per
// interval, until Stop is called or ctx ends.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pollLoop(loopCtx)
	p.logger.Info(ctx, "Poller started", "interval", p.interval)
	return nil
}

// Stop requests shutdown and waits for the poll goroutine. Nothing is
// emitted once Stop has been called. Stop is idempotent.
func (p *Poller) Stop() {
	p.emitMu.Lock()
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.emitMu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	close(p.stopChan)
	p.mu.Unlock()
	p.emitMu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info(context.Background(), "Poller stopped")
}

// Resync forgets the last emitted value and probes right away, so the next
// observation is emitted whatever it is.
func (p *Poller) Resync() {
	p.mu.Lock()
	p.known = false
	p.mu.Unlock()

	select {
	case p.resync <- struct{}{}:
	default:
	}
}

// Last returns the last emitted liveness and whether there is one.
func (p *Poller) Last() (alive bool, known bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.known
}

func (p *Poller) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	first := true
	for {
		if p.isStopped() {
			return
		}

		p.pollOnce(ctx, first)
		first = false

		select {
		case <-ticker.C:
		case <-p.resync:
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, first bool) {
	start := time.Now()
	err := p.prober.Probe(ctx)
	latency := time.Since(start)
	alive := err == nil

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.stopped || ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.metrics.RecordProbe(alive, latency)

	if p.known && p.last == alive {
		p.mu.Unlock()
		return
	}
	p.known = true
	p.last = alive
	p.mu.Unlock()

	if first && p.silent {
		p.logger.Debug(ctx, "Liveness baseline", "alive", alive)
		return
	}

	obs := Observation{
		ID:      uuid.NewString(),
		Alive:   alive,
		At:      time.Now(),
		Latency: latency,
		Err:     err,
	}
	p.metrics.RecordTransition(alive)
	if alive {
		p.logger.Info(ctx, "Server became reachable", "latency_ms", latency.Milliseconds())
	} else {
		p.logger.Warn(ctx, err, "Server became unreachable")
	}
	if p.sink != nil {
		p.sink(obs)
	}
}

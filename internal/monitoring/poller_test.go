package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/testutils"
)

// scriptedProber answers from a fixed script and repeats its last entry.
type scriptedProber struct {
	mu     sync.Mutex
	script []bool
	calls  int
}

func (s *scriptedProber) Probe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	if s.script[i] {
		return nil
	}
	return siteerrors.NewUnreachableError("PROBE_FAILED", "scripted failure", nil)
}

func (s *scriptedProber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type sinkRecorder struct {
	mu   sync.Mutex
	seen []Observation
}

func (r *sinkRecorder) record(o Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, o)
}

func (r *sinkRecorder) observations() []Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Observation(nil), r.seen...)
}

func TestPollerEmitsOnlyEdges(t *testing.T) {
	prober := &scriptedProber{script: []bool{true, true, true, false, true}}
	rec := &sinkRecorder{}
	p := NewPoller(prober, PollerConfig{Interval: 5 * time.Millisecond, SilentBaseline: true}, rec.record, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	testutils.WaitForCondition(t, 2*time.Second, func() bool { return prober.count() >= 8 })
	p.Stop()

	seen := rec.observations()
	require.Len(t, seen, 2)
	assert.False(t, seen[0].Alive)
	assert.Error(t, seen[0].Err)
	assert.True(t, seen[1].Alive)
	assert.NoError(t, seen[1].Err)
	assert.NotEqual(t, seen[0].ID, seen[1].ID)
	assert.False(t, seen[1].At.Before(seen[0].At))
}

func TestPollerEmitsFirstObservationWithoutBaseline(t *testing.T) {
	prober := &scriptedProber{script: []bool{true, true, true, false, true}}
	rec := &sinkRecorder{}
	p := NewPoller(prober, PollerConfig{Interval: 5 * time.Millisecond}, rec.record, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	testutils.WaitForCondition(t, 2*time.Second, func() bool { return prober.count() >= 8 })
	p.Stop()

	seen := rec.observations()
	require.Len(t, seen, 3)
	assert.Equal(t, []bool{true, false, true}, []bool{seen[0].Alive, seen[1].Alive, seen[2].Alive})

	alive, known := p.Last()
	assert.True(t, known)
	assert.True(t, alive)
}

func TestPollerStartTwice(t *testing.T) {
	p := NewPoller(&scriptedProber{script: []bool{true}}, PollerConfig{Interval: time.Hour}, nil, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	p.Stop()
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	p.Stop()
}

func TestPollerEmitsNothingAfterStop(t *testing.T) {
	var alive atomic.Bool
	prober := ProberFunc(func(context.Context) error {
		if alive.Load() {
			return nil
		}
		return errors.New("down")
	})
	rec := &sinkRecorder{}
	p := NewPoller(prober, PollerConfig{Interval: 2 * time.Millisecond}, rec.record, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	testutils.WaitForCondition(t, time.Second, func() bool { return len(rec.observations()) == 1 })
	p.Stop()

	before := len(rec.observations())
	alive.Store(true)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, len(rec.observations()))
}

func TestPollerStopsWithinOneInterval(t *testing.T) {
	p := NewPoller(&scriptedProber{script: []bool{true}}, PollerConfig{Interval: 50 * time.Millisecond}, nil, nil, nil)
	require.NoError(t, p.Start(context.Background()))

	start := time.Now()
	p.Stop()
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// A second Stop is a no-op.
	p.Stop()
}

func TestPollerStopsWhenContextEnds(t *testing.T) {
	prober := &scriptedProber{script: []bool{true}}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(prober, PollerConfig{Interval: 2 * time.Millisecond}, nil, nil, nil)

	require.NoError(t, p.Start(ctx))
	testutils.WaitForCondition(t, time.Second, func() bool { return prober.count() >= 2 })
	cancel()
	p.wg.Wait()

	n := prober.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, prober.count())
	p.Stop()
}

func TestPollerResyncReemits(t *testing.T) {
	prober := &scriptedProber{script: []bool{true}}
	rec := &sinkRecorder{}
	p := NewPoller(prober, PollerConfig{Interval: time.Hour}, rec.record, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	testutils.WaitForCondition(t, time.Second, func() bool { return len(rec.observations()) == 1 })

	p.Resync()
	testutils.WaitForCondition(t, time.Second, func() bool { return len(rec.observations()) == 2 })
	p.Stop()

	seen := rec.observations()
	assert.True(t, seen[0].Alive)
	assert.True(t, seen[1].Alive)
}

func TestPollerAgainstHTTPServer(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &sinkRecorder{}
	p := NewPoller(NewHTTPProber(srv.URL, time.Second), PollerConfig{Interval: 5 * time.Millisecond}, rec.record, nil, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	testutils.WaitForCondition(t, 2*time.Second, func() bool { return len(rec.observations()) == 1 })
	healthy.Store(false)
	testutils.WaitForCondition(t, 2*time.Second, func() bool { return len(rec.observations()) == 2 })

	seen := rec.observations()
	assert.True(t, seen[0].Alive)
	assert.False(t, seen[1].Alive)
	assert.True(t, errors.Is(seen[1].Err, siteerrors.ErrUnreachable))
}

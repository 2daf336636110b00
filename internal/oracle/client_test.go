package oracle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pathpilot/internal/geom"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echoOracle() Func {
	return func(ctx context.Context, target geom.Point, onResult func([]geom.Waypoint)) {
		go onResult([]geom.Waypoint{{X: 0, Y: 0}, geom.Round(target)})
	}
}

// silentOracle never answers; it only records the contexts it was handed.
type silentOracle struct {
	mu       sync.Mutex
	contexts []context.Context
}

func (s *silentOracle) RequestPath(ctx context.Context, _ geom.Point, _ func([]geom.Waypoint)) {
	s.mu.Lock()
	s.contexts = append(s.contexts, ctx)
	s.mu.Unlock()
}

func (s *silentOracle) Ready() bool { return true }

func (s *silentOracle) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

func TestDispatchTagsResultsWithRound(t *testing.T) {
	client := NewClient(echoOracle(), ClientConfig{MaxInFlight: 4}, Deps{})
	defer client.Close()

	round := client.Dispatch([]CandidateRequest{
		{Target: geom.Point{X: 10, Y: 0}, Rationale: "east"},
		{Target: geom.Point{X: 0, Y: 10}, Rationale: "south"},
	})
	require.NotEmpty(t, round.ID)
	require.Equal(t, 2, round.Size)

	var results []Result
	require.Eventually(t, func() bool {
		results = append(results, client.Drain()...)
		return len(results) == 2
	}, time.Second, 5*time.Millisecond)

	rationales := map[string]bool{}
	for _, res := range results {
		assert.Equal(t, round.ID, res.RoundID)
		assert.NotEmpty(t, res.RequestID)
		assert.True(t, res.Found())
		rationales[res.Rationale] = true
	}
	assert.True(t, rationales["east"])
	assert.True(t, rationales["south"])
	require.Eventually(t, func() bool { return round.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCancelReleasesOutstandingRequests(t *testing.T) {
	oracle := &silentOracle{}
	client := NewClient(oracle, ClientConfig{MaxInFlight: 8}, Deps{})
	defer client.Close()

	round := client.Dispatch([]CandidateRequest{
		{Target: geom.Point{X: 1}},
		{Target: geom.Point{X: 2}},
		{Target: geom.Point{X: 3}},
	})
	require.Eventually(t, func() bool { return oracle.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, round.Outstanding())

	round.Cancel()
	require.Eventually(t, func() bool { return round.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, round.Cancelled())

	oracle.mu.Lock()
	defer oracle.mu.Unlock()
	for _, ctx := range oracle.contexts {
		assert.Error(t, ctx.Err())
	}
}

func TestCancelBeforeStaggerSkipsRemainingDispatches(t *testing.T) {
	oracle := &silentOracle{}
	client := NewClient(oracle, ClientConfig{MaxInFlight: 8, Stagger: time.Hour}, Deps{})
	defer client.Close()

	round := client.Dispatch([]CandidateRequest{{Target: geom.Point{X: 1}}, {Target: geom.Point{X: 2}}})
	require.Eventually(t, func() bool { return oracle.count() == 1 }, time.Second, 5*time.Millisecond)

	round.Cancel()
	require.Eventually(t, func() bool { return round.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, oracle.count())
}

func TestInFlightBound(t *testing.T) {
	var current, peak atomic.Int64
	release := make(chan struct{})
	var once sync.Once
	oracle := Func(func(ctx context.Context, target geom.Point, onResult func([]geom.Waypoint)) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		go func() {
			select {
			case <-release:
			case <-ctx.Done():
			}
			current.Add(-1)
			onResult(nil)
		}()
	})
	client := NewClient(oracle, ClientConfig{MaxInFlight: 2}, Deps{})
	defer client.Close()

	requests := make([]CandidateRequest, 6)
	for i := range requests {
		requests[i] = CandidateRequest{Target: geom.Point{X: float64(i)}}
	}
	round := client.Dispatch(requests)

	require.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, peak.Load())

	once.Do(func() { close(release) })
	require.Eventually(t, func() bool { return round.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, peak.Load())

	var results []Result
	require.Eventually(t, func() bool {
		results = append(results, client.Drain()...)
		return len(results) == 6
	}, time.Second, 5*time.Millisecond)
	for _, res := range results {
		assert.False(t, res.Found())
	}
}

func TestLateCallbackAfterCancelIsIgnored(t *testing.T) {
	var mu sync.Mutex
	var callbacks []func([]geom.Waypoint)
	oracle := Func(func(_ context.Context, _ geom.Point, onResult func([]geom.Waypoint)) {
		mu.Lock()
		callbacks = append(callbacks, onResult)
		mu.Unlock()
	})
	client := NewClient(oracle, ClientConfig{}, Deps{})
	defer client.Close()

	round := client.Dispatch([]CandidateRequest{{Target: geom.Point{X: 5}}})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(callbacks) == 1
	}, time.Second, 5*time.Millisecond)

	round.Cancel()
	require.Eventually(t, func() bool { return round.Outstanding() == 0 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	callbacks[0]([]geom.Waypoint{{X: 1, Y: 1}})
	mu.Unlock()
	assert.Empty(t, client.Drain())
}

func TestDispatchWithoutRequests(t *testing.T) {
	client := NewClient(echoOracle(), ClientConfig{}, Deps{})
	defer client.Close()

	round := client.Dispatch(nil)
	assert.Zero(t, round.Outstanding())
	assert.True(t, round.Cancelled())
}

type connectingOracle struct {
	ready    atomic.Bool
	attempts atomic.Int32
	gate     chan struct{}
}

func (c *connectingOracle) RequestPath(context.Context, geom.Point, func([]geom.Waypoint)) {}

func (c *connectingOracle) Ready() bool { return c.ready.Load() }

func (c *connectingOracle) Connect(ctx context.Context) error {
	c.attempts.Add(1)
	select {
	case <-c.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.ready.Store(true)
	return nil
}

func TestReconnectRunsOneAttemptAtATime(t *testing.T) {
	oracle := &connectingOracle{gate: make(chan struct{})}
	client := NewClient(oracle, ClientConfig{}, Deps{})
	defer client.Close()

	assert.False(t, client.Ready())
	assert.True(t, client.Reconnect())
	assert.False(t, client.Reconnect())

	close(oracle.gate)
	require.Eventually(t, client.Ready, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, oracle.attempts.Load())
}

func TestReconnectUnsupported(t *testing.T) {
	client := NewClient(echoOracle(), ClientConfig{}, Deps{})
	defer client.Close()
	assert.False(t, client.Reconnect())
}

func TestClosedClient(t *testing.T) {
	client := NewClient(echoOracle(), ClientConfig{}, Deps{})
	client.Close()
	client.Close()

	assert.False(t, client.Ready())
	round := client.Dispatch([]CandidateRequest{{Target: geom.Point{X: 1}}})
	assert.True(t, round.Cancelled())
	assert.Zero(t, round.Outstanding())
}

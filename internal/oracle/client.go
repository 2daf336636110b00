package oracle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"pathpilot/internal/geom"
	"pathpilot/internal/queue"
	"pathpilot/internal/telemetry"
)

const (
	metricDispatched = "oracle_requests_dispatched_total"
	metricResolved   = "oracle_requests_resolved_total"
	metricFound      = "oracle_requests_found_total"
	metricCancelled  = "oracle_requests_cancelled_total"
	metricDropped    = "oracle_results_dropped_total"
	metricConnects   = "oracle_connect_attempts_total"
)

// ClientConfig tunes request fan-out.
type ClientConfig struct {
	// MaxInFlight bounds concurrent outstanding requests across all rounds.
	MaxInFlight int
	// Stagger is the delay between consecutive dispatches of a round.
	Stagger time.Duration
	// QueueCapacity bounds results waiting for the next tick.
	QueueCapacity int
	// ConnectTimeout bounds a single reconnect attempt.
	ConnectTimeout time.Duration
}

// Deps carries the collaborators shared by navigation components.
type Deps struct {
	Clock   func() time.Time
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = telemetry.NopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NopMetrics()
	}
	return d
}

// Round is the cancellation scope of one acquisition fan-out.
type Round struct {
	ID        string
	StartedAt time.Time
	Size      int

	ctx         context.Context
	cancel      context.CancelFunc
	outstanding atomic.Int64
}

// Outstanding reports requests that have neither answered nor been cancelled.
func (r *Round) Outstanding() int64 {
	if r == nil {
		return 0
	}
	return r.outstanding.Load()
}

// Cancel abandons every outstanding request of the round.
func (r *Round) Cancel() {
	if r == nil {
		return
	}
	r.cancel()
}

// Cancelled reports whether the round scope has been cancelled.
func (r *Round) Cancelled() bool {
	if r == nil {
		return true
	}
	return r.ctx.Err() != nil
}

// Age reports how long the round has been running.
func (r *Round) Age(now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	return now.Sub(r.StartedAt)
}

// Client dispatches candidate requests and collects their results.
type Client struct {
	oracle  Oracle
	cfg     ClientConfig
	deps    Deps
	results *queue.Ring[Result]
	sem     *semaphore.Weighted

	base       context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
	connecting atomic.Bool
	closed     atomic.Bool
}

// NewClient wraps the provided oracle.
func NewClient(o Oracle, cfg ClientConfig, deps Deps) *Client {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 128
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	deps = deps.withDefaults()
	base, stop := context.WithCancel(context.Background())
	return &Client{
		oracle:  o,
		cfg:     cfg,
		deps:    deps,
		results: queue.NewRing[Result]("oracle_results", cfg.QueueCapacity, deps.Metrics),
		sem:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		base:    base,
		stop:    stop,
	}
}

// Ready reports whether the oracle can accept requests.
func (c *Client) Ready() bool {
	if c == nil || c.oracle == nil || c.closed.Load() {
		return false
	}
	return c.oracle.Ready()
}

// Reconnect starts a background connection attempt when the oracle supports
// one and no attempt is already running. It never blocks and reports whether
// an attempt was started.
func (c *Client) Reconnect() bool {
	if c == nil || c.closed.Load() {
		return false
	}
	connector, ok := c.oracle.(Connector)
	if !ok {
		return false
	}
	if !c.connecting.CompareAndSwap(false, true) {
		return false
	}
	c.deps.Metrics.Add(metricConnects, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.connecting.Store(false)
		ctx, cancel := context.WithTimeout(c.base, c.cfg.ConnectTimeout)
		defer cancel()
		if err := connector.Connect(ctx); err != nil {
			c.deps.Logger.Printf("[oracle] connect failed: %v", err)
		}
	}()
	return true
}

// Dispatch starts a new round for the given requests and returns immediately.
// Requests are issued in order, Stagger apart, each bounded by the in-flight
// semaphore and carrying the round context as its cancellation token.
func (c *Client) Dispatch(requests []CandidateRequest) *Round {
	ctx, cancel := context.WithCancel(c.base)
	round := &Round{
		ID:        uuid.NewString(),
		StartedAt: c.deps.Clock(),
		Size:      len(requests),
		ctx:       ctx,
		cancel:    cancel,
	}
	if c.closed.Load() || len(requests) == 0 {
		cancel()
		return round
	}
	round.outstanding.Store(int64(len(requests)))

	pending := make([]CandidateRequest, len(requests))
	copy(pending, requests)
	for i := range pending {
		if pending[i].RequestID == "" {
			pending[i].RequestID = uuid.NewString()
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for i, req := range pending {
			if i > 0 && c.cfg.Stagger > 0 {
				timer := time.NewTimer(c.cfg.Stagger)
				select {
				case <-ctx.Done():
					timer.Stop()
				case <-timer.C:
				}
			}
			if ctx.Err() != nil || c.sem.Acquire(ctx, 1) != nil {
				skipped := int64(len(pending) - i)
				round.outstanding.Add(-skipped)
				c.deps.Metrics.Add(metricCancelled, uint64(skipped))
				return
			}
			c.issue(round, req)
		}
	}()
	return round
}

// issue sends one request. The semaphore slot is held until the oracle answers
// or the round is cancelled, whichever happens first.
func (c *Client) issue(round *Round, req CandidateRequest) {
	c.deps.Metrics.Add(metricDispatched, 1)
	var once sync.Once
	answered := make(chan struct{})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-answered:
		case <-round.ctx.Done():
			once.Do(func() {
				c.deps.Metrics.Add(metricCancelled, 1)
			})
		}
		round.outstanding.Add(-1)
		c.sem.Release(1)
	}()

	c.oracle.RequestPath(round.ctx, req.Target, func(waypoints []geom.Waypoint) {
		once.Do(func() {
			result := Result{
				RoundID:    round.ID,
				RequestID:  req.RequestID,
				Rationale:  req.Rationale,
				Target:     req.Target,
				Waypoints:  append([]geom.Waypoint(nil), waypoints...),
				ReceivedAt: c.deps.Clock(),
			}
			c.deps.Metrics.Add(metricResolved, 1)
			if result.Found() {
				c.deps.Metrics.Add(metricFound, 1)
			}
			if !c.results.Push(result) {
				c.deps.Metrics.Add(metricDropped, 1)
			}
			close(answered)
		})
	})
}

// Drain returns every result received since the previous drain, in arrival
// order.
func (c *Client) Drain() []Result {
	if c == nil {
		return nil
	}
	return c.results.Drain()
}

// Pending reports the number of undrained results.
func (c *Client) Pending() int {
	if c == nil {
		return 0
	}
	return c.results.Len()
}

// Close cancels every round and waits for the client's goroutines to exit.
func (c *Client) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.stop()
	c.wg.Wait()
}

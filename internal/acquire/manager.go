// Package acquire generates candidate goals, fans them out to the pathfinding
// oracle and decides which returned path the agent follows.
//
// Results are applied in arrival order and the first candidate that beats the
// current path at that moment wins. A better candidate arriving a tick later
// is then judged against the newly accepted path, usually inside its grace
// window, so selection is order-dependent rather than best-of-round.
package acquire

import (
	"context"
	"time"

	"pathpilot/internal/geom"
	"pathpilot/internal/nav"
	"pathpilot/internal/oracle"
	"pathpilot/internal/telemetry"
	"pathpilot/logging"
	navevents "pathpilot/logging/navigation"
)

const (
	metricRounds        = "acquire_rounds_total"
	metricRoundTimeouts = "acquire_round_timeouts_total"
	metricAccepted      = "acquire_paths_accepted_total"
	metricRejected      = "acquire_paths_rejected_total"
	metricNoPath        = "acquire_no_path_total"
	metricSuppressed    = "acquire_candidates_suppressed_total"
)

// Dispatcher is the oracle surface the manager drives. *oracle.Client
// satisfies it.
type Dispatcher interface {
	Dispatch(requests []oracle.CandidateRequest) *oracle.Round
	Drain() []oracle.Result
}

// Config tunes acquisition rounds.
type Config struct {
	Candidates CandidateConfig
	Policy     PolicyConfig
	// RoundTimeout abandons a round that has produced no accepted path.
	RoundTimeout time.Duration
	// RequestInterval is the minimum spacing between round starts.
	RequestInterval time.Duration

	NegativeCacheSize int
	NegativeCacheCell float64
	NegativeCacheTTL  time.Duration
}

// DefaultConfig mirrors the values the bot ships with.
func DefaultConfig() Config {
	return Config{
		Candidates:        DefaultCandidateConfig(),
		Policy:            DefaultPolicyConfig(),
		RoundTimeout:      15 * time.Second,
		RequestInterval:   time.Second,
		NegativeCacheSize: 256,
		NegativeCacheCell: 25,
		NegativeCacheTTL:  30 * time.Second,
	}
}

// Deps carries the manager's collaborators.
type Deps struct {
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// Outcome summarises one Apply pass.
type Outcome struct {
	Accepted  bool
	Decisions int
	Last      Decision
}

// Manager owns the acquisition round lifecycle. It is driven exclusively by
// the tick loop and is not safe for concurrent use.
type Manager struct {
	cfg        Config
	dispatcher Dispatcher
	policy     Policy
	cache      *NegativeCache
	pub        logging.Publisher
	metrics    telemetry.Metrics

	round          *oracle.Round
	roundStartedAt time.Time
	lastRequestAt  time.Time
}

func NewManager(cfg Config, dispatcher Dispatcher, deps Deps) *Manager {
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		policy:     NewPolicy(cfg.Policy),
		cache:      NewNegativeCache(cfg.NegativeCacheSize, cfg.NegativeCacheCell, cfg.NegativeCacheTTL),
		pub:        deps.Publisher,
		metrics:    deps.Metrics,
	}
}

// Configure swaps the tuning used by subsequent rounds and evaluations.
func (m *Manager) Configure(cfg Config) {
	m.cfg.Candidates = cfg.Candidates
	m.cfg.Policy = cfg.Policy
	m.cfg.RoundTimeout = cfg.RoundTimeout
	m.cfg.RequestInterval = cfg.RequestInterval
	m.policy = NewPolicy(cfg.Policy)
}

// Round returns the current round, if any.
func (m *Manager) Round() *oracle.Round { return m.round }

// InFlight reports whether the current round still has outstanding requests.
func (m *Manager) InFlight() bool {
	return m.round != nil && !m.round.Cancelled() && m.round.Outstanding() > 0
}

// CanRequest reports whether a new round may start now.
func (m *Manager) CanRequest(now time.Time) bool {
	if m.InFlight() {
		return false
	}
	return m.lastRequestAt.IsZero() || now.Sub(m.lastRequestAt) >= m.cfg.RequestInterval
}

// BeginRound cancels any previous round and dispatches a fresh candidate set.
// It returns the number of candidates dispatched.
func (m *Manager) BeginRound(ctx context.Context, tick uint64, now time.Time, probe Probe) int {
	m.Cancel()
	candidates, suppressed := Generate(m.cfg.Candidates, probe, m.cache)
	m.lastRequestAt = now
	if suppressed > 0 {
		m.metrics.Add(metricSuppressed, uint64(suppressed))
	}
	if len(candidates) == 0 {
		return 0
	}

	requests := make([]oracle.CandidateRequest, len(candidates))
	for i, c := range candidates {
		requests[i] = c.Request()
	}
	m.round = m.dispatcher.Dispatch(requests)
	m.roundStartedAt = now
	m.metrics.Add(metricRounds, 1)
	navevents.RoundStarted(ctx, m.pub, tick, navevents.RoundStartedPayload{
		RoundID:    m.round.ID,
		Candidates: len(requests),
		Suppressed: suppressed,
	})
	return len(requests)
}

// Maintain abandons a round that outlived the timeout so a new one can start
// immediately, and releases rounds that have fully resolved.
func (m *Manager) Maintain(ctx context.Context, tick uint64, now time.Time) {
	if m.round == nil {
		return
	}
	age := now.Sub(m.roundStartedAt)
	if m.cfg.RoundTimeout > 0 && age > m.cfg.RoundTimeout {
		navevents.RoundTimedOut(ctx, m.pub, tick, navevents.RoundTimedOutPayload{
			RoundID:     m.round.ID,
			Outstanding: m.round.Outstanding(),
			AgeSeconds:  age.Seconds(),
		})
		m.metrics.Add(metricRoundTimeouts, 1)
		m.round.Cancel()
		m.round = nil
		m.lastRequestAt = time.Time{}
		return
	}
	if m.round.Cancelled() || m.round.Outstanding() == 0 {
		m.round.Cancel()
		m.round = nil
	}
}

// Apply drains pending oracle results and evaluates them one at a time
// against the state's current path. Accepting a result replaces the path and
// cancels the rest of its round.
func (m *Manager) Apply(ctx context.Context, tick uint64, now time.Time, state *nav.State) Outcome {
	var out Outcome
	for _, res := range m.dispatcher.Drain() {
		out.Decisions++
		if !res.Found() {
			m.cache.Add(res.Target)
			m.metrics.Add(metricNoPath, 1)
			out.Last = Decision{Reason: ReasonEmpty}
			navevents.PathRejected(ctx, m.pub, tick, navevents.PathDecisionPayload{
				RoundID:   res.RoundID,
				Rationale: res.Rationale,
				Reason:    ReasonEmpty,
			})
			continue
		}

		candidate := nav.NewPath(res.Waypoints, now, res.Rationale)
		current := state.Path()
		decision := m.policy.Evaluate(current, candidate, state.Spawn, now)
		out.Last = decision
		payload := navevents.PathDecisionPayload{
			RoundID:       res.RoundID,
			Rationale:     res.Rationale,
			Reason:        decision.Reason,
			Length:        candidate.Len(),
			CurrentLength: current.Len(),
			Score:         decision.Score,
			CurrentScore:  decision.CurrentScore,
		}
		if !decision.Accept {
			m.metrics.Add(metricRejected, 1)
			navevents.PathRejected(ctx, m.pub, tick, payload)
			continue
		}

		state.Replace(candidate, now)
		out.Accepted = true
		m.metrics.Add(metricAccepted, 1)
		navevents.PathAccepted(ctx, m.pub, tick, payload)
		if m.round != nil && m.round.ID == res.RoundID {
			m.round.Cancel()
		}
	}
	return out
}

// Cancel abandons the current round.
func (m *Manager) Cancel() {
	if m.round != nil {
		m.round.Cancel()
		m.round = nil
	}
}

// Discard drops queued results without evaluating them. It returns the number
// dropped.
func (m *Manager) Discard() int {
	return len(m.dispatcher.Drain())
}

// Reset cancels the current round, drops queued results and forgets request
// timing and cached unreachable targets.
func (m *Manager) Reset() {
	m.Cancel()
	m.Discard()
	m.lastRequestAt = time.Time{}
	m.cache.Purge()
}

// Suppressed reports whether the target is currently in the negative cache.
func (m *Manager) Suppressed(target geom.Point) bool {
	return m.cache.Suppressed(target)
}

// Package bot is the run state machine. It owns the navigation state and, once
// per tick, drains control commands and oracle results before sequencing
// acquisition, pursuit, stuck recovery and actuation.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pathpilot/internal/acquire"
	"pathpilot/internal/actuate"
	"pathpilot/internal/geom"
	"pathpilot/internal/nav"
	"pathpilot/internal/pursuit"
	"pathpilot/internal/queue"
	"pathpilot/internal/stuck"
	"pathpilot/internal/telemetry"
	"pathpilot/internal/world"
	"pathpilot/logging"
	navevents "pathpilot/logging/navigation"
)

// ErrFaulted wraps the cause of a tick that moved the bot into PhaseFaulted.
var ErrFaulted = errors.New("bot: faulted")

const (
	metricTicks       = "bot_ticks_total"
	metricPhase       = "bot_phase"
	metricRuns        = "bot_runs_total"
	metricRecoveries  = "bot_recoveries_total"
	metricNoTarget    = "bot_target_unavailable_total"
	metricReconnects  = "bot_oracle_reconnects_total"
	metricFaults      = "bot_faults_total"
	stackExcerptLines = 24
)

// Oracle is the oracle surface the bot drives. *oracle.Client satisfies it.
type Oracle interface {
	acquire.Dispatcher
	Ready() bool
	Reconnect() bool
}

type Deps struct {
	Oracle    Oracle
	World     world.Provider
	Sink      actuate.Sink
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Clock     logging.Clock
}

// Status is a point-in-time summary for operators.
type Status struct {
	Phase       Phase         `json:"phase"`
	Tick        uint64        `json:"tick"`
	Runs        int           `json:"runs"`
	Runtime     time.Duration `json:"runtime"`
	PathPoints  int           `json:"pathPoints"`
	Cursor      int           `json:"cursor"`
	Progress    float64       `json:"progress"`
	OracleReady bool          `json:"oracleReady"`
	LastEvent   string        `json:"lastEvent,omitempty"`
	Fault       string        `json:"fault,omitempty"`
}

type controlKind int

const (
	controlStart controlKind = iota
	controlStop
	controlConfigure
)

type control struct {
	kind   controlKind
	tuning Tuning
}

// Bot is driven by a single goroutine calling Tick. Start, Stop,
// EmergencyStop, Configure and Status may be called from any goroutine.
type Bot struct {
	cfg     Config
	oracle  Oracle
	world   world.Provider
	pub     logging.Publisher
	logger  telemetry.Logger
	metrics telemetry.Metrics
	clock   logging.Clock

	state    *nav.State
	acq      *acquire.Manager
	pilot    *pursuit.Navigator
	detector *stuck.Detector
	gate     *actuate.Gate
	surface  pursuit.Surface

	controls  *queue.Ring[control]
	emergency atomic.Bool

	tick            uint64
	now             time.Time
	phase           Phase
	phaseSince      time.Time
	startedAt       time.Time
	runs            int
	lastReconnectAt time.Time
	lastEvent       string
	faultErr        error

	statusMu sync.RWMutex
	status   Status
}

func New(cfg Config, deps Deps) (*Bot, error) {
	switch {
	case deps.Oracle == nil:
		return nil, errors.New("bot: oracle is required")
	case deps.World == nil:
		return nil, errors.New("bot: world provider is required")
	case deps.Sink == nil:
		return nil, errors.New("bot: actuation sink is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock{}
	}
	if cfg.ControlCapacity <= 0 {
		cfg.ControlCapacity = 32
	}

	b := &Bot{
		cfg:      cfg,
		oracle:   deps.Oracle,
		world:    deps.World,
		pub:      deps.Publisher,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		state:    nav.NewState(),
		pilot:    pursuit.New(cfg.Pursuit),
		detector: stuck.New(cfg.Stuck),
		gate:     actuate.NewGate(cfg.Actuation, deps.Sink, deps.Logger, deps.Metrics),
		surface:  viewportSurface{proj: deps.World},
		controls: queue.NewRing[control]("bot_controls", cfg.ControlCapacity, deps.Metrics),
	}
	b.acq = acquire.NewManager(cfg.Acquire, deps.Oracle, acquire.Deps{
		Publisher: deps.Publisher,
		Metrics:   deps.Metrics,
	})
	b.status = Status{Phase: PhaseIdle}
	return b, nil
}

// Start begins a new session on the next tick. It resets session counters and
// is the only way out of PhaseFaulted.
func (b *Bot) Start() bool { return b.controls.Push(control{kind: controlStart}) }

// Stop returns the bot to idle on the next tick.
func (b *Bot) Stop() bool { return b.controls.Push(control{kind: controlStop}) }

// Configure applies new tuning between ticks.
func (b *Bot) Configure(t Tuning) bool {
	return b.controls.Push(control{kind: controlConfigure, tuning: t})
}

// EmergencyStop halts the bot on the next tick, discarding queued controls
// and oracle results.
func (b *Bot) EmergencyStop() { b.emergency.Store(true) }

// Status returns the snapshot taken at the end of the last tick.
func (b *Bot) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// Tick runs one control step. It never blocks on the oracle or the world. A
// non-nil error wraps ErrFaulted and is returned only on the tick that
// faulted.
func (b *Bot) Tick(ctx context.Context) (err error) {
	b.tick++
	b.now = b.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = b.fail(ctx, fmt.Errorf("panic: %v", r), debug.Stack())
		}
		b.publishStatus()
	}()

	b.drainControls(ctx)
	if !b.phase.Active() {
		b.acq.Discard()
		return nil
	}
	if b.limitReached(ctx) {
		return nil
	}

	b.acq.Maintain(ctx, b.tick, b.now)
	if b.phase == PhaseAcquiringPath || b.phase == PhaseFollowing {
		if out := b.acq.Apply(ctx, b.tick, b.now, b.state); out.Accepted {
			b.detector.Reset()
			b.lastEvent = "path accepted"
			if b.phase == PhaseAcquiringPath {
				b.transition(ctx, PhaseFollowing, "path accepted")
			}
		}
	} else {
		b.acq.Discard()
	}

	if err := b.step(ctx); err != nil {
		return b.fail(ctx, err, nil)
	}
	return nil
}

// step lets one tick fall through several phases, so a bot that is already
// connected and inside the zone starts acquiring on the tick it starts.
func (b *Bot) step(ctx context.Context) error {
	if b.phase == PhaseAwaitingOracle {
		b.awaitOracle(ctx)
	}
	if b.phase == PhaseAwaitingGoal {
		if err := b.awaitGoal(ctx); err != nil {
			return err
		}
	}
	if b.phase == PhaseAcquiringPath {
		if err := b.acquirePath(ctx); err != nil {
			return err
		}
	}
	if b.phase == PhaseFollowing {
		if err := b.follow(ctx); err != nil {
			return err
		}
	}
	if b.phase == PhaseAtGoal {
		b.atGoal(ctx)
	}
	return nil
}

func (b *Bot) drainControls(ctx context.Context) {
	if b.emergency.Swap(false) {
		b.controls.Drain()
		b.halt(ctx, "emergency stop")
		b.gate.Reset()
		b.lastEvent = "emergency stop"
		navevents.EmergencyStop(ctx, b.pub, b.tick)
		return
	}
	for _, c := range b.controls.Drain() {
		switch c.kind {
		case controlStart:
			b.start(ctx)
		case controlStop:
			if b.phase.Active() {
				b.halt(ctx, "stop requested")
			}
		case controlConfigure:
			b.configure(c.tuning)
		}
	}
}

func (b *Bot) start(ctx context.Context) {
	b.runs = 0
	b.startedAt = b.now
	b.lastReconnectAt = time.Time{}
	b.faultErr = nil
	b.state.Reset()
	b.acq.Reset()
	b.detector.Reset()
	b.gate.Reset()
	b.transition(ctx, PhaseAwaitingOracle, "start")
}

func (b *Bot) configure(t Tuning) {
	b.cfg.Tuning = t
	b.pilot.Configure(t.Pursuit)
	b.detector.Configure(t.Stuck)
	b.gate.Configure(t.Actuation)
	b.acq.Configure(t.Acquire)
	b.lastEvent = "configuration applied"
}

// halt cancels outstanding work and returns to idle.
func (b *Bot) halt(ctx context.Context, reason string) {
	b.acq.Reset()
	b.state.ClearPath()
	b.detector.Reset()
	b.transition(ctx, PhaseIdle, reason)
}

func (b *Bot) limitReached(ctx context.Context) bool {
	var reason string
	switch {
	case b.cfg.MaxRuns > 0 && b.runs >= b.cfg.MaxRuns:
		reason = fmt.Sprintf("run limit %d reached", b.cfg.MaxRuns)
	case b.cfg.MaxRuntime > 0 && b.now.Sub(b.startedAt) >= b.cfg.MaxRuntime:
		reason = fmt.Sprintf("runtime limit %s reached", b.cfg.MaxRuntime)
	default:
		return false
	}
	navevents.LimitReached(ctx, b.pub, b.tick, reason)
	b.halt(ctx, reason)
	return true
}

func (b *Bot) awaitOracle(ctx context.Context) {
	if b.oracle.Ready() {
		b.transition(ctx, PhaseAwaitingGoal, "oracle ready")
		return
	}
	if !b.lastReconnectAt.IsZero() && b.now.Sub(b.lastReconnectAt) < b.cfg.OracleRetryInterval {
		return
	}
	b.lastReconnectAt = b.now
	b.oracle.Reconnect()
	b.metrics.Add(metricReconnects, 1)
	b.lastEvent = "oracle unreachable"
	navevents.OracleUnavailable(ctx, b.pub, b.tick, "oracle unreachable, reconnecting")
}

func (b *Bot) awaitGoal(ctx context.Context) error {
	zone := b.world.Zone()
	if !zone.Matches(b.cfg.TargetZone) {
		return nil
	}
	pos, ok, err := b.position()
	if err != nil || !ok {
		return err
	}
	b.state.RecordSpawn(pos)
	b.state.VisitZone(zone.Name)
	b.transition(ctx, PhaseAcquiringPath, "in target zone")
	return nil
}

func (b *Bot) acquirePath(ctx context.Context) error {
	if !b.oracle.Ready() {
		b.acq.Cancel()
		b.transition(ctx, PhaseAwaitingOracle, "oracle lost")
		return nil
	}
	if !b.inZone() {
		b.arrive(ctx, "zone changed", 0)
		return nil
	}
	if b.state.HasPath() {
		b.transition(ctx, PhaseFollowing, "path available")
		return nil
	}
	if !b.acq.CanRequest(b.now) {
		return nil
	}
	pos, ok, err := b.position()
	if err != nil || !ok {
		return err
	}
	b.beginRound(ctx, pos)
	return nil
}

func (b *Bot) beginRound(ctx context.Context, pos geom.Point) {
	probe := acquire.Probe{Position: pos, Spawn: b.state.Spawn}
	if bp, ok := b.world.(world.BoundsProvider); ok {
		if bounds, known := bp.ZoneBounds(); known {
			probe.Bounds = &bounds
		}
	}
	n := b.acq.BeginRound(ctx, b.tick, b.now, probe)
	if n == 0 {
		b.lastEvent = "no candidates to request"
		return
	}
	b.lastEvent = fmt.Sprintf("requested %d candidates", n)
}

func (b *Bot) follow(ctx context.Context) error {
	if !b.inZone() {
		b.arrive(ctx, "zone changed", 0)
		return nil
	}
	pos, ok, err := b.position()
	if err != nil || !ok {
		return err
	}
	path := b.state.Path()
	if path == nil {
		b.transition(ctx, PhaseAcquiringPath, "path lost")
		return nil
	}

	staleness := b.cfg.Acquire.Policy.Staleness
	if staleness > 0 && path.Age(b.now) > staleness && b.oracle.Ready() && b.acq.CanRequest(b.now) {
		b.beginRound(ctx, pos)
	}

	verdict := b.detector.ObservePosition(pos, b.state.Remaining())
	b.state.StuckCounter = b.detector.Count()
	if b.recover(ctx, verdict) && verdict.Action == stuck.ActionRepath {
		return nil
	}

	out := b.pilot.Steer(b.state.Path(), b.state.Cursor(), pos, b.surface)
	if !out.Found {
		b.metrics.Add(metricNoTarget, 1)
		b.lastEvent = "no pursuit target"
		navevents.TargetUnavailable(ctx, b.pub, b.tick, "no pursuit target")
		return nil
	}
	if out.AtGoal {
		b.state.Advance(b.state.Remaining(), b.now)
		b.arrive(ctx, "path end", geom.Distance(pos, path.End()))
		return nil
	}
	b.state.Advance(out.Advance, b.now)

	target := out.Result.Target
	b.state.LastTarget = target
	b.state.HasLastTarget = true
	verdict = b.detector.ObserveTarget(target, b.state.Remaining())
	b.state.DuplicateTargetCounter = b.detector.Repeats()
	if b.recover(ctx, verdict) {
		return nil
	}

	decision := b.gate.Submit(ctx, b.now, target, out.Result.Distance, b.world)
	if !decision.Emitted {
		return nil
	}
	navevents.Actuation(ctx, b.pub, b.tick, navevents.ActuationPayload{
		WorldX:   target.X,
		WorldY:   target.Y,
		SurfaceX: decision.Surface.X,
		SurfaceY: decision.Surface.Y,
		Source:   out.Result.Source,
		Cursor:   b.state.Cursor(),
	})
	b.recover(ctx, b.detector.ObserveActuation(decision.Surface, b.state.Remaining()))
	return nil
}

// recover applies a stuck verdict and reports whether it acted.
func (b *Bot) recover(ctx context.Context, v stuck.Verdict) bool {
	if v.Action == stuck.ActionNone {
		return false
	}
	b.metrics.Add(metricRecoveries, 1)
	b.lastEvent = "recovery: " + v.Trigger
	switch v.Action {
	case stuck.ActionAdvance:
		moved := b.state.Advance(v.Steps, b.now)
		navevents.Recovery(ctx, b.pub, b.tick, navevents.RecoveryPayload{
			Trigger: v.Trigger,
			Action:  v.Action.String(),
			Steps:   moved,
			Cursor:  b.state.Cursor(),
		})
	case stuck.ActionRepath:
		navevents.Recovery(ctx, b.pub, b.tick, navevents.RecoveryPayload{
			Trigger: v.Trigger,
			Action:  v.Action.String(),
			Cursor:  b.state.Cursor(),
		})
		b.state.ClearPath()
		b.detector.Reset()
		b.acq.Cancel()
		b.transition(ctx, PhaseAcquiringPath, "stuck near path end")
	}
	return true
}

func (b *Bot) arrive(ctx context.Context, cause string, distance float64) {
	b.acq.Cancel()
	navevents.Arrived(ctx, b.pub, b.tick, navevents.ArrivedPayload{Cause: cause, Distance: distance})
	b.transition(ctx, PhaseAtGoal, cause)
}

func (b *Bot) atGoal(ctx context.Context) {
	zone := b.world.Zone()
	if !zone.Matches(b.cfg.TargetZone) {
		b.runs++
		b.metrics.Add(metricRuns, 1)
		navevents.RunCompleted(ctx, b.pub, b.tick, navevents.RunCompletedPayload{Runs: b.runs, Zone: zone.Name})
		b.state.ClearPath()
		b.state.Spawn = nil
		b.detector.Reset()
		b.acq.Cancel()
		b.transition(ctx, PhaseAwaitingGoal, "run complete")
		return
	}
	if b.now.Sub(b.phaseSince) >= b.cfg.ZoneChangeTimeout {
		b.state.ClearPath()
		b.detector.Reset()
		b.transition(ctx, PhaseAcquiringPath, "no zone change, continuing")
	}
}

func (b *Bot) inZone() bool {
	return b.world.Zone().Matches(b.cfg.TargetZone)
}

// position reads the agent position. ok is false when the feed has nothing
// usable this tick, which skips the tick rather than faulting.
func (b *Bot) position() (geom.Point, bool, error) {
	pos, err := b.world.Position()
	if errors.Is(err, world.ErrNoPosition) {
		return geom.Point{}, false, nil
	}
	if err != nil {
		return geom.Point{}, false, fmt.Errorf("read position: %w", err)
	}
	if !pos.IsFinite() {
		return geom.Point{}, false, nil
	}
	return pos, true, nil
}

func (b *Bot) fail(ctx context.Context, cause error, stack []byte) error {
	b.faultErr = cause
	b.metrics.Add(metricFaults, 1)
	extra := map[string]any{"phase": b.phase.String()}
	if len(stack) > 0 {
		extra["stack"] = stackExcerpt(stack)
	}
	navevents.Faulted(ctx, b.pub, b.tick, cause.Error(), extra)
	b.logger.Printf("[bot] faulted in %s: %v", b.phase, cause)

	b.acq.Reset()
	b.state.ClearPath()
	b.detector.Reset()
	b.transition(ctx, PhaseFaulted, cause.Error())
	return fmt.Errorf("%w: %w", ErrFaulted, cause)
}

func stackExcerpt(stack []byte) string {
	lines := strings.SplitN(string(stack), "\n", stackExcerptLines+1)
	if len(lines) > stackExcerptLines {
		lines = lines[:stackExcerptLines]
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) transition(ctx context.Context, to Phase, reason string) {
	if b.phase == to {
		return
	}
	from := b.phase
	b.phase = to
	b.phaseSince = b.now
	b.lastEvent = reason
	b.metrics.Store(metricPhase, uint64(to))
	navevents.PhaseChanged(ctx, b.pub, b.tick, navevents.PhaseChangedPayload{
		From:   from.String(),
		To:     to.String(),
		Reason: reason,
	})
}

func (b *Bot) publishStatus() {
	st := Status{
		Phase:       b.phase,
		Tick:        b.tick,
		Runs:        b.runs,
		OracleReady: b.oracle.Ready(),
		LastEvent:   b.lastEvent,
	}
	if b.phase.Active() && !b.startedAt.IsZero() {
		st.Runtime = b.now.Sub(b.startedAt)
	}
	if p := b.state.Path(); p != nil {
		st.PathPoints = p.Len()
		st.Cursor = b.state.Cursor()
		st.Progress = 1
		if p.Len() > 1 {
			st.Progress = float64(st.Cursor) / float64(p.Len()-1)
		}
	}
	if b.faultErr != nil {
		st.Fault = b.faultErr.Error()
	}
	b.metrics.Add(metricTicks, 1)

	b.statusMu.Lock()
	b.status = st
	b.statusMu.Unlock()
}

// viewportSurface treats a world point as visible when it projects inside
// the viewport.
type viewportSurface struct {
	proj actuate.Projector
}

func (s viewportSurface) Visible(p geom.Point) bool {
	surface, err := s.proj.ProjectToSurface(p)
	if err != nil || !surface.IsFinite() {
		return false
	}
	viewport := s.proj.ViewportBounds()
	return viewport.Empty() || viewport.Contains(surface)
}

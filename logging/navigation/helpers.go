// Package navigation defines the structured events emitted by the navigation
// control loop.
package navigation

import (
	"context"

	"pathpilot/logging"
)

const (
	// EventPhaseChanged is emitted on every run state transition.
	EventPhaseChanged logging.EventType = "navigation.phase_changed"
	// EventRoundStarted is emitted when a candidate fan-out is dispatched.
	EventRoundStarted logging.EventType = "navigation.round_started"
	// EventRoundTimedOut is emitted when a round is abandoned without a path.
	EventRoundTimedOut logging.EventType = "navigation.round_timed_out"
	// EventPathAccepted is emitted when a candidate replaces the current path.
	EventPathAccepted logging.EventType = "navigation.path_accepted"
	// EventPathRejected is emitted when a candidate loses to the current path.
	EventPathRejected logging.EventType = "navigation.path_rejected"
	// EventRecovery is emitted when stuck recovery changes the cursor or path.
	EventRecovery logging.EventType = "navigation.recovery"
	// EventActuation is emitted for each command sent to the actuation sink.
	EventActuation logging.EventType = "navigation.actuation"
	// EventTargetUnavailable is emitted when no pursuit target exists.
	EventTargetUnavailable logging.EventType = "navigation.target_unavailable"
	// EventArrived is emitted when the agent reaches the end of its path.
	EventArrived logging.EventType = "navigation.arrived"
	// EventRunCompleted is emitted when the agent leaves the target zone.
	EventRunCompleted logging.EventType = "navigation.run_completed"
	// EventLimitReached is emitted when a run or runtime limit stops the bot.
	EventLimitReached logging.EventType = "navigation.limit_reached"
	// EventFaulted is emitted when the tick hits an unrecoverable error.
	EventFaulted logging.EventType = "navigation.faulted"
	// EventOracleUnavailable is emitted on each reconnect attempt.
	EventOracleUnavailable logging.EventType = "navigation.oracle_unavailable"
	// EventEmergencyStop is emitted when the emergency stop is triggered.
	EventEmergencyStop logging.EventType = "navigation.emergency_stop"
)

// Agent is the entity reference used for the single navigating agent.
var Agent = logging.EntityRef{ID: "agent", Kind: logging.EntityKindAgent}

// PhaseChangedPayload captures a state machine transition.
type PhaseChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// RoundStartedPayload captures a dispatched acquisition round.
type RoundStartedPayload struct {
	RoundID    string `json:"roundId"`
	Candidates int    `json:"candidates"`
	Suppressed int    `json:"suppressed,omitempty"`
}

// RoundTimedOutPayload captures an abandoned round.
type RoundTimedOutPayload struct {
	RoundID     string  `json:"roundId"`
	Outstanding int64   `json:"outstanding"`
	AgeSeconds  float64 `json:"ageSeconds"`
}

// PathDecisionPayload captures an acceptance policy decision.
type PathDecisionPayload struct {
	RoundID       string  `json:"roundId,omitempty"`
	Rationale     string  `json:"rationale,omitempty"`
	Reason        string  `json:"reason"`
	Length        int     `json:"length"`
	CurrentLength int     `json:"currentLength,omitempty"`
	Score         float64 `json:"score"`
	CurrentScore  float64 `json:"currentScore,omitempty"`
}

// RecoveryPayload captures a stuck recovery action.
type RecoveryPayload struct {
	Trigger string `json:"trigger"`
	Action  string `json:"action"`
	Steps   int    `json:"steps,omitempty"`
	Cursor  int    `json:"cursor"`
}

// ActuationPayload captures an emitted actuation command.
type ActuationPayload struct {
	WorldX   float64 `json:"worldX"`
	WorldY   float64 `json:"worldY"`
	SurfaceX float64 `json:"surfaceX"`
	SurfaceY float64 `json:"surfaceY"`
	Source   string  `json:"source"`
	Cursor   int     `json:"cursor"`
}

// ArrivedPayload captures a path completion.
type ArrivedPayload struct {
	Cause    string  `json:"cause"`
	Distance float64 `json:"distance,omitempty"`
}

// RunCompletedPayload captures a finished run.
type RunCompletedPayload struct {
	Runs int    `json:"runs"`
	Zone string `json:"zone"`
}

// MessagePayload carries a free-form reason.
type MessagePayload struct {
	Message string `json:"message"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, severity logging.Severity, category string, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    Agent,
		Severity: severity,
		Category: category,
		Payload:  payload,
		Extra:    extra,
	})
}

// PhaseChanged publishes a run state transition.
func PhaseChanged(ctx context.Context, pub logging.Publisher, tick uint64, payload PhaseChangedPayload) {
	publish(ctx, pub, EventPhaseChanged, tick, logging.SeverityInfo, logging.CategoryNavigation, payload, nil)
}

// RoundStarted publishes a dispatched acquisition round.
func RoundStarted(ctx context.Context, pub logging.Publisher, tick uint64, payload RoundStartedPayload) {
	publish(ctx, pub, EventRoundStarted, tick, logging.SeverityDebug, logging.CategoryAcquisition, payload, nil)
}

// RoundTimedOut publishes an abandoned acquisition round.
func RoundTimedOut(ctx context.Context, pub logging.Publisher, tick uint64, payload RoundTimedOutPayload) {
	publish(ctx, pub, EventRoundTimedOut, tick, logging.SeverityWarn, logging.CategoryAcquisition, payload, nil)
}

// PathAccepted publishes an accepted candidate.
func PathAccepted(ctx context.Context, pub logging.Publisher, tick uint64, payload PathDecisionPayload) {
	publish(ctx, pub, EventPathAccepted, tick, logging.SeverityInfo, logging.CategoryAcquisition, payload, nil)
}

// PathRejected publishes a rejected candidate.
func PathRejected(ctx context.Context, pub logging.Publisher, tick uint64, payload PathDecisionPayload) {
	publish(ctx, pub, EventPathRejected, tick, logging.SeverityDebug, logging.CategoryAcquisition, payload, nil)
}

// Recovery publishes a stuck recovery action.
func Recovery(ctx context.Context, pub logging.Publisher, tick uint64, payload RecoveryPayload) {
	publish(ctx, pub, EventRecovery, tick, logging.SeverityWarn, logging.CategoryNavigation, payload, nil)
}

// Actuation publishes an emitted actuation command.
func Actuation(ctx context.Context, pub logging.Publisher, tick uint64, payload ActuationPayload) {
	publish(ctx, pub, EventActuation, tick, logging.SeverityDebug, logging.CategoryActuation, payload, nil)
}

// TargetUnavailable publishes a skipped tick.
func TargetUnavailable(ctx context.Context, pub logging.Publisher, tick uint64, reason string) {
	publish(ctx, pub, EventTargetUnavailable, tick, logging.SeverityDebug, logging.CategoryNavigation, MessagePayload{Message: reason}, nil)
}

// Arrived publishes a path completion.
func Arrived(ctx context.Context, pub logging.Publisher, tick uint64, payload ArrivedPayload) {
	publish(ctx, pub, EventArrived, tick, logging.SeverityInfo, logging.CategoryNavigation, payload, nil)
}

// RunCompleted publishes a finished run.
func RunCompleted(ctx context.Context, pub logging.Publisher, tick uint64, payload RunCompletedPayload) {
	publish(ctx, pub, EventRunCompleted, tick, logging.SeverityInfo, logging.CategoryNavigation, payload, nil)
}

// LimitReached publishes a forced stop.
func LimitReached(ctx context.Context, pub logging.Publisher, tick uint64, reason string) {
	publish(ctx, pub, EventLimitReached, tick, logging.SeverityInfo, logging.CategorySystem, MessagePayload{Message: reason}, nil)
}

// Faulted publishes an unrecoverable tick failure.
func Faulted(ctx context.Context, pub logging.Publisher, tick uint64, reason string, extra map[string]any) {
	publish(ctx, pub, EventFaulted, tick, logging.SeverityError, logging.CategorySystem, MessagePayload{Message: reason}, extra)
}

// OracleUnavailable publishes a reconnect attempt.
func OracleUnavailable(ctx context.Context, pub logging.Publisher, tick uint64, reason string) {
	publish(ctx, pub, EventOracleUnavailable, tick, logging.SeverityWarn, logging.CategorySystem, MessagePayload{Message: reason}, nil)
}

// EmergencyStop publishes an emergency stop.
func EmergencyStop(ctx context.Context, pub logging.Publisher, tick uint64) {
	publish(ctx, pub, EventEmergencyStop, tick, logging.SeverityWarn, logging.CategorySystem, MessagePayload{Message: "emergency stop activated"}, nil)
}

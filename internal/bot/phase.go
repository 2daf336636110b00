package bot

// Phase is the run state. Exactly one is active at a time.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingOracle
	PhaseAwaitingGoal
	PhaseAcquiringPath
	PhaseFollowing
	PhaseAtGoal
	// PhaseFaulted halts actuation until the next Start.
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingOracle:
		return "awaiting_oracle"
	case PhaseAwaitingGoal:
		return "awaiting_goal"
	case PhaseAcquiringPath:
		return "acquiring_path"
	case PhaseFollowing:
		return "following"
	case PhaseAtGoal:
		return "at_goal"
	case PhaseFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Active reports whether the phase drives the agent.
func (p Phase) Active() bool {
	return p != PhaseIdle && p != PhaseFaulted
}

// MarshalText renders the phase by name in JSON and logs.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

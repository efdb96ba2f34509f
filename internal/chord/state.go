package chord

// State is the engine's resolution state.
type State uint8

const (
	// StateReleased means no dual-role key is pending.
	StateReleased State = iota
	// StateUnsettled means a dual-role key is down and undecided.
	StateUnsettled
	// StateTapping means the pending key was settled as tapped.
	StateTapping
	// StateHolding means the pending key was settled as held.
	StateHolding
	// StateRecursing is set while a synthetic record is replayed through
	// the host pipeline. Events seen in this state are passed through.
	StateRecursing
)

func (s State) String() string {
	switch s {
	case StateReleased:
		return "released"
	case StateUnsettled:
		return "unsettled"
	case StateTapping:
		return "tapping"
	case StateHolding:
		return "holding"
	case StateRecursing:
		return "recursing"
	default:
		return "unknown"
	}
}

// Outcome is the result of a settlement.
type Outcome uint8

const (
	OutcomeTap Outcome = iota + 1
	OutcomeHold
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTap:
		return "tap"
	case OutcomeHold:
		return "hold"
	default:
		return "none"
	}
}

// Reason records what forced a settlement.
type Reason uint8

const (
	// ReasonRelease: the key was released before its timeout.
	ReasonRelease Reason = iota + 1
	// ReasonTimeout: the key was held alone past its timeout.
	ReasonTimeout
	// ReasonChord: another key was pressed and the chord policy accepted it.
	ReasonChord
	// ReasonNoChord: another key was pressed and the chord policy rejected it.
	ReasonNoChord
	// ReasonStreak: another key was pressed during a typing streak.
	ReasonStreak
	// ReasonNonKey: a non-key event (combo, encoder) was pressed.
	ReasonNonKey
)

func (r Reason) String() string {
	switch r {
	case ReasonRelease:
		return "release"
	case ReasonTimeout:
		return "timeout"
	case ReasonChord:
		return "chord"
	case ReasonNoChord:
		return "no_chord"
	case ReasonStreak:
		return "streak"
	case ReasonNonKey:
		return "non_key"
	default:
		return "unknown"
	}
}

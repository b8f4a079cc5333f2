package acquire

// State is the pipeline's position in its state machine.
//
//	Idle -> Fetching -> Pacing -> Fetching -> ... -> FetchingSupplemental -> Completed
//
// Failed is reachable from any fetching state, Aborted from any non-terminal one.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StatePacing
	StateFetchingSupplemental
	StateCompleted
	StateFailed
	StateAborted
)

// Status is the outward status reported to the presentation layer.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusFetching  Status = "fetching"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePacing:
		return "pacing"
	case StateFetchingSupplemental:
		return "fetching_supplemental"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// Public collapses the internal states into the outward status set.
// Pacing and the supplemental fetch both count as fetching.
func (s State) Public() Status {
	switch s {
	case StateFetching, StatePacing, StateFetchingSupplemental:
		return StatusFetching
	case StateCompleted:
		return StatusCompleted
	case StateFailed:
		return StatusFailed
	case StateAborted:
		return StatusAborted
	default:
		return StatusIdle
	}
}

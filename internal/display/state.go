package display

import "fmt"

// State is the ownership state of the display as held by this producer.
//
// NotVisible is the initial state. VisibleOnNextFrame defers the actual show
// until the first frame is returned. Dead is terminal: it means another
// owner has taken the display and this object has no authority left.
type State int

const (
	StateNotVisible State = iota
	StateVisibleOnNextFrame
	StateVisible
	StateDead

	numStates // sentinel for request validation
)

func (s State) String() string {
	switch s {
	case StateNotVisible:
		return "NOT_VISIBLE"
	case StateVisibleOnNextFrame:
		return "VISIBLE_ON_NEXT_FRAME"
	case StateVisible:
		return "VISIBLE"
	case StateDead:
		return "DEAD"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState maps a state name (as produced by String) back to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "NOT_VISIBLE":
		return StateNotVisible, nil
	case "VISIBLE_ON_NEXT_FRAME":
		return StateVisibleOnNextFrame, nil
	case "VISIBLE":
		return StateVisible, nil
	case "DEAD":
		return StateDead, nil
	default:
		return 0, fmt.Errorf("unknown display state %q", s)
	}
}

// Result is the outcome code of a display operation. Failures of the
// request itself are results, not errors: a producer's bad call must never
// destabilize the display service.
type Result int

const (
	ResultOK Result = iota
	ResultInvalidArg
	ResultOwnershipLost
	ResultBufferNotAvailable
	ResultUnderlyingServiceError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultInvalidArg:
		return "INVALID_ARG"
	case ResultOwnershipLost:
		return "OWNERSHIP_LOST"
	case ResultBufferNotAvailable:
		return "BUFFER_NOT_AVAILABLE"
	case ResultUnderlyingServiceError:
		return "UNDERLYING_SERVICE_ERROR"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

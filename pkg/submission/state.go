package submission

// State is a state of the submission controller.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateFailedValidation
	StateSubmitting
	StateSubmitted
	StateFailedSubmission
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateValidating:       "validating",
	StateFailedValidation: "failed_validation",
	StateSubmitting:       "submitting",
	StateSubmitted:        "submitted",
	StateFailedSubmission: "failed_submission",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether s ends an Execute call.
func (s State) Terminal() bool {
	switch s {
	case StateFailedValidation, StateSubmitted, StateFailedSubmission:
		return true
	default:
		return false
	}
}

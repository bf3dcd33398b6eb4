package conversation

// Outcome is the result of one accept/reject decision against the active
// candidate list.
type Outcome int

const (
	// OutcomeAdvance moves the cursor to the next candidate.
	OutcomeAdvance Outcome = iota
	// OutcomeAccept locks in the candidate under the cursor.
	OutcomeAccept
	// OutcomeExhausted means the final candidate was rejected.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdvance:
		return "advance"
	case OutcomeAccept:
		return "accept"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Negotiate walks the ranked candidate list in the order the search
// collaborator supplied it. It never re-sorts and never revisits: accepting
// returns the unchanged cursor, rejecting either advances it or reports
// exhaustion when the cursor already sits on the last candidate.
func Negotiate(total, cursor int, accepted bool) (int, Outcome) {
	if accepted {
		return cursor, OutcomeAccept
	}
	if cursor < total {
		return cursor + 1, OutcomeAdvance
	}
	return 0, OutcomeExhausted
}

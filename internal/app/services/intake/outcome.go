package intake

// OutcomeKind classifies what happened to a single batch entry. The set is
// closed: an entry either lands in the pool or falls into exactly one of the
// rejection buckets.
type OutcomeKind int

const (
	// OutcomeAccepted means the candidate was derived, scored above the
	// threshold and persisted.
	OutcomeAccepted OutcomeKind = iota
	// OutcomeParseError means the entry could not be derived, or the claimed
	// address did not match the derived one.
	OutcomeParseError
	// OutcomeDuplicate means the derived address is already in the pool.
	OutcomeDuplicate
	// OutcomeScoreTooLow means the derived address scored below the
	// acceptance threshold.
	OutcomeScoreTooLow
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeScoreTooLow:
		return "score_too_low"
	default:
		return "unknown"
	}
}

// Outcome is the per-entry result of batch processing.
type Outcome struct {
	Kind    OutcomeKind
	Address string  // derived address, empty on parse errors
	Score   float64 // set when the entry was derived
}

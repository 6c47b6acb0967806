package ingest

import "gitevents/internal/model"

type OutcomeKind int

const (
	OutcomeRecord OutcomeKind = iota + 1
	OutcomeIgnored
	OutcomeInvalid
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRecord:
		return "record"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Outcome is the normalizer's decision for one event. Record is set only for
// OutcomeRecord; Reason and Field explain the other kinds.
type Outcome struct {
	Kind   OutcomeKind
	Record model.Record
	Reason string
	// Field names the offending payload field for OutcomeInvalid.
	Field string
}

func RecordOutcome(r model.Record) Outcome {
	return Outcome{Kind: OutcomeRecord, Record: r}
}

func Ignored(reason string) Outcome {
	return Outcome{Kind: OutcomeIgnored, Reason: reason}
}

func Invalid(reason, field string) Outcome {
	return Outcome{Kind: OutcomeInvalid, Reason: reason, Field: field}
}

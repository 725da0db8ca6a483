package model

// OutcomeStatus is the terminal state of one record within a batch.
type OutcomeStatus string

const (
	StatusArchived OutcomeStatus = "archived"
	StatusSkipped  OutcomeStatus = "skipped"
	StatusFailed   OutcomeStatus = "failed"
)

// FailureReason classifies a failed record for redelivery decisions.
// Malformed and Permanent failures will never succeed on retry; Transient
// failures should be redelivered.
type FailureReason string

const (
	ReasonMalformed FailureReason = "malformed"
	ReasonTransient FailureReason = "transient"
	ReasonPermanent FailureReason = "permanent"
)

// Retryable reports whether a failure with this reason is worth redelivering.
func (r FailureReason) Retryable() bool { return r == ReasonTransient }

// BatchOutcome is the result for a single input record. A batch response
// contains exactly one outcome per input record, in input order.
type BatchOutcome struct {
	Index   int           `json:"index"`
	EventID string        `json:"event_id,omitempty"`
	Status  OutcomeStatus `json:"status"`
	Reason  FailureReason `json:"reason,omitempty"`
	Path    string        `json:"path,omitempty"`
	Detail  string        `json:"detail,omitempty"`
}

// Archived builds the outcome for a successfully written record.
func Archived(index int, eventID, path string) BatchOutcome {
	return BatchOutcome{Index: index, EventID: eventID, Status: StatusArchived, Path: path}
}

// Skipped builds the outcome for a record that needed no archiving.
func Skipped(index int, eventID, detail string) BatchOutcome {
	return BatchOutcome{Index: index, EventID: eventID, Status: StatusSkipped, Detail: detail}
}

// Failed builds the outcome for a record that could not be archived.
func Failed(index int, eventID string, reason FailureReason, err error) BatchOutcome {
	out := BatchOutcome{Index: index, EventID: eventID, Status: StatusFailed, Reason: reason}
	if err != nil {
		out.Detail = err.Error()
	}
	return out
}

// ArchiveRef identifies a written archive document.
type ArchiveRef struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

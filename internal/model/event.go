package model

import (
	"encoding/json"

	"github.com/barrowworks/barrow/pkg/changefeed"
)

// EventKind classifies what a change-feed entry did to its record.
type EventKind string

const (
	KindInsert  EventKind = "insert"
	KindModify  EventKind = "modify"
	KindRemove  EventKind = "remove"
	KindUnknown EventKind = "unknown"
)

// Origin records who drove a change. Expiry-driven deletions are archived
// exactly like explicit ones; the origin is informational only.
type Origin string

const (
	OriginUserAction   Origin = "user_action"
	OriginSystemExpiry Origin = "system_expiry"
	OriginUnspecified  Origin = "unspecified"
)

// KeyAttribute is one component of a record's primary key, in derivation
// order.
type KeyAttribute struct {
	Name  string                    `json:"name"`
	Value changefeed.AttributeValue `json:"value"`
}

// ChangeEvent is the decoded, source-agnostic form of one feed record.
// Key is never empty for a decoded event; PriorState is required for
// KindRemove and carries the record's full final state.
type ChangeEvent struct {
	ID         string
	Kind       EventKind
	Origin     Origin
	Source     string
	Key        map[string]changefeed.AttributeValue
	PriorState map[string]changefeed.AttributeValue
	NewState   map[string]changefeed.AttributeValue
	Sequence   string
	ApproxTime float64
	SizeBytes  int64

	// SourceMeta preserves feed fields the decoder does not model, verbatim,
	// for audit fidelity.
	SourceMeta map[string]json.RawMessage
}

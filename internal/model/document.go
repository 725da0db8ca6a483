package model

import (
	"encoding/json"
	"fmt"

	"github.com/barrowworks/barrow/pkg/changefeed"
)

// DocumentSchema tags every archive document with its layout version.
const DocumentSchema = "barrow.archive.v1"

// ArchiveDocument is the self-describing JSON document written to object
// storage for each archived deletion. It contains everything needed to
// reconstruct the deleted record without consulting any other system, and
// deliberately carries no wall-clock or random field: serializing the same
// logical event always produces identical bytes, which is what makes
// unconditional rewrites safe.
type ArchiveDocument struct {
	Schema     string                               `json:"archive_schema"`
	EventID    string                               `json:"event_id"`
	EventKind  EventKind                            `json:"event_kind"`
	Origin     Origin                               `json:"origin"`
	Source     string                               `json:"source"`
	Sequence   string                               `json:"sequence,omitempty"`
	ApproxTime float64                              `json:"approximate_creation_time,omitempty"`
	Key        []KeyAttribute                       `json:"key"`
	PriorState map[string]changefeed.AttributeValue `json:"prior_state"`
	SourceMeta map[string]json.RawMessage           `json:"source_metadata,omitempty"`
	Signature  string                               `json:"signature,omitempty"`
}

// NewDocument builds the archive document for ev with its key attributes in
// derivation order.
func NewDocument(ev ChangeEvent, orderedKey []KeyAttribute) *ArchiveDocument {
	return &ArchiveDocument{
		Schema:     DocumentSchema,
		EventID:    ev.ID,
		EventKind:  ev.Kind,
		Origin:     ev.Origin,
		Source:     ev.Source,
		Sequence:   ev.Sequence,
		ApproxTime: ev.ApproxTime,
		Key:        orderedKey,
		PriorState: ev.PriorState,
		SourceMeta: ev.SourceMeta,
	}
}

// Marshal serializes the document canonically: struct fields in declaration
// order, map keys sorted, attribute values with a single type tag each.
func (d *ArchiveDocument) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal archive document: %w", err)
	}
	return data, nil
}

// ParseDocument deserializes an archive document and checks its schema tag.
func ParseDocument(data []byte) (*ArchiveDocument, error) {
	var d ArchiveDocument
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse archive document: %w", err)
	}
	if d.Schema != DocumentSchema {
		return nil, fmt.Errorf("unsupported archive schema %q", d.Schema)
	}
	return &d, nil
}

// Event reconstructs the change event the document was built from.
func (d *ArchiveDocument) Event() ChangeEvent {
	key := make(map[string]changefeed.AttributeValue, len(d.Key))
	for _, ka := range d.Key {
		key[ka.Name] = ka.Value
	}
	return ChangeEvent{
		ID:         d.EventID,
		Kind:       d.EventKind,
		Origin:     d.Origin,
		Source:     d.Source,
		Key:        key,
		PriorState: d.PriorState,
		Sequence:   d.Sequence,
		ApproxTime: d.ApproxTime,
		SourceMeta: d.SourceMeta,
	}
}

package decoder

import (
	"encoding/json"

	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

// FormatCanonical names the neutral record format: the change event's own
// JSON shape, for feeds that pre-translate upstream.
const FormatCanonical = "canonical"

// canonicalRecord is the neutral wire shape.
type canonicalRecord struct {
	ID         string                               `json:"id"`
	Kind       string                               `json:"kind"`
	Origin     string                               `json:"origin,omitempty"`
	Source     string                               `json:"source,omitempty"`
	Key        map[string]changefeed.AttributeValue `json:"key"`
	PriorState map[string]changefeed.AttributeValue `json:"prior_state,omitempty"`
	NewState   map[string]changefeed.AttributeValue `json:"new_state,omitempty"`
	Sequence   string                               `json:"sequence,omitempty"`
	ApproxTime float64                              `json:"approximate_time,omitempty"`
	Metadata   map[string]json.RawMessage           `json:"metadata,omitempty"`
}

// CanonicalDecoder decodes records already shaped as neutral change events.
type CanonicalDecoder struct{}

// Supports reports whether this decoder handles format.
func (CanonicalDecoder) Supports(format string) bool { return format == FormatCanonical }

// Format returns the wire format name.
func (CanonicalDecoder) Format() string { return FormatCanonical }

// Decode validates and converts one neutral record.
func (d CanonicalDecoder) Decode(raw []byte, hint Hint) (model.ChangeEvent, error) {
	var rec canonicalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.ChangeEvent{}, &Error{Format: FormatCanonical, Msg: "invalid JSON", Err: err}
	}
	if rec.ID == "" {
		return model.ChangeEvent{}, &Error{Format: FormatCanonical, Msg: "missing id"}
	}
	if len(rec.Key) == 0 {
		return model.ChangeEvent{}, &Error{Format: FormatCanonical, Msg: "empty key set"}
	}
	if err := changefeed.ValidateImage(rec.Key); err != nil {
		return model.ChangeEvent{}, &Error{Format: FormatCanonical, Msg: "invalid key", Err: err}
	}
	if err := changefeed.ValidateImage(rec.PriorState); err != nil {
		return model.ChangeEvent{}, &Error{Format: FormatCanonical, Msg: "invalid prior state", Err: err}
	}

	source := rec.Source
	if source == "" {
		source = hint.Source
	}
	if source == "" {
		return model.ChangeEvent{}, &Error{Format: FormatCanonical, Msg: "cannot determine source"}
	}

	ev := model.ChangeEvent{
		ID:         rec.ID,
		Kind:       canonicalKind(rec.Kind),
		Origin:     canonicalOrigin(rec.Origin),
		Source:     source,
		Key:        rec.Key,
		PriorState: rec.PriorState,
		NewState:   rec.NewState,
		Sequence:   rec.Sequence,
		ApproxTime: rec.ApproxTime,
		SourceMeta: rec.Metadata,
	}
	return ev, nil
}

func canonicalKind(s string) model.EventKind {
	switch model.EventKind(s) {
	case model.KindRemove, model.KindInsert, model.KindModify:
		return model.EventKind(s)
	default:
		return model.KindUnknown
	}
}

func canonicalOrigin(s string) model.Origin {
	switch model.Origin(s) {
	case model.OriginUserAction, model.OriginSystemExpiry:
		return model.Origin(s)
	default:
		return model.OriginUnspecified
	}
}

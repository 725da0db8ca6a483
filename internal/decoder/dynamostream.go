package decoder

import (
	"encoding/json"

	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

// FormatDynamoStreams names the dynamodb-streams wire format.
const FormatDynamoStreams = "dynamodb-streams"

// StreamDecoder decodes records in the dynamodb-streams wire format: typed
// attribute values, REMOVE/INSERT/MODIFY event names, and an optional
// userIdentity marking store-driven expiries.
type StreamDecoder struct{}

// Supports reports whether this decoder handles format.
func (StreamDecoder) Supports(format string) bool { return format == FormatDynamoStreams }

// Format returns the wire format name.
func (StreamDecoder) Format() string { return FormatDynamoStreams }

// Decode validates and converts one raw record. Top-level fields beyond the
// event id, event name and change body are preserved verbatim in SourceMeta.
func (d StreamDecoder) Decode(raw []byte, hint Hint) (model.ChangeEvent, error) {
	var rec changefeed.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.ChangeEvent{}, &Error{Format: FormatDynamoStreams, Msg: "invalid JSON", Err: err}
	}
	if rec.EventID == "" {
		return model.ChangeEvent{}, &Error{Format: FormatDynamoStreams, Msg: "missing eventID"}
	}
	if rec.Change == nil {
		return model.ChangeEvent{}, &Error{Format: FormatDynamoStreams, Msg: "missing change body"}
	}
	if len(rec.Change.Keys) == 0 {
		return model.ChangeEvent{}, &Error{Format: FormatDynamoStreams, Msg: "empty key set"}
	}
	if err := changefeed.ValidateImage(rec.Change.Keys); err != nil {
		return model.ChangeEvent{}, &Error{Format: FormatDynamoStreams, Msg: "invalid key", Err: err}
	}
	if err := changefeed.ValidateImage(rec.Change.OldImage); err != nil {
		return model.ChangeEvent{}, &Error{Format: FormatDynamoStreams, Msg: "invalid prior state", Err: err}
	}

	source := hint.Source
	if source == "" {
		source = changefeed.SourceFromARN(rec.EventSourceARN)
	}
	if source == "" {
		return model.ChangeEvent{}, &Error{Format: FormatDynamoStreams, Msg: "cannot determine source"}
	}

	ev := model.ChangeEvent{
		ID:         rec.EventID,
		Kind:       kindFromEventName(rec.EventName),
		Origin:     originFromIdentity(rec.UserIdentity),
		Source:     source,
		Key:        rec.Change.Keys,
		PriorState: rec.Change.OldImage,
		NewState:   rec.Change.NewImage,
		Sequence:   rec.Change.SequenceNumber,
		ApproxTime: rec.Change.ApproximateCreationDateTime,
		SizeBytes:  rec.Change.SizeBytes,
		SourceMeta: metaFields(raw),
	}
	return ev, nil
}

func kindFromEventName(name string) model.EventKind {
	switch name {
	case changefeed.EventNameRemove:
		return model.KindRemove
	case changefeed.EventNameInsert:
		return model.KindInsert
	case changefeed.EventNameModify:
		return model.KindModify
	default:
		return model.KindUnknown
	}
}

func originFromIdentity(id *changefeed.UserIdentity) model.Origin {
	switch {
	case id == nil:
		return model.OriginUnspecified
	case id.IsServiceExpiry():
		return model.OriginSystemExpiry
	default:
		return model.OriginUserAction
	}
}

// metaFields extracts every top-level field except the ones the change
// event models directly.
func metaFields(raw []byte) map[string]json.RawMessage {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil
	}
	delete(all, "eventID")
	delete(all, "eventName")
	delete(all, "dynamodb")
	if len(all) == 0 {
		return nil
	}
	return all
}

package decoder

import (
	"errors"
	"fmt"

	"github.com/barrowworks/barrow/internal/model"
)

// Decoder turns one raw feed record into a neutral change event.
type Decoder interface {
	Decode(raw []byte, hint Hint) (model.ChangeEvent, error)
	Supports(format string) bool
	Format() string
}

// Hint carries batch-level context for records that do not name their own
// source.
type Hint struct {
	Source string
}

// Error marks a record the decoder could not turn into a change event.
// Such records are reported Failed with reason malformed and are never
// redelivered.
type Error struct {
	Format string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s record: %s: %v", e.Format, e.Msg, e.Err)
	}
	return fmt.Sprintf("decode %s record: %s", e.Format, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsMalformed reports whether err originates from record decoding.
func IsMalformed(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// Registry holds ordered decoders and finds a match for a format name.
type Registry struct {
	items []Decoder
}

// NewRegistry constructs a registry with the provided decoders.
func NewRegistry(items ...Decoder) *Registry {
	return &Registry{items: items}
}

// Find returns the first decoder that supports format, or nil.
func (r *Registry) Find(format string) Decoder {
	if r == nil {
		return nil
	}
	for _, d := range r.items {
		if d.Supports(format) {
			return d
		}
	}
	return nil
}

// Formats lists the registered format names.
func (r *Registry) Formats() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d.Format())
	}
	return out
}

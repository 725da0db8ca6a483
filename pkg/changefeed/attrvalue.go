package changefeed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// AttributeValue is the typed wire encoding used by keyed-store change feeds:
// a JSON object with exactly one type tag, e.g. {"S":"hello"}, {"N":"42"},
// {"M":{"nested":{"BOOL":true}}}. The tags match the DynamoDB Streams
// attribute encoding so feed payloads can be consumed without translation.
type AttributeValue struct {
	S    *string                   `json:"S,omitempty"`
	N    *string                   `json:"N,omitempty"`
	B    []byte                    `json:"B,omitempty"`
	BOOL *bool                     `json:"BOOL,omitempty"`
	NULL *bool                     `json:"NULL,omitempty"`
	M    map[string]AttributeValue `json:"M,omitempty"`
	L    []AttributeValue          `json:"L,omitempty"`
	SS   []string                  `json:"SS,omitempty"`
	NS   []string                  `json:"NS,omitempty"`
	BS   [][]byte                  `json:"BS,omitempty"`
}

// Type tags in the order MarshalJSON checks them.
const (
	TypeString    = "S"
	TypeNumber    = "N"
	TypeBinary    = "B"
	TypeBool      = "BOOL"
	TypeNull      = "NULL"
	TypeMap       = "M"
	TypeList      = "L"
	TypeStringSet = "SS"
	TypeNumberSet = "NS"
	TypeBinarySet = "BS"
)

// String constructs a string-typed value.
func String(s string) AttributeValue { return AttributeValue{S: &s} }

// Number constructs a number-typed value from its decimal string form.
// The string form is kept verbatim so precision is never lost.
func Number(n string) AttributeValue { return AttributeValue{N: &n} }

// Bool constructs a boolean-typed value.
func Bool(b bool) AttributeValue { return AttributeValue{BOOL: &b} }

// Null constructs the null value.
func Null() AttributeValue {
	t := true
	return AttributeValue{NULL: &t}
}

// Binary constructs a binary-typed value.
func Binary(b []byte) AttributeValue { return AttributeValue{B: b} }

// Type returns the value's type tag, or "" when no type is set.
func (v AttributeValue) Type() string {
	switch {
	case v.S != nil:
		return TypeString
	case v.N != nil:
		return TypeNumber
	case v.B != nil:
		return TypeBinary
	case v.BOOL != nil:
		return TypeBool
	case v.NULL != nil:
		return TypeNull
	case v.M != nil:
		return TypeMap
	case v.L != nil:
		return TypeList
	case v.SS != nil:
		return TypeStringSet
	case v.NS != nil:
		return TypeNumberSet
	case v.BS != nil:
		return TypeBinarySet
	default:
		return ""
	}
}

// IsZero reports whether no type tag is set.
func (v AttributeValue) IsZero() bool { return v.Type() == "" }

// MarshalJSON emits exactly one type tag. Empty collections are preserved
// ({"L":[]} round-trips), and nested maps serialize with sorted keys so the
// encoding of a value is canonical.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.S != nil:
		return tagged(TypeString, *v.S)
	case v.N != nil:
		return tagged(TypeNumber, *v.N)
	case v.B != nil:
		return tagged(TypeBinary, v.B)
	case v.BOOL != nil:
		return tagged(TypeBool, *v.BOOL)
	case v.NULL != nil:
		return tagged(TypeNull, *v.NULL)
	case v.M != nil:
		return tagged(TypeMap, v.M)
	case v.L != nil:
		return tagged(TypeList, v.L)
	case v.SS != nil:
		return tagged(TypeStringSet, v.SS)
	case v.NS != nil:
		return tagged(TypeNumberSet, v.NS)
	case v.BS != nil:
		return tagged(TypeBinarySet, v.BS)
	default:
		return nil, fmt.Errorf("attribute value has no type tag")
	}
}

func tagged(tag string, val any) ([]byte, error) {
	inner, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(tag)+len(inner)+4)
	buf = append(buf, '{', '"')
	buf = append(buf, tag...)
	buf = append(buf, '"', ':')
	buf = append(buf, inner...)
	buf = append(buf, '}')
	return buf, nil
}

// Render returns the value in the string form used for archive paths and
// human-facing summaries: strings and numbers verbatim, booleans as
// true/false, null as "null", binary as base64, and compound values as
// compact JSON. Rendering is total for any typed value.
func (v AttributeValue) Render() string {
	switch {
	case v.S != nil:
		return *v.S
	case v.N != nil:
		return *v.N
	case v.B != nil:
		return base64.StdEncoding.EncodeToString(v.B)
	case v.BOOL != nil:
		return strconv.FormatBool(*v.BOOL)
	case v.NULL != nil:
		return "null"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Native converts the value to a plain Go representation. Numbers stay
// json.Number so arbitrary precision survives.
func (v AttributeValue) Native() any {
	switch {
	case v.S != nil:
		return *v.S
	case v.N != nil:
		return json.Number(*v.N)
	case v.B != nil:
		return v.B
	case v.BOOL != nil:
		return *v.BOOL
	case v.NULL != nil:
		return nil
	case v.M != nil:
		out := make(map[string]any, len(v.M))
		for k, mv := range v.M {
			out[k] = mv.Native()
		}
		return out
	case v.L != nil:
		out := make([]any, len(v.L))
		for i, lv := range v.L {
			out[i] = lv.Native()
		}
		return out
	case v.SS != nil:
		return append([]string(nil), v.SS...)
	case v.NS != nil:
		out := make([]json.Number, len(v.NS))
		for i, n := range v.NS {
			out[i] = json.Number(n)
		}
		return out
	case v.BS != nil:
		return v.BS
	default:
		return nil
	}
}

// Validate rejects untyped values, including untyped members nested inside
// maps and lists.
func (v AttributeValue) Validate() error {
	if v.IsZero() {
		return fmt.Errorf("attribute value has no type tag")
	}
	for k, mv := range v.M {
		if err := mv.Validate(); err != nil {
			return fmt.Errorf("map member %q: %w", k, err)
		}
	}
	for i, lv := range v.L {
		if err := lv.Validate(); err != nil {
			return fmt.Errorf("list member %d: %w", i, err)
		}
	}
	return nil
}

// ValidateImage rejects images containing untyped attribute values.
func ValidateImage(image map[string]AttributeValue) error {
	names := make([]string, 0, len(image))
	for name := range image {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := image[name].Validate(); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
	}
	return nil
}

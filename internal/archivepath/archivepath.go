// Package archivepath derives deterministic object-store paths for archived
// deletions. A path encodes the record's full logical identity: the source
// followed by one segment per key attribute in declared order, e.g.
//
//	users-prod/PK=USER%23123/SK=PROFILE.json
//
// Escaping is reversible, so distinct identities can never collide and any
// path maps back to exactly one identity. Leading key attributes form
// shared prefixes, which makes store-side listing by partial key cheap.
package archivepath

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

// Extension terminates every archive path.
const Extension = ".json"

// Derive builds the object path for an archived deletion from its source
// and its key attributes in derivation order. Identical input always yields
// an identical path.
func Derive(source string, key []model.KeyAttribute) (string, error) {
	if source == "" {
		return "", errors.New("derive path: empty source")
	}
	if len(key) == 0 {
		return "", errors.New("derive path: empty key")
	}

	var b strings.Builder
	b.WriteString(Escape(source))
	for _, ka := range key {
		b.WriteByte('/')
		b.WriteString(Escape(ka.Name))
		b.WriteByte('=')
		b.WriteString(Escape(ka.Value.Render()))
	}
	b.WriteString(Extension)
	return b.String(), nil
}

// Order arranges key attributes deterministically: names listed in the
// source's declared schema come first, in schema order; anything the schema
// does not mention follows sorted by name. The input map's iteration order
// never influences the result.
func Order(key map[string]changefeed.AttributeValue, schema []string) []model.KeyAttribute {
	out := make([]model.KeyAttribute, 0, len(key))
	seen := make(map[string]bool, len(key))

	for _, name := range schema {
		if v, ok := key[name]; ok && !seen[name] {
			out = append(out, model.KeyAttribute{Name: name, Value: v})
			seen[name] = true
		}
	}

	rest := make([]string, 0, len(key))
	for name := range key {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, model.KeyAttribute{Name: name, Value: key[name]})
	}
	return out
}

const upperhex = "0123456789ABCDEF"

func unreserved(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '.' || c == '_' || c == '-'
}

// Escape percent-encodes every byte outside [A-Za-z0-9._-]. The separator
// bytes '/' and '=' are always encoded, which is what keeps the path
// grammar unambiguous.
func Escape(s string) string {
	hex := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			hex++
		}
	}
	if hex == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*hex)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xF])
	}
	return b.String()
}

// Unescape inverts Escape.
func Unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+3 > len(s) {
			return "", fmt.Errorf("unescape %q: truncated escape at offset %d", s, i)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("unescape %q: invalid escape at offset %d", s, i)
		}
		b.WriteByte(hi<<4 | lo)
		i += 3
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// Identity is the parsed form of an archive path. Values are the rendered
// string forms; the typed values live inside the document itself.
type Identity struct {
	Source string
	Key    []IdentityAttr
}

// IdentityAttr is one name=value component of a parsed path.
type IdentityAttr struct {
	Name  string
	Value string
}

// Parse inverts Derive back to the record identity the path encodes.
func Parse(path string) (Identity, error) {
	var id Identity

	trimmed, ok := strings.CutSuffix(path, Extension)
	if !ok {
		return id, fmt.Errorf("parse path %q: missing %s extension", path, Extension)
	}

	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 {
		return id, fmt.Errorf("parse path %q: want source plus at least one key segment", path)
	}

	source, err := Unescape(segments[0])
	if err != nil {
		return id, fmt.Errorf("parse path %q: source: %w", path, err)
	}
	id.Source = source

	for _, seg := range segments[1:] {
		name, value, found := strings.Cut(seg, "=")
		if !found {
			return Identity{}, fmt.Errorf("parse path %q: segment %q has no separator", path, seg)
		}
		n, err := Unescape(name)
		if err != nil {
			return Identity{}, fmt.Errorf("parse path %q: segment %q: %w", path, seg, err)
		}
		v, err := Unescape(value)
		if err != nil {
			return Identity{}, fmt.Errorf("parse path %q: segment %q: %w", path, seg, err)
		}
		id.Key = append(id.Key, IdentityAttr{Name: n, Value: v})
	}
	return id, nil
}

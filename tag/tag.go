// Package tag implements a single nostr-style tag: an ordered list of
// string fields, the first of which is conventionally the tag's key (e.g.
// "e", "p", "h", "blossom").
package tag

import (
	"bytes"

	"fitrelay.dev/errorf"
	"fitrelay.dev/text"
)

// T is one tag: field 0 is the key, fields 1..n are its values.
type T struct {
	Field [][]byte
}

// New builds a tag from the given fields.
func New(field ...[]byte) *T { return &T{Field: field} }

// NewFromStrings builds a tag from string fields.
func NewFromStrings(field ...string) *T {
	f := make([][]byte, len(field))
	for i, s := range field {
		f[i] = []byte(s)
	}
	return &T{Field: f}
}

// Len returns the number of fields.
func (t *T) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Field)
}

// Key returns field 0, or nil if the tag is empty.
func (t *T) Key() []byte {
	if t.Len() == 0 {
		return nil
	}
	return t.Field[0]
}

// Value returns field 1, or nil if the tag has fewer than two fields.
func (t *T) Value() []byte {
	if t.Len() < 2 {
		return nil
	}
	return t.Field[1]
}

// Get returns field i, or nil if out of range.
func (t *T) Get(i int) []byte {
	if i < 0 || i >= t.Len() {
		return nil
	}
	return t.Field[i]
}

// Equal reports whether t and u have identical fields in the same order.
func (t *T) Equal(u *T) bool {
	if t.Len() != u.Len() {
		return false
	}
	for i := range t.Field {
		if !bytes.Equal(t.Field[i], u.Field[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t *T) Clone() *T {
	if t == nil {
		return nil
	}
	f := make([][]byte, len(t.Field))
	for i, v := range t.Field {
		c := make([]byte, len(v))
		copy(c, v)
		f[i] = c
	}
	return &T{Field: f}
}

// Marshal appends the tag as a JSON array of strings to dst.
func (t *T) Marshal(dst []byte) []byte {
	dst = append(dst, '[')
	for i, f := range t.Field {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = text.AppendQuote(dst, f, text.NostrEscape)
	}
	dst = append(dst, ']')
	return dst
}

// Unmarshal reads a JSON array of strings starting at r[0] == '[' and
// returns the tag plus what follows the closing bracket.
func Unmarshal(r []byte) (t *T, rest []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		err = errorf.E("tag: expected '[', got %q", r)
		return
	}
	r = r[1:]
	t = &T{}
	for {
		r = skipWS(r)
		if len(r) == 0 {
			err = errorf.E("tag: truncated array")
			return
		}
		if r[0] == ']' {
			rest = r[1:]
			return
		}
		var field []byte
		if field, r, err = text.UnmarshalQuoted(r); err != nil {
			return
		}
		t.Field = append(t.Field, field)
		r = skipWS(r)
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
		}
	}
}

func skipWS(r []byte) []byte {
	for len(r) > 0 {
		switch r[0] {
		case ' ', '\t', '\n', '\r':
			r = r[1:]
			continue
		}
		break
	}
	return r
}

// Package tags implements the ordered list of tag.T that every event and
// filter carries, plus the scanning helpers C2 (privacy classification) and
// C5 (query engine) both need: find-by-key and value containment.
package tags

import (
	"bytes"

	"fitrelay.dev/errorf"
	"fitrelay.dev/tag"
)

// T is an ordered list of tags.
type T struct {
	Tag []*tag.T
}

// New builds a tag list.
func New(t ...*tag.T) *T { return &T{Tag: t} }

// Len returns the number of tags.
func (t *T) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Tag)
}

// GetFirst returns the first tag whose key field matches key, or nil.
func (t *T) GetFirst(key []byte) *tag.T {
	if t == nil {
		return nil
	}
	for _, tg := range t.Tag {
		if bytes.Equal(tg.Key(), key) {
			return tg
		}
	}
	return nil
}

// GetAll returns every tag whose key field matches key.
func (t *T) GetAll(key []byte) []*tag.T {
	if t == nil {
		return nil
	}
	var out []*tag.T
	for _, tg := range t.Tag {
		if bytes.Equal(tg.Key(), key) {
			out = append(out, tg)
		}
	}
	return out
}

// ContainsAny reports whether any tag with the given key has a value
// (field 1) present in values.
func (t *T) ContainsAny(key []byte, values [][]byte) bool {
	for _, tg := range t.GetAll(key) {
		v := tg.Value()
		for _, want := range values {
			if bytes.Equal(v, want) {
				return true
			}
		}
	}
	return false
}

// Append adds tags to the end of the list.
func (t *T) Append(more ...*tag.T) *T {
	t.Tag = append(t.Tag, more...)
	return t
}

// Clone returns a deep copy.
func (t *T) Clone() *T {
	if t == nil {
		return nil
	}
	out := &T{Tag: make([]*tag.T, len(t.Tag))}
	for i, tg := range t.Tag {
		out.Tag[i] = tg.Clone()
	}
	return out
}

// Equal reports whether t and u contain the same tags in the same order.
func (t *T) Equal(u *T) bool {
	if t.Len() != u.Len() {
		return false
	}
	for i := range t.Tag {
		if !t.Tag[i].Equal(u.Tag[i]) {
			return false
		}
	}
	return true
}

// Marshal appends the tag list as a JSON array of arrays to dst.
func (t *T) Marshal(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t.Tag {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = tg.Marshal(dst)
	}
	dst = append(dst, ']')
	return dst
}

// Unmarshal reads a JSON array of tag arrays starting at r[0] == '[' and
// returns the tag list plus what follows the closing bracket.
func Unmarshal(r []byte) (t *T, rest []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		err = errorf.E("tags: expected '[', got %q", r)
		return
	}
	r = r[1:]
	t = &T{}
	for {
		r = skipWS(r)
		if len(r) == 0 {
			err = errorf.E("tags: truncated array")
			return
		}
		if r[0] == ']' {
			rest = r[1:]
			return
		}
		var one *tag.T
		if one, r, err = tag.Unmarshal(r); err != nil {
			return
		}
		t.Tag = append(t.Tag, one)
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

// Package filter implements the query/subscription filter: a conjunction of
// optional constraints over id, author, kind, time range, and tag values.
// Grounded on the teacher's encoders/filter/filter.go, narrowed to this
// relay's single-letter tag convention and the explicit "absent vs
// present-but-empty" distinction spec.md calls out.
package filter

import (
	"bytes"
	"sort"

	"fitrelay.dev/event"
	"fitrelay.dev/kind"
	"fitrelay.dev/timestamp"
)

// F is a single filter. A nil field means "not constrained by this
// dimension"; a non-nil-but-empty field is a narrowing constraint that
// matches nothing, per spec.
type F struct {
	Ids     *[][]byte
	Kinds   *[]kind.T
	Authors *[][]byte
	Tags    map[byte][][]byte // single-letter tag name -> accepted values
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   *int
}

// New returns an empty, fully unconstrained filter (which, per spec, itself
// matches nothing until at least one field is populated).
func New() *F { return &F{} }

// Matches reports whether ev satisfies every populated field of f. An
// entirely unconstrained filter matches nothing (a deliberate guard against
// accidental full-table queries).
func (f *F) Matches(ev *event.E) bool {
	if ev == nil {
		return false
	}
	anySet := false
	if f.Ids != nil {
		anySet = true
		if !containsBytes(*f.Ids, ev.Id) {
			return false
		}
	}
	if f.Kinds != nil {
		anySet = true
		if !containsKind(*f.Kinds, ev.Kind) {
			return false
		}
	}
	if f.Authors != nil {
		anySet = true
		if !containsBytes(*f.Authors, ev.Pubkey) {
			return false
		}
	}
	if len(f.Tags) > 0 {
		anySet = true
		for letter, values := range f.Tags {
			if !eventHasTagValue(ev, letter, values) {
				return false
			}
		}
	}
	if f.Since != nil {
		anySet = true
		if ev.CreatedAt < *f.Since {
			return false
		}
	}
	if f.Until != nil {
		anySet = true
		if ev.CreatedAt > *f.Until {
			return false
		}
	}
	if !anySet {
		return false
	}
	return true
}

func containsBytes(set [][]byte, v []byte) bool {
	for _, s := range set {
		if bytes.Equal(s, v) {
			return true
		}
	}
	return false
}

func containsKind(set []kind.T, v kind.T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func eventHasTagValue(ev *event.E, letter byte, values [][]byte) bool {
	key := []byte{letter}
	for _, tg := range ev.Tags.GetAll(key) {
		v := tg.Value()
		for _, want := range values {
			if bytes.Equal(v, want) {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of f.
func (f *F) Clone() *F {
	c := &F{}
	if f.Ids != nil {
		v := cloneBytesSlice(*f.Ids)
		c.Ids = &v
	}
	if f.Kinds != nil {
		v := append([]kind.T(nil), *f.Kinds...)
		c.Kinds = &v
	}
	if f.Authors != nil {
		v := cloneBytesSlice(*f.Authors)
		c.Authors = &v
	}
	if f.Tags != nil {
		c.Tags = make(map[byte][][]byte, len(f.Tags))
		for k, v := range f.Tags {
			c.Tags[k] = cloneBytesSlice(v)
		}
	}
	if f.Since != nil {
		v := *f.Since
		c.Since = &v
	}
	if f.Until != nil {
		v := *f.Until
		c.Until = &v
	}
	if f.Limit != nil {
		v := *f.Limit
		c.Limit = &v
	}
	return c
}

func cloneBytesSlice(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	for i, v := range in {
		out[i] = append([]byte(nil), v...)
	}
	return out
}

// Equal reports whether f and g constrain the same set of events. Both are
// sorted first so field order never affects comparison.
func (f *F) Equal(g *F) bool {
	f.Sort()
	g.Sort()
	if !equalBytesPtr(f.Ids, g.Ids) || !equalKindsPtr(f.Kinds, g.Kinds) ||
		!equalBytesPtr(f.Authors, g.Authors) || !equalTags(f.Tags, g.Tags) ||
		!equalTimestampPtr(f.Since, g.Since) || !equalTimestampPtr(f.Until, g.Until) {
		return false
	}
	return true
}

func equalBytesPtr(a, b *[][]byte) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(*a) != len(*b) {
		return false
	}
	for i := range *a {
		if !bytes.Equal((*a)[i], (*b)[i]) {
			return false
		}
	}
	return true
}

func equalKindsPtr(a, b *[]kind.T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(*a) != len(*b) {
		return false
	}
	for i := range *a {
		if (*a)[i] != (*b)[i] {
			return false
		}
	}
	return true
}

func equalTimestampPtr(a, b *timestamp.T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalTags(a, b map[byte][][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !bytes.Equal(va[i], vb[i]) {
				return false
			}
		}
	}
	return true
}

// Sort normalizes the order of every multi-value field in place so two
// filters carrying the same set produce the same Marshal output.
func (f *F) Sort() {
	if f.Ids != nil {
		sort.Slice(*f.Ids, func(i, j int) bool { return bytes.Compare((*f.Ids)[i], (*f.Ids)[j]) < 0 })
	}
	if f.Kinds != nil {
		sort.Slice(*f.Kinds, func(i, j int) bool { return (*f.Kinds)[i] < (*f.Kinds)[j] })
	}
	if f.Authors != nil {
		sort.Slice(*f.Authors, func(i, j int) bool { return bytes.Compare((*f.Authors)[i], (*f.Authors)[j]) < 0 })
	}
	for _, v := range f.Tags {
		sort.Slice(v, func(i, j int) bool { return bytes.Compare(v[i], v[j]) < 0 })
	}
}

// S is an ordered list of filters — a REQ's constraint set is the union of
// each filter's matches.
type S []*F

// MatchesAny reports whether ev satisfies at least one filter in s.
func (s S) MatchesAny(ev *event.E) bool {
	for _, f := range s {
		if f.Matches(ev) {
			return true
		}
	}
	return false
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

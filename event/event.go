// Package event is the Event Validator (C1): a pure, side-effect-free codec
// and validator for the relay's signed, content-hashed events. It mirrors
// the teacher's event.E/json.go split (struct + hand-rolled JSON codec) but
// narrows the kind space to the health/fitness allow-list and adds the
// canonical-hash and signature plumbing the teacher splits across
// event/json.go and pkg/encoders/event/signatures.go.
package event

import (
	"bytes"
	"sort"

	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
	"fitrelay.dev/tags"
	"fitrelay.dev/timestamp"
)

// E is a single signed, content-hashed event.
type E struct {
	Id        []byte       // 32-byte sha256 of the canonical form
	Pubkey    []byte       // 32-byte BIP-340 x-only public key
	CreatedAt timestamp.T
	Kind      kind.T
	Tags      *tags.T
	Content   []byte
	Sig       []byte // 64-byte BIP-340 schnorr signature over Id
}

// New returns an empty event with an initialized, empty tag list.
func New() *E { return &E{Tags: tags.New()} }

// IdString returns the event id as lowercase hex.
func (ev *E) IdString() string { return hex.Enc(ev.Id) }

// PubkeyString returns the pubkey as lowercase hex.
func (ev *E) PubkeyString() string { return hex.Enc(ev.Pubkey) }

// SigString returns the signature as lowercase hex.
func (ev *E) SigString() string { return hex.Enc(ev.Sig) }

// Clone returns a deep copy of ev.
func (ev *E) Clone() *E {
	if ev == nil {
		return nil
	}
	c := &E{
		Id:        append([]byte(nil), ev.Id...),
		Pubkey:    append([]byte(nil), ev.Pubkey...),
		CreatedAt: ev.CreatedAt,
		Kind:      ev.Kind,
		Tags:      ev.Tags.Clone(),
		Content:   append([]byte(nil), ev.Content...),
		Sig:       append([]byte(nil), ev.Sig...),
	}
	return c
}

// Equal reports whether ev and other carry the same id (the only field that
// matters for deduplication).
func (ev *E) Equal(other *E) bool {
	if ev == nil || other == nil {
		return ev == other
	}
	return bytes.Equal(ev.Id, other.Id)
}

// S is a slice of events that sorts newest-first, breaking ties on id
// ascending (the deterministic tie-break the query engine relies on).
type S []*E

func (s S) Len() int      { return len(s) }
func (s S) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s S) Less(i, j int) bool {
	if s[i].CreatedAt != s[j].CreatedAt {
		return s[i].CreatedAt > s[j].CreatedAt
	}
	return bytes.Compare(s[i].Id, s[j].Id) < 0
}

// Sort sorts s in place by the newest-first/id-ascending tie-break rule.
func Sort(s S) { sort.Sort(s) }

// DTag returns the value of the event's "d" tag, or nil if it has none —
// the parameterized-replaceable identity component for addressable kinds.
func (ev *E) DTag() []byte {
	t := ev.Tags.GetFirst([]byte("d"))
	if t == nil {
		return nil
	}
	return t.Value()
}

// ExpiresAt returns the event's expires_at tag value as a timestamp and
// whether one was present.
func (ev *E) ExpiresAt() (t timestamp.T, ok bool) {
	tg := ev.Tags.GetFirst([]byte("expires_at"))
	if tg == nil || tg.Len() < 2 {
		return 0, false
	}
	v, _, err := timestamp.Unmarshal(tg.Value())
	if err != nil {
		return 0, false
	}
	return v, true
}

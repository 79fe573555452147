// Package subscription is the Subscription Registry (C6): per-connection
// live filters, indexed so a newly accepted event can be matched against
// every open subscription without a linear scan, grounded on the teacher's
// xsync.MapOf-keyed Subscriptions table (protocol/ws/client.go) but inverted
// — here one registry serves many connections rather than one map per
// connection.
package subscription

import (
	"github.com/puzpuzpuz/xsync/v3"

	"fitrelay.dev/event"
	"fitrelay.dev/filter"
	"fitrelay.dev/kind"
)

// Sink is how the registry delivers a live match back out to a connection.
// The protocol engine implements this over its outbound frame writer.
type Sink interface {
	// Deliver is called with the subscription label and the matching event.
	// It must not block the registry; implementations queue and return.
	Deliver(label string, ev *event.E)
}

// entry is one open subscription: a connection's sink plus the filter set
// it subscribed with.
type entry struct {
	sink   Sink
	label  string
	filter filter.S
}

// R is the subscription registry. One R serves the whole relay; every
// connection's REQ/CLOSE calls Add/Remove against it, and Publish fans a
// newly accepted event out to every matching entry.
//
// Entries are keyed by (sink, label) so two different connections may each
// use the label "sub1" without colliding. Per spec.md §4.6, entries whose
// every filter names exactly one kind or exactly one author are bucketed
// under those values, and Publish checks only the buckets for the event's
// kind and author plus the unbucketed entries; a Publish for a
// heavily-subscribed kind skips every entry indexed under a different one.
type R struct {
	entries *xsync.MapOf[key, *entry]

	// byKind and byAuthor hold, for subscriptions whose filters constrain a
	// single value for that dimension, the set of keys in entries sharing
	// it. A subscription with multiple values or no constraint for a
	// dimension is left out of that dimension's bucket; it is reached
	// through its other dimension's bucket, or through unbucketed if it
	// has neither.
	byKind   *xsync.MapOf[kind.T, *xsync.MapOf[key, struct{}]]
	byAuthor *xsync.MapOf[string, *xsync.MapOf[key, struct{}]]

	// unbucketed holds every key whose filter set couldn't be narrowed into
	// byKind/byAuthor (no single-kind or single-author filter present).
	unbucketed *xsync.MapOf[key, struct{}]
}

// key identifies one subscription within the registry.
type key struct {
	sink  Sink
	label string
}

// New returns an empty registry.
func New() *R {
	return &R{
		entries:    xsync.NewMapOf[key, *entry](),
		byKind:     xsync.NewMapOf[kind.T, *xsync.MapOf[key, struct{}]](),
		byAuthor:   xsync.NewMapOf[string, *xsync.MapOf[key, struct{}]](),
		unbucketed: xsync.NewMapOf[key, struct{}](),
	}
}

// Add registers or replaces label's filter set for sink. REQ reusing an
// existing label on the same connection atomically replaces the old
// subscription, per spec.
func (r *R) Add(sink Sink, label string, f filter.S) {
	k := key{sink: sink, label: label}
	r.Remove(sink, label)
	r.entries.Store(k, &entry{sink: sink, label: label, filter: f})
	r.bucket(k, f)
}

// Remove drops label's subscription for sink, if any. Closing an unknown
// label is a no-op.
func (r *R) Remove(sink Sink, label string) {
	k := key{sink: sink, label: label}
	if _, ok := r.entries.LoadAndDelete(k); !ok {
		return
	}
	r.unbucket(k)
}

// RemoveAll drops every subscription belonging to sink, used when a
// connection closes.
func (r *R) RemoveAll(sink Sink) {
	var labels []string
	r.entries.Range(func(k key, e *entry) bool {
		if k.sink == sink {
			labels = append(labels, k.label)
		}
		return true
	})
	for _, label := range labels {
		r.Remove(sink, label)
	}
}

// bucket indexes k under every dimension its filter set can be narrowed by.
func (r *R) bucket(k key, fs filter.S) {
	kinds, authors, narrow := singleValueDimensions(fs)
	if !narrow {
		r.unbucketed.Store(k, struct{}{})
		return
	}
	for _, kd := range kinds {
		m, _ := r.byKind.LoadOrCompute(kd, func() *xsync.MapOf[key, struct{}] {
			return xsync.NewMapOf[key, struct{}]()
		})
		m.Store(k, struct{}{})
	}
	for _, a := range authors {
		m, _ := r.byAuthor.LoadOrCompute(a, func() *xsync.MapOf[key, struct{}] {
			return xsync.NewMapOf[key, struct{}]()
		})
		m.Store(k, struct{}{})
	}
}

func (r *R) unbucket(k key) {
	r.unbucketed.Delete(k)
	r.byKind.Range(func(_ kind.T, m *xsync.MapOf[key, struct{}]) bool {
		m.Delete(k)
		return true
	})
	r.byAuthor.Range(func(_ string, m *xsync.MapOf[key, struct{}]) bool {
		m.Delete(k)
		return true
	})
}

// singleValueDimensions reports, for a filter set where every filter names
// exactly one kind or exactly one author, the values worth bucketing under.
// A filter set is only "narrow" (bucketable) if every filter in it
// constrains at least one of those two dimensions to a single value; mixed
// or wide filter sets fall back to the unbucketed set so Matches still sees
// them.
func singleValueDimensions(fs filter.S) (kinds []kind.T, authors []string, narrow bool) {
	if len(fs) == 0 {
		return nil, nil, false
	}
	for _, f := range fs {
		k, a, ok := singleValue(f)
		if !ok {
			return nil, nil, false
		}
		if k != nil {
			kinds = append(kinds, *k)
		}
		if a != nil {
			authors = append(authors, *a)
		}
	}
	return kinds, authors, true
}

func singleValue(f *filter.F) (k *kind.T, a *string, ok bool) {
	if f.Kinds != nil && len(*f.Kinds) == 1 {
		v := (*f.Kinds)[0]
		k = &v
	}
	if f.Authors != nil && len(*f.Authors) == 1 {
		v := string((*f.Authors)[0])
		a = &v
	}
	if k != nil || a != nil {
		return k, a, true
	}
	return nil, nil, false
}

// Publish fans ev out to every live subscription whose filter set matches
// it, delivering through each matching entry's Sink.
func (r *R) Publish(ev *event.E) {
	seen := make(map[key]struct{})
	deliver := func(k key) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		e, ok := r.entries.Load(k)
		if !ok {
			return
		}
		if e.filter.MatchesAny(ev) {
			e.sink.Deliver(e.label, ev)
		}
	}

	if m, ok := r.byKind.Load(ev.Kind); ok {
		m.Range(func(k key, _ struct{}) bool {
			deliver(k)
			return true
		})
	}
	if m, ok := r.byAuthor.Load(string(ev.Pubkey)); ok {
		m.Range(func(k key, _ struct{}) bool {
			deliver(k)
			return true
		})
	}
	r.unbucketed.Range(func(k key, _ struct{}) bool {
		deliver(k)
		return true
	})
}

// Count returns the number of live subscriptions, for diagnostics.
func (r *R) Count() int {
	return r.entries.Size()
}

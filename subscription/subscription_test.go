package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fitrelay.dev/event"
	"fitrelay.dev/filter"
	"fitrelay.dev/kind"
	"fitrelay.dev/signer"
	"fitrelay.dev/timestamp"
)

type fakeSink struct {
	name string
	got  []delivery
}

type delivery struct {
	label string
	id    string
}

func (s *fakeSink) Deliver(label string, ev *event.E) {
	s.got = append(s.got, delivery{label: label, id: ev.IdString()})
}

func newEvent(t *testing.T, k kind.T) *event.E {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = k
	require.NoError(t, ev.Sign(s))
	return ev
}

func kindFilter(k kind.T) filter.S {
	ks := []kind.T{k}
	f := filter.New()
	f.Kinds = &ks
	return filter.S{f}
}

func TestAddAndPublishDeliversToMatchingSink(t *testing.T) {
	r := New()
	sink := &fakeSink{name: "a"}
	r.Add(sink, "sub1", kindFilter(kind.HealthRecord))

	ev := newEvent(t, kind.HealthRecord)
	r.Publish(ev)

	require.Len(t, sink.got, 1)
	require.Equal(t, "sub1", sink.got[0].label)
	require.Equal(t, ev.IdString(), sink.got[0].id)
}

func TestPublishSkipsNonMatchingKind(t *testing.T) {
	r := New()
	sink := &fakeSink{}
	r.Add(sink, "sub1", kindFilter(kind.HealthRecord))

	r.Publish(newEvent(t, kind.SatelliteRegistration))
	require.Empty(t, sink.got)
}

func TestReAddingSameLabelReplacesSubscription(t *testing.T) {
	r := New()
	sink := &fakeSink{}
	r.Add(sink, "sub1", kindFilter(kind.HealthRecord))
	r.Add(sink, "sub1", kindFilter(kind.SatelliteRegistration))
	require.Equal(t, 1, r.Count())

	r.Publish(newEvent(t, kind.HealthRecord))
	require.Empty(t, sink.got)

	r.Publish(newEvent(t, kind.SatelliteRegistration))
	require.Len(t, sink.got, 1)
}

func TestRemoveUnknownLabelIsNoop(t *testing.T) {
	r := New()
	sink := &fakeSink{}
	require.NotPanics(t, func() { r.Remove(sink, "nope") })
	require.Equal(t, 0, r.Count())
}

func TestRemoveAllDropsEverySubscriptionForSink(t *testing.T) {
	r := New()
	sink := &fakeSink{}
	r.Add(sink, "sub1", kindFilter(kind.HealthRecord))
	r.Add(sink, "sub2", kindFilter(kind.SatelliteRegistration))
	other := &fakeSink{}
	r.Add(other, "sub1", kindFilter(kind.HealthRecord))

	r.RemoveAll(sink)
	require.Equal(t, 1, r.Count())

	r.Publish(newEvent(t, kind.HealthRecord))
	require.Len(t, other.got, 1)
}

func TestUnbucketedFilterStillMatches(t *testing.T) {
	r := New()
	sink := &fakeSink{}
	// a filter with no single kind/author (Since-only) can't be bucketed,
	// so it must fall into the unbucketed set and still be checked.
	now := timestamp.Now() - 100
	f := filter.New()
	f.Since = &now
	r.Add(sink, "sub1", filter.S{f})

	r.Publish(newEvent(t, kind.HealthRecord))
	require.Len(t, sink.got, 1)
}

func TestDifferentSinksMaySharelabel(t *testing.T) {
	r := New()
	s1 := &fakeSink{}
	s2 := &fakeSink{}
	r.Add(s1, "sub1", kindFilter(kind.HealthRecord))
	r.Add(s2, "sub1", kindFilter(kind.HealthRecord))
	require.Equal(t, 2, r.Count())

	r.Publish(newEvent(t, kind.HealthRecord))
	require.Len(t, s1.got, 1)
	require.Len(t, s2.got, 1)
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	stdcontext "context"

	"fitrelay.dev/event"
	"fitrelay.dev/filter"
	"fitrelay.dev/kind"
	"fitrelay.dev/signer"
	"fitrelay.dev/tag"
	"fitrelay.dev/tags"
	"fitrelay.dev/timestamp"
)

func openTestStore(t *testing.T) *D {
	t.Helper()
	d, err := Open(stdcontext.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func signedEvent(t *testing.T, k kind.T, createdAt timestamp.T, tg ...*tag.T) *event.E {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = createdAt
	ev.Kind = k
	ev.Tags = tags.New(tg...)
	ev.Content = []byte("body")
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestPutGetRoundTrip(t *testing.T) {
	d := openTestStore(t)
	ev := signedEvent(t, kind.HealthRecord, timestamp.Now())
	require.NoError(t, d.Put(ev))
	got, err := d.Get(ev.Id)
	require.NoError(t, err)
	require.Equal(t, ev.Id, got.Id)
}

func TestPutIsIdempotent(t *testing.T) {
	d := openTestStore(t)
	ev := signedEvent(t, kind.HealthRecord, timestamp.Now())
	require.NoError(t, d.Put(ev))
	require.NoError(t, d.Put(ev))
	got, err := d.Get(ev.Id)
	require.NoError(t, err)
	require.Equal(t, ev.Id, got.Id)
}

func TestReplaceableKindSupersedesOlder(t *testing.T) {
	d := openTestStore(t)
	s := &signer.Signer{}
	require.NoError(t, s.Generate())

	older := event.New()
	older.CreatedAt = timestamp.Now() - 10
	older.Kind = kind.SatelliteRegistration
	older.Tags = tags.New(tag.NewFromStrings("d", "sat1"))
	older.Content = []byte("v1")
	require.NoError(t, older.Sign(s))
	require.NoError(t, d.Put(older))

	newer := event.New()
	newer.CreatedAt = timestamp.Now()
	newer.Kind = kind.SatelliteRegistration
	newer.Tags = tags.New(tag.NewFromStrings("d", "sat1"))
	newer.Content = []byte("v2")
	require.NoError(t, newer.Sign(s))
	require.NoError(t, d.Put(newer))

	gotOld, err := d.Get(older.Id)
	require.NoError(t, err)
	require.Nil(t, gotOld)

	gotNew, err := d.Get(newer.Id)
	require.NoError(t, err)
	require.NotNil(t, gotNew)
}

func TestQueryByKind(t *testing.T) {
	ctx := stdcontext.Background()
	d := openTestStore(t)
	a := signedEvent(t, kind.HealthRecord, timestamp.Now())
	b := signedEvent(t, kind.SatelliteRegistration, timestamp.Now())
	require.NoError(t, d.Put(a))
	require.NoError(t, d.Put(b))

	ks := []kind.T{kind.HealthRecord}
	f := filter.New()
	f.Kinds = &ks
	results, err := d.Query(ctx, filter.S{f}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, a.Id, results[0].Id)
}

func TestQueryByTag(t *testing.T) {
	ctx := stdcontext.Background()
	d := openTestStore(t)
	withTag := signedEvent(t, kind.HealthRecord, timestamp.Now(), tag.NewFromStrings("t", "chest"))
	withoutTag := signedEvent(t, kind.HealthRecord, timestamp.Now())
	require.NoError(t, d.Put(withTag))
	require.NoError(t, d.Put(withoutTag))

	f := filter.New()
	f.Tags = map[byte][][]byte{'t': {[]byte("chest")}}
	results, err := d.Query(ctx, filter.S{f}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, withTag.Id, results[0].Id)
}

func TestDeleteIfExpired(t *testing.T) {
	d := openTestStore(t)
	expired := signedEvent(t, kind.HealthRecord, timestamp.Now(), tag.NewFromStrings("expires_at", "1"))
	require.NoError(t, d.Put(expired))

	n, err := d.DeleteIfExpired(time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := d.Get(expired.Id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUnknownIdsFilterReturnsFewer(t *testing.T) {
	ctx := stdcontext.Background()
	d := openTestStore(t)
	ev := signedEvent(t, kind.HealthRecord, timestamp.Now())
	require.NoError(t, d.Put(ev))

	ids := [][]byte{ev.Id, make([]byte, 32)}
	f := filter.New()
	f.Ids = &ids
	results, err := d.Query(ctx, filter.S{f}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

package satellite

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"fitrelay.dev/event"
	"fitrelay.dev/kind"
	"fitrelay.dev/signer"
	"fitrelay.dev/tag"
	"fitrelay.dev/tags"
	"fitrelay.dev/timestamp"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegisterAndList(t *testing.T) {
	r := New(openTestDB(t))
	n := &Node{Pubkey: make([]byte, 32), URL: "https://sat.example", SupportedKinds: []kind.T{32018, 32020}}
	n.Pubkey[0] = 1
	require.NoError(t, r.Register(n))

	nodes, err := r.List()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "https://sat.example", nodes[0].URL)
	require.True(t, nodes[0].Live(time.Now()))
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	r := New(openTestDB(t))
	n := &Node{Pubkey: make([]byte, 32), URL: "u1", SupportedKinds: []kind.T{32018}}
	n.Pubkey[0] = 2
	require.NoError(t, r.Register(n))
	first, err := r.get(n.Pubkey)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	n2 := &Node{Pubkey: n.Pubkey, URL: "u2", SupportedKinds: []kind.T{32018}}
	require.NoError(t, r.Register(n2))
	second, err := r.get(n.Pubkey)
	require.NoError(t, err)
	require.True(t, second.LastSeen.After(first.LastSeen) || second.LastSeen.Equal(first.LastSeen))
	require.Equal(t, "u2", second.URL)
}

func TestRouteByBlossomTag(t *testing.T) {
	r := New(openTestDB(t))
	pk := make([]byte, 32)
	pk[0] = 3
	require.NoError(t, r.Register(&Node{Pubkey: pk, URL: "blossom-node", SupportedKinds: []kind.T{32020}}))

	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = 32020
	ev.Tags = tags.New(tag.New([]byte("blossom"), pk))
	require.NoError(t, ev.Sign(s))

	node, err := r.Route(ev)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Equal(t, pk, node.Pubkey)
}

func TestRouteFallsBackToKindSupport(t *testing.T) {
	r := New(openTestDB(t))
	pk := make([]byte, 32)
	pk[0] = 4
	require.NoError(t, r.Register(&Node{Pubkey: pk, URL: "generic", SupportedKinds: []kind.T{32020}}))

	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = 32020
	ev.Tags = tags.New()
	require.NoError(t, ev.Sign(s))

	node, err := r.Route(ev)
	require.NoError(t, err)
	require.NotNil(t, node)
}

func TestRouteNoneWhenNoLiveNode(t *testing.T) {
	r := New(openTestDB(t))
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = 32020
	ev.Tags = tags.New()
	require.NoError(t, ev.Sign(s))

	node, err := r.Route(ev)
	require.NoError(t, err)
	require.Nil(t, node)
}

// Package satellite is the Satellite Registry (C3): tracks known satellite
// nodes, their supported kinds, and liveness, backed by the same Badger
// handle as the event store under a distinct key prefix, grounded on the
// teacher's one-*badger.DB pattern (database/database.go).
package satellite

import (
	"encoding/binary"
	"time"

	"github.com/dgraph-io/badger/v4"

	"fitrelay.dev/errorf"
	"fitrelay.dev/event"
	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
)

const prefix byte = 'S'

// LivenessWindow is the duration after which a node's last-seen timestamp
// makes it stale and excluded from routing.
const LivenessWindow = 24 * time.Hour

// Node is a registered satellite record.
type Node struct {
	Pubkey         []byte
	URL            string
	SupportedKinds []kind.T
	LastSeen       time.Time
}

// Live reports whether the node was seen within the liveness window of now.
func (n *Node) Live(now time.Time) bool {
	return now.Sub(n.LastSeen) <= LivenessWindow
}

// Supports reports whether the node accepts the given kind.
func (n *Node) Supports(k kind.T) bool {
	for _, sk := range n.SupportedKinds {
		if sk == k {
			return true
		}
	}
	return false
}

// R is the registry, a thin wrapper over the shared *badger.DB handle.
type R struct {
	db       *badger.DB
	liveness time.Duration
}

// New wraps an already-open Badger handle (the same one backing the event
// store) for satellite registration. Liveness defaults to LivenessWindow;
// call SetLiveness to use a configured threshold instead.
func New(db *badger.DB) *R { return &R{db: db, liveness: LivenessWindow} }

// SetLiveness overrides the staleness threshold Route uses, letting the
// server composition root apply the configured
// satellite_liveness_seconds value instead of the package default.
func (r *R) SetLiveness(d time.Duration) { r.liveness = d }

func (r *R) live(n *Node, now time.Time) bool { return now.Sub(n.LastSeen) <= r.liveness }

func key(pubkey []byte) []byte {
	k := make([]byte, 0, 1+len(pubkey))
	k = append(k, prefix)
	k = append(k, pubkey...)
	return k
}

// Register upserts a node record by public key, setting LastSeen to now.
// Re-registering an existing pubkey (the heartbeat path) refreshes
// LastSeen and replaces URL/SupportedKinds.
func (r *R) Register(n *Node) (err error) {
	if len(n.Pubkey) == 0 {
		return errorf.E("satellite: pubkey required")
	}
	n.LastSeen = time.Now()
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(n.Pubkey), encode(n))
	})
}

// Route picks a satellite for ev: a tag `blossom <pubkey>` wins if that
// node is live; otherwise the first live node that supports ev.Kind; else
// none.
func (r *R) Route(ev *event.E) (n *Node, err error) {
	now := time.Now()
	if tg := ev.Tags.GetFirst([]byte("blossom")); tg != nil && tg.Len() >= 2 {
		target := tg.Value()
		// the tag carries the node pubkey as hex on the wire (as
		// reference.Build writes it); raw key bytes are used as-is.
		if dec, derr := hex.Dec(string(target)); derr == nil {
			target = dec
		}
		var candidate *Node
		if candidate, err = r.get(target); err != nil {
			return nil, err
		}
		if candidate != nil && r.live(candidate, now) {
			return candidate, nil
		}
	}
	var all []*Node
	if all, err = r.List(); err != nil {
		return nil, err
	}
	for _, node := range all {
		if r.live(node, now) && node.Supports(ev.Kind) {
			return node, nil
		}
	}
	return nil, nil
}

func (r *R) get(pubkey []byte) (n *Node, err error) {
	err = r.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(key(pubkey))
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			n, err = decode(val)
			return err
		})
	})
	return
}

// List returns a stable snapshot of every registered node, live or not;
// callers filter on Live() as needed.
func (r *R) List() (nodes []*Node, err error) {
	err = r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte{prefix}
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			if verr := item.Value(func(val []byte) error {
				n, derr := decode(val)
				if derr != nil {
					return derr
				}
				nodes = append(nodes, n)
				return nil
			}); verr != nil {
				return verr
			}
		}
		return nil
	})
	return
}

// encode/decode are a tiny fixed-shape binary form: the registry's on-disk
// layout is no more specified by the spec than the event store's, so this
// mirrors the store package's fixed-width approach rather than pulling in a
// general serialization library for a four-field record.
func encode(n *Node) []byte {
	buf := make([]byte, 0, 32+8+2+len(n.URL)+2*len(n.SupportedKinds))
	buf = append(buf, n.Pubkey...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(n.LastSeen.Unix()))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(n.URL)))
	buf = append(buf, n.URL...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(n.SupportedKinds)))
	for _, k := range n.SupportedKinds {
		buf = binary.BigEndian.AppendUint16(buf, uint16(k))
	}
	return buf
}

func decode(b []byte) (n *Node, err error) {
	if len(b) < 32+8+2 {
		return nil, errorf.E("satellite: truncated record")
	}
	n = &Node{}
	n.Pubkey = append([]byte(nil), b[:32]...)
	b = b[32:]
	n.LastSeen = time.Unix(int64(binary.BigEndian.Uint64(b)), 0)
	b = b[8:]
	urlLen := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < urlLen+2 {
		return nil, errorf.E("satellite: truncated url/kinds")
	}
	n.URL = string(b[:urlLen])
	b = b[urlLen:]
	kindCount := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < kindCount*2 {
		return nil, errorf.E("satellite: truncated kind list")
	}
	n.SupportedKinds = make([]kind.T, kindCount)
	for i := 0; i < kindCount; i++ {
		n.SupportedKinds[i] = kind.T(binary.BigEndian.Uint16(b[i*2:]))
	}
	return n, nil
}

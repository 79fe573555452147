package store

import (
	"bytes"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"fitrelay.dev/chk"
	"fitrelay.dev/context"
	"fitrelay.dev/errorf"
	"fitrelay.dev/event"
	"fitrelay.dev/kind"
	"fitrelay.dev/log"
)

// D is the Event Store & Index: a single *badger.DB handle shared with the
// satellite registry (C3) under a distinct key prefix, so both survive a
// restart without a second storage engine.
type D struct {
	ctx context.T
	*badger.DB
}

// Open opens (creating if necessary) the Badger store at dataDir.
func Open(ctx context.T, dataDir string) (d *D, err error) {
	if err = os.MkdirAll(dataDir, 0o755); chk.E(err) {
		return
	}
	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil
	var db *badger.DB
	if db, err = badger.Open(opts); chk.E(err) {
		return
	}
	d = &D{ctx: ctx, DB: db}
	return
}

// Close releases the underlying Badger handle.
func (d *D) Close() error { return d.DB.Close() }

// Put durably stores ev and its secondary index entries, atomic with
// respect to concurrent Put/Get/Range. Idempotent on duplicate id: storing
// the same id twice is a no-op on the second call (the raw bytes it would
// write are identical).
//
// Parameterized-replaceable kinds (33401/33402) additionally look up any
// existing event with the same (pubkey, kind, d-tag) and delete it only
// after the new one is durably saved, so a failed write never loses data.
func (d *D) Put(ev *event.E) (err error) {
	if ev == nil || len(ev.Id) != 32 {
		return errorf.E("store: Put requires a valid event id")
	}
	var supersededID []byte
	if kind.IsReplaceable(ev.Kind) {
		if supersededID, err = d.lookupReplaceable(ev.Pubkey, ev.Kind, ev.DTag()); chk.E(err) {
			return
		}
	}
	body := ev.Marshal(nil)
	err = d.DB.Update(func(txn *badger.Txn) error {
		pk := primaryKey(ev.Id)
		if _, getErr := txn.Get(pk); getErr == nil {
			// already stored under this id; nothing else to write
			return nil
		} else if getErr != badger.ErrKeyNotFound {
			return getErr
		}
		if err := txn.Set(pk, body); err != nil {
			return err
		}
		if err := txn.Set(authorKey(ev.Pubkey, ev.CreatedAt.I64(), ev.Id), nil); err != nil {
			return err
		}
		if err := txn.Set(kindKey(uint16(ev.Kind), ev.CreatedAt.I64(), ev.Id), nil); err != nil {
			return err
		}
		for _, tg := range ev.Tags.Tag {
			if tg.Len() < 2 || len(tg.Key()) != 1 {
				continue
			}
			if err := txn.Set(tagKey(tg.Key()[0], tg.Value(), ev.CreatedAt.I64(), ev.Id), nil); err != nil {
				return err
			}
		}
		if kind.IsReplaceable(ev.Kind) {
			if err := txn.Set(replaceKey(ev.Pubkey, uint16(ev.Kind), ev.DTag()), append([]byte(nil), ev.Id...)); err != nil {
				return err
			}
		}
		return nil
	})
	if chk.E(err) {
		return
	}
	if supersededID != nil && !bytes.Equal(supersededID, ev.Id) {
		if old, getErr := d.Get(supersededID); getErr == nil && old != nil {
			_ = d.delete(old)
		}
	}
	return nil
}

func (d *D) lookupReplaceable(pubkey []byte, k kind.T, dTag []byte) (id []byte, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(replaceKey(pubkey, uint16(k), dTag))
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			id = append([]byte(nil), val...)
			return nil
		})
	})
	return
}

// Get returns the event stored under id, or nil if absent.
func (d *D) Get(id []byte) (ev *event.E, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(primaryKey(id))
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			ev, _, err = event.Unmarshal(val)
			return err
		})
	})
	return
}

// delete removes an event's primary record and every secondary index entry
// for it, atomically.
func (d *D) delete(ev *event.E) error {
	return d.DB.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(primaryKey(ev.Id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete(authorKey(ev.Pubkey, ev.CreatedAt.I64(), ev.Id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete(kindKey(uint16(ev.Kind), ev.CreatedAt.I64(), ev.Id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		for _, tg := range ev.Tags.Tag {
			if tg.Len() < 2 || len(tg.Key()) != 1 {
				continue
			}
			if err := txn.Delete(tagKey(tg.Key()[0], tg.Value(), ev.CreatedAt.I64(), ev.Id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// DeleteIfExpired removes every event whose expires_at tag is <= now,
// primary and secondary entries together. Subscribers are not notified;
// they observe the absence on their next query.
func (d *D) DeleteIfExpired(now time.Time) (deleted int, err error) {
	nowUnix := now.Unix()
	var candidates []*event.E
	err = d.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixPrimary}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if verr := item.Value(func(val []byte) error {
				ev, _, perr := event.Unmarshal(val)
				if perr != nil {
					return nil
				}
				if exp, ok := ev.ExpiresAt(); ok && exp.I64() <= nowUnix {
					candidates = append(candidates, ev)
				}
				return nil
			}); verr != nil {
				return verr
			}
		}
		return nil
	})
	if chk.E(err) {
		return
	}
	for _, ev := range candidates {
		if err = d.delete(ev); chk.E(err) {
			return
		}
		deleted++
	}
	if deleted > 0 {
		log.D.F("expiry sweep removed %d events", deleted)
	}
	return
}

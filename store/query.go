package store

import (
	"github.com/dgraph-io/badger/v4"

	"fitrelay.dev/context"
	"fitrelay.dev/event"
	"fitrelay.dev/filter"
)

// Cursor is a lazily-consumed sequence of events from one secondary index,
// newest-first. Callers must call Close when done, including after the
// sequence is exhausted. Context cancellation is checked at every yield
// point so a long backlog scan can be cut short between events.
type Cursor struct {
	d      *D
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	since  int64
	until  int64
}

// Next returns the next matching event, or ok=false once the index is
// exhausted or ctx is cancelled.
func (c *Cursor) Next(ctx context.T) (ev *event.E, ok bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}
		if !c.it.ValidForPrefix(c.prefix) {
			return nil, false, nil
		}
		key := c.it.Item().KeyCopy(nil)
		c.it.Next()
		id := idFromKey(key)
		var candidate *event.E
		if candidate, err = c.d.Get(id); err != nil {
			return nil, false, err
		}
		if candidate == nil {
			continue
		}
		if c.since != 0 && candidate.CreatedAt.I64() < c.since {
			continue
		}
		if c.until != 0 && candidate.CreatedAt.I64() > c.until {
			continue
		}
		return candidate, true, nil
	}
}

// Close releases the cursor's Badger iterator and transaction.
func (c *Cursor) Close() {
	c.it.Close()
	c.txn.Discard()
}

func (d *D) newCursor(prefix []byte, since, until int64) *Cursor {
	txn := d.DB.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	it.Seek(prefix)
	return &Cursor{d: d, txn: txn, it: it, prefix: prefix, since: since, until: until}
}

// RangeByAuthor returns a newest-first cursor over events by pubkey.
func (d *D) RangeByAuthor(pubkey []byte, since, until int64) *Cursor {
	return d.newCursor(authorPrefix(pubkey), since, until)
}

// RangeByKind returns a newest-first cursor over events of the given kind.
func (d *D) RangeByKind(k uint16, since, until int64) *Cursor {
	return d.newCursor(kindPrefix(k), since, until)
}

// RangeByTag returns a newest-first cursor over events carrying a tag whose
// first element is letter and second element is value.
func (d *D) RangeByTag(letter byte, value []byte, since, until int64) *Cursor {
	return d.newCursor(tagPrefix(letter, value), since, until)
}

// Query runs a set of filters (their union) against the store and returns a
// bounded, deduplicated, newest-first result, choosing the most selective
// index per filter: ids > tag filters > authors > kinds > time-only. A
// filter naming no ids, tags, authors or kinds scans the primary records,
// which are ordered by id rather than created_at, so its per-filter limit
// keeps the first matches in id order. Ties on created_at break on id
// ascending.
func (d *D) Query(ctx context.T, filters filter.S, maxResults int) (result event.S, err error) {
	seen := make(map[string]bool)
	for _, f := range filters {
		var matched event.S
		if matched, err = d.queryOne(ctx, f, maxResults); err != nil {
			return nil, err
		}
		for _, ev := range matched {
			key := string(ev.Id)
			if seen[key] {
				continue
			}
			seen[key] = true
			result = append(result, ev)
		}
	}
	event.Sort(result)
	if maxResults > 0 && len(result) > maxResults {
		result = result[:maxResults]
	}
	return
}

func (d *D) queryOne(ctx context.T, f *filter.F, maxResults int) (out event.S, err error) {
	var since, until int64
	if f.Since != nil {
		since = f.Since.I64()
	}
	if f.Until != nil {
		until = f.Until.I64()
	}
	if f.Limit != nil && (*f.Limit < maxResults || maxResults == 0) {
		maxResults = *f.Limit
	}
	if f.Limit != nil && *f.Limit == 0 {
		return nil, nil
	}

	collect := func(cur *Cursor) (event.S, error) {
		defer cur.Close()
		var acc event.S
		for {
			ev, ok, nerr := cur.Next(ctx)
			if nerr != nil {
				return nil, nerr
			}
			if !ok {
				break
			}
			if !f.Matches(ev) {
				continue
			}
			acc = append(acc, ev)
			if maxResults > 0 && len(acc) >= maxResults {
				break
			}
		}
		return acc, nil
	}

	switch {
	case f.Ids != nil:
		for _, id := range *f.Ids {
			ev, gerr := d.Get(id)
			if gerr != nil {
				return nil, gerr
			}
			if ev == nil || !f.Matches(ev) {
				continue
			}
			out = append(out, ev)
		}
		return out, nil
	case len(f.Tags) > 0:
		for letter, values := range f.Tags {
			for _, value := range values {
				part, cerr := collect(d.newCursor(tagPrefix(letter, value), since, until))
				if cerr != nil {
					return nil, cerr
				}
				out = append(out, part...)
			}
		}
		return dedupe(out), nil
	case f.Authors != nil:
		for _, author := range *f.Authors {
			part, cerr := collect(d.newCursor(authorPrefix(author), since, until))
			if cerr != nil {
				return nil, cerr
			}
			out = append(out, part...)
		}
		return dedupe(out), nil
	case f.Kinds != nil:
		for _, k := range *f.Kinds {
			part, cerr := collect(d.newCursor(kindPrefix(uint16(k)), since, until))
			if cerr != nil {
				return nil, cerr
			}
			out = append(out, part...)
		}
		return dedupe(out), nil
	default:
		return collect(d.newCursor([]byte{prefixPrimary}, since, until))
	}
}

func dedupe(in event.S) event.S {
	seen := make(map[string]bool, len(in))
	out := make(event.S, 0, len(in))
	for _, ev := range in {
		k := string(ev.Id)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ev)
	}
	return out
}

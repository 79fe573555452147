// Package store is the Event Store & Index (C4) and the Query Engine (C5):
// a Badger v4-backed collaborator that persists accepted events and
// maintains by-id/by-author/by-kind/by-tag secondary indexes as distinct
// key prefixes over one *badger.DB handle, grounded on the teacher's
// database.D (one shared handle, many logical tables) and
// database/get-indexes-for-event.go (per-event index key generation).
//
// Per spec's explicit Non-goal on the on-disk format, keys here are
// simplified fixed-width big-endian fields via encoding/binary rather than
// the teacher's variable-width codec.I hierarchy — the index *shape*
// (four logical multimaps, ordered for range scans) is preserved, the byte
// layout is not.
package store

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"
)

const (
	prefixPrimary   byte = 'E' // id -> event JSON
	prefixByAuthor  byte = 'A' // pubkey | invCreatedAt | id -> nil
	prefixByKind    byte = 'K' // kind | invCreatedAt | id -> nil
	prefixByTag     byte = 'T' // letter | valueIdent(8) | invCreatedAt | id -> nil
	prefixReplace   byte = 'R' // pubkey | kind | dTagIdent(8) -> id (latest)
	prefixSatellite byte = 'S' // pubkey -> fixed-width binary satellite record (owned by the satellite package)
)

// invTime flips a created_at value so ascending byte order over the flipped
// value walks events newest-first, matching the index shape's ordering
// requirement without a custom comparator.
func invTime(createdAt int64) uint64 {
	return ^uint64(createdAt)
}

// ident truncates a tag value to an 8-byte identifier hash so by-tag keys
// stay fixed-width regardless of the original value's length; the full
// value is recovered from the primary record once a scan narrows
// candidates, per SPEC_FULL.md's tag-value-interning note.
func ident(v []byte) uint64 {
	h := sha256.Sum256(v)
	return binary.BigEndian.Uint64(h[:8])
}

func primaryKey(id []byte) []byte {
	k := make([]byte, 0, 1+32)
	k = append(k, prefixPrimary)
	k = append(k, id...)
	return k
}

func authorKey(pubkey []byte, createdAt int64, id []byte) []byte {
	k := make([]byte, 0, 1+32+8+32)
	k = append(k, prefixByAuthor)
	k = append(k, pubkey...)
	k = binary.BigEndian.AppendUint64(k, invTime(createdAt))
	k = append(k, id...)
	return k
}

func authorPrefix(pubkey []byte) []byte {
	k := make([]byte, 0, 1+32)
	k = append(k, prefixByAuthor)
	k = append(k, pubkey...)
	return k
}

func kindKey(k uint16, createdAt int64, id []byte) []byte {
	out := make([]byte, 0, 1+2+8+32)
	out = append(out, prefixByKind)
	out = binary.BigEndian.AppendUint16(out, k)
	out = binary.BigEndian.AppendUint64(out, invTime(createdAt))
	out = append(out, id...)
	return out
}

func kindPrefix(k uint16) []byte {
	out := make([]byte, 0, 1+2)
	out = append(out, prefixByKind)
	out = binary.BigEndian.AppendUint16(out, k)
	return out
}

func tagKey(letter byte, value []byte, createdAt int64, id []byte) []byte {
	out := make([]byte, 0, 1+1+8+8+32)
	out = append(out, prefixByTag, letter)
	out = binary.BigEndian.AppendUint64(out, ident(value))
	out = binary.BigEndian.AppendUint64(out, invTime(createdAt))
	out = append(out, id...)
	return out
}

func tagPrefix(letter byte, value []byte) []byte {
	out := make([]byte, 0, 1+1+8)
	out = append(out, prefixByTag, letter)
	out = binary.BigEndian.AppendUint64(out, ident(value))
	return out
}

func replaceKey(pubkey []byte, k uint16, dTag []byte) []byte {
	out := make([]byte, 0, 1+32+2+8)
	out = append(out, prefixReplace)
	out = append(out, pubkey...)
	out = binary.BigEndian.AppendUint16(out, k)
	out = binary.BigEndian.AppendUint64(out, ident(dTag))
	return out
}

// idFromKey extracts the trailing 32-byte id from a fixed-width secondary
// index key.
func idFromKey(key []byte) []byte {
	return key[len(key)-32:]
}

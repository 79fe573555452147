// Package hex is a thin wrapper over encoding/hex with append-style helpers,
// matching the call shape (hex.Enc/hex.Dec/hex.EncAppend) used throughout
// the relay's codecs.
package hex

import "encoding/hex"

// Enc returns the lowercase hex encoding of b.
func Enc(b []byte) string { return hex.EncodeToString(b) }

// Dec decodes a hex string into bytes.
func Dec(s string) ([]byte, error) { return hex.DecodeString(s) }

// EncAppend appends the hex encoding of b to dst.
func EncAppend(dst, b []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return append(dst, out...)
}

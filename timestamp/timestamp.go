// Package timestamp wraps the unix-seconds timestamp nostr events use on
// the wire, giving it JSON codec methods consistent with the rest of the
// hand-rolled event codec.
package timestamp

import (
	"strconv"
	"time"
)

// T is a unix timestamp in seconds.
type T int64

// Now returns the current time as T.
func Now() T { return T(time.Now().Unix()) }

// FromUnix builds a T from a unix-seconds integer.
func FromUnix(sec int64) T { return T(sec) }

// FromTime builds a T from a time.Time.
func FromTime(t time.Time) T { return T(t.Unix()) }

// I64 returns the timestamp as an int64.
func (t T) I64() int64 { return int64(t) }

// Time returns the timestamp as a time.Time in UTC.
func (t T) Time() time.Time { return time.Unix(int64(t), 0).UTC() }

// Marshal appends the decimal representation to dst (nostr timestamps are
// unquoted JSON numbers).
func (t T) Marshal(dst []byte) []byte {
	return strconv.AppendInt(dst, int64(t), 10)
}

// Unmarshal reads a decimal integer starting at r[0] and returns the
// timestamp plus what follows the last digit.
func Unmarshal(r []byte) (t T, rest []byte, err error) {
	i := 0
	if i < len(r) && r[i] == '-' {
		i++
	}
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		i++
	}
	var v int64
	if v, err = strconv.ParseInt(string(r[:i]), 10, 64); err != nil {
		return
	}
	t = T(v)
	rest = r[i:]
	return
}

// Before reports whether t is strictly before u.
func (t T) Before(u T) bool { return t < u }

// After reports whether t is strictly after u.
func (t T) After(u T) bool { return t > u }

// Package text implements the hand-rolled JSON primitives the event and
// filter codecs build on: minimal alloc, byte-exact control over escaping
// and field order, which a direct encoding/json.Marshal cannot give us (the
// event id is a hash of this exact byte layout).
package text

import (
	"fmt"

	"fitrelay.dev/hex"
)

// JSONKey appends `"key":` to dst.
func JSONKey(dst, key []byte) []byte {
	dst = append(dst, '"')
	dst = append(dst, key...)
	dst = append(dst, '"', ':')
	return dst
}

// EncodeFunc renders raw bytes into the characters that go between the
// quotes of a JSON string value (already escaped/encoded as needed).
type EncodeFunc func(dst, src []byte) []byte

// AppendQuote appends a double-quoted JSON string built from src via enc.
func AppendQuote(dst, src []byte, enc EncodeFunc) []byte {
	dst = append(dst, '"')
	dst = enc(dst, src)
	dst = append(dst, '"')
	return dst
}

// NostrEscape JSON-escapes src (control characters, quote, backslash) and
// appends it to dst, leaving non-ASCII bytes untouched (nostr event content
// is UTF-8, not \uXXXX-escaped, except for the characters JSON requires).
func NostrEscape(dst, src []byte) []byte {
	for _, c := range src {
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if c < 0x20 {
				dst = append(dst, []byte(fmt.Sprintf(`\u%04x`, c))...)
			} else {
				dst = append(dst, c)
			}
		}
	}
	return dst
}

// UnmarshalQuoted reads a double-quoted, JSON-escaped string starting at r[0]
// == '"' and returns the unescaped bytes plus what follows the closing quote.
func UnmarshalQuoted(r []byte) (out, rest []byte, err error) {
	if len(r) == 0 || r[0] != '"' {
		err = fmt.Errorf("expected '\"', got %q", r)
		return
	}
	r = r[1:]
	for len(r) > 0 {
		c := r[0]
		switch {
		case c == '"':
			rest = r[1:]
			return
		case c == '\\':
			if len(r) < 2 {
				err = fmt.Errorf("truncated escape")
				return
			}
			switch r[1] {
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			case '/':
				out = append(out, '/')
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'u':
				if len(r) < 6 {
					err = fmt.Errorf("truncated unicode escape")
					return
				}
				var v int
				if _, err = fmt.Sscanf(string(r[2:6]), "%04x", &v); err != nil {
					return
				}
				out = append(out, []byte(string(rune(v)))...)
				r = r[6:]
				continue
			default:
				out = append(out, r[1])
			}
			r = r[2:]
		default:
			out = append(out, c)
			r = r[1:]
		}
	}
	err = fmt.Errorf("unterminated string")
	return
}

// UnmarshalHex reads a double-quoted hex string and returns the decoded
// bytes plus what follows the closing quote.
func UnmarshalHex(r []byte) (out, rest []byte, err error) {
	var raw []byte
	if raw, rest, err = UnmarshalQuoted(r); err != nil {
		return
	}
	if out, err = hex.Dec(string(raw)); err != nil {
		return
	}
	return
}

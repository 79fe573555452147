package event

import (
	"bytes"
	"io"

	"fitrelay.dev/errorf"
	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
	"fitrelay.dev/tags"
	"fitrelay.dev/text"
	"fitrelay.dev/timestamp"
)

var (
	jId        = []byte("id")
	jPubkey    = []byte("pubkey")
	jCreatedAt = []byte("created_at")
	jKind      = []byte("kind")
	jTags      = []byte("tags")
	jContent   = []byte("content")
	jSig       = []byte("sig")
)

// Marshal appends the event as minified JSON to dst.
func (ev *E) Marshal(dst []byte) []byte {
	dst = append(dst, '{')
	dst = text.JSONKey(dst, jId)
	dst = text.AppendQuote(dst, ev.Id, hex.EncAppend)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jPubkey)
	dst = text.AppendQuote(dst, ev.Pubkey, hex.EncAppend)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jCreatedAt)
	dst = ev.CreatedAt.Marshal(dst)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jKind)
	dst = appendKind(dst, ev.Kind)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jTags)
	dst = ev.Tags.Marshal(dst)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jContent)
	dst = text.AppendQuote(dst, ev.Content, text.NostrEscape)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jSig)
	dst = text.AppendQuote(dst, ev.Sig, hex.EncAppend)
	dst = append(dst, '}')
	return dst
}

func appendKind(dst []byte, k kind.T) []byte {
	var buf [5]byte
	n := len(buf)
	if k == 0 {
		return append(dst, '0')
	}
	v := k
	for v > 0 {
		n--
		buf[n] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, buf[n:]...)
}

// Unmarshal reads a JSON event object from b into ev, returning whatever
// follows the closing brace.
func (ev *E) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	for len(r) > 0 && isWS(r[0]) {
		r = r[1:]
	}
	if len(r) == 0 || r[0] != '{' {
		return r, errorf.E("event: expected '{'")
	}
	r = r[1:]
	for {
		for len(r) > 0 && isWS(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return r, io.ErrUnexpectedEOF
		}
		if r[0] == '}' {
			r = r[1:]
			return r, nil
		}
		if r[0] != '"' {
			return r, errorf.E("event: expected key, got %q", r[:1])
		}
		var key []byte
		if key, r, err = text.UnmarshalQuoted(r); err != nil {
			return
		}
		for len(r) > 0 && isWS(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 || r[0] != ':' {
			return r, errorf.E("event: expected ':' after key %q", key)
		}
		r = r[1:]
		for len(r) > 0 && isWS(r[0]) {
			r = r[1:]
		}
		switch {
		case bytes.Equal(key, jId):
			var v []byte
			if v, r, err = text.UnmarshalHex(r); err != nil {
				return
			}
			ev.Id = v
		case bytes.Equal(key, jPubkey):
			var v []byte
			if v, r, err = text.UnmarshalHex(r); err != nil {
				return
			}
			ev.Pubkey = v
		case bytes.Equal(key, jCreatedAt):
			if ev.CreatedAt, r, err = timestamp.Unmarshal(r); err != nil {
				return
			}
		case bytes.Equal(key, jKind):
			var v int
			if v, r, err = parseUint(r); err != nil {
				return
			}
			ev.Kind = kind.T(v)
		case bytes.Equal(key, jTags):
			var t *tags.T
			if t, r, err = tags.Unmarshal(r); err != nil {
				return
			}
			ev.Tags = t
		case bytes.Equal(key, jContent):
			var v []byte
			if v, r, err = text.UnmarshalQuoted(r); err != nil {
				return
			}
			ev.Content = v
		case bytes.Equal(key, jSig):
			var v []byte
			if v, r, err = text.UnmarshalHex(r); err != nil {
				return
			}
			ev.Sig = v
		default:
			return r, errorf.E("event: unknown key %q", key)
		}
		for len(r) > 0 && isWS(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return r, io.ErrUnexpectedEOF
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == '}' {
			r = r[1:]
			return r, nil
		}
		return r, errorf.E("event: expected ',' or '}', got %q", r[:1])
	}
}

// Unmarshal decodes b into a new event.
func Unmarshal(b []byte) (ev *E, rest []byte, err error) {
	ev = New()
	rest, err = ev.Unmarshal(b)
	return
}

func parseUint(r []byte) (v int, rest []byte, err error) {
	i := 0
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		v = v*10 + int(r[i]-'0')
		i++
	}
	if i == 0 {
		return 0, r, errorf.E("event: expected digits, got %q", r)
	}
	return v, r[i:], nil
}

func isWS(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

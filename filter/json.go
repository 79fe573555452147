package filter

import (
	"sort"
	"strconv"

	"fitrelay.dev/errorf"
	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
	"fitrelay.dev/text"
	"fitrelay.dev/timestamp"
)

var (
	jIds     = []byte("ids")
	jKinds   = []byte("kinds")
	jAuthors = []byte("authors")
	jSince   = []byte("since")
	jUntil   = []byte("until")
	jLimit   = []byte("limit")
)

// Marshal appends the canonical JSON form of f to dst. Fields are sorted
// first so the same logical filter always serializes identically.
func (f *F) Marshal(dst []byte) []byte {
	f.Sort()
	dst = append(dst, '{')
	first := true
	sep := func() {
		if !first {
			dst = append(dst, ',')
		}
		first = false
	}
	if f.Ids != nil {
		sep()
		dst = text.JSONKey(dst, jIds)
		dst = marshalHexArray(dst, *f.Ids)
	}
	if f.Kinds != nil {
		sep()
		dst = text.JSONKey(dst, jKinds)
		dst = append(dst, '[')
		for i, k := range *f.Kinds {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = strconv.AppendUint(dst, uint64(k), 10)
		}
		dst = append(dst, ']')
	}
	if f.Authors != nil {
		sep()
		dst = text.JSONKey(dst, jAuthors)
		dst = marshalHexArray(dst, *f.Authors)
	}
	letters := make([]byte, 0, len(f.Tags))
	for letter := range f.Tags {
		letters = append(letters, letter)
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	for _, letter := range letters {
		sep()
		dst = append(dst, '"', '#', letter, '"', ':')
		dst = append(dst, '[')
		for i, v := range f.Tags[letter] {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = text.AppendQuote(dst, v, text.NostrEscape)
		}
		dst = append(dst, ']')
	}
	if f.Since != nil {
		sep()
		dst = text.JSONKey(dst, jSince)
		dst = f.Since.Marshal(dst)
	}
	if f.Until != nil {
		sep()
		dst = text.JSONKey(dst, jUntil)
		dst = f.Until.Marshal(dst)
	}
	if f.Limit != nil {
		sep()
		dst = text.JSONKey(dst, jLimit)
		dst = strconv.AppendInt(dst, int64(*f.Limit), 10)
	}
	dst = append(dst, '}')
	return dst
}

func marshalHexArray(dst []byte, vs [][]byte) []byte {
	dst = append(dst, '[')
	for i, v := range vs {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = text.AppendQuote(dst, v, hex.EncAppend)
	}
	dst = append(dst, ']')
	return dst
}

// Unmarshal reads a JSON filter object from b into f, returning whatever
// follows the closing brace.
func (f *F) Unmarshal(b []byte) (r []byte, err error) {
	r = skipWS(b)
	if len(r) == 0 || r[0] != '{' {
		return r, errorf.E("filter: expected '{'")
	}
	r = r[1:]
	for {
		r = skipWS(r)
		if len(r) == 0 {
			return r, errorf.E("filter: truncated object")
		}
		if r[0] == '}' {
			return r[1:], nil
		}
		if r[0] != '"' {
			return r, errorf.E("filter: expected key, got %q", r[:1])
		}
		var key []byte
		if key, r, err = text.UnmarshalQuoted(r); err != nil {
			return
		}
		r = skipWS(r)
		if len(r) == 0 || r[0] != ':' {
			return r, errorf.E("filter: expected ':' after key %q", key)
		}
		r = r[1:]
		r = skipWS(r)

		switch {
		case len(key) == 2 && key[0] == '#':
			var values [][]byte
			if values, r, err = unmarshalStringArray(r); err != nil {
				return
			}
			if f.Tags == nil {
				f.Tags = make(map[byte][][]byte)
			}
			f.Tags[key[1]] = values
		case string(key) == string(jIds):
			var values [][]byte
			if values, r, err = unmarshalHexArray(r); err != nil {
				return
			}
			f.Ids = &values
		case string(key) == string(jKinds):
			var ks []kind.T
			if ks, r, err = unmarshalKindArray(r); err != nil {
				return
			}
			f.Kinds = &ks
		case string(key) == string(jAuthors):
			var values [][]byte
			if values, r, err = unmarshalHexArray(r); err != nil {
				return
			}
			f.Authors = &values
		case string(key) == string(jSince):
			var ts timestamp.T
			if ts, r, err = timestamp.Unmarshal(r); err != nil {
				return
			}
			f.Since = &ts
		case string(key) == string(jUntil):
			var ts timestamp.T
			if ts, r, err = timestamp.Unmarshal(r); err != nil {
				return
			}
			f.Until = &ts
		case string(key) == string(jLimit):
			var n int
			if n, r, err = parseInt(r); err != nil {
				return
			}
			f.Limit = &n
		default:
			return r, errorf.E("filter: unknown key %q", key)
		}
		r = skipWS(r)
		if len(r) == 0 {
			return r, errorf.E("filter: truncated object")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == '}' {
			return r[1:], nil
		}
		return r, errorf.E("filter: expected ',' or '}', got %q", r[:1])
	}
}

// Unmarshal decodes b into a new filter.
func Unmarshal(b []byte) (f *F, rest []byte, err error) {
	f = New()
	rest, err = f.Unmarshal(b)
	return
}

func unmarshalHexArray(r []byte) (out [][]byte, rest []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	for {
		r = skipWS(r)
		if len(r) == 0 {
			return nil, r, errorf.E("filter: truncated array")
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		var v []byte
		if v, r, err = text.UnmarshalHex(r); err != nil {
			return
		}
		out = append(out, v)
		r = skipWS(r)
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
		}
	}
}

func unmarshalStringArray(r []byte) (out [][]byte, rest []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	for {
		r = skipWS(r)
		if len(r) == 0 {
			return nil, r, errorf.E("filter: truncated array")
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		var v []byte
		if v, r, err = text.UnmarshalQuoted(r); err != nil {
			return
		}
		out = append(out, v)
		r = skipWS(r)
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
		}
	}
}

func unmarshalKindArray(r []byte) (out []kind.T, rest []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	for {
		r = skipWS(r)
		if len(r) == 0 {
			return nil, r, errorf.E("filter: truncated array")
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		var n int
		if n, r, err = parseInt(r); err != nil {
			return
		}
		out = append(out, kind.T(n))
		r = skipWS(r)
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
		}
	}
}

func parseInt(r []byte) (v int, rest []byte, err error) {
	i := 0
	neg := false
	if i < len(r) && r[i] == '-' {
		neg = true
		i++
	}
	start := i
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		v = v*10 + int(r[i]-'0')
		i++
	}
	if i == start {
		return 0, r, errorf.E("filter: expected digits, got %q", r)
	}
	if neg {
		v = -v
	}
	return v, r[i:], nil
}

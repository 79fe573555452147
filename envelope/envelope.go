// Package envelope implements the wire frames of the relay's protocol: JSON
// arrays whose first element names the message type, grounded on the
// teacher's envelopes package (envelopes.Identify + one Unmarshal per
// envelope.L type) but hand-rolled against this relay's own hand-rolled JSON
// primitives (text, event, filter) instead of encoding/json.
package envelope

import (
	"fitrelay.dev/errorf"
	"fitrelay.dev/event"
	"fitrelay.dev/filter"
	"fitrelay.dev/text"
)

// Client-to-server and server-to-client label constants.
const (
	Event  = "EVENT"
	Req    = "REQ"
	Close  = "CLOSE"
	EOSE   = "EOSE"
	OK     = "OK"
	Notice = "NOTICE"
)

// Identify reads the opening `["<label>",` of a frame and returns the label
// plus whatever follows it (not yet consuming the frame's closing ']').
func Identify(b []byte) (label string, rest []byte, err error) {
	r := skipWS(b)
	if len(r) == 0 || r[0] != '[' {
		return "", r, errorf.E("envelope: expected '['")
	}
	r = skipWS(r[1:])
	var l []byte
	if l, r, err = text.UnmarshalQuoted(r); err != nil {
		return "", r, errorf.E("envelope: expected label: %w", err)
	}
	r = skipWS(r)
	if len(r) == 0 || r[0] != ',' {
		return "", r, errorf.E("envelope: expected ',' after label")
	}
	return string(l), skipWS(r[1:]), nil
}

// ParseEvent reads the event object and closing ']' of an EVENT frame.
func ParseEvent(r []byte) (ev *event.E, err error) {
	if ev, r, err = event.Unmarshal(r); err != nil {
		return nil, err
	}
	return ev, expectClose(r)
}

// ParseReq reads the subscription label and one or more filter objects,
// followed by the closing ']', from a REQ frame.
func ParseReq(r []byte) (label string, filters filter.S, err error) {
	var l []byte
	if l, r, err = text.UnmarshalQuoted(r); err != nil {
		return "", nil, errorf.E("envelope: expected REQ label: %w", err)
	}
	label = string(l)
	for {
		r = skipWS(r)
		if len(r) == 0 {
			return "", nil, errorf.E("envelope: truncated REQ")
		}
		if r[0] == ']' {
			if len(filters) == 0 {
				return "", nil, errorf.E("envelope: REQ has no filters")
			}
			return label, filters, nil
		}
		if r[0] != ',' {
			return "", nil, errorf.E("envelope: expected ',' or ']', got %q", r[:1])
		}
		r = skipWS(r[1:])
		var f *filter.F
		if f, r, err = filter.Unmarshal(r); err != nil {
			return "", nil, err
		}
		filters = append(filters, f)
	}
}

// ParseClose reads the subscription label and closing ']' of a CLOSE frame.
func ParseClose(r []byte) (label string, err error) {
	var l []byte
	if l, r, err = text.UnmarshalQuoted(r); err != nil {
		return "", errorf.E("envelope: expected CLOSE label: %w", err)
	}
	return string(l), expectClose(r)
}

func expectClose(r []byte) error {
	r = skipWS(r)
	if len(r) == 0 || r[0] != ']' {
		return errorf.E("envelope: expected ']'")
	}
	return nil
}

// WriteEvent renders `["EVENT","<label>",<event>]`.
func WriteEvent(dst []byte, label string, ev *event.E) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(Event), text.NostrEscape)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(label), text.NostrEscape)
	dst = append(dst, ',')
	dst = ev.Marshal(dst)
	dst = append(dst, ']')
	return dst
}

// WriteEOSE renders `["EOSE","<label>"]`.
func WriteEOSE(dst []byte, label string) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(EOSE), text.NostrEscape)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(label), text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

// WriteOK renders `["OK","<id>",true|false,"<msg>"]`.
func WriteOK(dst []byte, id string, ok bool, msg string) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(OK), text.NostrEscape)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(id), text.NostrEscape)
	dst = append(dst, ',')
	if ok {
		dst = append(dst, "true"...)
	} else {
		dst = append(dst, "false"...)
	}
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(msg), text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

// WriteNotice renders `["NOTICE","<msg>"]`.
func WriteNotice(dst []byte, msg string) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(Notice), text.NostrEscape)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(msg), text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

func skipWS(r []byte) []byte {
	for len(r) > 0 {
		switch r[0] {
		case ' ', '\t', '\n', '\r':
			r = r[1:]
			continue
		}
		break
	}
	return r
}

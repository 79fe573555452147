package event

import (
	"bytes"
	"strconv"

	"github.com/minio/sha256-simd"

	"fitrelay.dev/errorf"
	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
	"fitrelay.dev/signer"
	"fitrelay.dev/text"
	"fitrelay.dev/timestamp"
)

// ToCanonical appends the canonical serialization
// [0, pubkey, created_at, kind, tags, content] to dst — the exact byte
// layout the id is a hash of. This is never the wire form; only Marshal is.
func (ev *E) ToCanonical(dst []byte) []byte {
	dst = append(dst, '[', '0', ',', '"')
	dst = hex.EncAppend(dst, ev.Pubkey)
	dst = append(dst, '"', ',')
	dst = strconv.AppendInt(dst, ev.CreatedAt.I64(), 10)
	dst = append(dst, ',')
	dst = appendKind(dst, ev.Kind)
	dst = append(dst, ',')
	dst = ev.Tags.Marshal(dst)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, ev.Content, text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

// GetIDBytes recomputes the event id from its canonical serialization.
func (ev *E) GetIDBytes() []byte {
	h := sha256.Sum256(ev.ToCanonical(nil))
	return h[:]
}

// Sign sets Pubkey from the signer, then populates Id and Sig from the
// signer's key. CreatedAt must already be set by the caller.
func (ev *E) Sign(s signer.I) (err error) {
	ev.Pubkey = s.Pub()
	ev.Id = ev.GetIDBytes()
	if ev.Sig, err = s.Sign(ev.Id); err != nil {
		return
	}
	return
}

// Verify checks that Id matches the recomputed hash and that Sig verifies
// against Pubkey.
func (ev *E) Verify() (bool, error) {
	recomputed := ev.GetIDBytes()
	if !bytes.Equal(recomputed, ev.Id) {
		return false, nil
	}
	var s signer.Signer
	if err := s.InitPub(ev.Pubkey); err != nil {
		return false, err
	}
	return s.Verify(ev.Id, ev.Sig)
}

// Kind of validation failure, carried on the wire as the OK-frame message
// prefix.
type ErrKind string

const (
	InvalidFormat   ErrKind = "INVALID_FORMAT"
	InvalidID       ErrKind = "INVALID_ID"
	InvalidSig      ErrKind = "INVALID_SIG"
	UnsupportedKind ErrKind = "UNSUPPORTED_KIND"
	ClockSkew       ErrKind = "CLOCK_SKEW"
)

// ValidationError is the typed error Validate returns, carrying the error
// taxonomy kind a PUBLISH's OK-frame message is built from.
type ValidationError struct {
	Kind ErrKind
	Msg  string
}

func (e *ValidationError) Error() string { return string(e.Kind) + ": " + e.Msg }

func invalid(k ErrKind, format string, a ...interface{}) *ValidationError {
	return &ValidationError{Kind: k, Msg: errorf.E(format, a...).Error()}
}

// Validate checks an event against the allow-list, id, signature, and
// clock-skew rules. It is pure: it has no side effects and performs no I/O.
func Validate(ev *E, futureSkew timestamp.T) (ok bool, err error) {
	if ev == nil || ev.Pubkey == nil || ev.Tags == nil || ev.Sig == nil {
		return false, invalid(InvalidFormat, "missing required field")
	}
	if len(ev.Pubkey) != 32 {
		return false, invalid(InvalidFormat, "pubkey must be 32 bytes, got %d", len(ev.Pubkey))
	}
	if len(ev.Sig) != 64 {
		return false, invalid(InvalidFormat, "sig must be 64 bytes, got %d", len(ev.Sig))
	}
	if len(ev.Id) != 32 {
		return false, invalid(InvalidFormat, "id must be 32 bytes, got %d", len(ev.Id))
	}
	if !kind.IsAllowed(ev.Kind) {
		return false, invalid(UnsupportedKind, "kind %d is not in the allow-list", ev.Kind)
	}
	recomputed := ev.GetIDBytes()
	if !bytes.Equal(recomputed, ev.Id) {
		return false, invalid(InvalidID, "id mismatch")
	}
	valid, verr := ev.Verify()
	if verr != nil {
		return false, invalid(InvalidSig, "%v", verr)
	}
	if !valid {
		return false, invalid(InvalidSig, "signature does not verify against pubkey")
	}
	if ev.CreatedAt > timestamp.Now()+futureSkew {
		return false, invalid(ClockSkew, "created_at %d is too far in the future", ev.CreatedAt.I64())
	}
	return true, nil
}

// Package signer defines the signing/verifying collaborator C1 and C8 use,
// and a concrete implementation over github.com/btcsuite/btcec/v2 — the
// real-world stand-in for the teacher's vendored crypto/ec fork, since
// curve math itself is out of scope (see spec's Non-goals).
package signer

import (
	"github.com/btcsuite/btcec/v2"
	"github.com/btcsuite/btcec/v2/schnorr"

	"fitrelay.dev/errorf"
)

// I is the signing/verifying collaborator. A relay identity (for C8
// reference events) and a client's event author both implement this.
type I interface {
	// Generate creates a new random key pair.
	Generate() error
	// InitSec initializes the signer from raw 32-byte secret key bytes.
	InitSec(sec []byte) error
	// InitPub initializes a verify-only signer from raw 32-byte BIP-340
	// x-only public key bytes.
	InitPub(pub []byte) error
	// Sec returns the raw secret key bytes.
	Sec() []byte
	// Pub returns the raw BIP-340 x-only public key bytes.
	Pub() []byte
	// Sign produces a BIP-340 schnorr signature over msg (expected to be a
	// 32-byte hash).
	Sign(msg []byte) ([]byte, error)
	// Verify checks a BIP-340 schnorr signature over msg.
	Verify(msg, sig []byte) (bool, error)
}

// Signer is the btcec-backed implementation of I.
type Signer struct {
	sec *btcec.PrivateKey
	pub *btcec.PublicKey
	pkb []byte
}

var _ I = (*Signer)(nil)

// Generate creates a new random key pair.
func (s *Signer) Generate() (err error) {
	if s.sec, err = btcec.NewPrivateKey(); err != nil {
		return
	}
	s.pub = s.sec.PubKey()
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// InitSec initializes the signer from raw 32-byte secret key bytes.
func (s *Signer) InitSec(sec []byte) (err error) {
	if len(sec) != 32 {
		return errorf.E("signer: secret key must be 32 bytes, got %d", len(sec))
	}
	s.sec, s.pub = btcec.PrivKeyFromBytes(sec)
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// InitPub initializes a verify-only signer from raw x-only public key bytes.
func (s *Signer) InitPub(pub []byte) (err error) {
	if s.pub, err = schnorr.ParsePubKey(pub); err != nil {
		return
	}
	s.pkb = pub
	return
}

// Sec returns the raw secret key bytes, or nil if this signer is verify-only.
func (s *Signer) Sec() []byte {
	if s.sec == nil {
		return nil
	}
	return s.sec.Serialize()
}

// Pub returns the raw BIP-340 x-only public key bytes.
func (s *Signer) Pub() []byte { return s.pkb }

// Sign produces a BIP-340 schnorr signature over msg.
func (s *Signer) Sign(msg []byte) (sig []byte, err error) {
	if s.sec == nil {
		return nil, errorf.E("signer: not initialized with a secret key")
	}
	var si *schnorr.Signature
	if si, err = schnorr.Sign(s.sec, msg); err != nil {
		return
	}
	sig = si.Serialize()
	return
}

// Verify checks a BIP-340 schnorr signature over msg.
func (s *Signer) Verify(msg, sig []byte) (valid bool, err error) {
	if s.pub == nil {
		return false, errorf.E("signer: not initialized with a public key")
	}
	var si *schnorr.Signature
	if si, err = schnorr.ParseSignature(sig); err != nil {
		return
	}
	valid = si.Verify(msg, s.pub)
	return
}

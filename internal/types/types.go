// Package types defines the fixed-width identifiers shared by the engine,
// the accounts store and the host runtime.
//
// Addresses and signatures follow Solana/X1 conventions: 32-byte Ed25519
// public keys and 64-byte signatures, both rendered as base58 text. Hashes
// are state commitments and print as hex in reports.
package types

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	PubkeySize    = 32
	SignatureSize = 64
	HashSize      = 32
)

// ErrInvalidPubkey is returned when decoded address text is not 32 bytes.
var ErrInvalidPubkey = errors.New("invalid pubkey")

// Pubkey is a 32-byte account address. Program-derived addresses share the
// type but are never valid Ed25519 points.
type Pubkey [PubkeySize]byte

// PubkeyFromBase58 parses an address.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var p Pubkey
	data, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("%w: %q: %v", ErrInvalidPubkey, s, err)
	}
	if len(data) != PubkeySize {
		return p, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidPubkey, s, len(data))
	}
	copy(p[:], data)
	return p, nil
}

// MustPubkeyFromBase58 is PubkeyFromBase58 for program IDs and other
// package-level constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PubkeyFromEd25519 converts a signing key's public half.
func PubkeyFromEd25519(pub ed25519.PublicKey) Pubkey {
	var p Pubkey
	copy(p[:], pub)
	return p
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Bytes returns the address as a seed or message slice.
func (p Pubkey) Bytes() []byte {
	return p[:]
}

// Compare orders addresses bytewise, the order used for hashing and
// iteration.
func (p Pubkey) Compare(other Pubkey) int {
	return bytes.Compare(p[:], other[:])
}

// MarshalText renders the address as base58 in JSON and config files.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := PubkeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Signature is a 64-byte Ed25519 signature over a transaction message. The
// first one identifies the transaction in receipts.
type Signature [SignatureSize]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero reports an unsigned slot.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// MarshalText renders the signature as base58.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Hash is a 32-byte digest: an account hash or the state root.
type Hash [HashSize]byte

func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Hex is the form printed by the audit report and used in snapshot names.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Package pda implements Program Derived Address (PDA) derivation.
//
// A PDA is sha256(seeds || bump || program_id || "ProgramDerivedAddress"),
// accepted only when the digest does not decode as an Ed25519 point, so no
// private key can ever sign for it. The canonical bump is the first bump,
// searching from 255 down, that yields such an off-curve address.
//
// Handlers that rely on one account per seed set must compare presented
// addresses against FindProgramAddress, never against a caller-supplied
// bump: several bumps can be off-curve for the same seeds.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/compute"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// PDA marker used in address derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrInvalidSeeds          = errors.New("invalid seeds: derived address is on curve")

	// ErrDerivationExhausted is returned when no bump in 0..=255 yields an
	// off-curve address.
	ErrDerivationExhausted = errors.New("unable to find a viable program address bump seed")

	// ErrDerivationMismatch is returned when a presented address or bump is
	// not the canonical derivation for the seeds.
	ErrDerivationMismatch = errors.New("address does not match canonical derivation")
)

// onCurve is swapped in tests to force exhaustion.
var onCurve = IsOnCurve

// CreateProgramAddress derives a program address from seeds and a program ID.
// The bump, if any, must already be the last seed. Returns ErrInvalidSeeds if
// the derived address is on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if err := checkSeeds(seeds, MaxSeeds); err != nil {
		return types.Pubkey{}, err
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))

	if onCurve(addr[:]) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress returns the canonical (address, bump) pair for seeds.
// It is a pure function of its inputs.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return FindProgramAddressMetered(seeds, programID, compute.Unmetered{})
}

// FindProgramAddressMetered is FindProgramAddress charging
// compute.CUFindProgramAddress per bump tried.
func FindProgramAddressMetered(seeds [][]byte, programID types.Pubkey, meter compute.Meter) (types.Pubkey, uint8, error) {
	// One slot is reserved for the bump seed.
	if err := checkSeeds(seeds, MaxSeeds-1); err != nil {
		return types.Pubkey{}, 0, err
	}

	seedsWithBump := make([][]byte, len(seeds)+1)
	copy(seedsWithBump, seeds)

	for bump := uint8(255); ; bump-- {
		if err := meter.Consume(compute.CUFindProgramAddress); err != nil {
			return types.Pubkey{}, 0, err
		}

		seedsWithBump[len(seeds)] = []byte{bump}
		addr, err := CreateProgramAddress(seedsWithBump, programID)
		if err == nil {
			return addr, bump, nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return types.Pubkey{}, 0, err
		}

		if bump == 0 {
			break
		}
	}

	return types.Pubkey{}, 0, ErrDerivationExhausted
}

// VerifyProgramAddress recomputes the address for (seeds, bump) and compares
// it with addr. A true result says nothing about canonicality.
func VerifyProgramAddress(addr types.Pubkey, seeds [][]byte, bump uint8, programID types.Pubkey) bool {
	derived, err := CreateProgramAddress(withBump(seeds, bump), programID)
	if err != nil {
		return false
	}
	return derived == addr
}

// VerifyCanonical checks that addr is the canonical PDA for seeds and that
// bump is its canonical bump.
func VerifyCanonical(addr types.Pubkey, seeds [][]byte, bump uint8, programID types.Pubkey, meter compute.Meter) error {
	canonical, canonicalBump, err := FindProgramAddressMetered(seeds, programID, meter)
	if err != nil {
		return err
	}
	if canonical != addr {
		return fmt.Errorf("%w: got %s, want %s", ErrDerivationMismatch, addr, canonical)
	}
	if canonicalBump != bump {
		return fmt.Errorf("%w: bump %d is not canonical bump %d", ErrDerivationMismatch, bump, canonicalBump)
	}
	return nil
}

// IsOnCurve reports whether b decodes as a point on the ed25519 curve.
// Decoding accepts non-canonical encodings, matching the runtime's
// curve25519 decompression.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

func checkSeeds(seeds [][]byte, max int) error {
	if len(seeds) > max {
		return fmt.Errorf("%w: %d > %d", ErrMaxSeedsExceeded, len(seeds), max)
	}
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return fmt.Errorf("%w: seed %d is %d bytes", ErrMaxSeedLengthExceeded, i, len(seed))
		}
	}
	return nil
}

func withBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, len(seeds)+1)
	copy(out, seeds)
	out[len(seeds)] = []byte{bump}
	return out
}

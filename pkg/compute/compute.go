// Package compute implements compute-unit metering for instruction execution.
//
// Every transaction gets one meter. Work whose cost depends on caller input,
// like the bump search of a program-address derivation, is charged against
// it so that a hostile seed set cannot make validation unbounded.
package compute

import (
	"errors"
	"fmt"
)

// Compute unit costs. These follow the Agave defaults.
const (
	CUDefault = uint64(200_000)   // Default CU limit per transaction
	CUMax     = uint64(1_400_000) // Max CU limit per transaction

	CUSignatureVerify      = uint64(720)   // Ed25519 signature verification
	CUCreateProgramAddress = uint64(1_500) // create_program_address
	CUFindProgramAddress   = uint64(1_500) // find_program_address, per bump tried
	CUInstructionBase      = uint64(150)   // dispatch of one instruction
)

var (
	// ErrComputeExceeded is returned when compute units are exhausted.
	ErrComputeExceeded = errors.New("compute budget exceeded")

	// ErrInvalidLimit is returned for a zero compute limit.
	ErrInvalidLimit = errors.New("invalid compute unit limit")
)

// Meter is the interface charged by metered operations.
type Meter interface {
	Consume(cost uint64) error
}

// ComputeMeter tracks compute unit consumption for one transaction.
// It is not safe for concurrent use; execution is single-threaded.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a meter with the given limit, clamped to CUMax.
func NewComputeMeter(limit uint64) (*ComputeMeter, error) {
	if limit == 0 {
		return nil, ErrInvalidLimit
	}
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}, nil
}

// Consume deducts cost. Once the budget is short the meter drains to zero
// and every later call fails as well.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cm.remaining < cost {
		have := cm.remaining
		cm.consumed += have
		cm.remaining = 0
		return fmt.Errorf("%w: need %d, have %d", ErrComputeExceeded, cost, have)
	}
	cm.remaining -= cost
	cm.consumed += cost
	return nil
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return cm.remaining
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return cm.consumed
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}

// Unmetered is a Meter that never runs out. Pure derivations use it.
type Unmetered struct{}

// Consume always succeeds.
func (Unmetered) Consume(uint64) error { return nil }

package engine

import (
	"errors"
	"fmt"

	smath "github.com/ava-labs/avalanchego/utils/math"
)

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	return smath.Add64(a, b)
}

// CheckedSub returns a-b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	return smath.Sub(a, b)
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	return smath.Mul64(a, b)
}

// Transfer moves amount lamports from one account to another. Neither account
// changes unless both sides succeed.
func Transfer(from, to *Account, amount uint64) error {
	if err := RequireWritable(from); err != nil {
		return err
	}
	if err := RequireWritable(to); err != nil {
		return err
	}
	if from.Address == to.Address {
		return nil
	}
	debited, err := CheckedSub(from.Lamports, amount)
	if err != nil {
		if errors.Is(err, ErrUnderflow) {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from.Address, from.Lamports, amount)
		}
		return err
	}
	credited, err := CheckedAdd(to.Lamports, amount)
	if err != nil {
		return fmt.Errorf("%w: crediting %s", err, to.Address)
	}
	from.Lamports = debited
	to.Lamports = credited
	return nil
}

// WrappingCounter is a sequence number that wraps at 2^64. It must never hold
// a balance or any other value-bearing quantity.
type WrappingCounter uint64

// Next returns the counter advanced by one, wrapping to zero.
func (c WrappingCounter) Next() WrappingCounter {
	return c + 1
}

package engine

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckedArithmetic(t *testing.T) {
	require := require.New(t)

	sum, err := CheckedAdd(math.MaxUint64-1, 1)
	require.NoError(err)
	require.Equal(uint64(math.MaxUint64), sum)

	_, err = CheckedAdd(math.MaxUint64, 1)
	require.ErrorIs(err, ErrOverflow)
	require.Equal(TagOverflow, TagOf(err))

	_, err = CheckedSub(0, 1)
	require.ErrorIs(err, ErrUnderflow)
	require.Equal(TagUnderflow, TagOf(err))

	diff, err := CheckedSub(10, 10)
	require.NoError(err)
	require.Zero(diff)

	_, err = CheckedMul(math.MaxUint64/2+1, 2)
	require.ErrorIs(err, ErrOverflow)

	prod, err := CheckedMul(0, math.MaxUint64)
	require.NoError(err)
	require.Zero(prod)
}

func TestTransfer(t *testing.T) {
	require := require.New(t)

	from := &Account{Address: keyOf("from"), Lamports: 100, IsWritable: true}
	to := &Account{Address: keyOf("to"), Lamports: 5, IsWritable: true}

	require.NoError(Transfer(from, to, 40))
	require.Equal(uint64(60), from.Lamports)
	require.Equal(uint64(45), to.Lamports)

	err := Transfer(from, to, 61)
	require.ErrorIs(err, ErrInsufficientFunds)
	require.Equal(uint64(60), from.Lamports)
	require.Equal(uint64(45), to.Lamports)

	rich := &Account{Address: keyOf("rich"), Lamports: math.MaxUint64, IsWritable: true}
	err = Transfer(from, rich, 1)
	require.ErrorIs(err, ErrOverflow)
	require.Equal(uint64(60), from.Lamports)
	require.Equal(uint64(math.MaxUint64), rich.Lamports)

	to.IsWritable = false
	require.ErrorIs(Transfer(from, to, 1), ErrNotWritable)
	require.Equal(uint64(60), from.Lamports)
}

func TestWrappingCounter(t *testing.T) {
	c := WrappingCounter(math.MaxUint64)
	require.Equal(t, WrappingCounter(0), c.Next())
}

func TestTagOf(t *testing.T) {
	require := require.New(t)

	require.Equal(TagNone, TagOf(nil))
	require.Equal(TagUnknown, TagOf(errors.New("boom")))
	require.Equal(TagAlreadyClosed, TagOf(fmt.Errorf("role %q: %w", "vault", ErrAlreadyClosed)))
	require.Equal(TagDerivationExhausted, TagOf(ErrDerivationExhausted))
	require.Equal(TagComputeExceeded, TagOf(fmt.Errorf("derive: %w", ErrComputeExceeded)))
}

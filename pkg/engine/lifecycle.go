package engine

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// Rent parameters. An account holding RentExemptMinimum(len(data)) lamports
// is never charged rent.
const (
	AccountStorageOverhead  = 128
	LamportsPerByteYear     = 3480
	ExemptionThresholdYears = 2
)

// RentExemptMinimum returns the balance needed to keep dataLen bytes alive.
func RentExemptMinimum(dataLen int) (uint64, error) {
	if dataLen < 0 {
		return 0, fmt.Errorf("%w: negative data length %d", ErrInvalidArgument, dataLen)
	}
	size, err := CheckedAdd(uint64(dataLen), AccountStorageOverhead)
	if err != nil {
		return 0, err
	}
	perYear, err := CheckedMul(size, LamportsPerByteYear)
	if err != nil {
		return 0, err
	}
	return CheckedMul(perYear, ExemptionThresholdYears)
}

// InitOnce moves account from Uninitialized to Initialized as a T and
// returns a writable view holding the zero record.
//
// An unallocated system account is created in place: payer funds its rent
// and the account is assigned to the invoking program. The new address must
// either have signed or be a derived address the program signed for (see
// TxContext.SignSeeds). An allocated account must already belong to the
// program, have the schema's size, and be zero-filled. Any non-zero
// discriminator, including the closed tombstone, is ErrAlreadyInitialized.
//
// Nothing is modified unless every check passes.
func InitOnce[T any](s *Schema[T], account, payer *Account, ctx *TxContext) (*View[T], error) {
	if err := RequireWritable(account); err != nil {
		return nil, err
	}

	rt := s.Type()
	if types.IsSystemOwned(account.Owner) && len(account.Data) == 0 {
		if err := allocate(rt, account, payer, ctx); err != nil {
			return nil, err
		}
	} else if err := checkUninitialized(rt, account, ctx); err != nil {
		return nil, err
	}

	copy(account.Data[:DiscriminatorSize], rt.Discriminator[:])
	return &View[T]{account: account, rt: rt, writable: true, Record: new(T)}, nil
}

// allocate funds, sizes and assigns a fresh system account.
func allocate(rt *RecordType, account, payer *Account, ctx *TxContext) error {
	if !ctx.IsSigned(account.Address) && !ctx.isProgramSigned(account.Address) {
		return fmt.Errorf("%w: new account %s", ErrNotSigner, account.Address)
	}
	if payer == nil {
		return fmt.Errorf("%w: no payer for %s", ErrNotEnoughAccounts, account.Address)
	}
	if payer.Address == account.Address {
		return fmt.Errorf("%w: %s pays for itself", ErrInvalidArgument, account.Address)
	}
	if err := RequireWritable(payer); err != nil {
		return err
	}
	if err := RequireSigner(payer, ctx); err != nil {
		return err
	}

	rent, err := RentExemptMinimum(rt.Size)
	if err != nil {
		return err
	}
	var topUp uint64
	if account.Lamports < rent {
		topUp = rent - account.Lamports
	}
	payerAfter, err := CheckedSub(payer.Lamports, topUp)
	if err != nil {
		if errors.Is(err, ErrUnderflow) {
			return fmt.Errorf("%w: payer %s has %d, rent needs %d", ErrInsufficientFunds, payer.Address, payer.Lamports, topUp)
		}
		return err
	}
	accountAfter, err := CheckedAdd(account.Lamports, topUp)
	if err != nil {
		return err
	}

	payer.Lamports = payerAfter
	account.Lamports = accountAfter
	account.Data = make([]byte, rt.Size)
	account.Owner = ctx.ProgramID()
	ctx.Log("allocated %d bytes for %s at %s", rt.Size, rt.Name, account.Address)
	return nil
}

// checkUninitialized validates an allocated program account before init.
func checkUninitialized(rt *RecordType, account *Account, ctx *TxContext) error {
	if err := RequireOwner(account, ctx.ProgramID()); err != nil {
		return err
	}
	disc, ok := account.Discriminator()
	if !ok {
		return fmt.Errorf("%w: %s has %d bytes", ErrMalformed, account.Address, len(account.Data))
	}
	if disc != UninitializedDiscriminator {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, account.Address)
	}
	if len(account.Data) != rt.Size {
		return fmt.Errorf("%w: %s has %d bytes, %s needs %d", ErrMalformed, account.Address, len(account.Data), rt.Name, rt.Size)
	}
	for _, b := range account.Data[DiscriminatorSize:] {
		if b != 0 {
			return fmt.Errorf("%w: %s has data behind a zero discriminator", ErrAlreadyInitialized, account.Address)
		}
	}
	return nil
}

// Close moves Initialized to Closed: every lamport goes to destination, the
// data is zeroed and the tombstone written. Closing twice is
// ErrAlreadyClosed. Nothing is modified unless every check passes.
func Close(account, destination *Account, ctx *TxContext) error {
	switch StateOf(account) {
	case StateClosed:
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, account.Address)
	case StateUninitialized:
		return fmt.Errorf("%w: %s holds no record", ErrTypeMismatch, account.Address)
	}
	if err := RequireOwner(account, ctx.ProgramID()); err != nil {
		return err
	}
	if err := RequireWritable(account); err != nil {
		return err
	}
	if err := RequireWritable(destination); err != nil {
		return err
	}
	if destination.Address == account.Address {
		return fmt.Errorf("%w: %s closed into itself", ErrInvalidArgument, account.Address)
	}

	total, err := CheckedAdd(destination.Lamports, account.Lamports)
	if err != nil {
		return err
	}

	destination.Lamports = total
	account.Lamports = 0
	for i := range account.Data {
		account.Data[i] = 0
	}
	copy(account.Data[:DiscriminatorSize], ClosedDiscriminator[:])
	ctx.Log("closed %s into %s", account.Address, destination.Address)
	return nil
}

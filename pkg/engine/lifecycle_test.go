package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
)

func TestRentExemptMinimum(t *testing.T) {
	require := require.New(t)

	rent, err := RentExemptMinimum(0)
	require.NoError(err)
	require.Equal(uint64(890_880), rent)

	rent, err = RentExemptMinimum(49)
	require.NoError(err)
	require.Equal(uint64((49+128)*3480*2), rent)

	_, err = RentExemptMinimum(-1)
	require.ErrorIs(err, ErrInvalidArgument)
}

func TestInitOnceAllocated(t *testing.T) {
	require := require.New(t)
	s := newTestSchemas(t)
	ctx := NewTxContext(testProgramID, nil, nil)

	acct := &Account{
		Address:    keyOf("state"),
		Owner:      testProgramID,
		Lamports:   1_000_000,
		Data:       make([]byte, s.user.Type().Size),
		IsWritable: true,
	}
	v, err := InitOnce(s.user, acct, nil, ctx)
	require.NoError(err)
	require.Equal(StateInitialized, StateOf(acct))

	v.Record.Owner = keyOf("admin")
	require.NoError(v.Save())

	// A second init must not reset the stored owner.
	before := acct.Clone()
	_, err = InitOnce(s.user, acct, nil, ctx)
	require.ErrorIs(err, ErrAlreadyInitialized)
	require.Equal(before, acct)

	// Nor may another record type claim it.
	_, err = InitOnce(s.admin, acct, nil, ctx)
	require.ErrorIs(err, ErrAlreadyInitialized)
}

func TestInitOnceRejects(t *testing.T) {
	s := newTestSchemas(t)
	size := s.user.Type().Size

	tests := []struct {
		name string
		acct *Account
		err  error
	}{
		{
			name: "not writable",
			acct: &Account{Owner: testProgramID, Data: make([]byte, size)},
			err:  ErrNotWritable,
		},
		{
			name: "foreign owner",
			acct: &Account{Owner: otherProgramID, Data: make([]byte, size), IsWritable: true},
			err:  ErrOwnerMismatch,
		},
		{
			name: "wrong size",
			acct: &Account{Owner: testProgramID, Data: make([]byte, size+1), IsWritable: true},
			err:  ErrMalformed,
		},
		{
			name: "too short for a discriminator",
			acct: &Account{Owner: testProgramID, Data: make([]byte, 4), IsWritable: true},
			err:  ErrMalformed,
		},
		{
			name: "body behind zero discriminator",
			acct: func() *Account {
				a := &Account{Owner: testProgramID, Data: make([]byte, size), IsWritable: true}
				a.Data[size-1] = 1
				return a
			}(),
			err: ErrAlreadyInitialized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			ctx := NewTxContext(testProgramID, nil, nil)
			tt.acct.Address = keyOf(tt.name)
			before := tt.acct.Clone()

			_, err := InitOnce(s.user, tt.acct, nil, ctx)
			require.ErrorIs(err, tt.err)
			require.Equal(before, tt.acct)
		})
	}
}

func TestInitOnceCreatesAccount(t *testing.T) {
	require := require.New(t)
	s := newTestSchemas(t)

	payerKey, newKey := keyOf("payer"), keyOf("new")
	ctx := NewTxContext(testProgramID, NewSignerSet(payerKey, newKey), nil)

	payer := &Account{Address: payerKey, Owner: types.SystemProgramAddr, Lamports: 10_000_000, IsSigner: true, IsWritable: true}
	acct := &Account{Address: newKey, Owner: types.SystemProgramAddr, IsSigner: true, IsWritable: true}

	_, err := InitOnce(s.user, acct, payer, ctx)
	require.NoError(err)

	rent, err := RentExemptMinimum(s.user.Type().Size)
	require.NoError(err)
	require.Equal(rent, acct.Lamports)
	require.Equal(10_000_000-rent, payer.Lamports)
	require.Equal(testProgramID, acct.Owner)
	require.Len(acct.Data, s.user.Type().Size)
	require.Len(ctx.Logs(), 1)
}

func TestInitOnceCreateRejects(t *testing.T) {
	require := require.New(t)
	s := newTestSchemas(t)

	payerKey, newKey := keyOf("payer"), keyOf("new")
	fresh := func() (*Account, *Account) {
		payer := &Account{Address: payerKey, Owner: types.SystemProgramAddr, Lamports: 10_000_000, IsSigner: true, IsWritable: true}
		acct := &Account{Address: newKey, Owner: types.SystemProgramAddr, IsWritable: true}
		return payer, acct
	}

	// The new address neither signed nor was derived by the program.
	payer, acct := fresh()
	ctx := NewTxContext(testProgramID, NewSignerSet(payerKey), nil)
	_, err := InitOnce(s.user, acct, payer, ctx)
	require.ErrorIs(err, ErrNotSigner)

	// Payer cannot cover rent.
	payer, acct = fresh()
	payer.Lamports = 1
	ctx = NewTxContext(testProgramID, NewSignerSet(payerKey, newKey), nil)
	_, err = InitOnce(s.user, acct, payer, ctx)
	require.ErrorIs(err, ErrInsufficientFunds)
	require.Equal(uint64(1), payer.Lamports)
	require.Empty(acct.Data)
	require.Equal(types.SystemProgramAddr, acct.Owner)

	// Payer did not sign.
	payer, acct = fresh()
	ctx = NewTxContext(testProgramID, NewSignerSet(newKey), nil)
	_, err = InitOnce(s.user, acct, payer, ctx)
	require.ErrorIs(err, ErrNotSigner)

	// No payer at all.
	_, acct = fresh()
	_, err = InitOnce(s.user, acct, nil, ctx)
	require.ErrorIs(err, ErrNotEnoughAccounts)
}

func TestInitOnceDerivedAddress(t *testing.T) {
	require := require.New(t)
	s := newTestSchemas(t)

	authority := keyOf("authority")
	seeds := [][]byte{[]byte("vault"), authority[:]}
	addr, bump, err := pda.FindProgramAddress(seeds, testProgramID)
	require.NoError(err)

	ctx := NewTxContext(testProgramID, NewSignerSet(authority), nil)
	signed, err := ctx.SignSeeds(append(seeds, []byte{bump})...)
	require.NoError(err)
	require.Equal(addr, signed)

	payer := &Account{Address: authority, Owner: types.SystemProgramAddr, Lamports: 10_000_000, IsSigner: true, IsWritable: true}
	acct := &Account{Address: addr, Owner: types.SystemProgramAddr, IsWritable: true}
	v, err := InitOnce(s.vault, acct, payer, ctx)
	require.NoError(err)

	v.Record.Authority = authority
	v.Record.Bump = bump
	require.NoError(v.Save())
}

func TestCloseLifecycle(t *testing.T) {
	require := require.New(t)
	s := newTestSchemas(t)
	ctx := NewTxContext(testProgramID, nil, nil)

	acct := typedAccount(t, s.user, keyOf("vault"), testProgramID, userRecord{Owner: keyOf("owner"), Balance: 500})
	dest := &Account{Address: keyOf("dest"), Lamports: 10, IsWritable: true}

	require.NoError(Close(acct, dest, ctx))
	require.Equal(uint64(1_000_010), dest.Lamports)
	require.Zero(acct.Lamports)
	require.Equal(StateClosed, StateOf(acct))
	for _, b := range acct.Data[DiscriminatorSize:] {
		require.Zero(b)
	}

	// Stale data is gone for every reader.
	_, err := s.user.As(acct, testProgramID)
	require.ErrorIs(err, ErrTypeMismatch)

	before := dest.Clone()
	err = Close(acct, dest, ctx)
	require.ErrorIs(err, ErrAlreadyClosed)
	require.Equal(before, dest)

	// Closed is terminal.
	_, err = InitOnce(s.user, acct, nil, ctx)
	require.ErrorIs(err, ErrAlreadyInitialized)
}

func TestViewSaveAfterClose(t *testing.T) {
	require := require.New(t)
	s := newTestSchemas(t)
	ctx := NewTxContext(testProgramID, nil, nil)

	acct := &Account{
		Address:    keyOf("vault"),
		Owner:      testProgramID,
		Lamports:   1_000_000,
		Data:       make([]byte, s.user.Type().Size),
		IsWritable: true,
	}
	v, err := InitOnce(s.user, acct, nil, ctx)
	require.NoError(err)
	v.Record.Owner = keyOf("owner")
	v.Record.Balance = 500
	require.NoError(v.Save())

	dest := &Account{Address: keyOf("dest"), IsWritable: true}
	require.NoError(v.Close(dest, ctx))
	require.Equal(uint64(1_000_000), dest.Lamports)

	// The stale view cannot write its record behind the tombstone.
	require.ErrorIs(v.Save(), ErrAlreadyClosed)
	require.Equal(StateClosed, StateOf(acct))
	for _, b := range acct.Data[DiscriminatorSize:] {
		require.Zero(b)
	}
	require.ErrorIs(v.Close(dest, ctx), ErrAlreadyClosed)
}

func TestViewSaveAfterRetype(t *testing.T) {
	require := require.New(t)
	s := newTestSchemas(t)

	acct := typedAccount(t, s.user, keyOf("state"), testProgramID, userRecord{Owner: keyOf("owner"), Balance: 7})
	v, err := s.user.As(acct, testProgramID)
	require.NoError(err)

	copy(acct.Data[:DiscriminatorSize], s.admin.Type().Discriminator[:])
	before := acct.Clone()
	v.Record.Balance = 8
	require.ErrorIs(v.Save(), ErrTypeMismatch)
	require.Equal(before, acct)
}

func TestCloseRejects(t *testing.T) {
	s := newTestSchemas(t)

	tests := []struct {
		name  string
		setup func(acct, dest *Account)
		err   error
	}{
		{
			name:  "foreign owner",
			setup: func(acct, _ *Account) { acct.Owner = otherProgramID },
			err:   ErrOwnerMismatch,
		},
		{
			name:  "account not writable",
			setup: func(acct, _ *Account) { acct.IsWritable = false },
			err:   ErrNotWritable,
		},
		{
			name:  "destination not writable",
			setup: func(_, dest *Account) { dest.IsWritable = false },
			err:   ErrNotWritable,
		},
		{
			name:  "destination overflow",
			setup: func(_, dest *Account) { dest.Lamports = math.MaxUint64 },
			err:   ErrOverflow,
		},
		{
			name:  "into itself",
			setup: func(acct, dest *Account) { dest.Address = acct.Address },
			err:   ErrInvalidArgument,
		},
		{
			name:  "uninitialized",
			setup: func(acct, _ *Account) { copy(acct.Data, UninitializedDiscriminator[:]) },
			err:   ErrTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			ctx := NewTxContext(testProgramID, nil, nil)
			acct := typedAccount(t, s.user, keyOf("acct"), testProgramID, userRecord{Balance: 1})
			dest := &Account{Address: keyOf("dest"), Lamports: 10, IsWritable: true}
			tt.setup(acct, dest)
			acctBefore, destBefore := acct.Clone(), dest.Clone()

			require.ErrorIs(Close(acct, dest, ctx), tt.err)
			require.Equal(acctBefore, acct)
			require.Equal(destBefore, dest)
		})
	}
}

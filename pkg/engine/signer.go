package engine

import (
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// RequireSigner fails with ErrNotSigner unless the host verified a signature
// for the account. Naming an address in account data is not signing.
func RequireSigner(account *Account, ctx *TxContext) error {
	if !account.IsSigner || !ctx.IsSigned(account.Address) {
		return fmt.Errorf("%w: %s", ErrNotSigner, account.Address)
	}
	return nil
}

// RequireAuthority checks that claimant is the key stored in a record and
// that it signed.
func RequireAuthority(stored types.Pubkey, claimant *Account, ctx *TxContext) error {
	if claimant.Address != stored {
		return fmt.Errorf("%w: got %s, want %s", ErrAuthorityMismatch, claimant.Address, stored)
	}
	return RequireSigner(claimant, ctx)
}

// RequireWritable fails with ErrNotWritable unless the transaction marked the
// account writable.
func RequireWritable(account *Account) error {
	if !account.IsWritable {
		return fmt.Errorf("%w: %s", ErrNotWritable, account.Address)
	}
	return nil
}

// RequireOwner fails with ErrOwnerMismatch unless owner owns the account.
func RequireOwner(account *Account, owner types.Pubkey) error {
	if account.Owner != owner {
		return fmt.Errorf("%w: %s owned by %s, want %s", ErrOwnerMismatch, account.Address, account.Owner, owner)
	}
	return nil
}

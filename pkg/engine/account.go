// Package engine implements account-capability validation for instruction
// handlers.
//
// Before a handler may touch account state the engine decides, for every
// account the transaction presents:
//   - whether it signed (RequireSigner, RequireAuthority)
//   - whether the expected program owns it (Schema.As)
//   - whether it holds the expected record type (discriminator)
//   - whether it sits at the canonical derived address (pda)
//   - whether it is in the expected lifecycle state (InitOnce, Close)
//
// These primitives can be called directly, or declared per role and composed
// by an Instruction, which rejects the instruction on the first failed check
// and restores every account it was given.
package engine

import (
	"github.com/fortiblox/X1-Bastion/internal/types"
)

// Account is one account as presented to an instruction. The flags are
// supplied by the host for this instruction only and are never persisted.
type Account struct {
	// Address is the account's 32-byte key.
	Address types.Pubkey

	// Owner is the program allowed to mutate Data.
	Owner types.Pubkey

	// Lamports is the transferable balance.
	Lamports uint64

	// Data is the raw buffer. Once typed, the first 8 bytes are the
	// discriminator of its record type.
	Data []byte

	// Executable marks program accounts.
	Executable bool

	IsSigner   bool
	IsWritable bool
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = make([]byte, len(a.Data))
		copy(c.Data, a.Data)
	}
	return &c
}

// Discriminator returns the first 8 bytes of Data, or false if the buffer
// is too short to hold one.
func (a *Account) Discriminator() (Discriminator, bool) {
	var d Discriminator
	if len(a.Data) < DiscriminatorSize {
		return d, false
	}
	copy(d[:], a.Data[:DiscriminatorSize])
	return d, true
}

// snapshot deep-copies a set of accounts so they can be restored on rejection.
func snapshot(accounts []*Account) []*Account {
	snap := make([]*Account, len(accounts))
	for i, a := range accounts {
		snap[i] = a.Clone()
	}
	return snap
}

// restore writes a snapshot back in place. Callers keep their pointers.
func restore(accounts, snap []*Account) {
	for i, a := range accounts {
		if a == nil || snap[i] == nil {
			continue
		}
		*a = *snap[i].Clone()
	}
}

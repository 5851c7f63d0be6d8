// Package bumpcanon pairs an initializer that accepts any valid bump from the
// caller with one that only accepts the canonical bump.
//
// Every bump whose derivation lands off the curve gives a valid address, so
// trusting the caller's bump lets one authority own several "unique" vaults.
package bumpcanon

import (
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("Bumj5wt9dm2cK2o9ayeguHUtpnwnUFLQHaqUaewFegV2")

// Vault is the single vault of Authority.
type Vault struct {
	Authority types.Pubkey
	Bump      uint8
}

// AuthorityKey implements engine.Authority.
func (v *Vault) AuthorityKey() types.Pubkey { return v.Authority }

// BumpSeed implements engine.Bumped.
func (v *Vault) BumpSeed() uint8 { return v.Bump }

// BumpArgs carries a caller-chosen bump.
type BumpArgs struct {
	Bump uint8
}

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	vault := engine.MustSchema[Vault](reg, "Vault")
	vaultSeeds := []engine.Seed{engine.SeedString("vault"), engine.SeedRole("authority")}

	return engine.NewProgram(ProgramID, "bump_seed_canonicalization", reg).MustRegister(
		// The address is derived with the caller's bump and never compared
		// with the canonical one.
		engine.MustInstruction("insecure_init", []engine.RoleSpec{
			{Name: "vault", Writable: true},
			{Name: "authority", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[BumpArgs](raw)
			if err != nil {
				return err
			}
			acct, authority := accts.Account("vault"), accts.Account("authority")
			addr, err := ctx.SignSeeds([]byte("vault"), authority.Address[:], []byte{args.Bump})
			if err != nil {
				return err
			}
			if addr != acct.Address {
				return fmt.Errorf("%w: bump %d gives %s, got %s", engine.ErrDerivationMismatch, args.Bump, addr, acct.Address)
			}
			v, err := engine.InitOnce(vault, acct, authority, ctx)
			if err != nil {
				return err
			}
			v.Record.Authority = authority.Address
			v.Record.Bump = args.Bump
			return v.Save()
		}),

		engine.MustInstruction("secure_init", []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault, Seeds: vaultSeeds, Init: true, Payer: "authority"},
			{Name: "authority", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, _ []byte) error {
			v, err := engine.ViewOf[Vault](accts, "vault")
			if err != nil {
				return err
			}
			v.Record.Authority = accts.Account("authority").Address
			v.Record.Bump = accts.Bump("vault")
			ctx.Log("vault %s bump %d", v.Address(), v.Record.Bump)
			return v.Save()
		}),

		engine.MustInstruction("deposit", []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault, Seeds: vaultSeeds},
			{Name: "authority", Signer: true, Writable: true, AuthorityOf: "vault"},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			return engine.Transfer(accts.Account("authority"), accts.Account("vault"), args.Amount)
		}),
	)
}

// VaultAddress returns the canonical vault of authority and its bump.
func VaultAddress(authority types.Pubkey) (types.Pubkey, uint8) {
	return programs.Derive(ProgramID, []byte("vault"), authority[:])
}

// AlternateVault returns the valid vault address of authority with the
// highest bump below the canonical one.
func AlternateVault(authority types.Pubkey) (types.Pubkey, uint8, error) {
	seeds := [][]byte{[]byte("vault"), authority[:]}
	_, canonical := VaultAddress(authority)
	for bump := int(canonical) - 1; bump >= 0; bump-- {
		addr, err := pda.CreateProgramAddress(append(seeds, []byte{uint8(bump)}), ProgramID)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return types.Pubkey{}, 0, fmt.Errorf("%w: no bump below %d for %s", pda.ErrDerivationExhausted, canonical, authority)
}

// InsecureInit creates a vault at the address bump derives for authority.
func InsecureInit(vault, authority types.Pubkey, bump uint8) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(vault), programs.Signer(authority)},
		Data:      programs.Data("insecure_init", BumpArgs{Bump: bump}),
	}
}

// SecureInit creates the canonical vault of authority.
func SecureInit(authority types.Pubkey) runtime.InstructionSpec {
	vault, _ := VaultAddress(authority)
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(vault), programs.Signer(authority)},
		Data:      programs.Data("secure_init", nil),
	}
}

// Deposit moves amount from authority into vault.
func Deposit(vault, authority types.Pubkey, amount uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(vault), programs.Signer(authority)},
		Data:      programs.Data("deposit", programs.Amount{Amount: amount}),
	}
}

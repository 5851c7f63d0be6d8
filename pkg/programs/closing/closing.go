// Package closing pairs a close that only drains lamports with one that also
// zeroes the record and writes the closed tombstone.
//
// An account drained to zero lamports but still holding data keeps decoding
// as its record. Anything that later funds it revives the old state.
package closing

import (
	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("ACmY1XMJy94VkriJN6o77UjDr1qRWBYe67JrMagY2Gto")

// Vault holds lamports for Owner.
type Vault struct {
	Owner   types.Pubkey
	Balance uint64
}

// AuthorityKey implements engine.Authority.
func (v *Vault) AuthorityKey() types.Pubkey { return v.Owner }

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	vault := engine.MustSchema[Vault](reg, "Vault")
	vaultSeeds := []engine.Seed{engine.SeedString("vault"), engine.SeedRole("owner")}

	closeRoles := func(closeTo string) []engine.RoleSpec {
		return []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault, Seeds: vaultSeeds, CloseTo: closeTo},
			{Name: "owner", Signer: true, AuthorityOf: "vault"},
			{Name: "destination", Writable: true},
		}
	}

	return engine.NewProgram(ProgramID, "account_closing", reg).MustRegister(
		engine.MustInstruction("initialize", []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault, Seeds: vaultSeeds, Init: true, Payer: "owner"},
			{Name: "owner", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			v, err := engine.ViewOf[Vault](accts, "vault")
			if err != nil {
				return err
			}
			v.Record.Owner = accts.Account("owner").Address
			v.Record.Balance = args.Amount
			if err := engine.Transfer(accts.Account("owner"), v.Account(), args.Amount); err != nil {
				return err
			}
			return v.Save()
		}),

		engine.MustInstruction("deposit", []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault, Seeds: vaultSeeds},
			{Name: "owner"},
			{Name: "depositor", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			v, err := engine.ViewOf[Vault](accts, "vault")
			if err != nil {
				return err
			}
			if v.Record.Balance, err = engine.CheckedAdd(v.Record.Balance, args.Amount); err != nil {
				return err
			}
			if err := engine.Transfer(accts.Account("depositor"), v.Account(), args.Amount); err != nil {
				return err
			}
			return v.Save()
		}),

		// Lamports leave; the record stays.
		engine.MustInstruction("insecure_close", closeRoles(""), func(ctx *engine.TxContext, accts *engine.Accounts, _ []byte) error {
			v := accts.Account("vault")
			return engine.Transfer(v, accts.Account("destination"), v.Lamports)
		}),

		engine.MustInstruction("secure_close", closeRoles("destination"), func(*engine.TxContext, *engine.Accounts, []byte) error {
			return nil
		}),
	)
}

// VaultAddress returns the vault of owner.
func VaultAddress(owner types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("vault"), owner[:])
	return addr
}

// Initialize creates owner's vault holding amount.
func Initialize(owner types.Pubkey, amount uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(VaultAddress(owner)), programs.Signer(owner)},
		Data:      programs.Data("initialize", programs.Amount{Amount: amount}),
	}
}

// Deposit adds amount from depositor to owner's vault.
func Deposit(owner, depositor types.Pubkey, amount uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			programs.Writable(VaultAddress(owner)),
			programs.Readonly(owner),
			programs.Signer(depositor),
		},
		Data: programs.Data("deposit", programs.Amount{Amount: amount}),
	}
}

// Close closes owner's vault into destination.
func Close(secure bool, owner, destination types.Pubkey) runtime.InstructionSpec {
	name := "insecure_close"
	if secure {
		name = "secure_close"
	}
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			programs.Writable(VaultAddress(owner)),
			programs.ReadonlySigner(owner),
			programs.Writable(destination),
		},
		Data: programs.Data(name, nil),
	}
}

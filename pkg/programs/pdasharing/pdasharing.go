// Package pdasharing pairs a withdrawal that trusts whatever vault authority
// the caller passes with one that derives the authority from the signer.
//
// Each vault records a program-derived authority, ["vault", owner]. The
// insecure path only checks that the passed authority matches the vault's
// record, so anyone who names a victim's authority can drain the victim's
// vault. The secure path re-derives the authority from the signing owner.
package pdasharing

import (
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("ECg8PSWDnt1bxBxoQrmp7T2eUTSfo7aYecAiamSRdACg")

// Vault holds lamports released only with its authority.
type Vault struct {
	Authority types.Pubkey
	Amount    uint64
}

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	vault := engine.MustSchema[Vault](reg, "Vault")

	return engine.NewProgram(ProgramID, "pda_sharing", reg).MustRegister(
		engine.MustInstruction("initialize", []engine.RoleSpec{
			{Name: "vault", Signer: true, Writable: true, Schema: vault, Init: true, Payer: "owner"},
			{Name: "owner", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, _ []byte) error {
			v, err := engine.ViewOf[Vault](accts, "vault")
			if err != nil {
				return err
			}
			owner := accts.Account("owner").Address
			authority, _, err := pda.FindProgramAddressMetered([][]byte{[]byte("vault"), owner[:]}, ctx.ProgramID(), ctx.Meter())
			if err != nil {
				return err
			}
			v.Record.Authority = authority
			return v.Save()
		}),

		engine.MustInstruction("deposit", []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault},
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
			if v.Record.Amount, err = engine.CheckedAdd(v.Record.Amount, args.Amount); err != nil {
				return err
			}
			if err := engine.Transfer(accts.Account("depositor"), v.Account(), args.Amount); err != nil {
				return err
			}
			return v.Save()
		}),

		// vault_authority is any account; owner signs but is never tied to it.
		engine.MustInstruction("insecure_withdraw", []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault},
			{Name: "vault_authority"},
			{Name: "owner", Signer: true},
			{Name: "destination", Writable: true},
		}, withdraw),

		engine.MustInstruction("secure_withdraw", []engine.RoleSpec{
			{Name: "vault", Writable: true, Schema: vault},
			{Name: "vault_authority", Seeds: []engine.Seed{engine.SeedString("vault"), engine.SeedRole("owner")}},
			{Name: "owner", Signer: true},
			{Name: "destination", Writable: true},
		}, withdraw),
	)
}

func withdraw(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
	args, err := engine.DecodeArgs[programs.Amount](raw)
	if err != nil {
		return err
	}
	v, err := engine.ViewOf[Vault](accts, "vault")
	if err != nil {
		return err
	}
	if authority := accts.Account("vault_authority").Address; v.Record.Authority != authority {
		return fmt.Errorf("%w: vault authority is %s, got %s", engine.ErrAuthorityMismatch, v.Record.Authority, authority)
	}
	if v.Record.Amount, err = engine.CheckedSub(v.Record.Amount, args.Amount); err != nil {
		return err
	}
	if err := engine.Transfer(v.Account(), accts.Account("destination"), args.Amount); err != nil {
		return err
	}
	return v.Save()
}

// AuthorityAddress returns the vault authority of owner.
func AuthorityAddress(owner types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("vault"), owner[:])
	return addr
}

// Initialize creates a vault account controlled by owner's authority.
func Initialize(vault, owner types.Pubkey) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Signer(vault), programs.Signer(owner)},
		Data:      programs.Data("initialize", nil),
	}
}

// Deposit moves amount from depositor into vault.
func Deposit(vault, depositor types.Pubkey, amount uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(vault), programs.Signer(depositor)},
		Data:      programs.Data("deposit", programs.Amount{Amount: amount}),
	}
}

// Withdraw releases amount from vault to destination, presenting authority
// as the vault authority and owner as the signer.
func Withdraw(secure bool, vault, authority, owner, destination types.Pubkey, amount uint64) runtime.InstructionSpec {
	name := "insecure_withdraw"
	if secure {
		name = "secure_withdraw"
	}
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			programs.Writable(vault),
			programs.Readonly(authority),
			programs.ReadonlySigner(owner),
			programs.Writable(destination),
		},
		Data: programs.Data(name, programs.Amount{Amount: amount}),
	}
}

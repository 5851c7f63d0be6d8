// Package signercheck pairs a withdrawal that compares the owner's key
// without requiring the owner's signature with one that requires both.
package signercheck

import (
	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("6PpTEM9LKNPCSUHgwqxdXK6nmSuMwTkh8k81D56SFVhf")

// Pot holds lamports on behalf of Owner.
type Pot struct {
	Owner types.Pubkey
}

// AuthorityKey implements engine.Authority.
func (p *Pot) AuthorityKey() types.Pubkey { return p.Owner }

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	pot := engine.MustSchema[Pot](reg, "Pot")
	potSeeds := []engine.Seed{engine.SeedString("pot"), engine.SeedRole("owner")}

	return engine.NewProgram(ProgramID, "signer_check", reg).MustRegister(
		engine.MustInstruction("initialize", []engine.RoleSpec{
			{Name: "pot", Writable: true, Schema: pot, Seeds: potSeeds, Init: true, Payer: "owner"},
			{Name: "owner", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, _ []byte) error {
			v, err := engine.ViewOf[Pot](accts, "pot")
			if err != nil {
				return err
			}
			v.Record.Owner = accts.Account("owner").Address
			return v.Save()
		}),

		engine.MustInstruction("deposit", []engine.RoleSpec{
			{Name: "pot", Writable: true, Schema: pot},
			{Name: "depositor", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			return engine.Transfer(accts.Account("depositor"), accts.Account("pot"), args.Amount)
		}),

		// The owner key is compared against the pot but never has to sign, so
		// anyone can trigger a withdrawal from anyone's pot.
		engine.MustInstruction("insecure_withdraw", []engine.RoleSpec{
			{Name: "pot", Writable: true, Schema: pot},
			{Name: "owner", Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			v, err := engine.ViewOf[Pot](accts, "pot")
			if err != nil {
				return err
			}
			owner := accts.Account("owner")
			if v.Record.Owner != owner.Address {
				return engine.ErrAuthorityMismatch
			}
			return engine.Transfer(v.Account(), owner, args.Amount)
		}),

		engine.MustInstruction("secure_withdraw", []engine.RoleSpec{
			{Name: "pot", Writable: true, Schema: pot},
			{Name: "owner", Signer: true, Writable: true, AuthorityOf: "pot"},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			return engine.Transfer(accts.Account("pot"), accts.Account("owner"), args.Amount)
		}),
	)
}

// PotAddress returns the canonical pot of owner.
func PotAddress(owner types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("pot"), owner[:])
	return addr
}

// Initialize creates owner's pot.
func Initialize(owner types.Pubkey) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(PotAddress(owner)), programs.Signer(owner)},
		Data:      programs.Data("initialize", nil),
	}
}

// Deposit moves amount from depositor into pot.
func Deposit(pot, depositor types.Pubkey, amount uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(pot), programs.Signer(depositor)},
		Data:      programs.Data("deposit", programs.Amount{Amount: amount}),
	}
}

// Withdraw moves amount from pot to owner. The owner is listed as a signer
// only when signed is true.
func Withdraw(secure bool, pot, owner types.Pubkey, signed bool, amount uint64) runtime.InstructionSpec {
	name := "insecure_withdraw"
	if secure {
		name = "secure_withdraw"
	}
	ownerMeta := programs.Writable(owner)
	ownerMeta.IsSigner = signed
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(pot), ownerMeta},
		Data:      programs.Data(name, programs.Amount{Amount: amount}),
	}
}

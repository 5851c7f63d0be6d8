// Package overflow pairs an addition that wraps at 2^64 with one that fails.
package overflow

import (
	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("GfN9UbCqhCwPQzpZL8aVqDSwaFpDGZ9SdRii9YvJaoVZ")

// Counter stores the last sum.
type Counter struct {
	Total uint64
}

// AddArgs are the operands of both add instructions.
type AddArgs struct {
	A uint64
	B uint64
}

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	counter := engine.MustSchema[Counter](reg, "Counter")
	addRoles := []engine.RoleSpec{{Name: "counter", Writable: true, Schema: counter}}

	store := func(ctx *engine.TxContext, accts *engine.Accounts, total uint64) error {
		v, err := engine.ViewOf[Counter](accts, "counter")
		if err != nil {
			return err
		}
		ctx.Log("Result: %d", total)
		v.Record.Total = total
		return v.Save()
	}

	return engine.NewProgram(ProgramID, "integer_overflow", reg).MustRegister(
		engine.MustInstruction("initialize", []engine.RoleSpec{
			{Name: "counter", Signer: true, Writable: true, Schema: counter, Init: true, Payer: "payer"},
			{Name: "payer", Signer: true, Writable: true},
		}, func(*engine.TxContext, *engine.Accounts, []byte) error {
			return nil
		}),

		engine.MustInstruction("insecure_add", addRoles, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[AddArgs](raw)
			if err != nil {
				return err
			}
			return store(ctx, accts, args.A+args.B)
		}),

		engine.MustInstruction("secure_add", addRoles, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[AddArgs](raw)
			if err != nil {
				return err
			}
			total, err := engine.CheckedAdd(args.A, args.B)
			if err != nil {
				return err
			}
			return store(ctx, accts, total)
		}),
	)
}

// Initialize creates a counter at a fresh key.
func Initialize(counter, payer types.Pubkey) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Signer(counter), programs.Signer(payer)},
		Data:      programs.Data("initialize", nil),
	}
}

// Add stores a+b in counter.
func Add(secure bool, counter types.Pubkey, a, b uint64) runtime.InstructionSpec {
	name := "insecure_add"
	if secure {
		name = "secure_add"
	}
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(counter)},
		Data:      programs.Data(name, AddArgs{A: a, B: b}),
	}
}

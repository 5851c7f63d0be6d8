// Package reinit pairs an initializer that overwrites whatever state it is
// given with one that can only create state once.
package reinit

import (
	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("FhtVsPAxuvMJhgsMMnegK9Qv4dTwxn6JdKwPypWSMYag")

// State is the administered singleton of a namespace.
type State struct {
	Admin types.Pubkey
}

// AuthorityKey implements engine.Authority.
func (s *State) AuthorityKey() types.Pubkey { return s.Admin }

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	state := engine.MustSchema[State](reg, "State")
	stateSeeds := []engine.Seed{engine.SeedString("state"), engine.SeedRole("namespace")}

	setAdmin := func(ctx *engine.TxContext, accts *engine.Accounts, _ []byte) error {
		v, err := engine.ViewOf[State](accts, "state")
		if err != nil {
			return err
		}
		v.Record.Admin = accts.Account("user").Address
		ctx.Log("admin of %s is %s", v.Address(), v.Record.Admin)
		return v.Save()
	}

	return engine.NewProgram(ProgramID, "reinitialization", reg).MustRegister(
		// Binding the record is the only check, so an existing state is
		// overwritten by whoever calls.
		engine.MustInstruction("insecure_init", []engine.RoleSpec{
			{Name: "state", Writable: true, Schema: state},
			{Name: "user", Signer: true},
		}, setAdmin),

		engine.MustInstruction("secure_init", []engine.RoleSpec{
			{Name: "state", Writable: true, Schema: state, Seeds: stateSeeds, Init: true, Payer: "user"},
			{Name: "user", Signer: true, Writable: true},
			{Name: "namespace"},
		}, setAdmin),

		engine.MustInstruction("rotate_admin", []engine.RoleSpec{
			{Name: "state", Writable: true, Schema: state},
			{Name: "admin", Signer: true, AuthorityOf: "state"},
			{Name: "user"},
		}, setAdmin),
	)
}

// StateAddress returns the state of namespace.
func StateAddress(namespace types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("state"), namespace[:])
	return addr
}

// Init sets user as admin of the namespace's state. The secure variant
// creates the state; the insecure variant rewrites an existing one.
func Init(secure bool, namespace, user types.Pubkey) runtime.InstructionSpec {
	if !secure {
		return runtime.InstructionSpec{
			ProgramID: ProgramID,
			Accounts:  []runtime.AccountMeta{programs.Writable(StateAddress(namespace)), programs.ReadonlySigner(user)},
			Data:      programs.Data("insecure_init", nil),
		}
	}
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			programs.Writable(StateAddress(namespace)),
			programs.Signer(user),
			programs.Readonly(namespace),
		},
		Data: programs.Data("secure_init", nil),
	}
}

// RotateAdmin hands the namespace's state from admin to next.
func RotateAdmin(namespace, admin, next types.Pubkey) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			programs.Writable(StateAddress(namespace)),
			programs.ReadonlySigner(admin),
			programs.Readonly(next),
		},
		Data: programs.Data("rotate_admin", nil),
	}
}

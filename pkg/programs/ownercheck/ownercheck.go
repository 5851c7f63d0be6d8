// Package ownercheck pairs an update that trusts any account shaped like a
// Config with one that also requires the program to own it.
//
// A realm's settings may be changed by the authority named in the realm's
// Config. Initialization creates both together, so the program owns exactly
// one Config per realm. Another program can still create an account with an
// identical layout and discriminator; only the owner tells them apart.
package ownercheck

import (
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("owjTGQ5tcsF9jiy1rDeiBxKj7fAcz3h8tbs9q9f5Awm")

// ImpostorProgramID hosts the program that forges configs.
var ImpostorProgramID = programs.Address("ownercheck/impostor")

// Config names the authority of a realm.
type Config struct {
	Authority types.Pubkey
	Realm     types.Pubkey
	Data      uint64
}

// Settings holds a realm's value.
type Settings struct {
	Data uint64
}

// DataArgs carries a single value.
type DataArgs struct {
	Data uint64
}

// ForgeArgs describe a forged config.
type ForgeArgs struct {
	Realm types.Pubkey
	Data  uint64
}

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	config := engine.MustSchema[Config](reg, "Config")
	settings := engine.MustSchema[Settings](reg, "Settings")
	settingsSeeds := []engine.Seed{engine.SeedString("settings"), engine.SeedRole("realm")}

	return engine.NewProgram(ProgramID, "owner_checks", reg).MustRegister(
		engine.MustInstruction("initialize", []engine.RoleSpec{
			{Name: "config", Signer: true, Writable: true, Schema: config, Init: true, Payer: "authority"},
			{Name: "settings", Writable: true, Schema: settings, Seeds: settingsSeeds, Init: true, Payer: "authority"},
			{Name: "realm"},
			{Name: "authority", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[DataArgs](raw)
			if err != nil {
				return err
			}
			c, err := engine.ViewOf[Config](accts, "config")
			if err != nil {
				return err
			}
			c.Record.Authority = accts.Account("authority").Address
			c.Record.Realm = accts.Account("realm").Address
			c.Record.Data = args.Data
			return c.Save()
		}),

		// The config is decoded as whoever owns it says.
		engine.MustInstruction("insecure_update", []engine.RoleSpec{
			{Name: "settings", Writable: true, Schema: settings, Seeds: settingsSeeds},
			{Name: "config"},
			{Name: "realm"},
			{Name: "authority", Signer: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			acct := accts.Account("config")
			c, err := config.As(acct, acct.Owner)
			if err != nil {
				return err
			}
			return update(ctx, accts, c.Record, raw)
		}),

		engine.MustInstruction("secure_update", []engine.RoleSpec{
			{Name: "settings", Writable: true, Schema: settings, Seeds: settingsSeeds},
			{Name: "config", Schema: config},
			{Name: "realm"},
			{Name: "authority", Signer: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			c, err := engine.ViewOf[Config](accts, "config")
			if err != nil {
				return err
			}
			return update(ctx, accts, c.Record, raw)
		}),
	)
}

func update(ctx *engine.TxContext, accts *engine.Accounts, c *Config, raw []byte) error {
	args, err := engine.DecodeArgs[DataArgs](raw)
	if err != nil {
		return err
	}
	if realm := accts.Account("realm").Address; c.Realm != realm {
		return fmt.Errorf("%w: config is for realm %s, not %s", engine.ErrInvalidArgument, c.Realm, realm)
	}
	if err := engine.RequireAuthority(c.Authority, accts.Account("authority"), ctx); err != nil {
		return err
	}
	s, err := engine.ViewOf[Settings](accts, "settings")
	if err != nil {
		return err
	}
	s.Record.Data = args.Data
	return s.Save()
}

// NewImpostor returns a program that writes Config records under its own
// ID, with any authority the caller likes.
func NewImpostor() *engine.Program {
	reg := engine.NewRegistry()
	config := engine.MustSchema[Config](reg, "Config")

	return engine.NewProgram(ImpostorProgramID, "owner_checks_impostor", reg).MustRegister(
		engine.MustInstruction("forge_config", []engine.RoleSpec{
			{Name: "config", Signer: true, Writable: true, Schema: config, Init: true, Payer: "forger"},
			{Name: "forger", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[ForgeArgs](raw)
			if err != nil {
				return err
			}
			c, err := engine.ViewOf[Config](accts, "config")
			if err != nil {
				return err
			}
			c.Record.Authority = accts.Account("forger").Address
			c.Record.Realm = args.Realm
			c.Record.Data = args.Data
			return c.Save()
		}),
	)
}

// SettingsAddress returns the settings of realm.
func SettingsAddress(realm types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("settings"), realm[:])
	return addr
}

// Initialize creates realm's config at a fresh key and its settings.
func Initialize(config, realm, authority types.Pubkey, data uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			programs.Signer(config),
			programs.Writable(SettingsAddress(realm)),
			programs.Readonly(realm),
			programs.Signer(authority),
		},
		Data: programs.Data("initialize", DataArgs{Data: data}),
	}
}

// Update sets realm's settings, authorized by config.
func Update(secure bool, config, realm, authority types.Pubkey, data uint64) runtime.InstructionSpec {
	name := "insecure_update"
	if secure {
		name = "secure_update"
	}
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			programs.Writable(SettingsAddress(realm)),
			programs.Readonly(config),
			programs.Readonly(realm),
			programs.ReadonlySigner(authority),
		},
		Data: programs.Data(name, DataArgs{Data: data}),
	}
}

// ForgeConfig creates a Config owned by the impostor program naming forger
// as the authority of realm.
func ForgeConfig(config, forger, realm types.Pubkey, data uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ImpostorProgramID,
		Accounts:  []runtime.AccountMeta{programs.Signer(config), programs.Signer(forger)},
		Data:      programs.Data("forge_config", ForgeArgs{Realm: realm, Data: data}),
	}
}

// Package typecosplay pairs a withdrawal that decodes any program account as
// a UserAccount with one that checks the discriminator first.
//
// UserAccount and AdminAccount share a layout. A user's balance is backed by
// deposits in the operator's pool; an admin's is an allowance anyone can
// grant themselves, never backed by the pool. Passing an AdminAccount where a
// UserAccount is expected pays the allowance out of other users' deposits.
package typecosplay

import (
	"fmt"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// ProgramID is the address the program is deployed at.
var ProgramID = types.MustPubkeyFromBase58("Ty2F8Q6C9m695p29DS6gMziMhGBhr4KPh7RkCp4p21a")

// UserAccount tracks lamports a user deposited into the pool.
type UserAccount struct {
	Authority types.Pubkey
	Balance   uint64
}

// AuthorityKey implements engine.Authority.
func (u *UserAccount) AuthorityKey() types.Pubkey { return u.Authority }

// AdminAccount tracks an allowance.
type AdminAccount struct {
	Authority types.Pubkey
	Balance   uint64
}

// Pool holds deposits for an operator.
type Pool struct {
	Operator types.Pubkey
	Bump     uint8
}

// BumpSeed implements engine.Bumped.
func (p *Pool) BumpSeed() uint8 { return p.Bump }

// New returns the program with its own record registry.
func New() *engine.Program {
	reg := engine.NewRegistry()
	user := engine.MustSchema[UserAccount](reg, "UserAccount")
	admin := engine.MustSchema[AdminAccount](reg, "AdminAccount")
	pool := engine.MustSchema[Pool](reg, "Pool")
	poolSeeds := []engine.Seed{engine.SeedString("pool"), engine.SeedRole("operator")}
	poolRole := engine.RoleSpec{Name: "pool", Writable: true, Schema: pool, Seeds: poolSeeds}

	return engine.NewProgram(ProgramID, "type_cosplay", reg).MustRegister(
		engine.MustInstruction("init_pool", []engine.RoleSpec{
			{Name: "pool", Writable: true, Schema: pool, Seeds: poolSeeds, Init: true, Payer: "operator"},
			{Name: "operator", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, _ []byte) error {
			v, err := engine.ViewOf[Pool](accts, "pool")
			if err != nil {
				return err
			}
			v.Record.Operator = accts.Account("operator").Address
			v.Record.Bump = accts.Bump("pool")
			return v.Save()
		}),

		engine.MustInstruction("init_user", []engine.RoleSpec{
			{Name: "user_account", Writable: true, Schema: user, Init: true, Payer: "authority",
				Seeds: []engine.Seed{engine.SeedString("user"), engine.SeedRole("authority")}},
			{Name: "authority", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, _ []byte) error {
			v, err := engine.ViewOf[UserAccount](accts, "user_account")
			if err != nil {
				return err
			}
			v.Record.Authority = accts.Account("authority").Address
			return v.Save()
		}),

		engine.MustInstruction("init_admin", []engine.RoleSpec{
			{Name: "admin_account", Writable: true, Schema: admin, Init: true, Payer: "authority",
				Seeds: []engine.Seed{engine.SeedString("admin"), engine.SeedRole("authority")}},
			{Name: "authority", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			v, err := engine.ViewOf[AdminAccount](accts, "admin_account")
			if err != nil {
				return err
			}
			v.Record.Authority = accts.Account("authority").Address
			v.Record.Balance = args.Amount
			return v.Save()
		}),

		engine.MustInstruction("deposit", []engine.RoleSpec{
			{Name: "user_account", Writable: true, Schema: user},
			poolRole,
			{Name: "operator"},
			{Name: "authority", Signer: true, Writable: true, AuthorityOf: "user_account"},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			v, err := engine.ViewOf[UserAccount](accts, "user_account")
			if err != nil {
				return err
			}
			if v.Record.Balance, err = engine.CheckedAdd(v.Record.Balance, args.Amount); err != nil {
				return err
			}
			if err := engine.Transfer(accts.Account("authority"), accts.Account("pool"), args.Amount); err != nil {
				return err
			}
			return v.Save()
		}),

		// The owner is checked, but the body is decoded without looking at
		// the discriminator.
		engine.MustInstruction("insecure_withdraw", []engine.RoleSpec{
			{Name: "user_account", Writable: true},
			poolRole,
			{Name: "operator"},
			{Name: "authority", Signer: true, Writable: true},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			acct := accts.Account("user_account")
			if err := engine.RequireOwner(acct, ctx.ProgramID()); err != nil {
				return err
			}
			if len(acct.Data) < engine.DiscriminatorSize {
				return fmt.Errorf("%w: %s has %d bytes", engine.ErrMalformed, acct.Address, len(acct.Data))
			}
			rec := new(UserAccount)
			if err := borsh.Deserialize(rec, acct.Data[engine.DiscriminatorSize:]); err != nil {
				return fmt.Errorf("%w: %v", engine.ErrMalformed, err)
			}
			authority := accts.Account("authority")
			if rec.Authority != authority.Address {
				return fmt.Errorf("%w: got %s, want %s", engine.ErrAuthorityMismatch, authority.Address, rec.Authority)
			}
			if err := debit(rec, args.Amount); err != nil {
				return err
			}
			body, err := borsh.Serialize(*rec)
			if err != nil {
				return err
			}
			copy(acct.Data[engine.DiscriminatorSize:], body)
			return engine.Transfer(accts.Account("pool"), authority, args.Amount)
		}),

		engine.MustInstruction("secure_withdraw", []engine.RoleSpec{
			{Name: "user_account", Writable: true, Schema: user},
			poolRole,
			{Name: "operator"},
			{Name: "authority", Signer: true, Writable: true, AuthorityOf: "user_account"},
		}, func(ctx *engine.TxContext, accts *engine.Accounts, raw []byte) error {
			args, err := engine.DecodeArgs[programs.Amount](raw)
			if err != nil {
				return err
			}
			v, err := engine.ViewOf[UserAccount](accts, "user_account")
			if err != nil {
				return err
			}
			if err := debit(v.Record, args.Amount); err != nil {
				return err
			}
			if err := engine.Transfer(accts.Account("pool"), accts.Account("authority"), args.Amount); err != nil {
				return err
			}
			return v.Save()
		}),
	)
}

func debit(u *UserAccount, amount uint64) error {
	if u.Balance < amount {
		return fmt.Errorf("%w: balance %d, withdrawing %d", engine.ErrInsufficientFunds, u.Balance, amount)
	}
	u.Balance -= amount
	return nil
}

// PoolAddress returns the pool of operator.
func PoolAddress(operator types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("pool"), operator[:])
	return addr
}

// UserAddress returns the user account of authority.
func UserAddress(authority types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("user"), authority[:])
	return addr
}

// AdminAddress returns the admin account of authority.
func AdminAddress(authority types.Pubkey) types.Pubkey {
	addr, _ := programs.Derive(ProgramID, []byte("admin"), authority[:])
	return addr
}

// InitPool creates operator's pool.
func InitPool(operator types.Pubkey) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(PoolAddress(operator)), programs.Signer(operator)},
		Data:      programs.Data("init_pool", nil),
	}
}

// InitUser creates authority's user account.
func InitUser(authority types.Pubkey) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(UserAddress(authority)), programs.Signer(authority)},
		Data:      programs.Data("init_user", nil),
	}
}

// InitAdmin creates authority's admin account with an allowance.
func InitAdmin(authority types.Pubkey, allowance uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{programs.Writable(AdminAddress(authority)), programs.Signer(authority)},
		Data:      programs.Data("init_admin", programs.Amount{Amount: allowance}),
	}
}

// Deposit moves amount from authority into operator's pool.
func Deposit(operator, authority types.Pubkey, amount uint64) runtime.InstructionSpec {
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  poolMetas(UserAddress(authority), operator, authority),
		Data:      programs.Data("deposit", programs.Amount{Amount: amount}),
	}
}

// Withdraw pays amount out of operator's pool against account, which should
// be authority's user account.
func Withdraw(secure bool, account, operator, authority types.Pubkey, amount uint64) runtime.InstructionSpec {
	name := "insecure_withdraw"
	if secure {
		name = "secure_withdraw"
	}
	return runtime.InstructionSpec{
		ProgramID: ProgramID,
		Accounts:  poolMetas(account, operator, authority),
		Data:      programs.Data(name, programs.Amount{Amount: amount}),
	}
}

func poolMetas(account, operator, authority types.Pubkey) []runtime.AccountMeta {
	return []runtime.AccountMeta{
		programs.Writable(account),
		programs.Writable(PoolAddress(operator)),
		programs.Readonly(operator),
		programs.Signer(authority),
	}
}

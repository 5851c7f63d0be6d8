package engine

import (
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
)

// Authority is implemented by records that store the key allowed to act on
// them. RoleSpec.AuthorityOf checks a signer against it.
type Authority interface {
	AuthorityKey() types.Pubkey
}

// Bumped is implemented by records that store their own derivation bump. The
// gate rejects a stored bump that is not canonical.
type Bumped interface {
	BumpSeed() uint8
}

// Typer is a record schema usable in a RoleSpec. *Schema[T] implements it.
type Typer interface {
	Type() *RecordType

	bind(account *Account, owner types.Pubkey) (boundView, error)
	init(account, payer *Account, ctx *TxContext) (boundView, error)
}

type boundView interface {
	record() any
}

func (s *Schema[T]) bind(account *Account, owner types.Pubkey) (boundView, error) {
	return s.As(account, owner)
}

func (s *Schema[T]) init(account, payer *Account, ctx *TxContext) (boundView, error) {
	return InitOnce(s, account, payer, ctx)
}

func (v *View[T]) record() any {
	return v.Record
}

// Seed is one component of a derived role address: literal bytes or the
// address of another role.
type Seed struct {
	literal []byte
	role    string
}

// SeedBytes is a literal seed.
func SeedBytes(b []byte) Seed {
	return Seed{literal: b}
}

// SeedString is a literal string seed.
func SeedString(s string) Seed {
	return Seed{literal: []byte(s)}
}

// SeedRole is the 32-byte address bound to another role.
func SeedRole(role string) Seed {
	return Seed{role: role}
}

// RoleSpec declares what an instruction requires of one account position.
type RoleSpec struct {
	// Name identifies the role to the handler.
	Name string

	Signer   bool
	Writable bool

	// Schema, if set, binds the account as a typed view owned by Owner, or
	// by the invoking program when Owner is nil.
	Schema Typer

	// Owner, if set, is checked against the account owner.
	Owner *types.Pubkey

	// Seeds makes the role derived: its address must be the canonical
	// derivation of the seeds under the invoking program.
	Seeds []Seed

	// Init creates the record with InitOnce, funded by the Payer role.
	Init  bool
	Payer string

	// AuthorityOf names a typed role whose record implements Authority. This
	// account must be that stored key and must sign.
	AuthorityOf string

	// CloseTo closes this typed account into the named role once the
	// handler succeeds.
	CloseTo string
}

// Handler is an instruction's business logic. It only runs once every role
// has passed validation.
type Handler func(ctx *TxContext, accounts *Accounts, args []byte) error

// Instruction is a handler together with its declared roles.
type Instruction struct {
	name    string
	disc    Discriminator
	roles   []RoleSpec
	index   map[string]int
	handler Handler
}

// NewInstruction validates the role declarations. Inconsistent declarations
// are programming errors and are reported here, never at execution time.
func NewInstruction(name string, roles []RoleSpec, handler Handler) (*Instruction, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty instruction name", ErrInvalidArgument)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: instruction %q has no handler", ErrInvalidArgument, name)
	}

	index := make(map[string]int, len(roles))
	for i, r := range roles {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: %s role %d has no name", ErrInvalidArgument, name, i)
		}
		if _, ok := index[r.Name]; ok {
			return nil, fmt.Errorf("%w: %s role %q declared twice", ErrInvalidArgument, name, r.Name)
		}
		index[r.Name] = i
	}

	ref := func(from, to, what string) error {
		if to == from {
			return fmt.Errorf("%w: %s role %q is its own %s", ErrInvalidArgument, name, from, what)
		}
		if _, ok := index[to]; !ok {
			return fmt.Errorf("%w: %s role %q %s %q is not declared", ErrInvalidArgument, name, from, what, to)
		}
		return nil
	}

	for _, r := range roles {
		if len(r.Seeds) > pda.MaxSeeds-1 {
			return nil, fmt.Errorf("%w: %s role %q has %d seeds", ErrInvalidArgument, name, r.Name, len(r.Seeds))
		}
		for _, s := range r.Seeds {
			if s.role == "" {
				if len(s.literal) > pda.MaxSeedLen {
					return nil, fmt.Errorf("%w: %s role %q seed is %d bytes", ErrInvalidArgument, name, r.Name, len(s.literal))
				}
				continue
			}
			if err := ref(r.Name, s.role, "seed"); err != nil {
				return nil, err
			}
		}
		if r.Init {
			if r.Schema == nil || !r.Writable {
				return nil, fmt.Errorf("%w: %s init role %q needs a schema and must be writable", ErrInvalidArgument, name, r.Name)
			}
			if r.Owner != nil {
				return nil, fmt.Errorf("%w: %s init role %q cannot name an owner", ErrInvalidArgument, name, r.Name)
			}
			if err := ref(r.Name, r.Payer, "payer"); err != nil {
				return nil, err
			}
		} else if r.Payer != "" {
			return nil, fmt.Errorf("%w: %s role %q has a payer but no init", ErrInvalidArgument, name, r.Name)
		}
		if r.AuthorityOf != "" {
			if err := ref(r.Name, r.AuthorityOf, "authority target"); err != nil {
				return nil, err
			}
			target := roles[index[r.AuthorityOf]]
			if target.Schema == nil || target.Init {
				return nil, fmt.Errorf("%w: %s authority target %q must be an existing typed role", ErrInvalidArgument, name, target.Name)
			}
		}
		if r.CloseTo != "" {
			if err := ref(r.Name, r.CloseTo, "close destination"); err != nil {
				return nil, err
			}
			if r.Schema == nil || r.Init || !r.Writable || !roles[index[r.CloseTo]].Writable {
				return nil, fmt.Errorf("%w: %s close role %q must be typed, writable and close into a writable role", ErrInvalidArgument, name, r.Name)
			}
		}
	}

	return &Instruction{
		name:    name,
		disc:    InstructionDiscriminator(name),
		roles:   roles,
		index:   index,
		handler: handler,
	}, nil
}

// MustInstruction is NewInstruction that panics.
func MustInstruction(name string, roles []RoleSpec, handler Handler) *Instruction {
	ix, err := NewInstruction(name, roles, handler)
	if err != nil {
		panic(err)
	}
	return ix
}

// Name returns the instruction name.
func (ix *Instruction) Name() string {
	return ix.name
}

// Discriminator returns the instruction selector.
func (ix *Instruction) Discriminator() Discriminator {
	return ix.disc
}

// Roles returns the declared roles in positional order.
func (ix *Instruction) Roles() []RoleSpec {
	return ix.roles
}

// Stage is a step of instruction processing.
type Stage uint8

// Stages, in order. Executed and Rejected are terminal.
const (
	StageReceived Stage = iota
	StageAccountsBound
	StageValidated
	StageExecuted
	StageRejected
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageAccountsBound:
		return "accounts_bound"
	case StageValidated:
		return "validated"
	case StageExecuted:
		return "executed"
	case StageRejected:
		return "rejected"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Outcome is the result of Execute.
type Outcome struct {
	// Stage is StageExecuted or StageRejected.
	Stage Stage

	// FailedAt is the last stage reached before a rejection.
	FailedAt Stage

	Tag ErrorTag
	Err error
}

// OK reports whether the instruction executed.
func (o Outcome) OK() bool {
	return o.Stage == StageExecuted
}

func rejected(at Stage, err error) Outcome {
	return Outcome{Stage: StageRejected, FailedAt: at, Tag: TagOf(err), Err: err}
}

// Accounts is the validated binding of roles to accounts handed to a
// handler.
// Accounts beyond the declared roles are never exposed.
type Accounts struct {
	ix    *Instruction
	bound []*Account
	views []boundView
	bumps []uint8
}

// Account returns the account bound to role, or nil for an undeclared role.
func (a *Accounts) Account(role string) *Account {
	i, ok := a.ix.index[role]
	if !ok {
		return nil
	}
	return a.bound[i]
}

// Bump returns the canonical bump of a derived role.
func (a *Accounts) Bump(role string) uint8 {
	i, ok := a.ix.index[role]
	if !ok {
		return 0
	}
	return a.bumps[i]
}

// ViewOf returns the typed view bound to role.
func ViewOf[T any](a *Accounts, role string) (*View[T], error) {
	i, ok := a.ix.index[role]
	if !ok {
		return nil, fmt.Errorf("%w: role %q is not declared", ErrInvalidArgument, role)
	}
	v, ok := a.views[i].(*View[T])
	if !ok {
		return nil, fmt.Errorf("%w: role %q is not bound as %T", ErrInvalidArgument, role, (*T)(nil))
	}
	return v, nil
}

// Validate binds accounts to roles and runs every declared check. On error
// the accounts are left exactly as they were given.
func (ix *Instruction) Validate(ctx *TxContext, accounts []*Account) (*Accounts, error) {
	snap := snapshot(accounts)
	bound, _, err := ix.validate(ctx, accounts)
	if err != nil {
		restore(accounts, snap)
		return nil, err
	}
	return bound, nil
}

// Execute validates, runs the handler and applies any declared closes. A
// rejection at any stage restores every account to its state on entry.
func (ix *Instruction) Execute(ctx *TxContext, accounts []*Account, args []byte) Outcome {
	snap := snapshot(accounts)

	bound, stage, err := ix.validate(ctx, accounts)
	if err != nil {
		restore(accounts, snap)
		return rejected(stage, err)
	}

	if err := ix.handler(ctx, bound, args); err != nil {
		restore(accounts, snap)
		return rejected(StageValidated, fmt.Errorf("%s: %w", ix.name, err))
	}

	for i, r := range ix.roles {
		if r.CloseTo == "" {
			continue
		}
		if err := Close(bound.bound[i], bound.Account(r.CloseTo), ctx); err != nil {
			restore(accounts, snap)
			return rejected(StageValidated, fmt.Errorf("%s: close %q: %w", ix.name, r.Name, err))
		}
	}

	return Outcome{Stage: StageExecuted, FailedAt: StageExecuted}
}

// validate returns the last stage reached alongside any error.
func (ix *Instruction) validate(ctx *TxContext, accounts []*Account) (*Accounts, Stage, error) {
	if len(accounts) < len(ix.roles) {
		return nil, StageReceived, fmt.Errorf("%w: %s needs %d, got %d", ErrNotEnoughAccounts, ix.name, len(ix.roles), len(accounts))
	}
	for _, a := range accounts {
		if a == nil {
			return nil, StageReceived, fmt.Errorf("%w: %s got a nil account", ErrInvalidArgument, ix.name)
		}
	}

	n := len(ix.roles)
	bound := &Accounts{
		ix:    ix,
		bound: accounts[:n:n],
		views: make([]boundView, n),
		bumps: make([]uint8, n),
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if bound.bound[i].Address != bound.bound[j].Address {
				continue
			}
			if ix.roles[i].Writable || ix.roles[j].Writable {
				return nil, StageAccountsBound, fmt.Errorf("%w: %s roles %q and %q share %s", ErrInvalidArgument, ix.name, ix.roles[i].Name, ix.roles[j].Name, bound.bound[i].Address)
			}
		}
	}

	for i, r := range ix.roles {
		if err := ix.checkRole(ctx, bound, i); err != nil {
			return nil, StageAccountsBound, fmt.Errorf("%s: role %q: %w", ix.name, r.Name, err)
		}
	}

	for i, r := range ix.roles {
		if r.AuthorityOf == "" {
			continue
		}
		target := ix.index[r.AuthorityOf]
		auth, ok := bound.views[target].record().(Authority)
		if !ok {
			return nil, StageAccountsBound, fmt.Errorf("%w: %s role %q record stores no authority", ErrInvalidArgument, ix.name, r.AuthorityOf)
		}
		if err := RequireAuthority(auth.AuthorityKey(), bound.bound[i], ctx); err != nil {
			return nil, StageAccountsBound, fmt.Errorf("%s: role %q: %w", ix.name, r.Name, err)
		}
	}

	return bound, StageValidated, nil
}

// checkRole runs the per-role checks in order: signer, writable, derivation,
// record binding, explicit owner.
func (ix *Instruction) checkRole(ctx *TxContext, bound *Accounts, i int) error {
	r := ix.roles[i]
	acct := bound.bound[i]

	if r.Signer {
		if err := RequireSigner(acct, ctx); err != nil {
			return err
		}
	}
	if r.Writable {
		if err := RequireWritable(acct); err != nil {
			return err
		}
	}

	if len(r.Seeds) > 0 {
		seeds := ix.resolveSeeds(bound, r.Seeds)
		addr, bump, err := pda.FindProgramAddressMetered(seeds, ctx.ProgramID(), ctx.Meter())
		if err != nil {
			return err
		}
		if acct.Address != addr {
			return fmt.Errorf("%w: got %s, want %s", ErrDerivationMismatch, acct.Address, addr)
		}
		bound.bumps[i] = bump
		if _, err := ctx.SignSeeds(append(seeds, []byte{bump})...); err != nil {
			return err
		}
	}

	if r.Schema != nil {
		var (
			view boundView
			err  error
		)
		if r.Init {
			view, err = r.Schema.init(acct, bound.bound[ix.index[r.Payer]], ctx)
		} else {
			owner := ctx.ProgramID()
			if r.Owner != nil {
				owner = *r.Owner
			}
			view, err = r.Schema.bind(acct, owner)
		}
		if err != nil {
			return err
		}
		bound.views[i] = view

		if b, ok := view.record().(Bumped); ok && len(r.Seeds) > 0 && !r.Init {
			if b.BumpSeed() != bound.bumps[i] {
				return fmt.Errorf("%w: stored bump %d, canonical %d", ErrDerivationMismatch, b.BumpSeed(), bound.bumps[i])
			}
		}
	}

	if r.Owner != nil {
		if err := RequireOwner(acct, *r.Owner); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Instruction) resolveSeeds(bound *Accounts, seeds []Seed) [][]byte {
	out := make([][]byte, len(seeds))
	for i, s := range seeds {
		if s.role == "" {
			out[i] = s.literal
			continue
		}
		addr := bound.bound[ix.index[s.role]].Address
		out[i] = addr[:]
	}
	return out
}

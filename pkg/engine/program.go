package engine

import (
	"fmt"
	"sort"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// Program is a set of instructions and record types deployed at one address.
// Instruction data is the 8-byte instruction selector followed by
// borsh-encoded arguments.
type Program struct {
	id       types.Pubkey
	name     string
	registry *Registry
	byDisc   map[Discriminator]*Instruction
}

// NewProgram creates a program at id. Its record types live in registry.
func NewProgram(id types.Pubkey, name string, registry *Registry) *Program {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Program{
		id:       id,
		name:     name,
		registry: registry,
		byDisc:   make(map[Discriminator]*Instruction),
	}
}

// ID returns the program address.
func (p *Program) ID() types.Pubkey {
	return p.id
}

// Name returns the program name.
func (p *Program) Name() string {
	return p.name
}

// Registry returns the program's record types.
func (p *Program) Registry() *Registry {
	return p.registry
}

// Register adds an instruction. Selector collisions are rejected.
func (p *Program) Register(ix *Instruction) error {
	if other, ok := p.byDisc[ix.disc]; ok {
		return fmt.Errorf("%w: %s selector %s collides with %q", ErrInvalidArgument, ix.name, ix.disc, other.name)
	}
	p.byDisc[ix.disc] = ix
	return nil
}

// MustRegister is Register that panics.
func (p *Program) MustRegister(ixs ...*Instruction) *Program {
	for _, ix := range ixs {
		if err := p.Register(ix); err != nil {
			panic(err)
		}
	}
	return p
}

// Instruction returns the instruction registered under name.
func (p *Program) Instruction(name string) (*Instruction, bool) {
	ix, ok := p.byDisc[InstructionDiscriminator(name)]
	return ix, ok
}

// Instructions returns the registered instruction names, sorted.
func (p *Program) Instructions() []string {
	names := make([]string, 0, len(p.byDisc))
	for _, ix := range p.byDisc {
		names = append(names, ix.name)
	}
	sort.Strings(names)
	return names
}

// Process dispatches instruction data to the matching instruction.
func (p *Program) Process(ctx *TxContext, accounts []*Account, data []byte) Outcome {
	if ctx.ProgramID() != p.id {
		return rejected(StageReceived, fmt.Errorf("%w: context for %s, program is %s", ErrInvalidArgument, ctx.ProgramID(), p.id))
	}
	if len(data) < DiscriminatorSize {
		return rejected(StageReceived, fmt.Errorf("%w: %d bytes of instruction data", ErrUnknownInstruction, len(data)))
	}
	var disc Discriminator
	copy(disc[:], data[:DiscriminatorSize])
	ix, ok := p.byDisc[disc]
	if !ok {
		return rejected(StageReceived, fmt.Errorf("%w: selector %s", ErrUnknownInstruction, disc))
	}
	ctx.Log("Instruction: %s", ix.name)
	return ix.Execute(ctx, accounts, data[DiscriminatorSize:])
}

// EncodeInstruction builds instruction data for name. args must be a value,
// not a pointer, or nil for no arguments.
func EncodeInstruction(name string, args any) ([]byte, error) {
	disc := InstructionDiscriminator(name)
	data := append([]byte(nil), disc[:]...)
	if args == nil {
		return data, nil
	}
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s args: %v", ErrInvalidArgument, name, err)
	}
	return append(data, body...), nil
}

// DecodeArgs decodes handler arguments into a new T.
func DecodeArgs[T any](args []byte) (*T, error) {
	v := new(T)
	if err := borsh.Deserialize(v, args); err != nil {
		return nil, fmt.Errorf("%w: decode args: %v", ErrInvalidArgument, err)
	}
	return v, nil
}

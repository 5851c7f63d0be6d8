package engine

import (
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/compute"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
)

// SignerSet holds the addresses whose signatures the host verified.
type SignerSet map[types.Pubkey]struct{}

// NewSignerSet builds a set from verified addresses.
func NewSignerSet(keys ...types.Pubkey) SignerSet {
	s := make(SignerSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether key signed.
func (s SignerSet) Has(key types.Pubkey) bool {
	_, ok := s[key]
	return ok
}

// TxContext is the per-instruction context supplied by the host. It lives for
// one instruction and is not shared between goroutines.
type TxContext struct {
	programID types.Pubkey
	signers   SignerSet
	derived   SignerSet
	meter     compute.Meter
	logs      []string
}

// NewTxContext creates a context for an instruction of programID. A nil meter
// means derivation searches are not charged.
func NewTxContext(programID types.Pubkey, signers SignerSet, meter compute.Meter) *TxContext {
	if signers == nil {
		signers = SignerSet{}
	}
	if meter == nil {
		meter = compute.Unmetered{}
	}
	return &TxContext{
		programID: programID,
		signers:   signers,
		derived:   SignerSet{},
		meter:     meter,
		logs:      make([]string, 0),
	}
}

// ProgramID returns the invoking program.
func (c *TxContext) ProgramID() types.Pubkey {
	return c.programID
}

// IsSigned reports whether the host verified a signature for key.
func (c *TxContext) IsSigned(key types.Pubkey) bool {
	return c.signers.Has(key)
}

// SignSeeds derives the program address for seeds, which must end with the
// bump, and lets the program act as its signer for the rest of the
// instruction.
func (c *TxContext) SignSeeds(seeds ...[]byte) (types.Pubkey, error) {
	addr, err := pda.CreateProgramAddress(seeds, c.programID)
	if err != nil {
		return types.Pubkey{}, err
	}
	c.derived[addr] = struct{}{}
	return addr, nil
}

func (c *TxContext) isProgramSigned(key types.Pubkey) bool {
	return c.derived.Has(key)
}

// ProgramSigned returns the addresses the program signed for with
// SignSeeds during this instruction.
func (c *TxContext) ProgramSigned() SignerSet {
	out := make(SignerSet, len(c.derived))
	for k := range c.derived {
		out[k] = struct{}{}
	}
	return out
}

// Meter returns the compute meter.
func (c *TxContext) Meter() compute.Meter {
	return c.meter
}

// Log records a program log message.
func (c *TxContext) Log(format string, args ...any) {
	c.logs = append(c.logs, fmt.Sprintf(format, args...))
}

// Logs returns the messages logged so far.
func (c *TxContext) Logs() []string {
	return c.logs
}

package runtime

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/compute"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
)

// Config holds runtime configuration.
type Config struct {
	// ComputeLimit is the compute budget of each transaction.
	ComputeLimit uint64

	// SkipSignatureVerification trusts the header's signer positions without
	// checking signatures. Only for replaying transactions verified upstream.
	SkipSignatureVerification bool

	// Logger receives one entry per transaction. Defaults to a no-op logger.
	Logger *zap.Logger

	// Faults injects failures at fixed points of Process. Test only.
	Faults *Faults

	// OnTransactionComplete is called after each transaction, committed or
	// rejected.
	OnTransactionComplete func(sig types.Signature, result *Result)
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		ComputeLimit: compute.CUDefault,
		Logger:       zap.NewNop(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ComputeLimit == 0 {
		return errors.New("compute limit must be positive")
	}
	if c.ComputeLimit > compute.CUMax {
		return fmt.Errorf("compute limit %d exceeds max %d", c.ComputeLimit, compute.CUMax)
	}
	return nil
}

// Faults holds injection points. A nil hook is skipped; a hook returning an
// error rejects the transaction at that point.
type Faults struct {
	// AfterInstruction runs after instruction index succeeded, with the
	// transaction's in-flight accounts. It may mutate them.
	AfterInstruction func(index int, accounts []*engine.Account) error

	// BeforeCommit runs with the computed write set before it is applied.
	BeforeCommit func(writes []types.Pubkey) error
}

func (f *Faults) afterInstruction(index int, accounts []*engine.Account) error {
	if f == nil || f.AfterInstruction == nil {
		return nil
	}
	if err := f.AfterInstruction(index, accounts); err != nil {
		return fmt.Errorf("%w: after instruction %d: %v", ErrInjectedFault, index, err)
	}
	return nil
}

func (f *Faults) beforeCommit(writes []types.Pubkey) error {
	if f == nil || f.BeforeCommit == nil {
		return nil
	}
	if err := f.BeforeCommit(writes); err != nil {
		return fmt.Errorf("%w: before commit: %v", ErrInjectedFault, err)
	}
	return nil
}

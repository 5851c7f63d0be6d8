// Package runtime is the host that runs transactions against engine programs.
//
// The runtime is responsible for:
//   - Checking transaction structure and verifying signatures
//   - Loading accounts from the accounts store with their transaction flags
//   - Dispatching each instruction to its deployed program
//   - Enforcing host rules on what an instruction may change
//   - Committing every write of a transaction or none of them
//   - Journaling each outcome to the receipts store
//
// Transactions are processed one at a time. A rejected transaction leaves the
// store exactly as it found it.
package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hdevalence/ed25519consensus"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/accounts"
	"github.com/fortiblox/X1-Bastion/pkg/compute"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/receipts"
)

// Errors. Rejections wrap an engine error so engine.TagOf classifies them.
var (
	ErrSanitizeFailure    = fmt.Errorf("%w: transaction failed sanitization", engine.ErrInvalidArgument)
	ErrSignatureFailure   = fmt.Errorf("%w: signature verification failed", engine.ErrNotSigner)
	ErrProgramNotFound    = fmt.Errorf("%w: program not deployed", engine.ErrUnknownInstruction)
	ErrReadonlyModified   = fmt.Errorf("%w: instruction modified a readonly account", engine.ErrNotWritable)
	ErrExternalModified   = fmt.Errorf("%w: instruction modified data of an account it does not own", engine.ErrOwnerMismatch)
	ErrExternalSpend      = fmt.Errorf("%w: instruction debited an account it does not own", engine.ErrOwnerMismatch)
	ErrIllegalOwnerChange = fmt.Errorf("%w: instruction reassigned an allocated account", engine.ErrOwnerMismatch)
	ErrUnbalanced         = fmt.Errorf("%w: instruction changed total lamports", engine.ErrInvalidArgument)
	ErrAlreadyProcessed   = fmt.Errorf("%w: transaction already committed", engine.ErrInvalidArgument)

	ErrMissingSignature = errors.New("missing signature for required signer")
	ErrProgramExists    = errors.New("program already deployed")
	ErrAddressInUse     = errors.New("address already holds a non-program account")
	ErrInjectedFault    = errors.New("injected fault")
)

// Result is the outcome of one transaction.
type Result struct {
	Signature types.Signature

	// Stage is engine.StageExecuted or engine.StageRejected.
	Stage    engine.Stage
	FailedAt engine.Stage
	Tag      engine.ErrorTag
	Err      error

	// Instruction is the index of the failing instruction, or -1.
	Instruction int

	Logs        []string
	ComputeUsed uint64

	// Modified lists the accounts written on commit.
	Modified []types.Pubkey

	// ReceiptSeq is the journal sequence number when receipts are enabled.
	ReceiptSeq uint64
}

// OK reports whether the transaction committed.
func (r *Result) OK() bool {
	return r.Stage == engine.StageExecuted
}

// Runtime executes transactions against an accounts store.
type Runtime struct {
	mu sync.Mutex

	db       accounts.DB
	receipts *receipts.Store
	programs map[types.Pubkey]*engine.Program

	// committed holds committed signatures when there is no journal.
	committed map[types.Signature]struct{}

	config Config
	log    *zap.Logger
}

// New creates a runtime over db. journal may be nil to disable receipts.
func New(db accounts.DB, journal *receipts.Store, config Config) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		db:        db,
		receipts:  journal,
		programs:  make(map[types.Pubkey]*engine.Program),
		committed: make(map[types.Signature]struct{}),
		config:    config,
		log:       log,
	}, nil
}

// Deploy makes p callable and stores its executable account.
func (r *Runtime) Deploy(p *engine.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, ok := r.programs[id]; ok {
		return fmt.Errorf("%w: %s", ErrProgramExists, id)
	}
	existing, err := r.db.GetAccount(id)
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
		err = r.db.SetAccount(id, &accounts.Account{
			Lamports:   1,
			Owner:      types.NativeLoaderAddr,
			Executable: true,
		})
		if err != nil {
			return fmt.Errorf("store program account: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load program account: %w", err)
	case !existing.Executable:
		return fmt.Errorf("%w: %s", ErrAddressInUse, id)
	}

	r.programs[id] = p
	r.log.Info("program deployed",
		zap.String("name", p.Name()),
		zap.Stringer("id", id),
		zap.Strings("instructions", p.Instructions()),
	)
	return nil
}

// Programs returns the deployed program IDs in ascending order.
func (r *Runtime) Programs() []types.Pubkey {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]types.Pubkey, 0, len(r.programs))
	for id := range r.programs {
		ids = append(ids, id)
	}
	accounts.SortPubkeys(ids)
	return ids
}

// Fund credits lamports to key outside of any transaction. Missing accounts
// are created system-owned.
func (r *Runtime) Fund(key types.Pubkey, lamports uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, err := r.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acct = &accounts.Account{Owner: types.SystemProgramAddr}
	} else if err != nil {
		return err
	}
	if acct.Lamports, err = engine.CheckedAdd(acct.Lamports, lamports); err != nil {
		return fmt.Errorf("fund %s: %w", key, err)
	}
	return r.db.SetAccount(key, acct)
}

// Account returns a copy of a stored account.
func (r *Runtime) Account(key types.Pubkey) (*accounts.Account, error) {
	return r.db.GetAccount(key)
}

// StateHash returns the blake3 commitment over all stored accounts.
func (r *Runtime) StateHash() (types.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return accounts.StateHash(r.db)
}

// Process executes tx. Rejections are reported in the Result with a nil
// error; an error means the store or the journal failed.
func (r *Runtime) Process(ctx context.Context, tx *Transaction) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	res, writes, err := r.execute(tx)
	if err != nil {
		return nil, err
	}

	if res.OK() {
		if err := r.db.Apply(writes); err != nil {
			r.log.Error("commit failed", zap.Stringer("signature", res.Signature), zap.Error(err))
			return nil, fmt.Errorf("commit: %w", err)
		}
		for _, w := range writes {
			res.Modified = append(res.Modified, w.Pubkey)
		}
		if r.receipts == nil && !res.Signature.IsZero() {
			r.committed[res.Signature] = struct{}{}
		}
	}

	if r.receipts != nil {
		seq, err := r.receipts.Put(r.receiptOf(tx, res))
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		res.ReceiptSeq = seq
	}

	fields := []zap.Field{
		zap.Stringer("signature", res.Signature),
		zap.Uint64("compute", res.ComputeUsed),
		zap.Duration("took", time.Since(start)),
	}
	if res.OK() {
		r.log.Debug("transaction committed", append(fields, zap.Int("modified", len(res.Modified)))...)
	} else {
		r.log.Info("transaction rejected", append(fields,
			zap.String("tag", string(res.Tag)),
			zap.Int("instruction", res.Instruction),
			zap.Stringer("stage", res.FailedAt),
			zap.Error(res.Err),
		)...)
	}

	if r.config.OnTransactionComplete != nil {
		r.config.OnTransactionComplete(res.Signature, res)
	}
	return res, nil
}

func (r *Runtime) receiptOf(tx *Transaction, res *Result) *receipts.Receipt {
	rec := &receipts.Receipt{
		Signature:   res.Signature,
		Accounts:    append([]types.Pubkey(nil), tx.Message.AccountKeys...),
		Instruction: res.Instruction,
		Stage:       res.Stage.String(),
		Tag:         string(res.Tag),
		Logs:        res.Logs,
		ComputeUsed: res.ComputeUsed,
		Time:        time.Now(),
	}
	if res.Err != nil {
		rec.Message = res.Err.Error()
	}
	ixs := tx.Message.Instructions
	i := res.Instruction
	if i < 0 {
		i = len(ixs) - 1
	}
	if i >= 0 && i < len(ixs) && int(ixs[i].ProgramIDIndex) < len(tx.Message.AccountKeys) {
		rec.Program = tx.Message.AccountKeys[ixs[i].ProgramIDIndex]
	}
	return rec
}

// execute runs tx against in-memory copies of its accounts and returns the
// write set. Nothing is written.
func (r *Runtime) execute(tx *Transaction) (*Result, []accounts.Update, error) {
	res := &Result{
		Signature:   tx.Signature(),
		Stage:       engine.StageExecuted,
		FailedAt:    engine.StageExecuted,
		Instruction: -1,
		Logs:        make([]string, 0),
	}
	reject := func(at engine.Stage, index int, err error) (*Result, []accounts.Update, error) {
		res.Stage = engine.StageRejected
		res.FailedAt = at
		res.Tag = engine.TagOf(err)
		res.Err = err
		res.Instruction = index
		return res, nil, nil
	}

	meter, err := compute.NewComputeMeter(r.config.ComputeLimit)
	if err != nil {
		return nil, nil, err
	}
	defer func() { res.ComputeUsed = meter.Consumed() }()

	if err := tx.Sanitize(); err != nil {
		return reject(engine.StageReceived, -1, err)
	}
	msg := &tx.Message

	signers, err := r.verifySignatures(tx, meter)
	if err != nil {
		return reject(engine.StageReceived, -1, err)
	}
	replay, err := r.isCommitted(res.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	if replay {
		return reject(engine.StageReceived, -1, fmt.Errorf("%w: %s", ErrAlreadyProcessed, res.Signature))
	}

	stored, live, err := r.loadAccounts(msg)
	if err != nil {
		return nil, nil, err
	}

	for i := range msg.Instructions {
		if err := r.executeInstruction(msg, i, live, signers, meter, res); err != nil {
			at := engine.StageValidated
			var out *instructionError
			if errors.As(err, &out) {
				at = out.at
				err = out.err
			}
			return reject(at, i, err)
		}
		if err := r.config.Faults.afterInstruction(i, live); err != nil {
			return reject(engine.StageExecuted, i, err)
		}
	}

	var writes []accounts.Update
	var keys []types.Pubkey
	for i, a := range live {
		if !msg.IsWritable(i) || !changed(stored[i], a) {
			continue
		}
		writes = append(writes, accounts.Update{
			Pubkey: a.Address,
			Account: &accounts.Account{
				Lamports:   a.Lamports,
				Data:       a.Data,
				Owner:      a.Owner,
				Executable: a.Executable,
				RentEpoch:  stored[i].RentEpoch,
			},
		})
		keys = append(keys, a.Address)
	}
	if err := r.config.Faults.beforeCommit(keys); err != nil {
		return reject(engine.StageExecuted, -1, err)
	}
	return res, writes, nil
}

// isCommitted reports whether a transaction with this signature already
// committed. A rejected transaction may be resubmitted.
func (r *Runtime) isCommitted(sig types.Signature) (bool, error) {
	if sig.IsZero() {
		return false, nil
	}
	if r.receipts == nil {
		_, ok := r.committed[sig]
		return ok, nil
	}
	rec, err := r.receipts.GetBySignature(sig)
	if errors.Is(err, receipts.ErrReceiptNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.OK(), nil
}

// verifySignatures returns the set of addresses that signed. The batch is
// checked first; on failure each signature is checked to name the culprit.
func (r *Runtime) verifySignatures(tx *Transaction, meter compute.Meter) (engine.SignerSet, error) {
	msg := &tx.Message
	n := int(msg.Header.NumRequiredSignatures)
	signers := engine.NewSignerSet(msg.AccountKeys[:n]...)
	if r.config.SkipSignatureVerification {
		return signers, nil
	}

	for i := 0; i < n; i++ {
		if err := meter.Consume(compute.CUSignatureVerify); err != nil {
			return nil, err
		}
	}
	payload, err := msg.Serialize()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize message: %v", ErrSanitizeFailure, err)
	}

	bv := ed25519consensus.NewPreallocatedBatchVerifier(n)
	for i := 0; i < n; i++ {
		bv.Add(ed25519.PublicKey(msg.AccountKeys[i][:]), payload, tx.Signatures[i][:])
	}
	if bv.Verify() {
		return signers, nil
	}
	for i := 0; i < n; i++ {
		if !ed25519consensus.Verify(ed25519.PublicKey(msg.AccountKeys[i][:]), payload, tx.Signatures[i][:]) {
			return nil, fmt.Errorf("%w: signer %d (%s)", ErrSignatureFailure, i, msg.AccountKeys[i])
		}
	}
	return signers, nil
}

// loadAccounts returns the stored form of every key and the live copies the
// instructions operate on. Missing accounts load as empty system accounts.
func (r *Runtime) loadAccounts(msg *Message) ([]*accounts.Account, []*engine.Account, error) {
	stored := make([]*accounts.Account, len(msg.AccountKeys))
	live := make([]*engine.Account, len(msg.AccountKeys))

	for i, key := range msg.AccountKeys {
		acct, err := r.db.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			acct = &accounts.Account{Owner: types.SystemProgramAddr}
		} else if err != nil {
			return nil, nil, fmt.Errorf("failed to load account %s: %w", key, err)
		}
		stored[i] = acct

		var data []byte
		if len(acct.Data) > 0 {
			data = append([]byte(nil), acct.Data...)
		}
		live[i] = &engine.Account{
			Address:    key,
			Owner:      acct.Owner,
			Lamports:   acct.Lamports,
			Data:       data,
			Executable: acct.Executable,
			IsSigner:   msg.IsSigner(i),
			// Program accounts are never writable.
			IsWritable: msg.IsWritable(i) && !acct.Executable,
		}
	}
	return stored, live, nil
}

// instructionError carries the stage an instruction failed at.
type instructionError struct {
	at  engine.Stage
	err error
}

func (e *instructionError) Error() string { return e.err.Error() }
func (e *instructionError) Unwrap() error { return e.err }

func (r *Runtime) executeInstruction(
	msg *Message,
	index int,
	live []*engine.Account,
	signers engine.SignerSet,
	meter *compute.ComputeMeter,
	res *Result,
) error {
	ix := &msg.Instructions[index]
	programID := msg.AccountKeys[ix.ProgramIDIndex]

	program, ok := r.programs[programID]
	if !ok {
		return &instructionError{engine.StageReceived, fmt.Errorf("%w: %s", ErrProgramNotFound, programID)}
	}
	if err := meter.Consume(compute.CUInstructionBase); err != nil {
		return &instructionError{engine.StageReceived, err}
	}

	ixAccounts := make([]*engine.Account, len(ix.AccountIndexes))
	var touched []int
	seen := make(map[uint8]bool, len(ix.AccountIndexes))
	for i, idx := range ix.AccountIndexes {
		ixAccounts[i] = live[idx]
		if !seen[idx] {
			seen[idx] = true
			touched = append(touched, int(idx))
		}
	}
	sort.Ints(touched)
	pre := make([]*engine.Account, len(touched))
	for i, idx := range touched {
		pre[i] = live[idx].Clone()
	}

	res.Logs = append(res.Logs, fmt.Sprintf("Program %s invoke [1]", programID))
	txctx := engine.NewTxContext(programID, signers, meter)
	out := program.Process(txctx, ixAccounts, ix.Data)
	for _, l := range txctx.Logs() {
		res.Logs = append(res.Logs, "Program log: "+l)
	}
	if !out.OK() {
		res.Logs = append(res.Logs, fmt.Sprintf("Program %s failed: %s", programID, out.Tag))
		return &instructionError{out.FailedAt, out.Err}
	}

	derived := txctx.ProgramSigned()
	for i, idx := range touched {
		if err := verifyChange(pre[i], live[idx], programID, signers, derived); err != nil {
			res.Logs = append(res.Logs, fmt.Sprintf("Program %s failed: %s", programID, engine.TagOf(err)))
			return &instructionError{engine.StageExecuted, err}
		}
	}
	if err := verifyBalance(pre, touched, live); err != nil {
		return &instructionError{engine.StageExecuted, err}
	}

	res.Logs = append(res.Logs, fmt.Sprintf("Program %s success", programID))
	return nil
}

// verifyChange enforces what one instruction may do to one account. Data and
// owner may change only on accounts the program owns, or on empty system
// accounts it allocates. Allocation needs the account's own signature or, for
// a derived address, the program's signature through its seeds. Lamports may
// leave only accounts the program owns or that signed.
func verifyChange(pre, post *engine.Account, programID types.Pubkey, signers, derived engine.SignerSet) error {
	if !changed(toStored(pre), post) {
		return nil
	}
	if pre.Executable || !pre.IsWritable {
		return fmt.Errorf("%w: %s", ErrReadonlyModified, pre.Address)
	}

	signed := pre.IsSigner && signers.Has(pre.Address)
	allocating := types.IsSystemOwned(pre.Owner) && len(pre.Data) == 0 &&
		(signed || derived.Has(pre.Address))
	if pre.Owner != post.Owner {
		if !allocating || post.Owner != programID {
			return fmt.Errorf("%w: %s from %s to %s", ErrIllegalOwnerChange, pre.Address, pre.Owner, post.Owner)
		}
	}
	if !bytes.Equal(pre.Data, post.Data) && pre.Owner != programID && !allocating {
		return fmt.Errorf("%w: %s owned by %s", ErrExternalModified, pre.Address, pre.Owner)
	}
	if post.Lamports < pre.Lamports && pre.Owner != programID && !signed {
		return fmt.Errorf("%w: %s owned by %s", ErrExternalSpend, pre.Address, pre.Owner)
	}
	return nil
}

func verifyBalance(pre []*engine.Account, touched []int, live []*engine.Account) error {
	var before, after uint64
	var err error
	for i, idx := range touched {
		if before, err = engine.CheckedAdd(before, pre[i].Lamports); err != nil {
			return fmt.Errorf("%w: %v", ErrUnbalanced, err)
		}
		if after, err = engine.CheckedAdd(after, live[idx].Lamports); err != nil {
			return fmt.Errorf("%w: %v", ErrUnbalanced, err)
		}
	}
	if before != after {
		return fmt.Errorf("%w: %d before, %d after", ErrUnbalanced, before, after)
	}
	return nil
}

func toStored(a *engine.Account) *accounts.Account {
	return &accounts.Account{
		Lamports:   a.Lamports,
		Data:       a.Data,
		Owner:      a.Owner,
		Executable: a.Executable,
	}
}

func changed(stored *accounts.Account, a *engine.Account) bool {
	return stored.Lamports != a.Lamports ||
		stored.Owner != a.Owner ||
		stored.Executable != a.Executable ||
		!bytes.Equal(stored.Data, a.Data)
}

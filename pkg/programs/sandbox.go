package programs

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// DefaultFunding is what Sandbox.User credits a new key with.
const DefaultFunding = 10_000_000_000

// Sandbox submits transactions to a runtime on behalf of named users. Keys
// are namespaced so repeated runs against a persistent store never reuse an
// address.
type Sandbox struct {
	rt        *runtime.Runtime
	namespace string
	nonce     engine.WrappingCounter
}

// NewSandbox creates a sandbox over rt. namespace prefixes every key label.
func NewSandbox(rt *runtime.Runtime, namespace string) *Sandbox {
	return &Sandbox{rt: rt, namespace: namespace}
}

// Runtime returns the underlying runtime.
func (s *Sandbox) Runtime() *runtime.Runtime {
	return s.rt
}

// Key returns the namespaced key for label without funding it.
func (s *Sandbox) Key(label string) ed25519.PrivateKey {
	return Keypair(s.namespace + "/" + label)
}

// User returns the namespaced key for label, funded with DefaultFunding.
func (s *Sandbox) User(label string) (ed25519.PrivateKey, error) {
	key := s.Key(label)
	if err := s.rt.Fund(Pubkey(key), DefaultFunding); err != nil {
		return nil, fmt.Errorf("fund %s: %w", label, err)
	}
	return key, nil
}

// Deploy deploys programs, skipping ones the runtime already has.
func (s *Sandbox) Deploy(ps ...*engine.Program) error {
	for _, p := range ps {
		if err := s.rt.Deploy(p); err != nil && !errors.Is(err, runtime.ErrProgramExists) {
			return err
		}
	}
	return nil
}

// Send builds a transaction paid by payer, signs it with payer and signers,
// and processes it. Required signers without a key are left unsigned, so
// attacks that name a victim as signer reach the runtime and are rejected
// there.
func (s *Sandbox) Send(ctx context.Context, payer ed25519.PrivateKey, signers []ed25519.PrivateKey, ixs ...runtime.InstructionSpec) (*runtime.Result, error) {
	s.nonce = s.nonce.Next()
	var blockhash types.Hash
	binary.LittleEndian.PutUint64(blockhash[:], uint64(s.nonce))

	tx, err := runtime.NewTransaction(Pubkey(payer), blockhash, ixs...)
	if err != nil {
		return nil, err
	}
	keys := append([]ed25519.PrivateKey{payer}, signers...)
	if err := tx.Sign(keys...); err != nil && !errors.Is(err, runtime.ErrMissingSignature) {
		return nil, err
	}
	return s.rt.Process(ctx, tx)
}

// Load reads a stored account as an engine account, for decoding with a
// schema. Flags are left unset.
func (s *Sandbox) Load(key types.Pubkey) (*engine.Account, error) {
	stored, err := s.rt.Account(key)
	if err != nil {
		return nil, err
	}
	return &engine.Account{
		Address:    key,
		Owner:      stored.Owner,
		Lamports:   stored.Lamports,
		Data:       stored.Data,
		Executable: stored.Executable,
	}, nil
}

// Lamports returns the stored balance of key, zero if it does not exist.
func (s *Sandbox) Lamports(key types.Pubkey) uint64 {
	stored, err := s.rt.Account(key)
	if err != nil {
		return 0
	}
	return stored.Lamports
}

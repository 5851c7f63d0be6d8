// Package programs holds the shared client plumbing for the exploit catalog.
//
// Each subpackage deploys one program with an insecure_* and a secure_*
// variant of the same instruction. The insecure variant omits exactly one
// account check; the secure variant declares it and the engine enforces it.
// Sandbox drives signed transactions through a runtime so both variants can
// be attacked the same way.
package programs

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// Address returns a deterministic address for label that no known key
// controls.
func Address(label string) types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte(label)))
}

// Keypair returns a deterministic ed25519 key for label.
func Keypair(label string) ed25519.PrivateKey {
	seed := sha256.Sum256([]byte("keypair:" + label))
	return ed25519.NewKeyFromSeed(seed[:])
}

// Pubkey returns the address of key.
func Pubkey(key ed25519.PrivateKey) types.Pubkey {
	return types.PubkeyFromEd25519(key.Public().(ed25519.PublicKey))
}

// Data encodes instruction data. It panics on an args value borsh cannot
// encode, which is a bug in the caller's args type.
func Data(name string, args any) []byte {
	data, err := engine.EncodeInstruction(name, args)
	if err != nil {
		panic(fmt.Sprintf("encode %s: %v", name, err))
	}
	return data
}

// Signer is a writable signer meta.
func Signer(key types.Pubkey) runtime.AccountMeta {
	return runtime.AccountMeta{Pubkey: key, IsSigner: true, IsWritable: true}
}

// ReadonlySigner is a read-only signer meta.
func ReadonlySigner(key types.Pubkey) runtime.AccountMeta {
	return runtime.AccountMeta{Pubkey: key, IsSigner: true}
}

// Writable is a writable non-signer meta.
func Writable(key types.Pubkey) runtime.AccountMeta {
	return runtime.AccountMeta{Pubkey: key, IsWritable: true}
}

// Readonly is a read-only non-signer meta.
func Readonly(key types.Pubkey) runtime.AccountMeta {
	return runtime.AccountMeta{Pubkey: key}
}

// Amount is the argument of every single-amount instruction.
type Amount struct {
	Amount uint64
}

// Derive returns the canonical derived address for seeds under program. It
// panics if the seeds exceed the derivation limits.
func Derive(program types.Pubkey, seeds ...[]byte) (types.Pubkey, uint8) {
	addr, bump, err := pda.FindProgramAddress(seeds, program)
	if err != nil {
		panic(fmt.Sprintf("derive %q: %v", seeds, err))
	}
	return addr, bump
}

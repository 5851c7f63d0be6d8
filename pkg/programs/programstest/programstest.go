// Package programstest builds in-memory sandboxes for program tests.
package programstest

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/accounts"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// New returns a sandbox over a fresh in-memory store with ps deployed.
func New(t testing.TB, ps ...*engine.Program) *programs.Sandbox {
	t.Helper()
	cfg := runtime.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	rt, err := runtime.New(accounts.NewMemoryDB(), nil, cfg)
	require.NoError(t, err)

	sb := programs.NewSandbox(rt, t.Name())
	require.NoError(t, sb.Deploy(ps...))
	return sb
}

// User returns a funded key.
func User(t testing.TB, sb *programs.Sandbox, label string) ed25519.PrivateKey {
	t.Helper()
	key, err := sb.User(label)
	require.NoError(t, err)
	return key
}

// Send submits a transaction and fails the test on infrastructure errors.
// Rejections are returned in the result.
func Send(t testing.TB, sb *programs.Sandbox, payer ed25519.PrivateKey, signers []ed25519.PrivateKey, ixs ...runtime.InstructionSpec) *runtime.Result {
	t.Helper()
	res, err := sb.Send(context.Background(), payer, signers, ixs...)
	require.NoError(t, err)
	return res
}

// MustSend is Send that also requires the transaction to commit.
func MustSend(t testing.TB, sb *programs.Sandbox, payer ed25519.PrivateKey, signers []ed25519.PrivateKey, ixs ...runtime.InstructionSpec) *runtime.Result {
	t.Helper()
	res := Send(t, sb, payer, signers, ixs...)
	require.True(t, res.OK(), "transaction rejected: %s: %v", res.Tag, res.Err)
	return res
}

// Record loads key and decodes it with schema. A schema from a fresh
// registry works: discriminators depend only on the record name.
func Record[T any](t testing.TB, sb *programs.Sandbox, schema *engine.Schema[T], key, owner types.Pubkey) *T {
	t.Helper()
	acct, err := sb.Load(key)
	require.NoError(t, err)
	v, err := schema.As(acct, owner)
	require.NoError(t, err)
	return v.Record
}

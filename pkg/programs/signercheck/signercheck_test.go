package signercheck

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/programs/programstest"
)

func setup(t *testing.T) (sb *programs.Sandbox, victim, attacker ed25519.PrivateKey) {
	sb = programstest.New(t, New())
	victim = programstest.User(t, sb, "victim")
	attacker = programstest.User(t, sb, "attacker")

	owner := programs.Pubkey(victim)
	programstest.MustSend(t, sb, victim, nil,
		Initialize(owner),
		Deposit(PotAddress(owner), owner, 1_000_000),
	)
	return sb, victim, attacker
}

func TestInitialize(t *testing.T) {
	sb, victim, _ := setup(t)
	owner := programs.Pubkey(victim)

	schema := engine.MustSchema[Pot](engine.NewRegistry(), "Pot")
	pot := programstest.Record(t, sb, schema, PotAddress(owner), ProgramID)
	require.Equal(t, owner, pot.Owner)

	// The pot address is bound to its owner.
	res := programstest.Send(t, sb, victim, nil, Initialize(owner))
	require.Equal(t, engine.TagAlreadyInitialized, res.Tag)
}

func TestInsecureWithdrawWithoutSignature(t *testing.T) {
	sb, victim, attacker := setup(t)
	owner := programs.Pubkey(victim)
	pot := PotAddress(owner)
	before := sb.Lamports(pot)

	// The attacker pays and signs; the owner only appears by key.
	res := programstest.Send(t, sb, attacker, nil, Withdraw(false, pot, owner, false, 600_000))
	require.True(t, res.OK(), "insecure withdraw: %v", res.Err)
	require.Equal(t, before-600_000, sb.Lamports(pot))
}

func TestSecureWithdrawRequiresSignature(t *testing.T) {
	sb, victim, attacker := setup(t)
	owner := programs.Pubkey(victim)
	pot := PotAddress(owner)
	before := sb.Lamports(pot)

	res := programstest.Send(t, sb, attacker, nil, Withdraw(true, pot, owner, false, 600_000))
	require.False(t, res.OK())
	require.Equal(t, engine.TagNotSigner, res.Tag)
	require.Equal(t, engine.StageAccountsBound, res.FailedAt)

	// Listing the owner as a signer without its key fails signature checks.
	res = programstest.Send(t, sb, attacker, nil, Withdraw(true, pot, owner, true, 600_000))
	require.Equal(t, engine.TagNotSigner, res.Tag)
	require.Equal(t, engine.StageReceived, res.FailedAt)

	// A signer that is not the stored owner.
	res = programstest.Send(t, sb, attacker, nil, Withdraw(true, pot, programs.Pubkey(attacker), true, 600_000))
	require.Equal(t, engine.TagAuthorityMismatch, res.Tag)

	require.Equal(t, before, sb.Lamports(pot))

	res = programstest.MustSend(t, sb, victim, nil, Withdraw(true, pot, owner, true, 600_000))
	require.Equal(t, before-600_000, sb.Lamports(pot))
	require.Contains(t, res.Logs, "Program log: Instruction: secure_withdraw")
}

func TestWithdrawUnderflow(t *testing.T) {
	sb, victim, _ := setup(t)
	owner := programs.Pubkey(victim)

	res := programstest.Send(t, sb, victim, nil, Withdraw(true, PotAddress(owner), owner, true, 1<<60))
	require.Equal(t, engine.TagInsufficientFunds, res.Tag)
}

package typecosplay

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/programs/programstest"
)

const deposited = 3_000_000

type fixture struct {
	sb       *programs.Sandbox
	operator types.Pubkey
	victim   ed25519.PrivateKey
	attacker ed25519.PrivateKey
	pool     types.Pubkey
}

func setup(t *testing.T) *fixture {
	sb := programstest.New(t, New())
	operatorKey := programstest.User(t, sb, "operator")
	f := &fixture{
		sb:       sb,
		operator: programs.Pubkey(operatorKey),
		victim:   programstest.User(t, sb, "victim"),
		attacker: programstest.User(t, sb, "attacker"),
		pool:     PoolAddress(programs.Pubkey(operatorKey)),
	}
	victim := programs.Pubkey(f.victim)
	programstest.MustSend(t, sb, operatorKey, nil, InitPool(f.operator))
	programstest.MustSend(t, sb, f.victim, nil, InitUser(victim), Deposit(f.operator, victim, deposited))
	programstest.MustSend(t, sb, f.attacker, nil, InitAdmin(programs.Pubkey(f.attacker), deposited))
	return f
}

func (f *fixture) balance(t *testing.T, authority types.Pubkey) uint64 {
	schema := engine.MustSchema[UserAccount](engine.NewRegistry(), "UserAccount")
	return programstest.Record(t, f.sb, schema, UserAddress(authority), ProgramID).Balance
}

func TestPoolStoresCanonicalBump(t *testing.T) {
	f := setup(t)
	schema := engine.MustSchema[Pool](engine.NewRegistry(), "Pool")
	pool := programstest.Record(t, f.sb, schema, f.pool, ProgramID)
	_, bump := programs.Derive(ProgramID, []byte("pool"), f.operator[:])
	require.Equal(t, bump, pool.Bump)
	require.Equal(t, f.operator, pool.Operator)
}

func TestSecureWithdraw(t *testing.T) {
	f := setup(t)
	victim := programs.Pubkey(f.victim)
	poolBefore := f.sb.Lamports(f.pool)
	require.Equal(t, uint64(deposited), f.balance(t, victim))

	programstest.MustSend(t, f.sb, f.victim, nil, Withdraw(true, UserAddress(victim), f.operator, victim, 1_000_000))
	require.Equal(t, uint64(deposited-1_000_000), f.balance(t, victim))
	require.Equal(t, poolBefore-1_000_000, f.sb.Lamports(f.pool))

	res := programstest.Send(t, f.sb, f.victim, nil, Withdraw(true, UserAddress(victim), f.operator, victim, deposited))
	require.Equal(t, engine.TagInsufficientFunds, res.Tag)

	// Someone else's user account.
	res = programstest.Send(t, f.sb, f.attacker, nil,
		Withdraw(true, UserAddress(victim), f.operator, programs.Pubkey(f.attacker), 1))
	require.Equal(t, engine.TagAuthorityMismatch, res.Tag)
}

func TestInsecureWithdrawAcceptsAdminAccount(t *testing.T) {
	f := setup(t)
	attacker := programs.Pubkey(f.attacker)
	victim := programs.Pubkey(f.victim)
	poolBefore := f.sb.Lamports(f.pool)

	res := programstest.Send(t, f.sb, f.attacker, nil, Withdraw(false, AdminAddress(attacker), f.operator, attacker, deposited))
	require.True(t, res.OK(), "insecure withdraw: %v", res.Err)
	require.Equal(t, poolBefore-deposited, f.sb.Lamports(f.pool))

	// The victim's deposit is gone from the pool but not from the books.
	require.Equal(t, uint64(deposited), f.balance(t, victim))
	res = programstest.Send(t, f.sb, f.victim, nil, Withdraw(true, UserAddress(victim), f.operator, victim, deposited))
	require.Equal(t, engine.TagInsufficientFunds, res.Tag)
}

func TestSecureWithdrawRejectsAdminAccount(t *testing.T) {
	f := setup(t)
	attacker := programs.Pubkey(f.attacker)
	poolBefore := f.sb.Lamports(f.pool)

	res := programstest.Send(t, f.sb, f.attacker, nil, Withdraw(true, AdminAddress(attacker), f.operator, attacker, deposited))
	require.Equal(t, engine.TagTypeMismatch, res.Tag)
	require.Equal(t, engine.StageAccountsBound, res.FailedAt)
	require.Equal(t, poolBefore, f.sb.Lamports(f.pool))
}

package reinit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/programs/programstest"
)

func admin(t *testing.T, sb *programs.Sandbox, namespace types.Pubkey) types.Pubkey {
	schema := engine.MustSchema[State](engine.NewRegistry(), "State")
	return programstest.Record(t, sb, schema, StateAddress(namespace), ProgramID).Admin
}

func TestInsecureInitOverwritesAdmin(t *testing.T) {
	sb := programstest.New(t, New())
	victim := programstest.User(t, sb, "victim")
	attacker := programstest.User(t, sb, "attacker")
	namespace := programs.Address(t.Name())

	programstest.MustSend(t, sb, victim, nil, Init(true, namespace, programs.Pubkey(victim)))
	require.Equal(t, programs.Pubkey(victim), admin(t, sb, namespace))

	programstest.MustSend(t, sb, attacker, nil, Init(false, namespace, programs.Pubkey(attacker)))
	require.Equal(t, programs.Pubkey(attacker), admin(t, sb, namespace))
}

func TestSecureInitRunsOnce(t *testing.T) {
	sb := programstest.New(t, New())
	victim := programstest.User(t, sb, "victim")
	attacker := programstest.User(t, sb, "attacker")
	namespace := programs.Address(t.Name())

	programstest.MustSend(t, sb, victim, nil, Init(true, namespace, programs.Pubkey(victim)))
	stateBefore := sb.Lamports(StateAddress(namespace))

	res := programstest.Send(t, sb, attacker, nil, Init(true, namespace, programs.Pubkey(attacker)))
	require.Equal(t, engine.TagAlreadyInitialized, res.Tag)
	require.Equal(t, engine.StageAccountsBound, res.FailedAt)

	res = programstest.Send(t, sb, victim, nil, Init(true, namespace, programs.Pubkey(victim)))
	require.Equal(t, engine.TagAlreadyInitialized, res.Tag)

	require.Equal(t, programs.Pubkey(victim), admin(t, sb, namespace))
	require.Equal(t, stateBefore, sb.Lamports(StateAddress(namespace)))
}

func TestInitBeforeCreation(t *testing.T) {
	sb := programstest.New(t, New())
	attacker := programstest.User(t, sb, "attacker")

	// Nothing to overwrite: the account is not a State yet.
	res := programstest.Send(t, sb, attacker, nil, Init(false, programs.Address(t.Name()), programs.Pubkey(attacker)))
	require.Equal(t, engine.TagOwnerMismatch, res.Tag)
}

func TestRotateAdmin(t *testing.T) {
	sb := programstest.New(t, New())
	victim := programstest.User(t, sb, "victim")
	attacker := programstest.User(t, sb, "attacker")
	successor := programs.Address("successor")
	namespace := programs.Address(t.Name())

	programstest.MustSend(t, sb, victim, nil, Init(true, namespace, programs.Pubkey(victim)))

	res := programstest.Send(t, sb, attacker, nil, RotateAdmin(namespace, programs.Pubkey(attacker), programs.Pubkey(attacker)))
	require.Equal(t, engine.TagAuthorityMismatch, res.Tag)

	programstest.MustSend(t, sb, victim, nil, RotateAdmin(namespace, programs.Pubkey(victim), successor))
	require.Equal(t, successor, admin(t, sb, namespace))
}

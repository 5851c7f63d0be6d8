package ownercheck

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/programs/programstest"
)

type fixture struct {
	sb       *programs.Sandbox
	victim   ed25519.PrivateKey
	attacker ed25519.PrivateKey
	config   types.Pubkey
	realm    types.Pubkey
}

func setup(t *testing.T) *fixture {
	sb := programstest.New(t, New(), NewImpostor())
	f := &fixture{
		sb:       sb,
		victim:   programstest.User(t, sb, "victim"),
		attacker: programstest.User(t, sb, "attacker"),
		realm:    programs.Address(t.Name() + "/realm"),
	}
	configKey := sb.Key("config")
	f.config = programs.Pubkey(configKey)
	programstest.MustSend(t, sb, f.victim, []ed25519.PrivateKey{configKey},
		Initialize(f.config, f.realm, programs.Pubkey(f.victim), 1))
	return f
}

func (f *fixture) settings(t *testing.T) uint64 {
	schema := engine.MustSchema[Settings](engine.NewRegistry(), "Settings")
	return programstest.Record(t, f.sb, schema, SettingsAddress(f.realm), ProgramID).Data
}

// forge creates an impostor-owned config claiming the victim's realm.
func (f *fixture) forge(t *testing.T) types.Pubkey {
	key := f.sb.Key("forged")
	forged := programs.Pubkey(key)
	programstest.MustSend(t, f.sb, f.attacker, []ed25519.PrivateKey{key},
		ForgeConfig(forged, programs.Pubkey(f.attacker), f.realm, 0))
	return forged
}

func TestInitialize(t *testing.T) {
	f := setup(t)
	schema := engine.MustSchema[Config](engine.NewRegistry(), "Config")
	c := programstest.Record(t, f.sb, schema, f.config, ProgramID)
	require.Equal(t, programs.Pubkey(f.victim), c.Authority)
	require.Equal(t, f.realm, c.Realm)
	require.Zero(t, f.settings(t))

	// A second config for the same realm cannot be created.
	otherKey := f.sb.Key("other-config")
	res := programstest.Send(t, f.sb, f.attacker, []ed25519.PrivateKey{otherKey},
		Initialize(programs.Pubkey(otherKey), f.realm, programs.Pubkey(f.attacker), 1))
	require.Equal(t, engine.TagAlreadyInitialized, res.Tag)
}

func TestUpdateByAuthority(t *testing.T) {
	f := setup(t)
	victim := programs.Pubkey(f.victim)

	programstest.MustSend(t, f.sb, f.victim, nil, Update(true, f.config, f.realm, victim, 5))
	require.Equal(t, uint64(5), f.settings(t))
	programstest.MustSend(t, f.sb, f.victim, nil, Update(false, f.config, f.realm, victim, 6))
	require.Equal(t, uint64(6), f.settings(t))

	res := programstest.Send(t, f.sb, f.attacker, nil, Update(true, f.config, f.realm, programs.Pubkey(f.attacker), 7))
	require.Equal(t, engine.TagAuthorityMismatch, res.Tag)
}

func TestForgedConfigHasSameDiscriminator(t *testing.T) {
	f := setup(t)
	forged := f.forge(t)

	acct, err := f.sb.Load(forged)
	require.NoError(t, err)
	require.Equal(t, ImpostorProgramID, acct.Owner)

	disc, ok := acct.Discriminator()
	require.True(t, ok)
	require.Equal(t, engine.AccountDiscriminator("Config"), disc)
}

func TestInsecureUpdateAcceptsForgedConfig(t *testing.T) {
	f := setup(t)
	forged := f.forge(t)

	res := programstest.Send(t, f.sb, f.attacker, nil, Update(false, forged, f.realm, programs.Pubkey(f.attacker), 666))
	require.True(t, res.OK(), "insecure update: %v", res.Err)
	require.Equal(t, uint64(666), f.settings(t))
}

func TestSecureUpdateRejectsForeignOwner(t *testing.T) {
	f := setup(t)
	forged := f.forge(t)

	res := programstest.Send(t, f.sb, f.attacker, nil, Update(true, forged, f.realm, programs.Pubkey(f.attacker), 666))
	require.Equal(t, engine.TagOwnerMismatch, res.Tag)
	require.Equal(t, engine.StageAccountsBound, res.FailedAt)
	require.Zero(t, f.settings(t))
}

func TestSecureUpdateRejectsOtherRealm(t *testing.T) {
	f := setup(t)
	attacker := programs.Pubkey(f.attacker)

	// A legitimate config, but for the attacker's own realm.
	ownKey := f.sb.Key("attacker-config")
	programstest.MustSend(t, f.sb, f.attacker, []ed25519.PrivateKey{ownKey},
		Initialize(programs.Pubkey(ownKey), programs.Address(t.Name()+"/attacker-realm"), attacker, 1))

	res := programstest.Send(t, f.sb, f.attacker, nil, Update(true, programs.Pubkey(ownKey), f.realm, attacker, 666))
	require.Equal(t, engine.TagInvalidArgument, res.Tag)
	require.Zero(t, f.settings(t))
}

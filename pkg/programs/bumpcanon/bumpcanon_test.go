package bumpcanon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Bastion/internal/types"
	"github.com/fortiblox/X1-Bastion/pkg/compute"
	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/programs/programstest"
)

func vaultRecord(t *testing.T, sb *programs.Sandbox, addr types.Pubkey) *Vault {
	schema := engine.MustSchema[Vault](engine.NewRegistry(), "Vault")
	return programstest.Record(t, sb, schema, addr, ProgramID)
}

func TestAlternateVault(t *testing.T) {
	authority := programs.Address(t.Name())
	canonical, canonicalBump := VaultAddress(authority)
	alt, bump, err := AlternateVault(authority)
	require.NoError(t, err)
	require.Less(t, bump, canonicalBump)
	require.NotEqual(t, canonical, alt)

	seeds := [][]byte{[]byte("vault"), authority[:]}
	require.True(t, pda.VerifyProgramAddress(alt, seeds, bump, ProgramID))
	require.ErrorIs(t, pda.VerifyCanonical(alt, seeds, bump, ProgramID, compute.Unmetered{}), pda.ErrDerivationMismatch)
}

func TestInsecureInitCreatesSecondVault(t *testing.T) {
	sb := programstest.New(t, New())
	user := programstest.User(t, sb, "user")
	authority := programs.Pubkey(user)

	canonical, canonicalBump := VaultAddress(authority)
	alt, altBump, err := AlternateVault(authority)
	require.NoError(t, err)

	programstest.MustSend(t, sb, user, nil, InsecureInit(canonical, authority, canonicalBump))
	programstest.MustSend(t, sb, user, nil, InsecureInit(alt, authority, altBump))

	require.Equal(t, altBump, vaultRecord(t, sb, alt).Bump)
	require.Equal(t, canonicalBump, vaultRecord(t, sb, canonical).Bump)

	// The canonical vault still works; the second one is unreachable.
	programstest.MustSend(t, sb, user, nil, Deposit(canonical, authority, 100))
	res := programstest.Send(t, sb, user, nil, Deposit(alt, authority, 100))
	require.Equal(t, engine.TagDerivationMismatch, res.Tag)
}

func TestInsecureInitRejectsWrongAddress(t *testing.T) {
	sb := programstest.New(t, New())
	user := programstest.User(t, sb, "user")
	authority := programs.Pubkey(user)
	canonical, _ := VaultAddress(authority)
	_, altBump, err := AlternateVault(authority)
	require.NoError(t, err)

	res := programstest.Send(t, sb, user, nil, InsecureInit(canonical, authority, altBump))
	require.Equal(t, engine.TagDerivationMismatch, res.Tag)
}

func TestSecureInitIsCanonical(t *testing.T) {
	sb := programstest.New(t, New())
	user := programstest.User(t, sb, "user")
	authority := programs.Pubkey(user)
	canonical, canonicalBump := VaultAddress(authority)

	res := programstest.MustSend(t, sb, user, nil, SecureInit(authority))
	require.Equal(t, canonicalBump, vaultRecord(t, sb, canonical).Bump)
	require.Contains(t, res.Logs, "Program log: Instruction: secure_init")

	res = programstest.Send(t, sb, user, nil, SecureInit(authority))
	require.Equal(t, engine.TagAlreadyInitialized, res.Tag)

	before := sb.Lamports(canonical)
	programstest.MustSend(t, sb, user, nil, Deposit(canonical, authority, 100))
	require.Equal(t, before+100, sb.Lamports(canonical))
}

func TestDepositRequiresAuthority(t *testing.T) {
	sb := programstest.New(t, New())
	user := programstest.User(t, sb, "user")
	attacker := programstest.User(t, sb, "attacker")
	authority := programs.Pubkey(user)
	canonical, _ := VaultAddress(authority)
	programstest.MustSend(t, sb, user, nil, SecureInit(authority))

	// The vault derives from the signer, so the attacker's own derivation
	// does not reach the user's vault.
	res := programstest.Send(t, sb, attacker, nil, Deposit(canonical, programs.Pubkey(attacker), 1))
	require.Equal(t, engine.TagDerivationMismatch, res.Tag)
}

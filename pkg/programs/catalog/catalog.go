// Package catalog runs every exploit scenario against both variants of its
// program through a runtime, with signed transactions.
package catalog

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/fortiblox/X1-Bastion/pkg/engine"
	"github.com/fortiblox/X1-Bastion/pkg/programs"
	"github.com/fortiblox/X1-Bastion/pkg/programs/bumpcanon"
	"github.com/fortiblox/X1-Bastion/pkg/programs/closing"
	"github.com/fortiblox/X1-Bastion/pkg/programs/overflow"
	"github.com/fortiblox/X1-Bastion/pkg/programs/ownercheck"
	"github.com/fortiblox/X1-Bastion/pkg/programs/pdasharing"
	"github.com/fortiblox/X1-Bastion/pkg/programs/reinit"
	"github.com/fortiblox/X1-Bastion/pkg/programs/signercheck"
	"github.com/fortiblox/X1-Bastion/pkg/programs/typecosplay"
	"github.com/fortiblox/X1-Bastion/pkg/runtime"
)

// Finding is the outcome of one scenario.
type Finding struct {
	// Name is the scenario, also the program package name.
	Name string

	// Class names the missing check.
	Class string

	// Impact describes what the exploit achieved.
	Impact string

	// Exploit is the attack against the insecure instruction.
	Exploit *runtime.Result

	// Defense is the same attack against the secure instruction.
	Defense *runtime.Result

	// Want is the tag the secure instruction must reject with.
	Want engine.ErrorTag
}

// Exploitable reports whether the attack committed against the insecure
// instruction.
func (f *Finding) Exploitable() bool {
	return f.Exploit != nil && f.Exploit.OK()
}

// Blocked reports whether the secure instruction rejected the attack with
// the expected tag.
func (f *Finding) Blocked() bool {
	return f.Defense != nil && f.Defense.Tag == f.Want
}

type scenario struct {
	name   string
	class  string
	impact string
	want   engine.ErrorTag
	run    func(*session) (exploit, defense *runtime.Result, err error)
}

var scenarios = []scenario{
	{
		name:   "signercheck",
		class:  "missing signer check",
		impact: "anyone can withdraw from a pot by naming its owner",
		want:   engine.TagNotSigner,
		run:    runSignerCheck,
	},
	{
		name:   "pdasharing",
		class:  "unverified derived authority",
		impact: "a vault is drained by presenting its authority address",
		want:   engine.TagDerivationMismatch,
		run:    runPDASharing,
	},
	{
		name:   "reinit",
		class:  "reinitialization",
		impact: "re-running init hands the state to a new admin",
		want:   engine.TagAlreadyInitialized,
		run:    runReinit,
	},
	{
		name:   "overflow",
		class:  "unchecked arithmetic",
		impact: "sums silently wrap to zero",
		want:   engine.TagOverflow,
		run:    runOverflow,
	},
	{
		name:   "ownercheck",
		class:  "missing owner check",
		impact: "a config forged by another program authorizes updates",
		want:   engine.TagOwnerMismatch,
		run:    runOwnerCheck,
	},
	{
		name:   "typecosplay",
		class:  "missing discriminator check",
		impact: "an admin allowance is paid out of user deposits",
		want:   engine.TagTypeMismatch,
		run:    runTypeCosplay,
	},
	{
		name:   "closing",
		class:  "incomplete close",
		impact: "a drained account keeps its record and can be revived",
		want:   engine.TagTypeMismatch,
		run:    runClosing,
	},
	{
		name:   "bumpcanon",
		class:  "non-canonical bump",
		impact: "one authority owns a second vault at a non-canonical address",
		want:   engine.TagDerivationMismatch,
		run:    runBumpCanon,
	},
}

// Programs returns every program the scenarios need.
func Programs() []*engine.Program {
	return []*engine.Program{
		signercheck.New(),
		pdasharing.New(),
		reinit.New(),
		overflow.New(),
		ownercheck.New(),
		ownercheck.NewImpostor(),
		typecosplay.New(),
		closing.New(),
		bumpcanon.New(),
	}
}

// Names returns the scenario names in run order.
func Names() []string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return names
}

// Run deploys the programs and runs every scenario. An error means a
// scenario could not be set up, not that an attack succeeded.
func Run(ctx context.Context, sb *programs.Sandbox) ([]Finding, error) {
	if err := sb.Deploy(Programs()...); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	findings := make([]Finding, 0, len(scenarios))
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		s := &session{ctx: ctx, sb: sb, prefix: sc.name + "/"}
		exploit, defense, err := sc.run(s)
		if err != nil {
			return findings, fmt.Errorf("%s: %w", sc.name, err)
		}
		findings = append(findings, Finding{
			Name:    sc.name,
			Class:   sc.class,
			Impact:  sc.impact,
			Exploit: exploit,
			Defense: defense,
			Want:    sc.want,
		})
	}
	return findings, nil
}

// session scopes key labels to one scenario.
type session struct {
	ctx    context.Context
	sb     *programs.Sandbox
	prefix string
}

func (s *session) user(label string) (ed25519.PrivateKey, error) {
	return s.sb.User(s.prefix + label)
}

func (s *session) key(label string) ed25519.PrivateKey {
	return s.sb.Key(s.prefix + label)
}

func (s *session) send(payer ed25519.PrivateKey, signers []ed25519.PrivateKey, ixs ...runtime.InstructionSpec) (*runtime.Result, error) {
	return s.sb.Send(s.ctx, payer, signers, ixs...)
}

// setup sends a transaction that must commit.
func (s *session) setup(payer ed25519.PrivateKey, signers []ed25519.PrivateKey, ixs ...runtime.InstructionSpec) error {
	res, err := s.send(payer, signers, ixs...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("setup rejected at instruction %d: %s: %v", res.Instruction, res.Tag, res.Err)
	}
	return nil
}

// users funds the named keys.
func (s *session) users(labels ...string) ([]ed25519.PrivateKey, error) {
	keys := make([]ed25519.PrivateKey, len(labels))
	for i, l := range labels {
		k, err := s.user(l)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

// attack sends the same attack against both variants.
func (s *session) attack(payer ed25519.PrivateKey, signers []ed25519.PrivateKey, build func(secure bool) runtime.InstructionSpec) (exploit, defense *runtime.Result, err error) {
	if exploit, err = s.send(payer, signers, build(false)); err != nil {
		return nil, nil, err
	}
	if defense, err = s.send(payer, signers, build(true)); err != nil {
		return nil, nil, err
	}
	return exploit, defense, nil
}

func runSignerCheck(s *session) (*runtime.Result, *runtime.Result, error) {
	keys, err := s.users("victim", "attacker")
	if err != nil {
		return nil, nil, err
	}
	owner := programs.Pubkey(keys[0])
	pot := signercheck.PotAddress(owner)
	if err := s.setup(keys[0], nil, signercheck.Initialize(owner), signercheck.Deposit(pot, owner, 1_000_000)); err != nil {
		return nil, nil, err
	}
	return s.attack(keys[1], nil, func(secure bool) runtime.InstructionSpec {
		return signercheck.Withdraw(secure, pot, owner, false, 400_000)
	})
}

func runPDASharing(s *session) (*runtime.Result, *runtime.Result, error) {
	keys, err := s.users("victim", "attacker")
	if err != nil {
		return nil, nil, err
	}
	victim, attacker := programs.Pubkey(keys[0]), programs.Pubkey(keys[1])
	vaultKey := s.key("vault")
	vault := programs.Pubkey(vaultKey)
	if err := s.setup(keys[0], []ed25519.PrivateKey{vaultKey},
		pdasharing.Initialize(vault, victim),
		pdasharing.Deposit(vault, victim, 2_000_000),
	); err != nil {
		return nil, nil, err
	}
	loot := programs.Pubkey(s.key("loot"))
	return s.attack(keys[1], nil, func(secure bool) runtime.InstructionSpec {
		return pdasharing.Withdraw(secure, vault, pdasharing.AuthorityAddress(victim), attacker, loot, 1_000_000)
	})
}

func runReinit(s *session) (*runtime.Result, *runtime.Result, error) {
	keys, err := s.users("victim", "attacker")
	if err != nil {
		return nil, nil, err
	}
	namespace := programs.Pubkey(s.key("namespace"))
	if err := s.setup(keys[0], nil, reinit.Init(true, namespace, programs.Pubkey(keys[0]))); err != nil {
		return nil, nil, err
	}
	// The secure attempt runs while the victim is still admin.
	defense, err := s.send(keys[1], nil, reinit.Init(true, namespace, programs.Pubkey(keys[1])))
	if err != nil {
		return nil, nil, err
	}
	exploit, err := s.send(keys[1], nil, reinit.Init(false, namespace, programs.Pubkey(keys[1])))
	if err != nil {
		return nil, nil, err
	}
	return exploit, defense, nil
}

func runOverflow(s *session) (*runtime.Result, *runtime.Result, error) {
	user, err := s.user("user")
	if err != nil {
		return nil, nil, err
	}
	counterKey := s.key("counter")
	counter := programs.Pubkey(counterKey)
	if err := s.setup(user, []ed25519.PrivateKey{counterKey}, overflow.Initialize(counter, programs.Pubkey(user))); err != nil {
		return nil, nil, err
	}
	return s.attack(user, nil, func(secure bool) runtime.InstructionSpec {
		return overflow.Add(secure, counter, math.MaxUint64, 1)
	})
}

func runOwnerCheck(s *session) (*runtime.Result, *runtime.Result, error) {
	keys, err := s.users("victim", "attacker")
	if err != nil {
		return nil, nil, err
	}
	victim, attacker := programs.Pubkey(keys[0]), programs.Pubkey(keys[1])
	realm := programs.Pubkey(s.key("realm"))
	configKey, forgedKey := s.key("config"), s.key("forged")
	if err := s.setup(keys[0], []ed25519.PrivateKey{configKey},
		ownercheck.Initialize(programs.Pubkey(configKey), realm, victim, 1)); err != nil {
		return nil, nil, err
	}
	forged := programs.Pubkey(forgedKey)
	if err := s.setup(keys[1], []ed25519.PrivateKey{forgedKey}, ownercheck.ForgeConfig(forged, attacker, realm, 0)); err != nil {
		return nil, nil, err
	}
	return s.attack(keys[1], nil, func(secure bool) runtime.InstructionSpec {
		return ownercheck.Update(secure, forged, realm, attacker, 666)
	})
}

func runTypeCosplay(s *session) (*runtime.Result, *runtime.Result, error) {
	keys, err := s.users("operator", "victim", "attacker")
	if err != nil {
		return nil, nil, err
	}
	operator, victim, attacker := programs.Pubkey(keys[0]), programs.Pubkey(keys[1]), programs.Pubkey(keys[2])
	if err := s.setup(keys[0], nil, typecosplay.InitPool(operator)); err != nil {
		return nil, nil, err
	}
	if err := s.setup(keys[1], nil, typecosplay.InitUser(victim), typecosplay.Deposit(operator, victim, 3_000_000)); err != nil {
		return nil, nil, err
	}
	if err := s.setup(keys[2], nil, typecosplay.InitAdmin(attacker, 1_000_000)); err != nil {
		return nil, nil, err
	}
	return s.attack(keys[2], nil, func(secure bool) runtime.InstructionSpec {
		return typecosplay.Withdraw(secure, typecosplay.AdminAddress(attacker), operator, attacker, 1_000_000)
	})
}

// runClosing closes one vault per variant, then tries to revive each.
func runClosing(s *session) (*runtime.Result, *runtime.Result, error) {
	keys, err := s.users("insecure-owner", "secure-owner", "attacker")
	if err != nil {
		return nil, nil, err
	}
	refund := programs.Pubkey(s.key("refund"))
	attacker := programs.Pubkey(keys[2])

	results := make([]*runtime.Result, 2)
	for i, secure := range []bool{false, true} {
		owner := programs.Pubkey(keys[i])
		if err := s.setup(keys[i], nil, closing.Initialize(owner, 1_000_000)); err != nil {
			return nil, nil, err
		}
		if err := s.setup(keys[i], nil, closing.Close(secure, owner, refund)); err != nil {
			return nil, nil, err
		}
		if results[i], err = s.send(keys[2], nil, closing.Deposit(owner, attacker, 1)); err != nil {
			return nil, nil, err
		}
	}
	return results[0], results[1], nil
}

func runBumpCanon(s *session) (*runtime.Result, *runtime.Result, error) {
	user, err := s.user("authority")
	if err != nil {
		return nil, nil, err
	}
	authority := programs.Pubkey(user)
	alt, bump, err := bumpcanon.AlternateVault(authority)
	if err != nil {
		return nil, nil, err
	}
	if err := s.setup(user, nil, bumpcanon.SecureInit(authority)); err != nil {
		return nil, nil, err
	}
	// The second vault is created through the caller's bump; the gated
	// deposit refuses to treat it as the authority's vault.
	exploit, err := s.send(user, nil, bumpcanon.InsecureInit(alt, authority, bump))
	if err != nil {
		return nil, nil, err
	}
	defense, err := s.send(user, nil, bumpcanon.Deposit(alt, authority, 1))
	if err != nil {
		return nil, nil, err
	}
	return exploit, defense, nil
}

package runtime

import (
	"crypto/ed25519"
	"fmt"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// MaxAccountKeys bounds the accounts a transaction can reference; indexes
// are one byte.
const MaxAccountKeys = 256

// Transaction is a signed message.
type Transaction struct {
	// Signatures holds one signature per required signer, in key order.
	Signatures []types.Signature

	Message Message
}

// Signature returns the first signature, used as the transaction ID.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// Message is the signed part of a transaction.
type Message struct {
	// Header describes signature and account requirements.
	Header MessageHeader

	// AccountKeys lists all accounts referenced by this transaction: writable
	// signers, readonly signers, writable non-signers, readonly non-signers.
	AccountKeys []types.Pubkey

	// RecentBlockhash makes otherwise identical messages sign differently.
	// The runtime refuses a signature that already committed.
	RecentBlockhash types.Hash

	Instructions []Instruction
}

// MessageHeader describes signature and account requirements.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// Instruction is one compiled instruction.
type Instruction struct {
	// ProgramIDIndex is the index of the program account in AccountKeys.
	ProgramIDIndex uint8

	// AccountIndexes lists the account indexes this instruction uses, in role
	// order.
	AccountIndexes []uint8

	// Data is the instruction selector followed by its arguments.
	Data []byte
}

// Serialize returns the bytes covered by the signatures.
func (m *Message) Serialize() ([]byte, error) {
	return borsh.Serialize(*m)
}

// IsSigner reports whether the key at index must sign.
func (m *Message) IsSigner(index int) bool {
	return index < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the key at index is writable.
func (m *Message) IsWritable(index int) bool {
	h := m.Header
	numSigners := int(h.NumRequiredSignatures)
	if index < numSigners {
		return index < numSigners-int(h.NumReadonlySignedAccounts)
	}
	numWritableUnsigned := len(m.AccountKeys) - numSigners - int(h.NumReadonlyUnsignedAccounts)
	return index-numSigners < numWritableUnsigned
}

// Sanitize checks the message is internally consistent.
func (tx *Transaction) Sanitize() error {
	m := &tx.Message
	h := m.Header
	switch {
	case h.NumRequiredSignatures == 0:
		return fmt.Errorf("%w: no fee payer", ErrSanitizeFailure)
	case h.NumReadonlySignedAccounts >= h.NumRequiredSignatures:
		return fmt.Errorf("%w: fee payer is readonly", ErrSanitizeFailure)
	case int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts) > len(m.AccountKeys):
		return fmt.Errorf("%w: header counts exceed %d keys", ErrSanitizeFailure, len(m.AccountKeys))
	case len(m.AccountKeys) > MaxAccountKeys:
		return fmt.Errorf("%w: %d account keys", ErrSanitizeFailure, len(m.AccountKeys))
	case len(tx.Signatures) != int(h.NumRequiredSignatures):
		return fmt.Errorf("%w: %d signatures for %d signers", ErrSanitizeFailure, len(tx.Signatures), h.NumRequiredSignatures)
	}

	seen := make(map[types.Pubkey]struct{}, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: duplicate account key %s", ErrSanitizeFailure, k)
		}
		seen[k] = struct{}{}
	}

	for i, ix := range m.Instructions {
		if ix.ProgramIDIndex == 0 || int(ix.ProgramIDIndex) >= len(m.AccountKeys) {
			return fmt.Errorf("%w: instruction %d program index %d", ErrSanitizeFailure, i, ix.ProgramIDIndex)
		}
		for _, idx := range ix.AccountIndexes {
			if int(idx) >= len(m.AccountKeys) {
				return fmt.Errorf("%w: instruction %d account index %d", ErrSanitizeFailure, i, idx)
			}
		}
	}
	return nil
}

// AccountMeta describes one account of an uncompiled instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// InstructionSpec is an uncompiled instruction.
type InstructionSpec struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// NewTransaction compiles instructions into an unsigned transaction paid for
// by payer. Flags of a key listed more than once are merged.
func NewTransaction(payer types.Pubkey, blockhash types.Hash, specs ...InstructionSpec) (*Transaction, error) {
	type keyFlags struct {
		signer, writable bool
	}
	order := []types.Pubkey{payer}
	flags := map[types.Pubkey]*keyFlags{payer: {signer: true, writable: true}}
	add := func(k types.Pubkey, signer, writable bool) {
		f, ok := flags[k]
		if !ok {
			f = &keyFlags{}
			flags[k] = f
			order = append(order, k)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}
	for _, s := range specs {
		for _, a := range s.Accounts {
			add(a.Pubkey, a.IsSigner, a.IsWritable)
		}
		add(s.ProgramID, false, false)
	}

	var groups [4][]types.Pubkey
	for _, k := range order {
		f := flags[k]
		switch {
		case f.signer && f.writable:
			groups[0] = append(groups[0], k)
		case f.signer:
			groups[1] = append(groups[1], k)
		case f.writable:
			groups[2] = append(groups[2], k)
		default:
			groups[3] = append(groups[3], k)
		}
	}

	keys := make([]types.Pubkey, 0, len(order))
	for _, g := range groups {
		keys = append(keys, g...)
	}
	if len(keys) > MaxAccountKeys {
		return nil, fmt.Errorf("%w: %d account keys", ErrSanitizeFailure, len(keys))
	}
	index := make(map[types.Pubkey]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	msg := Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
		Instructions:    make([]Instruction, len(specs)),
	}
	for i, s := range specs {
		ix := Instruction{
			ProgramIDIndex: index[s.ProgramID],
			AccountIndexes: make([]uint8, len(s.Accounts)),
			Data:           append([]byte(nil), s.Data...),
		}
		for j, a := range s.Accounts {
			ix.AccountIndexes[j] = index[a.Pubkey]
		}
		msg.Instructions[i] = ix
	}

	return &Transaction{
		Signatures: make([]types.Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// Sign signs with every key that matches a required signer. Slots without a
// matching key stay zero and ErrMissingSignature is returned; the
// transaction is still usable, and will be rejected by the runtime.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	byPub := make(map[types.Pubkey]ed25519.PrivateKey, len(keys))
	for _, k := range keys {
		byPub[types.PubkeyFromEd25519(k.Public().(ed25519.PublicKey))] = k
	}
	if n := int(tx.Message.Header.NumRequiredSignatures); len(tx.Signatures) != n {
		tx.Signatures = make([]types.Signature, n)
	}

	var missing []types.Pubkey
	for i := 0; i < len(tx.Signatures) && i < len(tx.Message.AccountKeys); i++ {
		key := tx.Message.AccountKeys[i]
		priv, ok := byPub[key]
		if !ok {
			if tx.Signatures[i].IsZero() {
				missing = append(missing, key)
			}
			continue
		}
		copy(tx.Signatures[i][:], ed25519.Sign(priv, msg))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingSignature, missing)
	}
	return nil
}

// Package accounts stores the ledger state the host runtime executes against.
//
// Every account lives under its 32-byte address. Two stores implement DB:
//   - MemoryDB keeps accounts in a map, for tests and one-shot audits
//   - BadgerDB persists them in BadgerDB with one key per account
//
// A transaction's writes reach a store through Apply, which commits the whole
// set of updates or none of them. State can be hashed (blake3 merkle root over
// accounts sorted by address) and exported to zstd-compressed snapshots.
package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when an account is malformed or too large.
	ErrInvalidData = errors.New("invalid account data")

	// ErrSnapshotNotFound is returned when a snapshot doesn't exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrHashMismatch is returned when loaded state doesn't match its
	// recorded hash.
	ErrHashMismatch = errors.New("accounts hash mismatch")
)

// MaxAccountDataSize is the largest data buffer a store accepts.
const MaxAccountDataSize = 10 * 1024 * 1024

// headerSize is the serialized size of an account without its data:
// lamports, data length, owner, executable, rent epoch.
const headerSize = 8 + 8 + 32 + 1 + 8

// Account is one persisted account. Signer and writable flags belong to a
// transaction and are never stored.
type Account struct {
	Lamports   uint64
	Data       []byte
	Owner      types.Pubkey
	Executable bool
	RentEpoch  uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// IsZero reports whether the account holds neither lamports nor data. Zero
// accounts are deleted rather than stored. A closed record keeps its zeroed
// buffer and tombstone, so it stays.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Validate checks storage limits.
func (a *Account) Validate() error {
	if len(a.Data) > MaxAccountDataSize {
		return fmt.Errorf("%w: %d bytes of data", ErrInvalidData, len(a.Data))
	}
	return nil
}

// MarshalBinary encodes the account as
// lamports | data_len | data | owner | executable | rent_epoch,
// integers little-endian.
func (a *Account) MarshalBinary() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, headerSize+len(a.Data))
	buf = binary.LittleEndian.AppendUint64(buf, a.Lamports)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(a.Data)))
	buf = append(buf, a.Data...)
	buf = append(buf, a.Owner[:]...)
	if a.Executable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, a.RentEpoch)
	return buf, nil
}

// UnmarshalBinary decodes the MarshalBinary form.
func (a *Account) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidData, len(b))
	}
	dataLen := binary.LittleEndian.Uint64(b[8:16])
	if dataLen > MaxAccountDataSize || uint64(len(b)) != headerSize+dataLen {
		return fmt.Errorf("%w: data length %d in %d bytes", ErrInvalidData, dataLen, len(b))
	}

	end := 16 + int(dataLen)
	a.Lamports = binary.LittleEndian.Uint64(b[:8])
	a.Data = append([]byte(nil), b[16:end]...)
	copy(a.Owner[:], b[end:end+32])
	switch b[end+32] {
	case 0:
		a.Executable = false
	case 1:
		a.Executable = true
	default:
		return fmt.Errorf("%w: executable flag %d", ErrInvalidData, b[end+32])
	}
	a.RentEpoch = binary.LittleEndian.Uint64(b[end+33:])
	return nil
}

// Update is one account write in an atomic batch. A nil or zero Account
// deletes the address.
type Update struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface. Implementations are safe for
// concurrent use.
type DB interface {
	// GetAccount returns a copy of the account, or ErrAccountNotFound.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores one account. Zero accounts are deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account. Missing accounts are not an error.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Apply writes every update or none of them, and advances Version.
	Apply(updates []Update) error

	// Iterate calls fn for every account in ascending address order.
	Iterate(fn func(pubkey types.Pubkey, account *Account) error) error

	// AccountsCount returns the number of stored accounts.
	AccountsCount() (uint64, error)

	// Version counts successful Apply calls.
	Version() uint64

	// Close closes the database.
	Close() error
}

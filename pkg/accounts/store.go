package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount + pubkey (32 bytes) -> MarshalBinary
	prefixAccount = []byte{0x01}

	prefixMeta        = []byte{0x02}
	metaVersion       = append(append([]byte(nil), prefixMeta...), "version"...)
	metaAccountsCount = append(append([]byte(nil), prefixMeta...), "count"...)
)

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory.
	InMemory bool

	// SyncWrites syncs every commit to disk before Apply returns.
	SyncWrites bool

	NumCompactors    int
	NumMemtables     int
	ValueLogFileSize int64

	// Logger receives store events. Badger's own logging is disabled.
	Logger *zap.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		NumMemtables:     2,
		ValueLogFileSize: 64 << 20,
		Logger:           zap.NewNop(),
	}
}

// BadgerDB is a BadgerDB-backed implementation of DB. Each Apply is a single
// badger transaction: the accounts, the count and the version commit
// together or not at all.
type BadgerDB struct {
	db  *badger.DB
	log *zap.Logger

	version       atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes writers so count bookkeeping matches the committed txn.
	mu sync.Mutex

	closed atomic.Bool
}

// NewBadgerDB opens a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.NumMemtables > 0 {
		opts = opts.WithNumMemtables(cfg.NumMemtables)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	b := &BadgerDB{db: db, log: cfg.Logger}
	if err := b.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	b.log.Info("opened accounts store",
		zap.String("path", cfg.Path),
		zap.Bool("inMemory", cfg.InMemory),
		zap.Uint64("version", b.version.Load()),
		zap.Uint64("accounts", b.accountsCount.Load()),
	)
	return b, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		version, err := readUint64(txn, metaVersion)
		if err != nil {
			return err
		}
		count, err := readUint64(txn, metaAccountsCount)
		if err != nil {
			return err
		}
		b.version.Store(version)
		b.accountsCount.Store(count)
		return nil
	})
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: metadata %q is %d bytes", ErrInvalidData, key, len(val))
		}
		v = binary.LittleEndian.Uint64(val)
		return nil
	})
	return v, err
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 0, len(prefixAccount)+types.PubkeySize)
	key = append(key, prefixAccount...)
	return append(key, pubkey[:]...)
}

// GetAccount retrieves an account by public key.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	account := new(Account)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(account.UnmarshalBinary)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores an account.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return b.Apply([]Update{{Pubkey: pubkey, Account: account}})
}

// DeleteAccount removes an account.
func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	return b.Apply([]Update{{Pubkey: pubkey}})
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = hasKey(txn, accountKey(pubkey))
		return err
	})
	return exists, err
}

func hasKey(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Apply commits all updates in one transaction.
func (b *BadgerDB) Apply(updates []Update) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.accountsCount.Load()
	version := b.version.Load() + 1

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, u := range updates {
			key := accountKey(u.Pubkey)
			exists, err := hasKey(txn, key)
			if err != nil {
				return err
			}

			if u.Account == nil || u.Account.IsZero() {
				if !exists {
					continue
				}
				if err := txn.Delete(key); err != nil {
					return err
				}
				count--
				continue
			}

			val, err := u.Account.MarshalBinary()
			if err != nil {
				return fmt.Errorf("account %s: %w", u.Pubkey, err)
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
			if !exists {
				count++
			}
		}

		if err := txn.Set(metaAccountsCount, binary.LittleEndian.AppendUint64(nil, count)); err != nil {
			return err
		}
		return txn.Set(metaVersion, binary.LittleEndian.AppendUint64(nil, version))
	})
	if err != nil {
		return err
	}

	b.accountsCount.Store(count)
	b.version.Store(version)
	return nil
}

// Iterate visits all accounts in ascending address order within one
// read-only snapshot.
func (b *BadgerDB) Iterate(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefixAccount)+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[len(prefixAccount):])

			account := new(Account)
			if err := item.Value(account.UnmarshalBinary); err != nil {
				return fmt.Errorf("account %s: %w", pubkey, err)
			}
			if err := fn(pubkey, account); err != nil {
				return err
			}
		}
		return nil
	})
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// Version returns the number of committed batches.
func (b *BadgerDB) Version() uint64 {
	return b.version.Load()
}

// RunGC runs garbage collection on the value log.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.log.Info("closing accounts store", zap.Uint64("version", b.version.Load()))
	return b.db.Close()
}

var _ DB = (*BadgerDB)(nil)

// Package receipts keeps a durable journal of transaction outcomes.
//
// Every transaction the runtime processes, accepted or rejected, produces a
// Receipt keyed by a monotonically increasing sequence number and indexed by
// its first signature. Receipts carry account addresses, the error tag and
// program logs. They never carry account data.
package receipts

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

var (
	// ErrReceiptNotFound is returned when a receipt doesn't exist.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("receipts store closed")
)

var (
	bucketReceipts    = []byte("receipts")
	bucketBySignature = []byte("by_sig")
	bucketMetadata    = []byte("metadata")

	keyNextSeq = []byte("next_seq")
)

// Receipt records the outcome of one transaction.
type Receipt struct {
	Seq       uint64
	Signature types.Signature
	Accounts  []types.Pubkey

	// Program and Instruction identify the instruction that decided the
	// outcome: the failing one on rejection, the last one on success.
	Program     types.Pubkey
	Instruction int

	// Stage is the final stage; Tag and Message are empty on success.
	Stage   string
	Tag     string
	Message string

	Logs        []string
	ComputeUsed uint64
	Time        time.Time
}

// OK reports whether the transaction committed.
func (r *Receipt) OK() bool {
	return r.Tag == ""
}

// Config holds receipts store configuration.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// Timeout bounds waiting for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Store is a bbolt-backed receipts journal.
type Store struct {
	db *bolt.DB

	mu      sync.RWMutex
	nextSeq uint64
	closed  bool
}

// Open creates or opens a receipts store.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: cfg.Timeout,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReceipts, bucketBySignature, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		if v := tx.Bucket(bucketMetadata).Get(keyNextSeq); v != nil {
			s.nextSeq = decodeSeq(v)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Put assigns r the next sequence number and stores it.
func (s *Store) Put(r *Receipt) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	r.Seq = s.nextSeq
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return 0, fmt.Errorf("encode receipt: %w", err)
	}

	key := encodeSeq(r.Seq)
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketReceipts).Put(key, buf.Bytes()); err != nil {
			return err
		}
		if !r.Signature.IsZero() && !committedUnder(tx, r.Signature) {
			if err := tx.Bucket(bucketBySignature).Put(r.Signature[:], key); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMetadata).Put(keyNextSeq, encodeSeq(r.Seq+1))
	})
	if err != nil {
		return 0, err
	}
	s.nextSeq++
	return r.Seq, nil
}

// Get returns the receipt with sequence number seq.
func (s *Store) Get(seq uint64) (*Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var r *Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = getReceipt(tx, encodeSeq(seq))
		return err
	})
	return r, err
}

// GetBySignature returns the receipt that committed a transaction
// signature, or the latest rejection if it never committed. Later receipts
// for a committed signature are journaled but not indexed.
func (s *Store) GetBySignature(sig types.Signature) (*Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var r *Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketBySignature).Get(sig[:])
		if key == nil {
			return ErrReceiptNotFound
		}
		var err error
		r, err = getReceipt(tx, key)
		return err
	})
	return r, err
}

// committedUnder reports whether sig already indexes a committed receipt.
func committedUnder(tx *bolt.Tx, sig types.Signature) bool {
	key := tx.Bucket(bucketBySignature).Get(sig[:])
	if key == nil {
		return false
	}
	r, err := getReceipt(tx, key)
	return err == nil && r.OK()
}

func getReceipt(tx *bolt.Tx, key []byte) (*Receipt, error) {
	data := tx.Bucket(bucketReceipts).Get(key)
	if data == nil {
		return nil, ErrReceiptNotFound
	}
	r := new(Receipt)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return r, nil
}

// Range returns up to limit receipts starting at sequence number from.
func (s *Store) Range(from uint64, limit int) ([]*Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []*Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReceipts).Cursor()
		for k, v := c.Seek(encodeSeq(from)); k != nil && len(out) < limit; k, v = c.Next() {
			r := new(Receipt)
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(r); err != nil {
				return fmt.Errorf("decode receipt %d: %w", decodeSeq(k), err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Tally counts receipts by error tag. Committed transactions count under "".
func (s *Store) Tally() (map[string]uint64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	counts := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReceipts).ForEach(func(k, v []byte) error {
			var r Receipt
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&r); err != nil {
				return fmt.Errorf("decode receipt %d: %w", decodeSeq(k), err)
			}
			counts[r.Tag]++
			return nil
		})
	})
	return counts, err
}

// Count returns the number of receipts written.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

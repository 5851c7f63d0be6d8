package accounts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

const snapshotVersion uint32 = 1

var snapshotMagic = [4]byte{'X', 'B', 'S', 'N'}

// snapshotHeaderSize is magic, format, state version, count and hash.
const snapshotHeaderSize = 4 + 4 + 8 + 8 + types.HashSize

// maxSnapshotEntry bounds one serialized account.
const maxSnapshotEntry = headerSize + MaxAccountDataSize

// SnapshotHeader describes a snapshot file.
type SnapshotHeader struct {
	Format        uint32
	StateVersion  uint64
	AccountsCount uint64
	StateHash     types.Hash
}

func (h *SnapshotHeader) marshal() []byte {
	buf := make([]byte, 0, snapshotHeaderSize)
	buf = append(buf, snapshotMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Format)
	buf = binary.LittleEndian.AppendUint64(buf, h.StateVersion)
	buf = binary.LittleEndian.AppendUint64(buf, h.AccountsCount)
	return append(buf, h.StateHash[:]...)
}

func (h *SnapshotHeader) unmarshal(buf []byte) error {
	if len(buf) != snapshotHeaderSize || [4]byte(buf[:4]) != snapshotMagic {
		return fmt.Errorf("%w: bad snapshot header", ErrInvalidData)
	}
	h.Format = binary.LittleEndian.Uint32(buf[4:8])
	if h.Format != snapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot format %d", ErrInvalidData, h.Format)
	}
	h.StateVersion = binary.LittleEndian.Uint64(buf[8:16])
	h.AccountsCount = binary.LittleEndian.Uint64(buf[16:24])
	copy(h.StateHash[:], buf[24:])
	return nil
}

// WriteSnapshot exports every account of db to path. The file is a fixed
// header followed by a zstd stream of (pubkey, size, account) entries in
// address order. It is written to a temporary file and renamed into place.
func WriteSnapshot(db DB, path string) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	header := &SnapshotHeader{Format: snapshotVersion, StateVersion: db.Version()}
	if _, err := tmp.Write(header.marshal()); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(enc)

	var hashes []types.Hash
	err = db.Iterate(func(pubkey types.Pubkey, account *Account) error {
		data, err := account.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := w.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := w.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(data)))); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		hashes = append(hashes, HashAccount(pubkey, account))
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}
	if err := w.Flush(); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	header.AccountsCount = uint64(len(hashes))
	header.StateHash = MerkleRoot(hashes)
	if _, err := tmp.WriteAt(header.marshal(), 0); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}
	return header, nil
}

// ReadSnapshotHeader reads only the header of a snapshot file.
func ReadSnapshotHeader(path string) (*SnapshotHeader, error) {
	f, err := openSnapshot(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readHeader(f)
}

// LoadSnapshot imports a snapshot into db. The entries are verified against
// the header's state hash before anything is written, and then applied in a
// single batch.
func LoadSnapshot(db DB, path string) (*SnapshotHeader, error) {
	f, err := openSnapshot(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := readHeader(f)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	defer dec.Close()
	r := bufio.NewReader(dec)

	updates := make([]Update, 0, header.AccountsCount)
	hashes := make([]types.Hash, 0, header.AccountsCount)
	for i := uint64(0); i < header.AccountsCount; i++ {
		pubkey, account, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		updates = append(updates, Update{Pubkey: pubkey, Account: account})
		hashes = append(hashes, HashAccount(pubkey, account))
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing snapshot data", ErrInvalidData)
	}

	if root := MerkleRoot(hashes); root != header.StateHash {
		return nil, fmt.Errorf("%w: header %s, entries %s", ErrHashMismatch, header.StateHash, root)
	}
	if err := db.Apply(updates); err != nil {
		return nil, fmt.Errorf("apply snapshot: %w", err)
	}
	return header, nil
}

func openSnapshot(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return f, nil
}

func readHeader(r io.Reader) (*SnapshotHeader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := new(SnapshotHeader)
	if err := h.unmarshal(buf); err != nil {
		return nil, err
	}
	return h, nil
}

func readEntry(r io.Reader) (types.Pubkey, *Account, error) {
	var pubkey types.Pubkey
	if _, err := io.ReadFull(r, pubkey[:]); err != nil {
		return pubkey, nil, fmt.Errorf("read pubkey: %w", err)
	}
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return pubkey, nil, fmt.Errorf("read size: %w", err)
	}
	n := binary.LittleEndian.Uint32(size[:])
	if n > maxSnapshotEntry {
		return pubkey, nil, fmt.Errorf("%w: entry of %d bytes", ErrInvalidData, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return pubkey, nil, fmt.Errorf("read account: %w", err)
	}
	account := new(Account)
	if err := account.UnmarshalBinary(data); err != nil {
		return pubkey, nil, err
	}
	return pubkey, account, nil
}

// SnapshotFilename returns the standard filename for a snapshot.
func SnapshotFilename(version uint64, hash types.Hash) string {
	return fmt.Sprintf("snapshot-%d-%s.xbsnap", version, hash.Hex()[:16])
}

package accounts

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// Merkle node domain tags.
const (
	leafTag byte = 0x00
	nodeTag byte = 0x01
)

// HashAccount returns
// blake3(lamports || rent_epoch || data || executable || owner || pubkey).
func HashAccount(pubkey types.Pubkey, account *Account) types.Hash {
	h := blake3.New()
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], account.Lamports)
	h.Write(n[:])
	binary.LittleEndian.PutUint64(n[:], account.RentEpoch)
	h.Write(n[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// StateHash returns the merkle root of every account hash in address order.
// Two stores with the same accounts have the same state hash.
func StateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.Iterate(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, HashAccount(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return MerkleRoot(hashes), nil
}

// DeltaHash hashes the current state of the given accounts, sorted by
// address. Deleted accounts contribute the zero hash.
func DeltaHash(db DB, pubkeys []types.Pubkey) (types.Hash, error) {
	sorted := append([]types.Pubkey(nil), pubkeys...)
	SortPubkeys(sorted)

	hashes := make([]types.Hash, 0, len(sorted))
	for _, pubkey := range sorted {
		account, err := db.GetAccount(pubkey)
		if errors.Is(err, ErrAccountNotFound) {
			hashes = append(hashes, types.Hash{})
			continue
		}
		if err != nil {
			return types.Hash{}, err
		}
		hashes = append(hashes, HashAccount(pubkey, account))
	}
	return MerkleRoot(hashes), nil
}

// MerkleRoot computes a binary merkle root. Leaves are blake3(0x00 || h),
// nodes blake3(0x01 || left || right); an unpaired node is paired with the
// zero hash. The root of no hashes is the zero hash.
func MerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = tagged(leafTag, h[:])
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = tagged(nodeTag, level[i][:], right[:])
		}
		level = next
	}
	return level[0]
}

func tagged(tag byte, parts ...[]byte) types.Hash {
	h := blake3.New()
	h.Write([]byte{tag})
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].Compare(pubkeys[j]) < 0
	})
}

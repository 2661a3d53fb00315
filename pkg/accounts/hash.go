package accounts

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/zeebo/blake3"
)

// ComputeAccountHash computes the hash of a single account:
// BLAKE3(lamports || rent_epoch || data || executable || owner || pubkey)
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	h := blake3.New()

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], account.Lamports)
	h.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], account.RentEpoch)
	h.Write(u64[:])
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

// ComputeStateHash computes the Merkle root over every account in db, in
// ascending pubkey order. An empty database hashes to the zero hash.
func ComputeStateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// computeEntriesStateHash hashes entries the way ComputeStateHash would hash
// a database holding exactly them. Zero accounts are absent from a database,
// so they are skipped.
func computeEntriesStateHash(entries []AccountEntry) types.Hash {
	sorted := append([]AccountEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Pubkey[:], sorted[j].Pubkey[:]) < 0
	})

	hashes := make([]types.Hash, 0, len(sorted))
	for _, e := range sorted {
		if e.Account == nil || e.Account.IsZero() {
			continue
		}
		hashes = append(hashes, ComputeAccountHash(e.Pubkey, e.Account))
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeDeltaHash computes the Merkle root of the given accounts. Entries
// are sorted by pubkey first; a nil account hashes as the zero hash.
func ComputeDeltaHash(entries []AccountEntry) types.Hash {
	sorted := append([]AccountEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Pubkey[:], sorted[j].Pubkey[:]) < 0
	})

	hashes := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		if e.Account == nil || e.Account.IsZero() {
			continue
		}
		hashes[i] = ComputeAccountHash(e.Pubkey, e.Account)
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeMerkleRoot computes the Merkle root of a list of hashes.
//
// Tree structure:
// - Leaf: BLAKE3(0x00 || hash)
// - Node: BLAKE3(0x01 || left || right)
// - If odd number of nodes, last node is paired with zero hash
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = computeNodeHash(level[i], right)
		}
		level = next
	}

	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	var buf [1 + 32]byte
	copy(buf[1:], data[:])
	return blake3.Sum256(buf[:])
}

func computeNodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 32 + 32]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return blake3.Sum256(buf[:])
}

// BankHashInput contains the inputs for computing a slot's bank hash.
type BankHashInput struct {
	ParentBankHash    types.Hash
	AccountsDeltaHash types.Hash
	NumSignatures     uint64
	Slot              uint64
}

// ComputeBankHash computes
// BLAKE3(parent_bankhash || accounts_delta_hash || num_sigs || slot)
func ComputeBankHash(input BankHashInput) types.Hash {
	var buf [32 + 32 + 8 + 8]byte
	copy(buf[0:], input.ParentBankHash[:])
	copy(buf[32:], input.AccountsDeltaHash[:])
	binary.LittleEndian.PutUint64(buf[64:], input.NumSignatures)
	binary.LittleEndian.PutUint64(buf[72:], input.Slot)
	return blake3.Sum256(buf[:])
}

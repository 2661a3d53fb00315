package blockstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/fortiblox/pythsim/internal/types"
	bolt "go.etcd.io/bbolt"
)

// Helper functions for key encoding.

// EncodeSlotKey encodes a slot number as a big-endian 8-byte key.
// Big-endian ensures proper lexicographic ordering.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a slot number from a big-endian 8-byte key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeSignatureKey encodes a signature as a key (raw bytes).
func EncodeSignatureKey(sig types.Signature) []byte {
	return append([]byte(nil), sig[:]...)
}

// encodeSlotSeqKey encodes slot (8) + seq (8), both big-endian.
func encodeSlotSeqKey(slot, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, slot)
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

// EncodeAddressSlotKey encodes an address+slot+sequence composite key.
// Format: [32-byte address][8-byte slot big-endian][8-byte sequence]
func EncodeAddressSlotKey(addr types.Pubkey, slot, seq uint64) []byte {
	key := make([]byte, 48)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:], slot)
	binary.BigEndian.PutUint64(key[40:], seq)
	return key
}

// DecodeAddressSlotKey decodes an address+slot composite key.
func DecodeAddressSlotKey(key []byte) (types.Pubkey, uint64) {
	var addr types.Pubkey
	if len(key) < 40 {
		return addr, 0
	}
	copy(addr[:], key[:32])
	return addr, binary.BigEndian.Uint64(key[32:])
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// signatureInfo builds the address index entry for a transaction.
func signatureInfo(txn *Transaction) SignatureInfo {
	info := SignatureInfo{
		Signature: txn.Signature,
		Slot:      txn.Slot,
		BlockTime: txn.BlockTime,
	}
	if txn.Meta != nil {
		info.Err = txn.Meta.Err
	}
	return info
}

// indexTransaction writes the slot and address index entries for txn.
func indexTransaction(tx *bolt.Tx, txn *Transaction) error {
	slotSigs := tx.Bucket(bucketSlotSignatures)
	seq, err := slotSigs.NextSequence()
	if err != nil {
		return err
	}
	if err := slotSigs.Put(encodeSlotSeqKey(txn.Slot, seq), EncodeSignatureKey(txn.Signature)); err != nil {
		return err
	}

	infoData, err := gobEncode(signatureInfo(txn))
	if err != nil {
		return fmt.Errorf("encode sig info: %w", err)
	}

	addrSigs := tx.Bucket(bucketAddressSignatures)
	seen := make(map[types.Pubkey]bool, len(txn.Message.AccountKeys))
	for _, addr := range txn.Message.AccountKeys {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		if err := addrSigs.Put(EncodeAddressSlotKey(addr, txn.Slot, seq), infoData); err != nil {
			return err
		}
	}
	return nil
}

// slotSignatures reads the signatures recorded for slot in insertion order.
func slotSignatures(tx *bolt.Tx, slot uint64) []types.Signature {
	var sigs []types.Signature
	c := tx.Bucket(bucketSlotSignatures).Cursor()
	prefix := EncodeSlotKey(slot)
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var sig types.Signature
		copy(sig[:], v)
		sigs = append(sigs, sig)
	}
	return sigs
}

// addressSignatures walks the address index newest first.
func addressSignatures(tx *bolt.Tx, addr types.Pubkey, limit int) ([]SignatureInfo, error) {
	c := tx.Bucket(bucketAddressSignatures).Cursor()

	prefix := addr[:]
	upper := append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xff}, 16)...)

	k, v := c.Seek(upper)
	if k == nil {
		k, v = c.Last()
	} else if !bytes.Equal(k, upper) {
		k, v = c.Prev()
	}

	var out []SignatureInfo
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
		var info SignatureInfo
		if err := gobDecode(v, &info); err != nil {
			return nil, fmt.Errorf("decode sig info: %w", err)
		}
		out = append(out, info)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// deleteIndexesBefore removes slot and address index entries for slots
// below cutoff and returns the pruned signatures.
func deleteIndexesBefore(tx *bolt.Tx, cutoff uint64) ([]types.Signature, error) {
	var sigs []types.Signature
	var keys [][]byte

	c := tx.Bucket(bucketSlotSignatures).Cursor()
	for k, v := c.First(); k != nil && DecodeSlotKey(k) < cutoff; k, v = c.Next() {
		var sig types.Signature
		copy(sig[:], v)
		sigs = append(sigs, sig)
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := tx.Bucket(bucketSlotSignatures).Delete(k); err != nil {
			return nil, err
		}
	}

	keys = keys[:0]
	ac := tx.Bucket(bucketAddressSignatures).Cursor()
	for k, _ := ac.First(); k != nil; k, _ = ac.Next() {
		if _, slot := DecodeAddressSlotKey(k); slot < cutoff {
			keys = append(keys, append([]byte(nil), k...))
		}
	}
	for _, k := range keys {
		if err := tx.Bucket(bucketAddressSignatures).Delete(k); err != nil {
			return nil, err
		}
	}
	return sigs, nil
}

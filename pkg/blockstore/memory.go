package blockstore

import (
	"sync"

	"github.com/fortiblox/pythsim/internal/types"
)

// MemoryStore is an in-memory Store. Values are deep-copied through gob on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	txs        map[types.Signature][]byte
	slotMeta   map[uint64][]byte
	slotSigs   map[uint64][]types.Signature
	addrIndex  map[types.Pubkey][]SignatureInfo
	latestSlot uint64
	oldestSlot uint64
	closed     bool
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:       make(map[types.Signature][]byte),
		slotMeta:  make(map[uint64][]byte),
		slotSigs:  make(map[uint64][]types.Signature),
		addrIndex: make(map[types.Pubkey][]SignatureInfo),
	}
}

func (m *MemoryStore) PutTransaction(txn *Transaction) error {
	data, err := gobEncode(txn)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.txs[txn.Signature]; ok {
		return ErrDuplicateTransaction
	}

	if len(m.txs) == 0 || txn.Slot < m.oldestSlot {
		m.oldestSlot = txn.Slot
	}
	m.txs[txn.Signature] = data
	m.slotSigs[txn.Slot] = append(m.slotSigs[txn.Slot], txn.Signature)

	info := signatureInfo(txn)
	seen := make(map[types.Pubkey]bool, len(txn.Message.AccountKeys))
	for _, addr := range txn.Message.AccountKeys {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		m.addrIndex[addr] = append(m.addrIndex[addr], info)
	}

	if txn.Slot > m.latestSlot {
		m.latestSlot = txn.Slot
	}
	return nil
}

func (m *MemoryStore) GetTransaction(signature types.Signature) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.txs[signature]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	var txn Transaction
	if err := gobDecode(data, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

func (m *MemoryStore) GetSlotSignatures(slot uint64) ([]types.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]types.Signature(nil), m.slotSigs[slot]...), nil
}

func (m *MemoryStore) GetSignaturesForAddress(address types.Pubkey, limit int) ([]SignatureInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	entries := m.addrIndex[address]
	var out []SignatureInfo
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) GetSlotMeta(slot uint64) (*SlotMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.slotMeta[slot]
	if !ok {
		return nil, ErrSlotNotFound
	}
	var meta SlotMeta
	if err := gobDecode(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *MemoryStore) GetLatestSlotMeta() (*SlotMeta, error) {
	m.mu.RLock()
	found := false
	var latest uint64
	for slot := range m.slotMeta {
		if !found || slot > latest {
			latest, found = slot, true
		}
	}
	m.mu.RUnlock()

	if !found {
		return nil, ErrSlotNotFound
	}
	return m.GetSlotMeta(latest)
}

func (m *MemoryStore) PutSlotMeta(meta *SlotMeta) error {
	data, err := gobEncode(meta)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slotMeta[meta.Slot] = data
	if meta.Slot > m.latestSlot {
		m.latestSlot = meta.Slot
	}
	return nil
}

func (m *MemoryStore) GetLatestSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestSlot
}

func (m *MemoryStore) Prune(keepSlots uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.latestSlot < keepSlots {
		return 0, nil
	}
	cutoff := m.latestSlot - keepSlots

	var pruned uint64
	for slot, sigs := range m.slotSigs {
		if slot >= cutoff {
			continue
		}
		for _, sig := range sigs {
			delete(m.txs, sig)
			pruned++
		}
		delete(m.slotSigs, slot)
	}
	for slot := range m.slotMeta {
		if slot < cutoff {
			delete(m.slotMeta, slot)
		}
	}
	for addr, entries := range m.addrIndex {
		kept := entries[:0]
		for _, e := range entries {
			if e.Slot >= cutoff {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(m.addrIndex, addr)
		} else {
			m.addrIndex[addr] = kept
		}
	}
	m.oldestSlot = cutoff
	return pruned, nil
}

func (m *MemoryStore) GetStats() (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &Stats{
		LatestSlot:       m.latestSlot,
		OldestSlot:       m.oldestSlot,
		TransactionCount: uint64(len(m.txs)),
		SlotCount:        uint64(len(m.slotMeta)),
	}, nil
}

func (m *MemoryStore) Sync() error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

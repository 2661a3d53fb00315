// Package accounts implements the AccountsDB that holds sandbox state.
//
// Every account is a lamport balance, an owner program, an opaque data buffer
// and a couple of flags. The bank reads accounts out of a DB before running a
// transaction and writes the modified set back in one SetAccounts call when
// the transaction succeeds.
//
// Three implementations are provided:
// - MemoryDB keeps everything in a map (tests, ephemeral sandboxes)
// - BadgerDB persists accounts in BadgerDB
// - CachedDB puts an LRU read cache in front of another DB
package accounts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fortiblox/pythsim/internal/types"
	bin "github.com/gagliardetto/binary"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when account data is malformed.
	ErrInvalidData = errors.New("invalid account data")

	// ErrSnapshotNotFound is returned when a snapshot doesn't exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrHashMismatch is returned when restored state does not match the
	// hash recorded with it.
	ErrHashMismatch = errors.New("state hash mismatch")
)

// MaxAccountDataSize is the largest data buffer an account may hold.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account data.
	Data []byte

	// Owner is the program that owns this account.
	// Only the owner program can modify the account data.
	Owner types.Pubkey

	// Executable indicates if this is a program account.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account to bytes for storage.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, a.Size()))
	enc := bin.NewBinEncoder(buf)

	// Writes into a bytes.Buffer cannot fail.
	_ = enc.WriteUint64(a.Lamports, binary.LittleEndian)
	_ = enc.WriteUint64(uint64(len(a.Data)), binary.LittleEndian)
	_ = enc.WriteBytes(a.Data, false)
	_ = enc.WriteBytes(a.Owner[:], false)
	_ = enc.WriteBool(a.Executable)
	_ = enc.WriteUint64(a.RentEpoch, binary.LittleEndian)

	return buf.Bytes()
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 57 { // Minimum: 8 + 8 + 0 + 32 + 1 + 8
		return nil, ErrInvalidData
	}

	dec := bin.NewBinDecoder(data)
	lamports, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: lamports: %v", ErrInvalidData, err)
	}
	dataLen, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: data length: %v", ErrInvalidData, err)
	}
	if dataLen > MaxAccountDataSize || uint64(dec.Remaining()) < dataLen+41 {
		return nil, ErrInvalidData
	}

	accountData, err := dec.ReadNBytes(int(dataLen))
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrInvalidData, err)
	}
	owner, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrInvalidData, err)
	}
	executable, err := dec.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("%w: executable: %v", ErrInvalidData, err)
	}
	rentEpoch, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: rent epoch: %v", ErrInvalidData, err)
	}

	acc := &Account{
		Lamports:   lamports,
		Data:       append([]byte(nil), accountData...),
		Executable: executable,
		RentEpoch:  rentEpoch,
	}
	copy(acc.Owner[:], owner)
	return acc, nil
}

// AccountEntry pairs a pubkey with its account.
type AccountEntry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account.
	// If the account is zero (no lamports and no data), it will be deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// SetAccounts stores several accounts atomically.
	SetAccounts(entries []AccountEntry) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// IterateAccounts calls fn for every account in ascending pubkey order.
	// Returning an error from fn stops iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the current slot.
	GetSlot() uint64

	// SetSlot updates the current slot.
	SetSlot(slot uint64) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Commit persists pending metadata.
	Commit() error

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return m.SetAccounts([]AccountEntry{{Pubkey: pubkey, Account: account}})
}

// SetAccounts stores several accounts under one lock.
func (m *MemoryDB) SetAccounts(entries []AccountEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, e := range entries {
		if e.Account.IsZero() {
			delete(m.accounts, e.Pubkey)
			continue
		}
		m.accounts[e.Pubkey] = e.Account.Clone()
	}
	return nil
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// IterateAccounts visits accounts in ascending pubkey order. fn receives
// copies and runs without the lock held.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := make([]AccountEntry, 0, len(m.accounts))
	for k, v := range m.accounts {
		entries = append(entries, AccountEntry{Pubkey: k, Account: v.Clone()})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Pubkey[:], entries[j].Pubkey[:]) < 0
	})
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// SetSlot updates the current slot.
func (m *MemoryDB) SetSlot(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slot = slot
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Commit is a no-op for MemoryDB.
func (m *MemoryDB) Commit() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

// Verify that MemoryDB implements DB interface.
var _ DB = (*MemoryDB)(nil)

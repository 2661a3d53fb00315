// Package sandbox wires a bank, its account state and its ledger into a
// single harness for driving the price oracle program.
//
// A Sandbox keeps its state in memory, in a data directory (badger for
// accounts, bbolt for the ledger) or in a temporary directory removed on
// Close. Actors hold keypairs and sign transactions; PriceAccount wraps the
// create, publish and read cycle of one oracle price account.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/pythsim/internal/logging"
	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/accounts"
	"github.com/fortiblox/pythsim/pkg/bank"
	"github.com/fortiblox/pythsim/pkg/blockstore"
	"github.com/fortiblox/pythsim/pkg/svm"
	"github.com/sirupsen/logrus"
)

// Storage selects where a sandbox keeps its state.
type Storage string

const (
	// StorageMemory keeps everything in memory.
	StorageMemory Storage = "memory"

	// StorageDisk persists state under Config.DataDir.
	StorageDisk Storage = "disk"

	// StorageTemp persists state in a temporary directory that Close
	// removes.
	StorageTemp Storage = "temp"
)

var (
	// ErrClosed is returned when operating on a closed sandbox.
	ErrClosed = errors.New("sandbox closed")

	// ErrInvalidStorage is returned for an unknown storage mode.
	ErrInvalidStorage = errors.New("invalid storage mode")
)

// Config holds sandbox configuration.
type Config struct {
	// Storage selects memory, disk or temp storage.
	Storage Storage

	// DataDir is the state directory for StorageDisk.
	DataDir string

	// CacheSize is the number of accounts kept in the read cache in front
	// of badger.
	CacheSize int

	// GCInterval is how often the badger value log is garbage collected.
	// Zero disables the background collector.
	GCInterval time.Duration

	// RetainSlots enables ledger pruning when non-zero.
	RetainSlots uint64

	// PruneInterval is how often the ledger is pruned.
	PruneInterval time.Duration

	Bank bank.Config
}

// DefaultConfig returns an in-memory sandbox configuration.
func DefaultConfig() Config {
	return Config{
		Storage:       StorageMemory,
		CacheSize:     accounts.DefaultCacheSize,
		GCInterval:    10 * time.Minute,
		PruneInterval: time.Hour,
		Bank:          bank.DefaultConfig(),
	}
}

// Sandbox is a self-contained oracle test environment.
type Sandbox struct {
	mu sync.RWMutex

	bank     *bank.Bank
	accounts accounts.DB
	badger   *accounts.BadgerDB
	ledger   blockstore.Store

	config  Config
	dir     string
	tempDir bool
	log     *logrus.Entry

	gcStop chan struct{}
	gcWG   sync.WaitGroup

	closed bool
}

// New opens a sandbox.
func New(cfg Config) (*Sandbox, error) {
	s := &Sandbox{
		config: cfg,
		gcStop: make(chan struct{}),
		log:    logging.WithComponent("sandbox"),
	}

	switch cfg.Storage {
	case StorageMemory, "":
		s.accounts = accounts.NewMemoryDB()
		s.ledger = blockstore.NewMemoryStore()
	case StorageDisk, StorageTemp:
		if err := s.openDisk(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStorage, cfg.Storage)
	}

	b, err := bank.New(s.accounts, s.ledger, cfg.Bank)
	if err != nil {
		s.closeStores()
		return nil, err
	}
	s.bank = b

	if s.badger != nil && cfg.GCInterval > 0 {
		s.startGC()
	}

	s.log.WithFields(logrus.Fields{
		"storage": cfg.Storage,
		"dir":     s.dir,
		"slot":    b.Slot(),
	}).Info("sandbox opened")
	return s, nil
}

func (s *Sandbox) openDisk() error {
	dir := s.config.DataDir
	if s.config.Storage == StorageTemp {
		tmp, err := os.MkdirTemp("", "pythsim-")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		dir = tmp
		s.tempDir = true
	}
	if dir == "" {
		return fmt.Errorf("%w: disk storage needs a data directory", ErrInvalidStorage)
	}
	s.dir = dir

	bcfg := accounts.DefaultBadgerDBConfig(filepath.Join(dir, "accounts"))
	bcfg.Logger = logging.BadgerLogger{Entry: logging.WithComponent("badger")}
	bdb, err := accounts.NewBadgerDB(bcfg)
	if err != nil {
		s.removeTemp()
		return fmt.Errorf("open accounts: %w", err)
	}
	s.badger = bdb

	cached, err := accounts.NewCachedDB(bdb, s.config.CacheSize)
	if err != nil {
		bdb.Close()
		s.removeTemp()
		return fmt.Errorf("open account cache: %w", err)
	}
	s.accounts = cached

	lcfg := blockstore.DefaultConfig(filepath.Join(dir, "ledger.db"))
	if s.config.RetainSlots > 0 {
		lcfg.PruneEnabled = true
		lcfg.RetainSlots = s.config.RetainSlots
		lcfg.PruneInterval = s.config.PruneInterval
	}
	ledger, err := blockstore.Open(lcfg)
	if err != nil {
		cached.Close()
		s.removeTemp()
		return fmt.Errorf("open ledger: %w", err)
	}
	s.ledger = ledger
	return nil
}

// startGC runs badger value log GC in the background.
func (s *Sandbox) startGC() {
	s.gcWG.Add(1)
	go func() {
		defer s.gcWG.Done()
		ticker := time.NewTicker(s.config.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.badger.RunGC(); err != nil {
					s.log.WithError(err).Warn("value log gc failed")
				}
			case <-s.gcStop:
				return
			}
		}
	}()
}

// Bank returns the sandbox bank.
func (s *Sandbox) Bank() *bank.Bank {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bank
}

// Ledger returns the transaction ledger.
func (s *Sandbox) Ledger() blockstore.Store {
	return s.ledger
}

// Dir returns the state directory, empty for in-memory sandboxes.
func (s *Sandbox) Dir() string {
	return s.dir
}

// OracleProgramID returns the address of the price oracle program.
func (s *Sandbox) OracleProgramID() types.Pubkey {
	return s.config.Bank.OracleProgramID
}

// Slot returns the current slot.
func (s *Sandbox) Slot() uint64 {
	return s.Bank().Slot()
}

// AdvanceSlot closes the current slot.
func (s *Sandbox) AdvanceSlot() (*blockstore.SlotMeta, error) {
	return s.Bank().AdvanceSlot()
}

// WarpToSlot jumps forward to slot.
func (s *Sandbox) WarpToSlot(slot uint64) (*blockstore.SlotMeta, error) {
	return s.Bank().WarpToSlot(slot)
}

// GetAccount returns the account at key.
func (s *Sandbox) GetAccount(key types.Pubkey) (*accounts.Account, error) {
	return s.Bank().GetAccount(key)
}

// MinimumBalanceForRentExemption returns the rent-exempt minimum for an
// account holding dataLen bytes.
func (s *Sandbox) MinimumBalanceForRentExemption(dataLen uint64) uint64 {
	return s.Bank().MinimumBalanceForRentExemption(dataLen)
}

// SendTransaction builds a transaction from ixs, paid for by payer and
// signed by payer and signers, and executes it in the current slot.
func (s *Sandbox) SendTransaction(ixs []svm.Instruction, payer *Actor, signers ...*Actor) (*bank.Result, error) {
	b := s.Bank()

	keypairs := make([]*types.Keypair, 0, len(signers)+1)
	keypairs = append(keypairs, payer.Keypair())
	for _, a := range signers {
		keypairs = append(keypairs, a.Keypair())
	}

	msg := bank.Message{
		FeePayer:     payer.Pubkey(),
		RecentSlot:   b.Slot(),
		Instructions: ixs,
	}
	tx, err := bank.NewTransaction(msg, keypairs...)
	if err != nil {
		return nil, err
	}
	return b.ProcessTransaction(tx)
}

// Snapshot writes the account state to path.
func (s *Sandbox) Snapshot(path string) (*accounts.SnapshotHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	header, err := accounts.WriteSnapshot(s.accounts, path)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"path":     path,
		"slot":     header.Slot,
		"accounts": header.AccountsCount,
	}).Info("snapshot written")
	return header, nil
}

// Restore replaces the account state with the snapshot at path and
// restarts the bank at the snapshot's slot. The ledger is kept.
func (s *Sandbox) Restore(path string) (*accounts.SnapshotHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	header, err := accounts.LoadSnapshot(s.accounts, path)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Commit(); err != nil {
		return nil, fmt.Errorf("commit restored state: %w", err)
	}

	b, err := bank.New(s.accounts, s.ledger, s.config.Bank)
	if err != nil {
		return nil, err
	}
	s.bank = b

	s.log.WithFields(logrus.Fields{"path": path, "slot": header.Slot}).Info("snapshot restored")
	return header, nil
}

// Close stops background work and closes all stores. Temporary state is
// removed.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStop)
	s.gcWG.Wait()

	err := s.closeStores()
	s.removeTemp()
	return err
}

func (s *Sandbox) closeStores() error {
	var errs []error
	if s.accounts != nil {
		if err := s.accounts.Commit(); err != nil && !errors.Is(err, accounts.ErrClosed) {
			errs = append(errs, err)
		}
		if err := s.accounts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close accounts: %w", err))
		}
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sandbox) removeTemp() {
	if !s.tempDir || s.dir == "" {
		return
	}
	if err := os.RemoveAll(s.dir); err != nil {
		s.log.WithError(err).Warn("remove temp dir")
	}
}

package blockstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/pythsim/internal/logging"
	"github.com/fortiblox/pythsim/internal/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSlotNotFound is returned when a slot doesn't exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrClosed is returned when operating on a closed blockstore.
	ErrClosed = errors.New("blockstore closed")

	// ErrDuplicateTransaction is returned when a signature is stored twice.
	ErrDuplicateTransaction = errors.New("transaction already recorded")
)

// Bucket names for BoltDB.
var (
	// bucketSlotMeta stores slot metadata keyed by slot.
	bucketSlotMeta = []byte("slot_meta")

	// bucketTxBySignature stores transactions keyed by signature.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketSlotSignatures indexes signatures by slot+sequence.
	bucketSlotSignatures = []byte("slot_sigs")

	// bucketAddressSignatures indexes signatures by address+slot+sequence.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketMetadata stores blockstore metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestSlot       = []byte("latest_slot")
	keyOldestSlot       = []byte("oldest_slot")
	keyTransactionCount = []byte("transaction_count")
)

// Config holds blockstore configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// PruneEnabled enables automatic pruning of old slots.
	PruneEnabled bool

	// PruneInterval is how often to run the pruning routine.
	PruneInterval time.Duration

	// RetainSlots is the number of slots to retain during pruning.
	RetainSlots uint64
}

// DefaultConfig returns the default blockstore configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		PruneEnabled:  false,
		PruneInterval: time.Hour,
		RetainSlots:   DefaultPruneSlots,
	}
}

// Store is the ledger interface used by the bank and the RPC server.
type Store interface {
	// PutTransaction records an executed transaction.
	PutTransaction(txn *Transaction) error

	// GetTransaction returns the transaction with the given first signature.
	GetTransaction(signature types.Signature) (*Transaction, error)

	// GetSlotSignatures returns a slot's signatures in execution order.
	GetSlotSignatures(slot uint64) ([]types.Signature, error)

	// GetSignaturesForAddress returns up to limit entries newest first.
	// A limit of zero returns everything.
	GetSignaturesForAddress(address types.Pubkey, limit int) ([]SignatureInfo, error)

	GetSlotMeta(slot uint64) (*SlotMeta, error)
	PutSlotMeta(meta *SlotMeta) error

	// GetLatestSlotMeta returns the metadata of the highest completed slot.
	GetLatestSlotMeta() (*SlotMeta, error)

	// GetLatestSlot returns the highest slot with recorded data.
	GetLatestSlot() uint64

	// Prune removes slots older than latest-keepSlots and returns how many
	// transactions were removed.
	Prune(keepSlots uint64) (uint64, error)
	GetStats() (*Stats, error)
	Sync() error
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config

	// Cached values for fast reads.
	mu               sync.RWMutex
	latestSlot       uint64
	oldestSlot       uint64
	transactionCount uint64

	// Pruning control.
	pruneStop chan struct{}
	pruneWG   sync.WaitGroup

	closed bool
}

// Open creates or opens a blockstore at config.Path.
func Open(config Config) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{
		db:        db,
		config:    config,
		pruneStop: make(chan struct{}),
	}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	if config.PruneEnabled && config.PruneInterval > 0 {
		store.startPruning()
	}

	return store, nil
}

// initBuckets creates all required buckets.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSlotMeta,
			bucketTxBySignature,
			bucketSlotSignatures,
			bucketAddressSignatures,
			bucketMetadata,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads frequently-accessed values into memory.
func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if v := meta.Get(keyLatestSlot); v != nil {
			s.latestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyOldestSlot); v != nil {
			s.oldestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSlotKey(v)
		}
		return nil
	})
}

// startPruning starts the background pruning goroutine.
func (s *BoltStore) startPruning() {
	log := logging.WithComponent("blockstore")
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n, err := s.Prune(s.config.RetainSlots)
				if err != nil {
					log.WithError(err).Warn("prune failed")
					continue
				}
				if n > 0 {
					log.WithField("transactions", n).Info("pruned ledger")
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// PutTransaction stores a transaction and indexes it by slot and address.
func (s *BoltStore) PutTransaction(txn *Transaction) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := gobEncode(txn)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.latestSlot
	oldest := s.oldestSlot
	count := s.transactionCount

	err = s.db.Update(func(tx *bolt.Tx) error {
		sigKey := EncodeSignatureKey(txn.Signature)
		txBySig := tx.Bucket(bucketTxBySignature)
		if txBySig.Get(sigKey) != nil {
			return ErrDuplicateTransaction
		}
		if err := txBySig.Put(sigKey, data); err != nil {
			return err
		}
		if err := indexTransaction(tx, txn); err != nil {
			return err
		}

		count++
		if txn.Slot > latest {
			latest = txn.Slot
		}
		if count == 1 || txn.Slot < oldest {
			oldest = txn.Slot
		}
		return putCounters(tx, latest, oldest, count)
	})
	if err != nil {
		return err
	}

	s.latestSlot, s.oldestSlot, s.transactionCount = latest, oldest, count
	return nil
}

func putCounters(tx *bolt.Tx, latest, oldest, count uint64) error {
	meta := tx.Bucket(bucketMetadata)
	if err := meta.Put(keyLatestSlot, EncodeSlotKey(latest)); err != nil {
		return err
	}
	if err := meta.Put(keyOldestSlot, EncodeSlotKey(oldest)); err != nil {
		return err
	}
	return meta.Put(keyTransactionCount, EncodeSlotKey(count))
}

// GetTransaction retrieves a transaction by signature.
func (s *BoltStore) GetTransaction(signature types.Signature) (*Transaction, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var txn Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTxBySignature).Get(EncodeSignatureKey(signature))
		if data == nil {
			return ErrTransactionNotFound
		}
		return gobDecode(data, &txn)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetSlotSignatures returns the signatures executed in slot.
func (s *BoltStore) GetSlotSignatures(slot uint64) ([]types.Signature, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var sigs []types.Signature
	err := s.db.View(func(tx *bolt.Tx) error {
		sigs = slotSignatures(tx, slot)
		return nil
	})
	return sigs, err
}

// GetSignaturesForAddress returns signatures that referenced address,
// newest first.
func (s *BoltStore) GetSignaturesForAddress(address types.Pubkey, limit int) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = addressSignatures(tx, address, limit)
		return err
	})
	return out, err
}

// GetSlotMeta retrieves metadata for a slot.
func (s *BoltStore) GetSlotMeta(slot uint64) (*SlotMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var meta SlotMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSlotMeta).Get(EncodeSlotKey(slot))
		if data == nil {
			return ErrSlotNotFound
		}
		return gobDecode(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetLatestSlotMeta returns the metadata with the highest slot.
func (s *BoltStore) GetLatestSlotMeta() (*SlotMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var meta SlotMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		_, data := tx.Bucket(bucketSlotMeta).Cursor().Last()
		if data == nil {
			return ErrSlotNotFound
		}
		return gobDecode(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// PutSlotMeta stores metadata for a slot.
func (s *BoltStore) PutSlotMeta(meta *SlotMeta) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := gobEncode(meta)
	if err != nil {
		return fmt.Errorf("encode slot meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.latestSlot
	if meta.Slot > latest {
		latest = meta.Slot
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSlotMeta).Put(EncodeSlotKey(meta.Slot), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMetadata).Put(keyLatestSlot, EncodeSlotKey(latest))
	})
	if err != nil {
		return err
	}
	s.latestSlot = latest
	return nil
}

// GetLatestSlot returns the most recent slot with data.
func (s *BoltStore) GetLatestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSlot
}

// Prune removes transactions and slot metadata older than
// latest-keepSlots.
func (s *BoltStore) Prune(keepSlots uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latestSlot < keepSlots {
		return 0, nil
	}
	cutoff := s.latestSlot - keepSlots

	var pruned uint64
	count := s.transactionCount
	err := s.db.Update(func(tx *bolt.Tx) error {
		sigs, err := deleteIndexesBefore(tx, cutoff)
		if err != nil {
			return err
		}

		txBySig := tx.Bucket(bucketTxBySignature)
		for _, sig := range sigs {
			if err := txBySig.Delete(EncodeSignatureKey(sig)); err != nil {
				return err
			}
			pruned++
		}

		var metaKeys [][]byte
		c := tx.Bucket(bucketSlotMeta).Cursor()
		for k, _ := c.First(); k != nil && DecodeSlotKey(k) < cutoff; k, _ = c.Next() {
			metaKeys = append(metaKeys, append([]byte(nil), k...))
		}
		for _, k := range metaKeys {
			if err := tx.Bucket(bucketSlotMeta).Delete(k); err != nil {
				return err
			}
		}

		if pruned > count {
			count = 0
		} else {
			count -= pruned
		}
		return putCounters(tx, s.latestSlot, cutoff, count)
	})
	if err != nil {
		return 0, err
	}

	s.transactionCount = count
	s.oldestSlot = cutoff
	return pruned, nil
}

// GetStats returns blockstore statistics.
func (s *BoltStore) GetStats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	stats := &Stats{
		LatestSlot:       s.latestSlot,
		OldestSlot:       s.oldestSlot,
		TransactionCount: s.transactionCount,
	}
	s.mu.RUnlock()

	err := s.db.View(func(tx *bolt.Tx) error {
		stats.SlotCount = uint64(tx.Bucket(bucketSlotMeta).Stats().KeyN)
		return nil
	})
	return stats, err
}

// Sync forces an fsync of the database.
func (s *BoltStore) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close stops pruning and closes the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()

	return s.db.Close()
}

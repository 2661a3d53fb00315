package accounts

import (
	"sync/atomic"

	"github.com/fortiblox/pythsim/internal/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of accounts CachedDB keeps when no size is
// given.
const DefaultCacheSize = 4096

// CachedDB is a read-through LRU cache in front of another DB. Writes go to
// the backing DB first and then refresh the cache.
type CachedDB struct {
	DB

	cache *lru.Cache[types.Pubkey, *Account]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedDB wraps db with a cache of size accounts.
func NewCachedDB(db DB, size int) (*CachedDB, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[types.Pubkey, *Account](size)
	if err != nil {
		return nil, err
	}
	return &CachedDB{DB: db, cache: cache}, nil
}

// GetAccount returns a copy of the cached account or loads it from the
// backing DB.
func (c *CachedDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if acc, ok := c.cache.Get(pubkey); ok {
		c.hits.Add(1)
		return acc.Clone(), nil
	}
	c.misses.Add(1)

	acc, err := c.DB.GetAccount(pubkey)
	if err != nil {
		return nil, err
	}
	c.cache.Add(pubkey, acc.Clone())
	return acc, nil
}

// HasAccount answers from the cache when it can.
func (c *CachedDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if c.cache.Contains(pubkey) {
		return true, nil
	}
	return c.DB.HasAccount(pubkey)
}

// SetAccount stores an account.
func (c *CachedDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return c.SetAccounts([]AccountEntry{{Pubkey: pubkey, Account: account}})
}

// SetAccounts writes through to the backing DB and then updates the cache.
func (c *CachedDB) SetAccounts(entries []AccountEntry) error {
	if err := c.DB.SetAccounts(entries); err != nil {
		// The backing store may have partially applied; drop what we know.
		for _, e := range entries {
			c.cache.Remove(e.Pubkey)
		}
		return err
	}
	for _, e := range entries {
		if e.Account.IsZero() {
			c.cache.Remove(e.Pubkey)
			continue
		}
		c.cache.Add(e.Pubkey, e.Account.Clone())
	}
	return nil
}

// DeleteAccount removes an account.
func (c *CachedDB) DeleteAccount(pubkey types.Pubkey) error {
	c.cache.Remove(pubkey)
	return c.DB.DeleteAccount(pubkey)
}

// Close purges the cache and closes the backing DB.
func (c *CachedDB) Close() error {
	c.cache.Purge()
	return c.DB.Close()
}

// Stats returns cache hit and miss counts.
func (c *CachedDB) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Verify that CachedDB implements DB interface.
var _ DB = (*CachedDB)(nil)

package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount(lamports uint64, data string) *Account {
	return &Account{
		Lamports:  lamports,
		Data:      []byte(data),
		Owner:     types.PythProgramAddr,
		RentEpoch: 7,
	}
}

func TestAccountSerialization(t *testing.T) {
	account := &Account{
		Lamports:   1_000_000_000,
		Data:       []byte("test data"),
		Owner:      types.PythProgramAddr,
		Executable: true,
		RentEpoch:  100,
	}

	data := account.Serialize()
	require.Len(t, data, account.Size())

	restored, err := DeserializeAccount(data)
	require.NoError(t, err)
	assert.Equal(t, account, restored)

	_, err = DeserializeAccount(data[:20])
	assert.ErrorIs(t, err, ErrInvalidData)

	_, err = DeserializeAccount(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestAccountClone(t *testing.T) {
	a := testAccount(5, "abc")
	c := a.Clone()
	c.Data[0] = 'z'
	assert.Equal(t, "abc", string(a.Data))

	var nilAcc *Account
	assert.Nil(t, nilAcc.Clone())
}

func TestAccountIsZero(t *testing.T) {
	assert.True(t, (&Account{}).IsZero())
	assert.False(t, (&Account{Lamports: 1}).IsZero())
	assert.False(t, (&Account{Data: []byte{0}}).IsZero())
}

// exerciseDB runs the behaviour every DB implementation shares.
func exerciseDB(t *testing.T, db DB) {
	t.Helper()
	a, b := types.Pubkey{1}, types.Pubkey{2}

	_, err := db.GetAccount(a)
	require.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, db.SetAccounts([]AccountEntry{
		{Pubkey: b, Account: testAccount(20, "bb")},
		{Pubkey: a, Account: testAccount(10, "aa")},
	}))

	got, err := db.GetAccount(a)
	require.NoError(t, err)
	assert.Equal(t, testAccount(10, "aa"), got)

	// Returned accounts are copies.
	got.Data[0] = 'x'
	again, err := db.GetAccount(a)
	require.NoError(t, err)
	assert.Equal(t, "aa", string(again.Data))

	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	var order []types.Pubkey
	require.NoError(t, db.IterateAccounts(func(pubkey types.Pubkey, _ *Account) error {
		order = append(order, pubkey)
		return nil
	}))
	assert.Equal(t, []types.Pubkey{a, b}, order)

	// Zero account deletes.
	require.NoError(t, db.SetAccount(a, &Account{}))
	ok, err := db.HasAccount(a)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.DeleteAccount(b))
	count, err = db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	require.NoError(t, db.SetSlot(42))
	assert.Equal(t, uint64(42), db.GetSlot())
	require.NoError(t, db.Commit())
}

func TestMemoryDB(t *testing.T) {
	db := NewMemoryDB()
	exerciseDB(t, db)

	require.NoError(t, db.Close())
	_, err := db.GetAccount(types.Pubkey{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadgerDB(DefaultBadgerDBConfig(t.TempDir()))
	require.NoError(t, err)
	defer db.Close()

	exerciseDB(t, db)
}

func TestBadgerDBReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)

	require.NoError(t, db.SetAccount(types.Pubkey{9}, testAccount(1, "persist")))
	require.NoError(t, db.SetSlot(11))
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Close(), ErrClosed)

	db, err = NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, uint64(11), db.GetSlot())
	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	acc, err := db.GetAccount(types.Pubkey{9})
	require.NoError(t, err)
	assert.Equal(t, "persist", string(acc.Data))
}

func TestCachedDB(t *testing.T) {
	backing := NewMemoryDB()
	db, err := NewCachedDB(backing, 2)
	require.NoError(t, err)

	exerciseDB(t, db)

	key := types.Pubkey{5}
	require.NoError(t, db.SetAccount(key, testAccount(3, "c")))
	_, err = db.GetAccount(key)
	require.NoError(t, err)
	hits, _ := db.Stats()
	assert.NotZero(t, hits)

	// Writes made through the cache are visible in the backing store.
	acc, err := backing.GetAccount(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), acc.Lamports)

	// Deleting through the cache evicts the entry.
	require.NoError(t, db.DeleteAccount(key))
	_, err = db.GetAccount(key)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStateHash(t *testing.T) {
	db1 := NewMemoryDB()
	db2 := NewMemoryDB()

	empty, err := ComputeStateHash(db1)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	require.NoError(t, db1.SetAccount(types.Pubkey{1}, testAccount(1, "x")))
	require.NoError(t, db1.SetAccount(types.Pubkey{2}, testAccount(2, "y")))
	require.NoError(t, db2.SetAccount(types.Pubkey{2}, testAccount(2, "y")))
	require.NoError(t, db2.SetAccount(types.Pubkey{1}, testAccount(1, "x")))

	h1, err := ComputeStateHash(db1)
	require.NoError(t, err)
	h2, err := ComputeStateHash(db2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, db2.SetAccount(types.Pubkey{1}, testAccount(1, "z")))
	h3, err := ComputeStateHash(db2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestAccountHashSensitivity(t *testing.T) {
	acc := testAccount(1, "data")
	base := ComputeAccountHash(types.Pubkey{1}, acc)
	assert.NotEqual(t, base, ComputeAccountHash(types.Pubkey{2}, acc))

	changed := acc.Clone()
	changed.Lamports++
	assert.NotEqual(t, base, ComputeAccountHash(types.Pubkey{1}, changed))
}

func TestMerkleRoot(t *testing.T) {
	assert.True(t, ComputeMerkleRoot(nil).IsZero())

	h := []types.Hash{{1}, {2}, {3}}
	root := ComputeMerkleRoot(h)
	assert.Equal(t, root, ComputeMerkleRoot(h))
	assert.NotEqual(t, root, ComputeMerkleRoot(h[:2]))
}

func TestDeltaHashOrderIndependent(t *testing.T) {
	a := AccountEntry{Pubkey: types.Pubkey{1}, Account: testAccount(1, "a")}
	b := AccountEntry{Pubkey: types.Pubkey{2}, Account: testAccount(2, "b")}
	assert.Equal(t, ComputeDeltaHash([]AccountEntry{a, b}), ComputeDeltaHash([]AccountEntry{b, a}))
}

func TestBankHash(t *testing.T) {
	in := BankHashInput{NumSignatures: 1, Slot: 3}
	h := ComputeBankHash(in)
	in.Slot = 4
	assert.NotEqual(t, h, ComputeBankHash(in))
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewMemoryDB()
	for i := byte(1); i <= 20; i++ {
		require.NoError(t, src.SetAccount(types.Pubkey{i}, testAccount(uint64(i), "account-data")))
	}
	require.NoError(t, src.SetSlot(99))

	path := filepath.Join(t.TempDir(), "snap", "state.snap")
	header, err := WriteSnapshot(src, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), header.AccountsCount)

	onDisk, err := ReadSnapshotHeader(path)
	require.NoError(t, err)
	assert.Equal(t, header, onDisk)

	dst := NewMemoryDB()
	require.NoError(t, dst.SetAccount(types.Pubkey{200}, testAccount(5, "stale")))

	restored, err := LoadSnapshot(dst, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), restored.Slot)
	assert.Equal(t, uint64(99), dst.GetSlot())

	ok, err := dst.HasAccount(types.Pubkey{200})
	require.NoError(t, err)
	assert.False(t, ok)

	want, err := ComputeStateHash(src)
	require.NoError(t, err)
	got, err := ComputeStateHash(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotHashMismatchLeavesDB(t *testing.T) {
	src := NewMemoryDB()
	require.NoError(t, src.SetAccount(types.Pubkey{1}, testAccount(1, "snapshot")))
	path := filepath.Join(t.TempDir(), "state.snap")
	_, err := WriteSnapshot(src, path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[snapshotHeaderLen-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	dst := NewMemoryDB()
	require.NoError(t, dst.SetAccount(types.Pubkey{200}, testAccount(5, "live")))
	require.NoError(t, dst.SetSlot(3))
	before, err := ComputeStateHash(dst)
	require.NoError(t, err)

	_, err = LoadSnapshot(dst, path)
	assert.ErrorIs(t, err, ErrHashMismatch)

	after, err := ComputeStateHash(dst)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(3), dst.GetSlot())
	ok, err := dst.HasAccount(types.Pubkey{1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotMissing(t *testing.T) {
	_, err := LoadSnapshot(NewMemoryDB(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

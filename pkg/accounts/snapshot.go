package accounts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fortiblox/pythsim/internal/types"
	bin "github.com/gagliardetto/binary"
	"github.com/klauspost/compress/zstd"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// snapshotMagic identifies a sandbox state snapshot.
var snapshotMagic = [4]byte{'P', 'S', 'S', 'N'}

// snapshotHeaderLen is magic (4) + version (4) + slot (8) + count (8) + hash (32).
const snapshotHeaderLen = 4 + 4 + 8 + 8 + 32

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	StateHash     types.Hash
}

func (h *SnapshotHeader) encode() []byte {
	buf := make([]byte, snapshotHeaderLen)
	copy(buf[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint64(buf[8:], h.Slot)
	binary.LittleEndian.PutUint64(buf[16:], h.AccountsCount)
	copy(buf[24:], h.StateHash[:])
	return buf
}

func (h *SnapshotHeader) decode(buf []byte) error {
	dec := bin.NewBinDecoder(buf)
	magic, err := dec.ReadNBytes(4)
	if err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != string(snapshotMagic[:]) {
		return fmt.Errorf("invalid snapshot magic: %q", magic)
	}
	if h.Version, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return err
	}
	if h.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d", h.Version)
	}
	if h.Slot, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if h.AccountsCount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	hash, err := dec.ReadNBytes(32)
	if err != nil {
		return err
	}
	copy(h.StateHash[:], hash)
	return nil
}

// WriteSnapshot writes every account in db to path. The file holds an
// uncompressed header followed by a zstd stream of
// pubkey (32) + size (4) + serialized account records.
func WriteSnapshot(db DB, path string) (*SnapshotHeader, error) {
	stateHash, err := ComputeStateHash(db)
	if err != nil {
		return nil, fmt.Errorf("compute state hash: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	defer file.Close()

	header := &SnapshotHeader{
		Version:   snapshotVersion,
		Slot:      db.GetSlot(),
		StateHash: stateHash,
	}

	// Placeholder header, rewritten with the final count.
	if _, err := file.Write(header.encode()); err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}
	w := bufio.NewWriter(zw)

	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		if _, err := w.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := w.Write(size[:]); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		header.AccountsCount++
		return nil
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}

	if err := w.Flush(); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	if _, err := file.WriteAt(header.encode(), 0); err != nil {
		return nil, err
	}
	return header, file.Sync()
}

// ReadSnapshotHeader returns the header of a snapshot file.
func ReadSnapshotHeader(path string) (*SnapshotHeader, error) {
	file, err := openSnapshot(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var header SnapshotHeader
	if err := readHeader(file, &header); err != nil {
		return nil, err
	}
	return &header, nil
}

// LoadSnapshot replaces the contents of db with the accounts in path. The
// accounts are checked against the recorded state hash before db is touched.
func LoadSnapshot(db DB, path string) (*SnapshotHeader, error) {
	file, err := openSnapshot(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var header SnapshotHeader
	if err := readHeader(file, &header); err != nil {
		return nil, err
	}

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	defer zr.Close()
	r := bufio.NewReader(zr)

	entries := make([]AccountEntry, 0, header.AccountsCount)
	for i := uint64(0); i < header.AccountsCount; i++ {
		pubkey, account, err := readSnapshotAccount(r)
		if err != nil {
			return nil, fmt.Errorf("read account %d: %w", i, err)
		}
		entries = append(entries, AccountEntry{Pubkey: pubkey, Account: account})
	}
	if computed := computeEntriesStateHash(entries); computed != header.StateHash {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, header.StateHash, computed)
	}

	// Clear accounts that are not part of the snapshot.
	var stale []AccountEntry
	err = db.IterateAccounts(func(pubkey types.Pubkey, _ *Account) error {
		stale = append(stale, AccountEntry{Pubkey: pubkey, Account: &Account{}})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := db.SetAccounts(stale); err != nil {
		return nil, fmt.Errorf("clear accounts: %w", err)
	}
	if err := db.SetAccounts(entries); err != nil {
		return nil, fmt.Errorf("restore accounts: %w", err)
	}
	if err := db.SetSlot(header.Slot); err != nil {
		return nil, fmt.Errorf("set slot: %w", err)
	}
	return &header, nil
}

func openSnapshot(path string) (*os.File, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return file, nil
}

func readHeader(r io.Reader, header *SnapshotHeader) error {
	buf := make([]byte, snapshotHeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	return header.decode(buf)
}

func readSnapshotAccount(r io.Reader) (types.Pubkey, *Account, error) {
	var pubkey types.Pubkey
	if _, err := io.ReadFull(r, pubkey[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read pubkey: %w", err)
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read size: %w", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	const maxAccountSerializedSize = MaxAccountDataSize + 100
	if size > maxAccountSerializedSize {
		return types.Pubkey{}, nil, fmt.Errorf("account size %d exceeds maximum %d", size, maxAccountSerializedSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read account data: %w", err)
	}
	account, err := DeserializeAccount(data)
	if err != nil {
		return types.Pubkey{}, nil, err
	}
	return pubkey, account, nil
}

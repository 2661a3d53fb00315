// Package bank executes transactions against the sandbox state.
//
// A Bank owns the current slot, the account state and the transaction
// ledger. ProcessTransaction:
// - verifies every required signature
// - charges the fee to the fee payer
// - runs each instruction through its native program on copies of the
//   accounts, checking the runtime's account rules after every instruction
// - commits the copies when all instructions succeed
// - records the transaction and its metadata in the ledger
//
// A failed transaction still pays its fee but leaves every other account
// untouched. AdvanceSlot and WarpToSlot close the current slot, chaining a
// bank hash over the accounts it modified.
package bank

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fortiblox/pythsim/internal/logging"
	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/accounts"
	"github.com/fortiblox/pythsim/pkg/blockstore"
	"github.com/fortiblox/pythsim/pkg/svm"
	"github.com/fortiblox/pythsim/pkg/svm/programs/pyth"
	"github.com/fortiblox/pythsim/pkg/svm/programs/system"
	"github.com/sirupsen/logrus"
)

// Errors returned for transactions that are rejected before execution.
// Rejected transactions pay no fee and are not recorded.
var (
	ErrAlreadyProcessed   = errors.New("transaction already processed")
	ErrTransactionExpired = errors.New("transaction recent slot is not valid")
	ErrInvalidFeePayer    = errors.New("fee payer must be a system account")
	ErrInsufficientFee    = errors.New("insufficient funds for fee")
	ErrInvalidWarp        = errors.New("warp slot must be ahead of the current slot")
	ErrLamportOverflow    = errors.New("lamport balance overflow")
	ErrWritableSysvar     = errors.New("sysvar accounts cannot be writable")
)

// Runtime account rule violations, reported as instruction errors.
var (
	ErrReadonlyModified      = errors.New("instruction modified a read-only account")
	ErrExternalDataModified  = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend  = errors.New("instruction spent lamports of an account it does not own")
	ErrModifiedOwner         = errors.New("instruction changed the owner of an account it does not own")
	ErrExecutableModified    = errors.New("instruction modified an executable account")
	ErrUnbalancedInstruction = errors.New("instruction changed total lamports")
	ErrAccountDataTooLarge   = errors.New("account data too large")
)

// Config holds bank parameters.
type Config struct {
	// FeePerSignature is charged once per transaction signature.
	FeePerSignature uint64

	// ComputeUnitLimit is the per-transaction compute budget.
	ComputeUnitLimit uint64

	// MaxTransactionAge is how many slots a message's RecentSlot may lag
	// the current slot. Zero disables the check.
	MaxTransactionAge uint64

	// SlotsPerEpoch derives the clock epoch from the slot.
	SlotsPerEpoch uint64

	// SlotDuration derives the clock timestamp from the slot.
	SlotDuration time.Duration

	// GenesisUnixTimestamp is the clock timestamp of slot 0.
	GenesisUnixTimestamp int64

	// LamportsPerByteYear and ExemptionYears define the rent-exempt
	// minimum: (128 + len) * LamportsPerByteYear * ExemptionYears.
	LamportsPerByteYear uint64
	ExemptionYears      uint64

	// OracleProgramID is the address the price oracle program is loaded at.
	OracleProgramID types.Pubkey
}

// DefaultConfig returns mainnet-like parameters.
func DefaultConfig() Config {
	return Config{
		FeePerSignature:      5000,
		ComputeUnitLimit:     svm.CUDefault,
		MaxTransactionAge:    150,
		SlotsPerEpoch:        432_000,
		SlotDuration:         400 * time.Millisecond,
		GenesisUnixTimestamp: 1_700_000_000,
		LamportsPerByteYear:  3480,
		ExemptionYears:       2,
		OracleProgramID:      types.PythProgramAddr,
	}
}

// accountStorageOverhead is the per-account byte overhead charged for rent.
const accountStorageOverhead = 128

// Result describes an executed transaction.
type Result struct {
	Signature            types.Signature
	Slot                 uint64
	Fee                  uint64
	ComputeUnitsConsumed uint64
	Logs                 []string

	// Err is the instruction failure, nil on success.
	Err error
}

type registeredProgram struct {
	name    string
	program svm.Program
}

// Bank executes transactions and tracks slot progression.
type Bank struct {
	mu sync.RWMutex

	// Storage
	accounts accounts.DB
	ledger   blockstore.Store

	// State
	slot           uint64
	parentSlot     uint64
	parentBankHash types.Hash
	slotDelta      map[types.Pubkey]*accounts.Account
	slotSignatures uint64
	slotTxCount    uint64

	programs map[types.Pubkey]registeredProgram
	config   Config
	log      *logrus.Entry
}

// New creates a bank over accts and ledger and loads the system and oracle
// programs. The current slot is taken from accts; the bank hash chain
// resumes from the ledger's latest completed slot.
func New(accts accounts.DB, ledger blockstore.Store, config Config) (*Bank, error) {
	b := &Bank{
		accounts:  accts,
		ledger:    ledger,
		slot:      accts.GetSlot(),
		slotDelta: make(map[types.Pubkey]*accounts.Account),
		programs:  make(map[types.Pubkey]registeredProgram),
		config:    config,
		log:       logging.WithComponent("bank"),
	}

	meta, err := ledger.GetLatestSlotMeta()
	switch {
	case err == nil:
		b.parentSlot = meta.Slot
		b.parentBankHash = meta.BankHash
	case !errors.Is(err, blockstore.ErrSlotNotFound):
		return nil, fmt.Errorf("load latest slot meta: %w", err)
	}

	if err := b.RegisterProgram(system.ProgramID, "system_program", system.NewProcessor()); err != nil {
		return nil, err
	}
	if err := b.RegisterProgram(config.OracleProgramID, "pyth_oracle", pyth.NewProcessor()); err != nil {
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"slot":   b.slot,
		"oracle": config.OracleProgramID,
	}).Info("bank ready")
	return b, nil
}

// RegisterProgram loads a native program at id. The program's account is
// created as an executable account owned by the native loader.
func (b *Bank) RegisterProgram(id types.Pubkey, name string, program svm.Program) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.programs[id] = registeredProgram{name: name, program: program}

	ok, err := b.accounts.HasAccount(id)
	if err != nil {
		return fmt.Errorf("check program account %s: %w", id, err)
	}
	if ok {
		return nil
	}
	acc := &accounts.Account{
		Lamports:   1,
		Data:       []byte(name),
		Owner:      types.NativeLoaderAddr,
		Executable: true,
	}
	if err := b.accounts.SetAccount(id, acc); err != nil {
		return fmt.Errorf("create program account %s: %w", id, err)
	}
	return nil
}

// Config returns the bank parameters.
func (b *Bank) Config() Config {
	return b.config
}

// Slot returns the current slot.
func (b *Bank) Slot() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slot
}

// Clock returns the clock for the current slot.
func (b *Bank) Clock() svm.Clock {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clockLocked()
}

func (b *Bank) clockLocked() svm.Clock {
	clock := svm.Clock{
		Slot:          b.slot,
		UnixTimestamp: b.config.GenesisUnixTimestamp + int64(time.Duration(b.slot)*b.config.SlotDuration/time.Second),
	}
	if b.config.SlotsPerEpoch > 0 {
		clock.Epoch = b.slot / b.config.SlotsPerEpoch
	}
	return clock
}

// MinimumBalanceForRentExemption returns the lamports an account holding
// dataLen bytes needs to be rent exempt.
func (b *Bank) MinimumBalanceForRentExemption(dataLen uint64) uint64 {
	return (accountStorageOverhead + dataLen) * b.config.LamportsPerByteYear * b.config.ExemptionYears
}

// GetAccount returns the account stored at key.
func (b *Bank) GetAccount(key types.Pubkey) (*accounts.Account, error) {
	return b.accounts.GetAccount(key)
}

// GetBalance returns the lamports held at key; missing accounts hold zero.
func (b *Bank) GetBalance(key types.Pubkey) (uint64, error) {
	acc, err := b.accounts.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Lamports, nil
}

// SetAccount overwrites the account at key outside of any transaction.
func (b *Bank) SetAccount(key types.Pubkey, acc *accounts.Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.accounts.SetAccount(key, acc); err != nil {
		return err
	}
	b.slotDelta[key] = acc.Clone()
	return nil
}

// Airdrop credits lamports to key, creating a system account if needed.
func (b *Bank) Airdrop(key types.Pubkey, lamports uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, err := b.loadAccount(key)
	if err != nil {
		return err
	}
	if acc.Lamports+lamports < acc.Lamports {
		return ErrLamportOverflow
	}
	acc.Lamports += lamports

	if err := b.accounts.SetAccount(key, acc); err != nil {
		return fmt.Errorf("airdrop to %s: %w", key, err)
	}
	b.slotDelta[key] = acc.Clone()

	b.log.WithFields(logrus.Fields{"account": key, "lamports": lamports}).Debug("airdrop")
	return nil
}

// loadAccount returns the stored account or an empty system account.
func (b *Bank) loadAccount(key types.Pubkey) (*accounts.Account, error) {
	acc, err := b.accounts.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return &accounts.Account{Owner: system.ProgramID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", key, err)
	}
	return acc, nil
}

// AdvanceSlot closes the current slot and moves to the next one.
func (b *Bank) AdvanceSlot() (*blockstore.SlotMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveToSlot(b.slot + 1)
}

// WarpToSlot closes the current slot and jumps to slot.
func (b *Bank) WarpToSlot(slot uint64) (*blockstore.SlotMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if slot <= b.slot {
		return nil, fmt.Errorf("%w: current %d, requested %d", ErrInvalidWarp, b.slot, slot)
	}
	meta, err := b.moveToSlot(slot)
	if err != nil {
		return nil, err
	}
	b.log.WithFields(logrus.Fields{"from": meta.Slot, "to": slot}).Info("warped")
	return meta, nil
}

// moveToSlot records the bank hash of the current slot and makes next the
// current slot.
func (b *Bank) moveToSlot(next uint64) (*blockstore.SlotMeta, error) {
	entries := make([]accounts.AccountEntry, 0, len(b.slotDelta))
	for key, acc := range b.slotDelta {
		entries = append(entries, accounts.AccountEntry{Pubkey: key, Account: acc})
	}

	bankHash := accounts.ComputeBankHash(accounts.BankHashInput{
		ParentBankHash:    b.parentBankHash,
		AccountsDeltaHash: accounts.ComputeDeltaHash(entries),
		NumSignatures:     b.slotSignatures,
		Slot:              b.slot,
	})

	meta := &blockstore.SlotMeta{
		Slot:             b.slot,
		ParentSlot:       b.parentSlot,
		BlockTime:        b.clockLocked().UnixTimestamp,
		BankHash:         bankHash,
		ParentBankHash:   b.parentBankHash,
		TransactionCount: b.slotTxCount,
		SignatureCount:   b.slotSignatures,
	}
	if err := b.ledger.PutSlotMeta(meta); err != nil {
		return nil, fmt.Errorf("store slot meta: %w", err)
	}
	if err := b.accounts.SetSlot(next); err != nil {
		return nil, fmt.Errorf("set slot: %w", err)
	}
	if err := b.accounts.Commit(); err != nil {
		return nil, fmt.Errorf("commit accounts: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"slot":         meta.Slot,
		"bank_hash":    bankHash,
		"transactions": meta.TransactionCount,
	}).Debug("slot complete")

	b.parentSlot = b.slot
	b.parentBankHash = bankHash
	b.slot = next
	b.slotDelta = make(map[types.Pubkey]*accounts.Account)
	b.slotSignatures = 0
	b.slotTxCount = 0
	return meta, nil
}

// BankHash returns the bank hash of the last completed slot.
func (b *Bank) BankHash() types.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.parentBankHash
}

// ProcessTransaction verifies and executes tx in the current slot.
//
// A non-nil error with a nil Result means the transaction was rejected and
// nothing was charged or recorded. If an instruction fails, both the Result
// and the error are returned; the error is an *svm.InstructionError.
func (b *Bank) ProcessTransaction(tx *Transaction) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sig := tx.Signature()
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	if err := b.checkRecentSlot(tx.Message.RecentSlot); err != nil {
		return nil, err
	}
	if _, err := b.ledger.GetTransaction(sig); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, sig)
	} else if !errors.Is(err, blockstore.ErrTransactionNotFound) {
		return nil, fmt.Errorf("check signature: %w", err)
	}

	msg := &tx.Message
	keys := msg.AccountKeys()
	for _, key := range keys {
		if types.IsSysvar(key) && msg.isWritable(key) {
			return nil, fmt.Errorf("%w: %s", ErrWritableSysvar, key)
		}
	}
	fee := b.config.FeePerSignature * uint64(len(tx.Signatures))

	loaded := make([]*accounts.Account, len(keys))
	for i, key := range keys {
		acc, err := b.loadAccount(key)
		if err != nil {
			return nil, err
		}
		loaded[i] = acc
	}

	payer := loaded[0]
	if payer.Owner != system.ProgramID || len(payer.Data) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFeePayer, msg.FeePayer)
	}
	if payer.Lamports < fee {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFee, fee, payer.Lamports)
	}

	signers := make(map[types.Pubkey]bool)
	for _, s := range msg.Signers() {
		signers[s] = true
	}

	working := make(map[types.Pubkey]*svm.AccountInfo, len(keys))
	preBalances := make([]uint64, len(keys))
	for i, key := range keys {
		acc := loaded[i]
		preBalances[i] = acc.Lamports
		working[key] = &svm.AccountInfo{
			Key:        key,
			Owner:      acc.Owner,
			Lamports:   acc.Lamports,
			Data:       acc.Data,
			Executable: acc.Executable,
			RentEpoch:  acc.RentEpoch,
			IsSigner:   signers[key],
			IsWritable: msg.isWritable(key),
		}
	}
	working[msg.FeePayer].Lamports -= fee

	meter := svm.NewComputeMeter(b.config.ComputeUnitLimit)
	result := &Result{
		Signature: sig,
		Slot:      b.slot,
		Fee:       fee,
	}

	var execErr error
	if err := meter.Consume(svm.CUSignatureVerify * uint64(len(tx.Signatures))); err != nil {
		execErr = &svm.InstructionError{Index: 0, Err: err}
	}
	for i := range msg.Instructions {
		if execErr != nil {
			break
		}
		if err := b.executeInstruction(&msg.Instructions[i], working, meter, &result.Logs); err != nil {
			execErr = &svm.InstructionError{Index: i, Err: err}
		}
	}
	result.ComputeUnitsConsumed = meter.Consumed()
	result.Err = execErr

	// Only the fee is taken from a failed transaction.
	var commit []accounts.AccountEntry
	if execErr != nil {
		payer.Lamports -= fee
		commit = []accounts.AccountEntry{{Pubkey: msg.FeePayer, Account: payer}}
	} else {
		for _, key := range keys {
			info := working[key]
			if !info.IsWritable {
				continue
			}
			commit = append(commit, accounts.AccountEntry{Pubkey: key, Account: &accounts.Account{
				Lamports:   info.Lamports,
				Data:       info.Data,
				Owner:      info.Owner,
				Executable: info.Executable,
				RentEpoch:  info.RentEpoch,
			}})
		}
	}
	if err := b.accounts.SetAccounts(commit); err != nil {
		return nil, fmt.Errorf("commit accounts: %w", err)
	}
	for _, e := range commit {
		b.slotDelta[e.Pubkey] = e.Account.Clone()
	}

	postBalances := make([]uint64, len(keys))
	for i, key := range keys {
		switch {
		case execErr == nil:
			postBalances[i] = working[key].Lamports
		case i == 0:
			postBalances[i] = preBalances[i] - fee
		default:
			postBalances[i] = preBalances[i]
		}
	}

	if err := b.ledger.PutTransaction(b.ledgerRecord(tx, keys, result, preBalances, postBalances)); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	b.slotSignatures += uint64(len(tx.Signatures))
	b.slotTxCount++

	entry := b.log.WithFields(logrus.Fields{
		"signature": sig,
		"slot":      b.slot,
		"cu":        result.ComputeUnitsConsumed,
	})
	for _, line := range result.Logs {
		entry.Debug(line)
	}
	if execErr != nil {
		entry.WithError(execErr).Debug("transaction failed")
		return result, execErr
	}
	entry.Debug("transaction executed")
	return result, nil
}

func (b *Bank) checkRecentSlot(recent uint64) error {
	if recent > b.slot {
		return fmt.Errorf("%w: recent slot %d is ahead of slot %d", ErrTransactionExpired, recent, b.slot)
	}
	if b.config.MaxTransactionAge > 0 && b.slot-recent > b.config.MaxTransactionAge {
		return fmt.Errorf("%w: recent slot %d is older than %d slots", ErrTransactionExpired, recent, b.config.MaxTransactionAge)
	}
	return nil
}

// executeInstruction runs ix on per-instruction copies of its accounts and
// writes them back into working if the program succeeds and the runtime
// rules hold.
func (b *Bank) executeInstruction(ix *svm.Instruction, working map[types.Pubkey]*svm.AccountInfo, meter *svm.ComputeMeter, logs *[]string) error {
	registered, ok := b.programs[ix.ProgramID]
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnknownProgram, ix.ProgramID)
	}
	if err := meter.Consume(svm.ProgramCost(ix.ProgramID == system.ProgramID, len(ix.Data))); err != nil {
		return err
	}

	pre := make(map[types.Pubkey]*svm.AccountInfo, len(ix.Accounts))
	views := make(map[types.Pubkey]*svm.AccountInfo, len(ix.Accounts))
	ctxAccounts := make([]*svm.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		view, ok := views[meta.Pubkey]
		if !ok {
			base := working[meta.Pubkey]
			pre[meta.Pubkey] = base
			view = base.Clone()
			view.IsSigner = false
			view.IsWritable = false
			views[meta.Pubkey] = view
		}
		view.IsSigner = view.IsSigner || meta.IsSigner
		view.IsWritable = view.IsWritable || meta.IsWritable
		ctxAccounts[i] = view
	}

	ctx := &instructionContext{
		programID: ix.ProgramID,
		accounts:  ctxAccounts,
		clock:     b.clockLocked(),
		rent:      b.MinimumBalanceForRentExemption,
		logs:      logs,
	}

	*logs = append(*logs, fmt.Sprintf("Program %s invoke", ix.ProgramID))
	if err := registered.program.Process(ctx, ix.Data); err != nil {
		*logs = append(*logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
		return err
	}
	if err := verifyAccountChanges(ix.ProgramID, pre, views); err != nil {
		*logs = append(*logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
		return err
	}
	*logs = append(*logs, fmt.Sprintf("Program %s success", ix.ProgramID))

	for key, view := range views {
		w := working[key]
		w.Lamports = view.Lamports
		w.Data = view.Data
		w.Owner = view.Owner
		w.Executable = view.Executable
		w.RentEpoch = view.RentEpoch
	}
	return nil
}

// verifyAccountChanges enforces the rules every program is held to: only
// writable accounts change, only the owner changes data or spends lamports
// or reassigns the account, executables are frozen and lamports are
// conserved across the instruction.
func verifyAccountChanges(programID types.Pubkey, pre, post map[types.Pubkey]*svm.AccountInfo) error {
	var preTotal, postTotal uint64
	for key, after := range post {
		before := pre[key]
		preTotal += before.Lamports
		postTotal += after.Lamports

		dataChanged := !bytes.Equal(before.Data, after.Data)
		ownerChanged := before.Owner != after.Owner
		lamportsChanged := before.Lamports != after.Lamports

		switch {
		case !after.IsWritable && (dataChanged || ownerChanged || lamportsChanged || before.Executable != after.Executable):
			return fmt.Errorf("%w: %s", ErrReadonlyModified, key)
		case before.Executable != after.Executable || (before.Executable && (dataChanged || ownerChanged)):
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		case ownerChanged && before.Owner != programID:
			return fmt.Errorf("%w: %s", ErrModifiedOwner, key)
		case dataChanged && before.Owner != programID:
			return fmt.Errorf("%w: %s", ErrExternalDataModified, key)
		case after.Lamports < before.Lamports && before.Owner != programID:
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, key)
		case len(after.Data) > accounts.MaxAccountDataSize:
			return fmt.Errorf("%w: %s", ErrAccountDataTooLarge, key)
		}
	}
	if preTotal != postTotal {
		return fmt.Errorf("%w: %d before, %d after", ErrUnbalancedInstruction, preTotal, postTotal)
	}
	return nil
}

func (b *Bank) ledgerRecord(tx *Transaction, keys []types.Pubkey, result *Result, pre, post []uint64) *blockstore.Transaction {
	ixs := make([]blockstore.Instruction, len(tx.Message.Instructions))
	for i, ix := range tx.Message.Instructions {
		accs := make([]types.Pubkey, len(ix.Accounts))
		for j, meta := range ix.Accounts {
			accs[j] = meta.Pubkey
		}
		ixs[i] = blockstore.Instruction{ProgramID: ix.ProgramID, Accounts: accs, Data: ix.Data}
	}

	meta := &blockstore.TransactionMeta{
		Fee:                  result.Fee,
		ComputeUnitsConsumed: result.ComputeUnitsConsumed,
		LogMessages:          result.Logs,
		PreBalances:          pre,
		PostBalances:         post,
	}
	if result.Err != nil {
		meta.Err = transactionError(result.Err)
	}

	return &blockstore.Transaction{
		Signature:  result.Signature,
		Signatures: tx.Signatures,
		Message: blockstore.TransactionMessage{
			FeePayer:     tx.Message.FeePayer,
			RecentSlot:   tx.Message.RecentSlot,
			AccountKeys:  keys,
			Instructions: ixs,
		},
		Meta:      meta,
		Slot:      result.Slot,
		BlockTime: b.clockLocked().UnixTimestamp,
	}
}

func transactionError(err error) *blockstore.TransactionError {
	te := &blockstore.TransactionError{InstructionIndex: -1, Message: err.Error()}
	var ie *svm.InstructionError
	if errors.As(err, &ie) {
		te.InstructionIndex = ie.Index
		te.Message = ie.Err.Error()
	}
	if code, ok := svm.ProgramErrorCode(err); ok {
		te.Code = &code
	}
	return te
}

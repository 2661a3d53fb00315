// Package blockstore records the transactions a bank has executed.
//
// Every executed transaction, successful or not, is stored with its
// execution metadata (fee, compute units, logs, balances, error) and indexed
// by signature, by slot and by every account it referenced. Slot metadata
// carries the bank hash chain.
//
// BoltStore persists the ledger in BoltDB; MemoryStore keeps it in memory.
package blockstore

import (
	"fmt"

	"github.com/fortiblox/pythsim/internal/types"
)

// Transaction is an executed transaction.
type Transaction struct {
	// Signature is the first signature, used as the transaction ID.
	Signature types.Signature

	// Signatures contains all signatures on this transaction.
	Signatures []types.Signature

	// Message is the executed message.
	Message TransactionMessage

	// Meta contains execution metadata.
	Meta *TransactionMeta

	// Slot is the slot this transaction was executed in.
	Slot uint64

	// BlockTime is the Unix timestamp of the slot.
	BlockTime int64
}

// TransactionMessage is the content that was signed.
type TransactionMessage struct {
	// FeePayer pays the transaction fee.
	FeePayer types.Pubkey

	// RecentSlot is the slot the client built the message against.
	RecentSlot uint64

	// AccountKeys lists every account the message references, fee payer
	// first.
	AccountKeys []types.Pubkey

	// Instructions are the executed instructions.
	Instructions []Instruction
}

// Instruction is a recorded instruction.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []types.Pubkey
	Data      []byte
}

// TransactionMeta stores execution results.
type TransactionMeta struct {
	// Err is non-nil if the transaction failed.
	Err *TransactionError

	// Fee is the fee charged in lamports.
	Fee uint64

	// ComputeUnitsConsumed is the compute used by all instructions.
	ComputeUnitsConsumed uint64

	// LogMessages are the program log lines.
	LogMessages []string

	// PreBalances are the lamport balances of AccountKeys before execution.
	PreBalances []uint64

	// PostBalances are the lamport balances of AccountKeys after execution.
	PostBalances []uint64
}

// TransactionError describes why a transaction failed.
type TransactionError struct {
	// InstructionIndex is the failing instruction, or -1 when the failure
	// happened outside instruction execution.
	InstructionIndex int

	// Message is the error text.
	Message string

	// Code is the program's custom error code, if it returned one.
	Code *uint32
}

func (e *TransactionError) Error() string {
	if e.InstructionIndex < 0 {
		return e.Message
	}
	if e.Code != nil {
		return fmt.Sprintf("instruction %d: custom program error: 0x%x", e.InstructionIndex, *e.Code)
	}
	return fmt.Sprintf("instruction %d: %s", e.InstructionIndex, e.Message)
}

// SlotMeta contains metadata about a completed slot.
type SlotMeta struct {
	// Slot is the slot number.
	Slot uint64

	// ParentSlot is the previous completed slot.
	ParentSlot uint64

	// BlockTime is the Unix timestamp of the slot.
	BlockTime int64

	// BankHash commits to the parent bank hash and this slot's state delta.
	BankHash types.Hash

	// ParentBankHash is the bank hash of ParentSlot.
	ParentBankHash types.Hash

	// TransactionCount is the number of transactions executed in the slot.
	TransactionCount uint64

	// SignatureCount is the number of signatures verified in the slot.
	SignatureCount uint64
}

// SignatureInfo is stored in the address-to-signature index.
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64
	Err       *TransactionError
	BlockTime int64
}

// Stats contains blockstore statistics.
type Stats struct {
	LatestSlot       uint64
	OldestSlot       uint64
	TransactionCount uint64
	SlotCount        uint64
}

// DefaultPruneSlots is the number of slots retained when pruning is enabled.
const DefaultPruneSlots uint64 = 432_000

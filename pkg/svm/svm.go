// Package svm defines the interface between the bank and native programs.
//
// A program is invoked once per instruction with an InvokeContext that exposes
// the instruction's accounts by position, the current clock and a log sink.
// Programs mutate the AccountInfo values they are handed in place; the bank
// decides afterwards whether those mutations are committed.
package svm

import (
	"errors"
	"fmt"

	"github.com/fortiblox/pythsim/internal/types"
)

var (
	// ErrAccountNotFound is returned when an instruction references an
	// account index that was not supplied.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrUnknownProgram is returned when no program is registered for an id.
	ErrUnknownProgram = errors.New("unknown program")
)

// AccountMeta describes an account in an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta returns a writable account reference.
func NewAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: true}
}

// NewReadonlyAccountMeta returns a read-only account reference.
func NewReadonlyAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: false}
}

// Instruction is a single program invocation: the program to run, the
// ordered accounts it operates on and its opaque data.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// AccountInfo holds account state during execution.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// Clone returns a deep copy of the account.
func (a *AccountInfo) Clone() *AccountInfo {
	c := *a
	c.Data = make([]byte, len(a.Data))
	copy(c.Data, a.Data)
	return &c
}

// Clock is the subset of the clock sysvar exposed to programs.
type Clock struct {
	Slot          uint64
	Epoch         uint64
	UnixTimestamp int64
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID returns the id of the program being invoked.
	ProgramID() types.Pubkey

	// NumAccounts returns the number of accounts passed to the instruction.
	NumAccounts() int

	// GetAccount returns the account at the given index.
	GetAccount(index int) (*AccountInfo, error)

	// Clock returns the current clock sysvar.
	Clock() Clock

	// GetRentMinimum returns the rent-exempt minimum for given data size.
	GetRentMinimum(dataLen uint64) uint64

	// Log records a log message.
	Log(msg string)
}

// Program is a native program.
type Program interface {
	// Process executes one instruction's data against ctx.
	Process(ctx InvokeContext, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx InvokeContext, data []byte) error

// Process calls f(ctx, data).
func (f ProgramFunc) Process(ctx InvokeContext, data []byte) error {
	return f(ctx, data)
}

// CustomError is implemented by program errors that carry a stable numeric
// code for the host's generic error channel.
type CustomError interface {
	error
	Code() uint32
}

// ProgramErrorCode extracts the custom code from err, if any error in its
// chain carries one.
func ProgramErrorCode(err error) (uint32, bool) {
	var ce CustomError
	if errors.As(err, &ce) {
		return ce.Code(), true
	}
	return 0, false
}

// InstructionError reports which instruction of a transaction failed.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	if code, ok := ProgramErrorCode(e.Err); ok {
		return fmt.Sprintf("instruction %d failed: custom program error: 0x%x (%v)", e.Index, code, e.Err)
	}
	return fmt.Sprintf("instruction %d failed: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

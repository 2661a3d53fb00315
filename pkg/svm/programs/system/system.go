// Package system implements the subset of the System Program the sandbox
// needs.
//
// The System Program is responsible for:
// - Creating new accounts
// - Transferring lamports
// - Assigning account ownership
// - Allocating account space
package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
	bin "github.com/gagliardetto/binary"
)

// ProgramID is the System Program address (all zeros).
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
	InstructionAllocate uint32 = 8
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// Maximum account data size.
const MaxAccountDataSize = 10 * 1024 * 1024 // 10 MB

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	dec := bin.NewBinDecoder(data)
	instruction, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return ErrInvalidInstructionData
	}

	switch instruction {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, dec)
	case InstructionAssign:
		return p.processAssign(ctx, dec)
	case InstructionTransfer:
		return p.processTransfer(ctx, dec)
	case InstructionAllocate:
		return p.processAllocate(ctx, dec)
	default:
		return fmt.Errorf("%w: discriminant %d", ErrInvalidInstructionData, instruction)
	}
}

// CreateAccountParams for CreateAccount instruction.
type CreateAccountParams struct {
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

func (c *CreateAccountParams) decode(dec *bin.Decoder) error {
	var err error
	if c.Lamports, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if c.Space, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	owner, err := dec.ReadNBytes(32)
	if err != nil {
		return err
	}
	copy(c.Owner[:], owner)
	return nil
}

// processCreateAccount creates a new account.
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, dec *bin.Decoder) error {
	// Parse parameters: lamports (8) + space (8) + owner (32)
	var params CreateAccountParams
	if err := params.decode(dec); err != nil {
		return ErrInvalidInstructionData
	}

	if params.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	// Get accounts: [0] = funding account, [1] = new account
	funder, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}

	if funder.Lamports < params.Lamports {
		return ErrInsufficientFunds
	}

	// New account must be empty: system owned, no data, no lamports.
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return ErrAccountAlreadyInUse
	}

	if params.Lamports < ctx.GetRentMinimum(params.Space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= params.Lamports
	newAccount.Lamports = params.Lamports
	newAccount.Data = make([]byte, params.Space)
	newAccount.Owner = params.Owner

	ctx.Log(fmt.Sprintf("CreateAccount: %s owner=%s space=%d", newAccount.Key, params.Owner, params.Space))
	return nil
}

// processAssign changes the owner of an account.
func (p *Processor) processAssign(ctx svm.InvokeContext, dec *bin.Decoder) error {
	owner, err := dec.ReadNBytes(32)
	if err != nil {
		return ErrInvalidInstructionData
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	copy(account.Owner[:], owner)

	ctx.Log("Assign: success")
	return nil
}

// processTransfer transfers lamports between accounts.
func (p *Processor) processTransfer(ctx svm.InvokeContext, dec *bin.Decoder) error {
	lamports, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return ErrInvalidInstructionData
	}

	// Get accounts: [0] = from, [1] = to
	from, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	if from.Owner != ProgramID || len(from.Data) > 0 {
		return fmt.Errorf("%w: transfer source must be a plain system account", ErrInvalidAccountOwner)
	}
	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log(fmt.Sprintf("Transfer: %d lamports", lamports))
	return nil
}

// processAllocate allocates space in an account.
func (p *Processor) processAllocate(ctx svm.InvokeContext, dec *bin.Decoder) error {
	space, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return ErrInvalidInstructionData
	}
	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	// Cannot shrink account
	if uint64(len(account.Data)) > space {
		return ErrAccountDataTooSmall
	}
	if uint64(len(account.Data)) < space {
		newData := make([]byte, space)
		copy(newData, account.Data)
		account.Data = newData
	}

	ctx.Log("Allocate: success")
	return nil
}

// Package pyth implements a minimal Pyth-style price oracle program.
//
// Price accounts use the Pyth V2 layout: a 240-byte Price record followed by
// a publisher component array. The program supports creating a price account
// and publishing an aggregate price into it; the product and mapping
// instructions are accepted and do nothing.
package pyth

import (
	"fmt"

	"github.com/fortiblox/pythsim/pkg/svm"
)

// Processor executes oracle program instructions. It holds no state.
type Processor struct{}

// NewProcessor creates a new oracle program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// instructionAccounts are the two positional accounts every instruction
// takes.
type instructionAccounts struct {
	payer  *svm.AccountInfo
	target *svm.AccountInfo
}

// Process decodes and executes one instruction. Opcode, payload and account
// list are all validated before any account data is written.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) == 0 {
		return ErrCouldNotDecodeInstruction
	}

	id, err := ParseInstructionID(data[0])
	if err != nil {
		return err
	}
	ctx.Log(fmt.Sprintf("Instruction: %s", id))

	switch id {
	case InstructionCreatePriceAccount:
		ix, err := DecodeInstruction[CreatePriceAccountInstruction](data)
		if err != nil {
			return err
		}
		accs, err := loadAccounts(ctx)
		if err != nil {
			return err
		}
		return p.processCreatePriceAccount(ctx, accs, ix)

	case InstructionPublishPrice:
		ix, err := DecodeInstruction[PublishPriceInstruction](data)
		if err != nil {
			return err
		}
		accs, err := loadAccounts(ctx)
		if err != nil {
			return err
		}
		return p.processPublishPrice(ctx, accs, ix)

	case InstructionCreateProductAccount:
		ix, err := DecodeInstruction[CreateProductAccountInstruction](data)
		if err != nil {
			return err
		}
		accs, err := loadAccounts(ctx)
		if err != nil {
			return err
		}
		return p.processCreateProductAccount(ctx, accs, ix)

	case InstructionCreateMappingAccount:
		ix, err := DecodeInstruction[CreateMappingAccountInstruction](data)
		if err != nil {
			return err
		}
		accs, err := loadAccounts(ctx)
		if err != nil {
			return err
		}
		return p.processCreateMappingAccount(ctx, accs, ix)
	}

	return ErrInvalidInstructionID
}

// loadAccounts resolves [0] payer and [1] target and checks their
// capabilities.
func loadAccounts(ctx svm.InvokeContext) (instructionAccounts, error) {
	if ctx.NumAccounts() < 2 {
		return instructionAccounts{}, fmt.Errorf("%w: need 2 accounts, have %d", ErrInvalidAccount, ctx.NumAccounts())
	}

	payer, err := ctx.GetAccount(0)
	if err != nil {
		return instructionAccounts{}, fmt.Errorf("%w: payer: %w", ErrInvalidAccount, err)
	}
	target, err := ctx.GetAccount(1)
	if err != nil {
		return instructionAccounts{}, fmt.Errorf("%w: target: %w", ErrInvalidAccount, err)
	}

	if !payer.IsSigner {
		return instructionAccounts{}, fmt.Errorf("%w: payer %s must sign", ErrInvalidAccount, payer.Key)
	}
	if !target.IsWritable {
		return instructionAccounts{}, fmt.Errorf("%w: target %s must be writable", ErrInvalidAccount, target.Key)
	}

	return instructionAccounts{payer: payer, target: target}, nil
}

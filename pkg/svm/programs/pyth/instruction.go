package pyth

import (
	"fmt"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
)

// InstructionID is the one-byte opcode that prefixes instruction data.
type InstructionID uint8

const (
	InstructionCreatePriceAccount InstructionID = iota
	InstructionCreateProductAccount
	InstructionCreateMappingAccount
	InstructionPublishPrice
)

func (id InstructionID) String() string {
	switch id {
	case InstructionCreatePriceAccount:
		return "CreatePriceAccount"
	case InstructionCreateProductAccount:
		return "CreateProductAccount"
	case InstructionCreateMappingAccount:
		return "CreateMappingAccount"
	case InstructionPublishPrice:
		return "PublishPrice"
	default:
		return fmt.Sprintf("InstructionID(%d)", uint8(id))
	}
}

// ParseInstructionID validates an opcode byte.
func ParseInstructionID(b byte) (InstructionID, error) {
	id := InstructionID(b)
	if id > InstructionPublishPrice {
		return 0, fmt.Errorf("%w: opcode %d", ErrInvalidInstructionID, b)
	}
	return id, nil
}

// Payload is an instruction payload: a fixed-length record bound to one
// opcode.
type Payload interface {
	Packer
	Opcode() InstructionID
}

// InstructionRecord is the constraint for decodable instruction payloads.
type InstructionRecord[T any] interface {
	Record[T]
	Opcode() InstructionID
}

// CreatePriceAccountInstruction initializes a price account. It has no
// payload.
type CreatePriceAccountInstruction struct{}

func (CreatePriceAccountInstruction) Opcode() InstructionID    { return InstructionCreatePriceAccount }
func (CreatePriceAccountInstruction) Len() int                 { return 0 }
func (CreatePriceAccountInstruction) PackInto([]byte) error    { return nil }
func (*CreatePriceAccountInstruction) UnpackFrom([]byte) error { return nil }

// CreateProductAccountInstruction is accepted and performs no state change.
type CreateProductAccountInstruction struct{}

func (CreateProductAccountInstruction) Opcode() InstructionID    { return InstructionCreateProductAccount }
func (CreateProductAccountInstruction) Len() int                 { return 0 }
func (CreateProductAccountInstruction) PackInto([]byte) error    { return nil }
func (*CreateProductAccountInstruction) UnpackFrom([]byte) error { return nil }

// CreateMappingAccountInstruction is accepted and performs no state change.
type CreateMappingAccountInstruction struct{}

func (CreateMappingAccountInstruction) Opcode() InstructionID    { return InstructionCreateMappingAccount }
func (CreateMappingAccountInstruction) Len() int                 { return 0 }
func (CreateMappingAccountInstruction) PackInto([]byte) error    { return nil }
func (*CreateMappingAccountInstruction) UnpackFrom([]byte) error { return nil }

// PublishPriceInstructionLen is the payload length of PublishPrice.
const PublishPriceInstructionLen = 12

// PublishPriceInstruction sets the aggregate price of a price account.
type PublishPriceInstruction struct {
	Price    int64
	Exponent int32
}

func (PublishPriceInstruction) Opcode() InstructionID { return InstructionPublishPrice }

func (PublishPriceInstruction) Len() int { return PublishPriceInstructionLen }

func (p PublishPriceInstruction) PackInto(dst []byte) error {
	if len(dst) < PublishPriceInstructionLen {
		return ErrShortBuffer
	}
	w := newFieldWriter(dst)
	w.i64(p.Price)
	w.i32(p.Exponent)
	return w.err
}

func (p *PublishPriceInstruction) UnpackFrom(src []byte) error {
	if len(src) < PublishPriceInstructionLen {
		return ErrShortBuffer
	}
	r := newFieldReader(src)
	v := PublishPriceInstruction{
		Price:    r.i64(),
		Exponent: r.i32(),
	}
	if r.err != nil {
		return r.err
	}
	*p = v
	return nil
}

// EncodeInstruction returns the opcode byte followed by the packed payload.
func EncodeInstruction(p Payload) ([]byte, error) {
	buf := make([]byte, p.Len()+1)
	buf[0] = byte(p.Opcode())
	if err := p.PackInto(buf[1:]); err != nil {
		return nil, fmt.Errorf("pack %s payload: %w", p.Opcode(), err)
	}
	return buf, nil
}

// DecodeInstruction checks the opcode byte against T and unpacks the payload
// that follows it.
func DecodeInstruction[T any, P InstructionRecord[T]](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, ErrCouldNotDecodeInstruction
	}
	want := P(&v).Opcode()
	if InstructionID(data[0]) != want {
		return v, fmt.Errorf("%w: opcode %d, want %s", ErrInvalidInstructionID, data[0], want)
	}
	v, err := Unpack[T, P](data[1:])
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrCouldNotDecodeInstruction, err)
	}
	return v, nil
}

func buildInstruction(programID, payer, account types.Pubkey, p Payload) (svm.Instruction, error) {
	data, err := EncodeInstruction(p)
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.NewReadonlyAccountMeta(payer, true),
			svm.NewAccountMeta(account, false),
		},
		Data: data,
	}, nil
}

// CreatePriceAccount builds an instruction that initializes account as a
// price account. payer signs.
func CreatePriceAccount(programID, payer, account types.Pubkey) (svm.Instruction, error) {
	return buildInstruction(programID, payer, account, CreatePriceAccountInstruction{})
}

// PublishPrice builds an instruction that sets the aggregate price of
// account.
func PublishPrice(programID, payer, account types.Pubkey, price int64, exponent int32) (svm.Instruction, error) {
	return buildInstruction(programID, payer, account, PublishPriceInstruction{Price: price, Exponent: exponent})
}

// CreateProductAccount builds a CreateProductAccount instruction.
func CreateProductAccount(programID, payer, account types.Pubkey) (svm.Instruction, error) {
	return buildInstruction(programID, payer, account, CreateProductAccountInstruction{})
}

// CreateMappingAccount builds a CreateMappingAccount instruction.
func CreateMappingAccount(programID, payer, account types.Pubkey) (svm.Instruction, error) {
	return buildInstruction(programID, payer, account, CreateMappingAccountInstruction{})
}

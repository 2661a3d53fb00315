package system

import (
	"bytes"
	"encoding/binary"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
	bin "github.com/gagliardetto/binary"
)

// encode writes the discriminant followed by each field. Fields are
// uint64 or types.Pubkey.
func encode(discriminant uint32, fields ...interface{}) []byte {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	// bytes.Buffer writes never fail.
	_ = enc.WriteUint32(discriminant, binary.LittleEndian)
	for _, f := range fields {
		switch v := f.(type) {
		case uint64:
			_ = enc.WriteUint64(v, binary.LittleEndian)
		case types.Pubkey:
			_ = enc.WriteBytes(v[:], false)
		}
	}
	return buf.Bytes()
}

// CreateAccount builds an instruction that funds newAccount with lamports,
// allocates space bytes and assigns it to owner. Both accounts sign.
func CreateAccount(from, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(from, true),
			svm.NewAccountMeta(newAccount, true),
		},
		Data: encode(InstructionCreateAccount, lamports, space, owner),
	}
}

// Transfer builds a lamport transfer instruction.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(from, true),
			svm.NewAccountMeta(to, false),
		},
		Data: encode(InstructionTransfer, lamports),
	}
}

// Assign builds an instruction that assigns account to owner.
func Assign(account, owner types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true)},
		Data:      encode(InstructionAssign, owner),
	}
}

// Allocate builds an instruction that grows account to space bytes.
func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true)},
		Data:      encode(InstructionAllocate, space),
	}
}

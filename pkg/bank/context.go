package bank

import (
	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
)

// instructionContext implements svm.InvokeContext for one instruction.
type instructionContext struct {
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	clock     svm.Clock
	rent      func(dataLen uint64) uint64
	logs      *[]string
}

func (c *instructionContext) ProgramID() types.Pubkey {
	return c.programID
}

func (c *instructionContext) NumAccounts() int {
	return len(c.accounts)
}

// GetAccount returns the account at the given index.
func (c *instructionContext) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, svm.ErrAccountNotFound
	}
	return c.accounts[index], nil
}

func (c *instructionContext) Clock() svm.Clock {
	return c.clock
}

func (c *instructionContext) GetRentMinimum(dataLen uint64) uint64 {
	return c.rent(dataLen)
}

// Log records a log message.
func (c *instructionContext) Log(msg string) {
	*c.logs = append(*c.logs, "Program log: "+msg)
}

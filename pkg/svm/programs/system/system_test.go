package system

import (
	"testing"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContext struct {
	accounts []*svm.AccountInfo
	rentPer  uint64
}

func (c *testContext) ProgramID() types.Pubkey { return ProgramID }
func (c *testContext) NumAccounts() int        { return len(c.accounts) }
func (c *testContext) Clock() svm.Clock        { return svm.Clock{} }
func (c *testContext) Log(string)              {}

func (c *testContext) GetAccount(i int) (*svm.AccountInfo, error) {
	if i < 0 || i >= len(c.accounts) {
		return nil, svm.ErrAccountNotFound
	}
	return c.accounts[i], nil
}

func (c *testContext) GetRentMinimum(dataLen uint64) uint64 { return dataLen * c.rentPer }

// contextFor resolves an instruction's metas against a fixed account set.
func contextFor(ix svm.Instruction, state map[types.Pubkey]*svm.AccountInfo) *testContext {
	ctx := &testContext{rentPer: 1}
	for _, m := range ix.Accounts {
		acc := state[m.Pubkey]
		acc.Key = m.Pubkey
		acc.IsSigner = m.IsSigner
		acc.IsWritable = m.IsWritable
		ctx.accounts = append(ctx.accounts, acc)
	}
	return ctx
}

func TestCreateAccount(t *testing.T) {
	payer, fresh, owner := types.Pubkey{1}, types.Pubkey{2}, types.Pubkey{3}
	state := map[types.Pubkey]*svm.AccountInfo{
		payer: {Lamports: 10_000},
		fresh: {},
	}

	ix := CreateAccount(payer, fresh, 5_000, 100, owner)
	require.NoError(t, NewProcessor().Process(contextFor(ix, state), ix.Data))

	assert.Equal(t, uint64(5_000), state[payer].Lamports)
	assert.Equal(t, uint64(5_000), state[fresh].Lamports)
	assert.Len(t, state[fresh].Data, 100)
	assert.Equal(t, owner, state[fresh].Owner)

	// Second creation of the same account fails.
	err := NewProcessor().Process(contextFor(ix, state), ix.Data)
	assert.ErrorIs(t, err, ErrAccountAlreadyInUse)
}

func TestCreateAccountChecks(t *testing.T) {
	payer, fresh := types.Pubkey{1}, types.Pubkey{2}

	tests := []struct {
		name     string
		lamports uint64
		funds    uint64
		space    uint64
		want     error
	}{
		{"insufficient funds", 5_000, 100, 10, ErrInsufficientFunds},
		{"not rent exempt", 5, 10_000, 100, ErrAccountNotRentExempt},
		{"too large", 5, 10_000, MaxAccountDataSize + 1, ErrAccountDataTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := map[types.Pubkey]*svm.AccountInfo{
				payer: {Lamports: tt.funds},
				fresh: {},
			}
			ix := CreateAccount(payer, fresh, tt.lamports, tt.space, types.Pubkey{3})
			err := NewProcessor().Process(contextFor(ix, state), ix.Data)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.funds, state[payer].Lamports)
		})
	}
}

func TestTransfer(t *testing.T) {
	from, to := types.Pubkey{1}, types.Pubkey{2}
	state := map[types.Pubkey]*svm.AccountInfo{
		from: {Lamports: 100},
		to:   {Lamports: 1},
	}

	ix := Transfer(from, to, 60)
	require.NoError(t, NewProcessor().Process(contextFor(ix, state), ix.Data))
	assert.Equal(t, uint64(40), state[from].Lamports)
	assert.Equal(t, uint64(61), state[to].Lamports)

	err := NewProcessor().Process(contextFor(ix, state), ix.Data)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestTransferRequiresSigner(t *testing.T) {
	from, to := types.Pubkey{1}, types.Pubkey{2}
	state := map[types.Pubkey]*svm.AccountInfo{
		from: {Lamports: 100},
		to:   {},
	}
	ix := Transfer(from, to, 1)
	ix.Accounts[0].IsSigner = false
	err := NewProcessor().Process(contextFor(ix, state), ix.Data)
	assert.ErrorIs(t, err, ErrMissingRequiredSignature)
}

func TestAssignAndAllocate(t *testing.T) {
	acct, owner := types.Pubkey{1}, types.Pubkey{7}
	state := map[types.Pubkey]*svm.AccountInfo{acct: {Lamports: 1}}

	alloc := Allocate(acct, 64)
	require.NoError(t, NewProcessor().Process(contextFor(alloc, state), alloc.Data))
	assert.Len(t, state[acct].Data, 64)

	assign := Assign(acct, owner)
	require.NoError(t, NewProcessor().Process(contextFor(assign, state), assign.Data))
	assert.Equal(t, owner, state[acct].Owner)

	// No longer system owned.
	err := NewProcessor().Process(contextFor(assign, state), assign.Data)
	assert.ErrorIs(t, err, ErrInvalidAccountOwner)
}

func TestInvalidInstructionData(t *testing.T) {
	ctx := &testContext{}
	assert.ErrorIs(t, NewProcessor().Process(ctx, []byte{1}), ErrInvalidInstructionData)
	assert.ErrorIs(t, NewProcessor().Process(ctx, []byte{99, 0, 0, 0}), ErrInvalidInstructionData)
	assert.ErrorIs(t, NewProcessor().Process(ctx, []byte{2, 0, 0, 0, 1}), ErrInvalidInstructionData)
}

package bank

import (
	"testing"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKeys(t *testing.T) {
	payer, a, b, prog := types.Pubkey{1}, types.Pubkey{2}, types.Pubkey{3}, types.Pubkey{4}
	msg := Message{
		FeePayer: payer,
		Instructions: []svm.Instruction{
			{ProgramID: prog, Accounts: []svm.AccountMeta{
				svm.NewAccountMeta(a, true),
				svm.NewReadonlyAccountMeta(payer, true),
			}},
			{ProgramID: prog, Accounts: []svm.AccountMeta{
				svm.NewReadonlyAccountMeta(b, false),
				svm.NewAccountMeta(a, false),
			}},
		},
	}

	assert.Equal(t, []types.Pubkey{payer, a, prog, b}, msg.AccountKeys())
	assert.Equal(t, []types.Pubkey{payer, a}, msg.Signers())
	assert.True(t, msg.isWritable(payer))
	assert.True(t, msg.isWritable(a))
	assert.False(t, msg.isWritable(b))
	assert.False(t, msg.isWritable(prog))
}

func TestMessageSerializeCoversContent(t *testing.T) {
	msg := Message{
		FeePayer:   types.Pubkey{1},
		RecentSlot: 3,
		Instructions: []svm.Instruction{{
			ProgramID: types.Pubkey{2},
			Accounts:  []svm.AccountMeta{svm.NewAccountMeta(types.Pubkey{3}, false)},
			Data:      []byte{9, 9},
		}},
	}
	base := msg.Serialize()
	assert.Len(t, base, 32+8+4+32+4+33+4+2)

	changed := msg
	changed.Instructions = []svm.Instruction{{
		ProgramID: types.Pubkey{2},
		Accounts:  []svm.AccountMeta{svm.NewReadonlyAccountMeta(types.Pubkey{3}, false)},
		Data:      []byte{9, 9},
	}}
	assert.NotEqual(t, base, changed.Serialize())

	changed = msg
	changed.RecentSlot = 4
	assert.NotEqual(t, base, changed.Serialize())
}

func TestTransactionSignVerify(t *testing.T) {
	payer, err := types.NewKeypair()
	require.NoError(t, err)
	other, err := types.NewKeypair()
	require.NoError(t, err)

	msg := Message{FeePayer: payer.Pubkey(), Instructions: []svm.Instruction{{
		ProgramID: types.Pubkey{2},
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(other.Pubkey(), true)},
	}}}

	tx, err := NewTransaction(msg, other, payer)
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 2)
	assert.Equal(t, tx.Signatures[0], tx.Signature())
	require.NoError(t, tx.Verify())

	tx.Signatures[0], tx.Signatures[1] = tx.Signatures[1], tx.Signatures[0]
	assert.ErrorIs(t, tx.Verify(), ErrSignatureVerification)

	assert.True(t, (&Transaction{}).Signature().IsZero())
}

package bank

import (
	"errors"
	"testing"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/accounts"
	"github.com/fortiblox/pythsim/pkg/blockstore"
	"github.com/fortiblox/pythsim/pkg/svm"
	"github.com/fortiblox/pythsim/pkg/svm/programs/pyth"
	"github.com/fortiblox/pythsim/pkg/svm/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sol = uint64(1_000_000_000)

type testBank struct {
	*Bank
	t      *testing.T
	ledger *blockstore.MemoryStore
	db     *accounts.MemoryDB
}

func newTestBank(t *testing.T) *testBank {
	t.Helper()
	db := accounts.NewMemoryDB()
	ledger := blockstore.NewMemoryStore()
	b, err := New(db, ledger, DefaultConfig())
	require.NoError(t, err)
	return &testBank{Bank: b, t: t, ledger: ledger, db: db}
}

func (tb *testBank) fundedKeypair(lamports uint64) *types.Keypair {
	tb.t.Helper()
	kp, err := types.NewKeypair()
	require.NoError(tb.t, err)
	require.NoError(tb.t, tb.Airdrop(kp.Pubkey(), lamports))
	return kp
}

func (tb *testBank) send(payer *types.Keypair, ixs []svm.Instruction, signers ...*types.Keypair) (*Result, error) {
	tb.t.Helper()
	msg := Message{FeePayer: payer.Pubkey(), RecentSlot: tb.Slot(), Instructions: ixs}
	tx, err := NewTransaction(msg, append([]*types.Keypair{payer}, signers...)...)
	require.NoError(tb.t, err)
	return tb.ProcessTransaction(tx)
}

func (tb *testBank) balance(key types.Pubkey) uint64 {
	tb.t.Helper()
	bal, err := tb.GetBalance(key)
	require.NoError(tb.t, err)
	return bal
}

func (tb *testBank) createPriceAccount(payer *types.Keypair) *types.Keypair {
	tb.t.Helper()
	account, err := types.NewKeypair()
	require.NoError(tb.t, err)

	create, err := pyth.CreatePriceAccount(types.PythProgramAddr, payer.Pubkey(), account.Pubkey())
	require.NoError(tb.t, err)
	_, err = tb.send(payer, []svm.Instruction{
		system.CreateAccount(payer.Pubkey(), account.Pubkey(),
			tb.MinimumBalanceForRentExemption(pyth.PriceAccountSize), pyth.PriceAccountSize, types.PythProgramAddr),
		create,
	}, account)
	require.NoError(tb.t, err)
	return account
}

func TestRentExemption(t *testing.T) {
	b := newTestBank(t)
	assert.Equal(t, uint64(890_880), b.MinimumBalanceForRentExemption(0))
	assert.Equal(t, uint64(3440*6960), b.MinimumBalanceForRentExemption(pyth.PriceAccountSize))
}

func TestProgramAccountsLoaded(t *testing.T) {
	b := newTestBank(t)
	acc, err := b.GetAccount(types.PythProgramAddr)
	require.NoError(t, err)
	assert.True(t, acc.Executable)
	assert.Equal(t, types.NativeLoaderAddr, acc.Owner)
}

func TestTransfer(t *testing.T) {
	b := newTestBank(t)
	alice := b.fundedKeypair(10 * sol)
	bob := types.Pubkey{42}

	res, err := b.send(alice, []svm.Instruction{system.Transfer(alice.Pubkey(), bob, 1000)})
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), res.Fee)
	assert.NotZero(t, res.ComputeUnitsConsumed)
	assert.Contains(t, res.Logs, "Program log: Transfer: 1000 lamports")

	assert.Equal(t, 10*sol-1000-5000, b.balance(alice.Pubkey()))
	assert.Equal(t, uint64(1000), b.balance(bob))

	recorded, err := b.ledger.GetTransaction(res.Signature)
	require.NoError(t, err)
	assert.Nil(t, recorded.Meta.Err)
	assert.Equal(t, alice.Pubkey(), recorded.Message.AccountKeys[0])
	assert.Equal(t, []uint64{10 * sol, 0, 1}, recorded.Meta.PreBalances)
	assert.Equal(t, []uint64{10*sol - 6000, 1000, 1}, recorded.Meta.PostBalances)

	sigs, err := b.ledger.GetSlotSignatures(0)
	require.NoError(t, err)
	assert.Equal(t, []types.Signature{res.Signature}, sigs)
}

func TestRejectedTransactions(t *testing.T) {
	b := newTestBank(t)
	alice := b.fundedKeypair(sol)
	bob := types.Pubkey{7}
	ix := system.Transfer(alice.Pubkey(), bob, 1)

	t.Run("bad signature", func(t *testing.T) {
		tx, err := NewTransaction(Message{FeePayer: alice.Pubkey(), Instructions: []svm.Instruction{ix}}, alice)
		require.NoError(t, err)
		tx.Signatures[0][0] ^= 0xff
		_, err = b.ProcessTransaction(tx)
		assert.ErrorIs(t, err, ErrSignatureVerification)
	})

	t.Run("missing signer", func(t *testing.T) {
		other, err := types.NewKeypair()
		require.NoError(t, err)
		msg := Message{FeePayer: alice.Pubkey(), Instructions: []svm.Instruction{
			system.Transfer(other.Pubkey(), bob, 1),
		}}
		_, err = NewTransaction(msg, alice)
		assert.ErrorIs(t, err, ErrMissingSigner)

		tx := &Transaction{Message: msg, Signatures: []types.Signature{alice.Sign(msg.Serialize())}}
		_, err = b.ProcessTransaction(tx)
		assert.ErrorIs(t, err, ErrSignatureCount)
	})

	t.Run("no funds for fee", func(t *testing.T) {
		poor, err := types.NewKeypair()
		require.NoError(t, err)
		_, err = b.send(poor, []svm.Instruction{system.Transfer(poor.Pubkey(), bob, 0)})
		assert.ErrorIs(t, err, ErrInsufficientFee)
	})

	t.Run("duplicate", func(t *testing.T) {
		tx, err := NewTransaction(Message{FeePayer: alice.Pubkey(), Instructions: []svm.Instruction{ix}}, alice)
		require.NoError(t, err)
		_, err = b.ProcessTransaction(tx)
		require.NoError(t, err)
		_, err = b.ProcessTransaction(tx)
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	})

	t.Run("writable sysvar", func(t *testing.T) {
		clock := svm.Instruction{
			ProgramID: system.ProgramID,
			Accounts:  []svm.AccountMeta{{Pubkey: types.SysvarClockAddr, IsWritable: true}},
		}
		_, err := b.send(alice, []svm.Instruction{clock})
		assert.ErrorIs(t, err, ErrWritableSysvar)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := b.WarpToSlot(b.Slot() + b.Config().MaxTransactionAge + 1)
		require.NoError(t, err)
		tx, err := NewTransaction(Message{FeePayer: alice.Pubkey(), RecentSlot: 0, Instructions: []svm.Instruction{ix}}, alice)
		require.NoError(t, err)
		_, err = b.ProcessTransaction(tx)
		assert.ErrorIs(t, err, ErrTransactionExpired)

		// A recorded transaction reports expiry once it ages out.
		recorded, err := NewTransaction(Message{FeePayer: alice.Pubkey(), RecentSlot: b.Slot(), Instructions: []svm.Instruction{ix}}, alice)
		require.NoError(t, err)
		_, err = b.ProcessTransaction(recorded)
		require.NoError(t, err)
		_, err = b.ProcessTransaction(recorded)
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
		_, err = b.WarpToSlot(b.Slot() + b.Config().MaxTransactionAge + 1)
		require.NoError(t, err)
		_, err = b.ProcessTransaction(recorded)
		assert.ErrorIs(t, err, ErrTransactionExpired)

		tx, err = NewTransaction(Message{FeePayer: alice.Pubkey(), RecentSlot: b.Slot() + 1, Instructions: []svm.Instruction{ix}}, alice)
		require.NoError(t, err)
		_, err = b.ProcessTransaction(tx)
		assert.ErrorIs(t, err, ErrTransactionExpired)
	})
}

func TestFailedTransactionChargesFeeOnly(t *testing.T) {
	b := newTestBank(t)
	alice := b.fundedKeypair(sol)
	bob := types.Pubkey{9}

	res, err := b.send(alice, []svm.Instruction{
		system.Transfer(alice.Pubkey(), bob, 100),
		system.Transfer(alice.Pubkey(), bob, 2*sol),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, system.ErrInsufficientFunds)

	var ie *svm.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Index)
	require.NotNil(t, res)
	assert.Equal(t, err, res.Err)

	// The first transfer is rolled back.
	assert.Equal(t, sol-5000, b.balance(alice.Pubkey()))
	assert.Equal(t, uint64(0), b.balance(bob))

	recorded, err := b.ledger.GetTransaction(res.Signature)
	require.NoError(t, err)
	require.NotNil(t, recorded.Meta.Err)
	assert.Equal(t, 1, recorded.Meta.Err.InstructionIndex)
	assert.Nil(t, recorded.Meta.Err.Code)
	assert.Equal(t, sol-5000, recorded.Meta.PostBalances[0])
}

func TestCreateAndPublishPrice(t *testing.T) {
	b := newTestBank(t)
	payer := b.fundedKeypair(sol)
	account := b.createPriceAccount(payer)

	acc, err := b.GetAccount(account.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, types.PythProgramAddr, acc.Owner)
	assert.Len(t, acc.Data, pyth.PriceAccountSize)

	_, err = b.WarpToSlot(7)
	require.NoError(t, err)

	publish, err := pyth.PublishPrice(types.PythProgramAddr, payer.Pubkey(), account.Pubkey(), 15, -2)
	require.NoError(t, err)
	_, err = b.send(payer, []svm.Instruction{publish})
	require.NoError(t, err)

	acc, err = b.GetAccount(account.Pubkey())
	require.NoError(t, err)
	price, err := pyth.Unpack[pyth.Price](acc.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(15), price.Aggregate.Price)
	assert.Equal(t, uint64(7), price.Aggregate.PublishSlot)
	assert.Equal(t, pyth.PriceStatusTrading, price.Aggregate.Status)
	assert.Equal(t, pyth.DefaultConfidence, price.Aggregate.Confidence)
}

func TestPublishToForeignAccountReportsCode(t *testing.T) {
	b := newTestBank(t)
	payer := b.fundedKeypair(sol)
	account, err := types.NewKeypair()
	require.NoError(t, err)

	// A system-owned buffer of the right size.
	_, err = b.send(payer, []svm.Instruction{
		system.CreateAccount(payer.Pubkey(), account.Pubkey(),
			b.MinimumBalanceForRentExemption(pyth.PriceAccountSize), pyth.PriceAccountSize, system.ProgramID),
	}, account)
	require.NoError(t, err)

	publish, err := pyth.PublishPrice(types.PythProgramAddr, payer.Pubkey(), account.Pubkey(), 15, 0)
	require.NoError(t, err)
	res, err := b.send(payer, []svm.Instruction{publish})
	require.Error(t, err)

	var loc pyth.LocationError
	require.ErrorAs(t, err, &loc)
	assert.Equal(t, pyth.FilePublishPrice, loc.FileID())

	code, ok := svm.ProgramErrorCode(err)
	require.True(t, ok)

	recorded, err := b.ledger.GetTransaction(res.Signature)
	require.NoError(t, err)
	require.NotNil(t, recorded.Meta.Err.Code)
	assert.Equal(t, code, *recorded.Meta.Err.Code)
}

func TestInvalidOracleDataLeavesAccountUntouched(t *testing.T) {
	b := newTestBank(t)
	payer := b.fundedKeypair(sol)
	account := b.createPriceAccount(payer)

	before, err := b.GetAccount(account.Pubkey())
	require.NoError(t, err)

	for _, data := range [][]byte{{}, {99}, {byte(pyth.InstructionPublishPrice), 1, 2}} {
		_, err := b.send(payer, []svm.Instruction{{
			ProgramID: types.PythProgramAddr,
			Accounts: []svm.AccountMeta{
				svm.NewReadonlyAccountMeta(payer.Pubkey(), true),
				svm.NewAccountMeta(account.Pubkey(), false),
			},
			Data: data,
		}})
		require.Error(t, err)
		_, ok := svm.ProgramErrorCode(err)
		assert.True(t, ok)

		after, err := b.GetAccount(account.Pubkey())
		require.NoError(t, err)
		assert.Equal(t, before, after)
	}
}

func TestRuntimeRules(t *testing.T) {
	rogueID := types.Pubkey{0xee}

	tests := []struct {
		name    string
		mutate  func(ctx svm.InvokeContext) error
		want    error
		victimW bool
	}{
		{
			name: "read-only account modified",
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Lamports++
				return nil
			},
			want: ErrReadonlyModified,
		},
		{
			name: "foreign data modified",
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Data = []byte{1}
				return nil
			},
			want:    ErrExternalDataModified,
			victimW: true,
		},
		{
			name: "foreign lamports spent",
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Lamports--
				return nil
			},
			want:    ErrExternalLamportSpend,
			victimW: true,
		},
		{
			name: "owner reassigned",
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Owner = types.Pubkey{0xee}
				return nil
			},
			want:    ErrModifiedOwner,
			victimW: true,
		},
		{
			name: "lamports minted",
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Lamports++
				return nil
			},
			want:    ErrUnbalancedInstruction,
			victimW: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBank(t)
			require.NoError(t, b.RegisterProgram(rogueID, "rogue", svm.ProgramFunc(func(ctx svm.InvokeContext, _ []byte) error {
				return tt.mutate(ctx)
			})))
			payer := b.fundedKeypair(sol)
			victim := types.Pubkey{0x11}
			require.NoError(t, b.Airdrop(victim, 1000))

			meta := svm.NewReadonlyAccountMeta(victim, false)
			if tt.victimW {
				meta = svm.NewAccountMeta(victim, false)
			}
			_, err := b.send(payer, []svm.Instruction{{ProgramID: rogueID, Accounts: []svm.AccountMeta{meta}}})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, uint64(1000), b.balance(victim))
		})
	}
}

func TestUnknownProgram(t *testing.T) {
	b := newTestBank(t)
	payer := b.fundedKeypair(sol)
	_, err := b.send(payer, []svm.Instruction{{ProgramID: types.Pubkey{0xab}}})
	assert.ErrorIs(t, err, svm.ErrUnknownProgram)
}

func TestSlotProgression(t *testing.T) {
	b := newTestBank(t)
	payer := b.fundedKeypair(sol)
	_, err := b.send(payer, []svm.Instruction{system.Transfer(payer.Pubkey(), types.Pubkey{3}, 10)})
	require.NoError(t, err)

	meta0, err := b.AdvanceSlot()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), meta0.Slot)
	assert.Equal(t, uint64(1), meta0.TransactionCount)
	assert.Equal(t, uint64(1), meta0.SignatureCount)
	assert.False(t, meta0.BankHash.IsZero())
	assert.Equal(t, uint64(1), b.Slot())
	assert.Equal(t, meta0.BankHash, b.BankHash())

	_, err = b.WarpToSlot(1)
	assert.ErrorIs(t, err, ErrInvalidWarp)

	meta1, err := b.WarpToSlot(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), meta1.Slot)
	assert.Equal(t, uint64(0), meta1.ParentSlot)
	assert.Equal(t, meta0.BankHash, meta1.ParentBankHash)
	assert.NotEqual(t, meta0.BankHash, meta1.BankHash)
	assert.Equal(t, uint64(100), b.Slot())
	assert.Equal(t, uint64(100), b.db.GetSlot())
	assert.Equal(t, uint64(100)/b.Config().SlotsPerEpoch, b.Clock().Epoch)
	assert.Equal(t, b.Config().GenesisUnixTimestamp+40, b.Clock().UnixTimestamp)

	stored, err := b.ledger.GetSlotMeta(1)
	require.NoError(t, err)
	assert.Equal(t, meta1, stored)

	// A new bank over the same state resumes the hash chain.
	resumed, err := New(b.db, b.ledger, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), resumed.Slot())
	assert.Equal(t, meta1.BankHash, resumed.BankHash())
}

func TestBankHashDeterministic(t *testing.T) {
	run := func() types.Hash {
		b := newTestBank(t)
		require.NoError(t, b.Airdrop(types.Pubkey{1}, 500))
		meta, err := b.AdvanceSlot()
		require.NoError(t, err)
		return meta.BankHash
	}
	assert.Equal(t, run(), run())
}

func TestAirdropOverflow(t *testing.T) {
	b := newTestBank(t)
	key := types.Pubkey{5}
	require.NoError(t, b.Airdrop(key, ^uint64(0)))
	err := b.Airdrop(key, 1)
	assert.True(t, errors.Is(err, ErrLamportOverflow))
}

package pyth

import (
	"encoding/binary"
	"testing"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInstructionOpcodes(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    []byte
	}{
		{"create price", CreatePriceAccountInstruction{}, []byte{0}},
		{"create product", CreateProductAccountInstruction{}, []byte{1}},
		{"create mapping", CreateMappingAccountInstruction{}, []byte{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeInstruction(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublishPriceEncoding(t *testing.T) {
	data, err := EncodeInstruction(PublishPriceInstruction{Price: -15, Exponent: -9})
	require.NoError(t, err)
	require.Len(t, data, PublishPriceInstructionLen+1)

	assert.Equal(t, byte(InstructionPublishPrice), data[0])
	assert.Equal(t, int64(-15), int64(binary.LittleEndian.Uint64(data[1:9])))
	assert.Equal(t, int32(-9), int32(binary.LittleEndian.Uint32(data[9:13])))

	ix, err := DecodeInstruction[PublishPriceInstruction](data)
	require.NoError(t, err)
	assert.Equal(t, PublishPriceInstruction{Price: -15, Exponent: -9}, ix)
}

func TestDecodeInstructionErrors(t *testing.T) {
	_, err := DecodeInstruction[PublishPriceInstruction](nil)
	assert.ErrorIs(t, err, ErrCouldNotDecodeInstruction)

	_, err = DecodeInstruction[PublishPriceInstruction]([]byte{0})
	assert.ErrorIs(t, err, ErrInvalidInstructionID)

	_, err = DecodeInstruction[PublishPriceInstruction]([]byte{3, 1, 2, 3})
	assert.ErrorIs(t, err, ErrCouldNotDecodeInstruction)
	assert.ErrorIs(t, err, ErrShortBuffer)

	ix, err := DecodeInstruction[CreatePriceAccountInstruction]([]byte{0})
	require.NoError(t, err)
	assert.Equal(t, CreatePriceAccountInstruction{}, ix)
}

func TestParseInstructionID(t *testing.T) {
	for b := byte(0); b <= 3; b++ {
		id, err := ParseInstructionID(b)
		require.NoError(t, err)
		assert.Equal(t, InstructionID(b), id)
	}

	_, err := ParseInstructionID(4)
	assert.ErrorIs(t, err, ErrInvalidInstructionID)
	_, err = ParseInstructionID(99)
	assert.ErrorIs(t, err, ErrInvalidInstructionID)
}

func TestInstructionBuilders(t *testing.T) {
	program := types.PythProgramAddr
	payer := types.Pubkey{1}
	account := types.Pubkey{2}

	ix, err := PublishPrice(program, payer, account, 15, -2)
	require.NoError(t, err)
	assert.Equal(t, program, ix.ProgramID)
	require.Len(t, ix.Accounts, 2)
	assert.Equal(t, payer, ix.Accounts[0].Pubkey)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.False(t, ix.Accounts[0].IsWritable)
	assert.Equal(t, account, ix.Accounts[1].Pubkey)
	assert.False(t, ix.Accounts[1].IsSigner)
	assert.True(t, ix.Accounts[1].IsWritable)

	decoded, err := DecodeInstruction[PublishPriceInstruction](ix.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(15), decoded.Price)
	assert.Equal(t, int32(-2), decoded.Exponent)

	create, err := CreatePriceAccount(program, payer, account)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, create.Data)

	product, err := CreateProductAccount(program, payer, account)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, product.Data)

	mapping, err := CreateMappingAccount(program, payer, account)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, mapping.Data)
}

package svm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codeErr uint32

func (c codeErr) Error() string { return fmt.Sprintf("code %d", uint32(c)) }
func (c codeErr) Code() uint32 { return uint32(c) }

func TestProgramErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", codeErr(3))
	code, ok := ProgramErrorCode(wrapped)
	require.True(t, ok)
	assert.Equal(t, uint32(3), code)

	_, ok = ProgramErrorCode(errors.New("plain"))
	assert.False(t, ok)

	ie := &InstructionError{Index: 1, Err: wrapped}
	assert.Contains(t, ie.Error(), "custom program error: 0x3")
	assert.ErrorIs(t, ie, wrapped)
}

func TestAccountInfoClone(t *testing.T) {
	a := &AccountInfo{Lamports: 5, Data: []byte{1, 2, 3}}
	c := a.Clone()
	c.Data[0] = 9
	c.Lamports = 6
	assert.Equal(t, byte(1), a.Data[0])
	assert.Equal(t, uint64(5), a.Lamports)
}

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1000)
	require.NoError(t, cm.Consume(400))
	assert.Equal(t, uint64(600), cm.Remaining())
	assert.Equal(t, uint64(400), cm.Consumed())

	assert.ErrorIs(t, cm.Consume(700), ErrComputeExceeded)
	assert.Equal(t, uint64(0), cm.Remaining())

	capped := NewComputeMeter(CUMax * 2)
	assert.Equal(t, CUMax, capped.Limit())

	disabled := NewComputeMeterDisabled()
	require.NoError(t, disabled.Consume(CUMax*10))
}

func TestProgramCost(t *testing.T) {
	assert.Equal(t, CUSystemProgramDefault, ProgramCost(true, 100))
	assert.Equal(t, CUOracleProgramDefault+13, ProgramCost(false, 13))
}

package pyth

import (
	"fmt"
	"runtime"
)

// Error is an oracle program error. Its numeric value is the custom code
// reported to the host.
type Error uint32

// Program errors.
const (
	ErrNotImplemented Error = iota
	ErrCouldNotDecodeInstruction
	ErrInvalidInstructionID
	ErrInvalidAccount
	ErrInvalidRequestStatus
	ErrInvalidSeeds
)

func (e Error) Error() string {
	switch e {
	case ErrNotImplemented:
		return "instruction not implemented"
	case ErrCouldNotDecodeInstruction:
		return "could not decode instruction"
	case ErrInvalidInstructionID:
		return "invalid instruction id"
	case ErrInvalidAccount:
		return "invalid account"
	case ErrInvalidRequestStatus:
		return "invalid request status"
	case ErrInvalidSeeds:
		return "invalid seeds"
	default:
		return fmt.Sprintf("oracle error %d", uint32(e))
	}
}

// Code returns the custom error code.
func (e Error) Code() uint32 {
	return uint32(e)
}

// Source file identifiers carried in the top byte of a LocationError.
const (
	FileProcessor          uint8 = 1
	FileCreatePriceAccount uint8 = 2
	FilePublishPrice       uint8 = 3
)

// LocationError is a failed precondition tagged with the source line in the
// low 24 bits and a file identifier in the high 8 bits.
type LocationError uint32

// ErrAt encodes a line and file identifier as line + fileID<<24.
func ErrAt(line uint32, fileID uint8) LocationError {
	return LocationError(line + uint32(fileID)<<24)
}

// Line returns the encoded source line.
func (e LocationError) Line() uint32 {
	return uint32(e) & 0x00ffffff
}

// FileID returns the encoded file identifier.
func (e LocationError) FileID() uint8 {
	return uint8(uint32(e) >> 24)
}

func (e LocationError) Error() string {
	return fmt.Sprintf("assertion failed at file %d line %d", e.FileID(), e.Line())
}

// Code returns the packed location as the custom error code.
func (e LocationError) Code() uint32 {
	return uint32(e)
}

// assertOrErr returns nil when cond holds and otherwise a LocationError
// pointing at the calling line.
func assertOrErr(cond bool, fileID uint8) error {
	if cond {
		return nil
	}
	_, _, line, _ := runtime.Caller(1)
	return ErrAt(uint32(line), fileID)
}

package bytecode

import (
	"errors"
	"fmt"
)

// Decode errors. Every decode failure is a *CorruptBinaryError wrapping
// one of these, and matches ErrCorruptBinary.
var (
	ErrCorruptBinary      = errors.New("corrupt binary")
	ErrInvalidMagic       = errors.New("invalid magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUnknownTag         = errors.New("unknown type tag")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrTruncated          = errors.New("unexpected end of data")
	ErrBadConstant        = errors.New("bad constant reference")
)

// Encode errors.
var (
	ErrConstantMissing = errors.New("constant not in pool")
	ErrTooLarge        = errors.New("value too large for binary format")
)

// CorruptBinaryError reports malformed input and the byte offset at
// which it was detected.
type CorruptBinaryError struct {
	Offset int
	Reason string
	Err    error
}

func (e *CorruptBinaryError) Error() string {
	return fmt.Sprintf("corrupt binary: %s at offset %d", e.Reason, e.Offset)
}

func (e *CorruptBinaryError) Unwrap() error { return e.Err }

// Is makes every CorruptBinaryError match ErrCorruptBinary.
func (e *CorruptBinaryError) Is(target error) bool {
	return target == ErrCorruptBinary
}

func corrupt(offset int, err error, format string, args ...any) error {
	return &CorruptBinaryError{Offset: offset, Reason: fmt.Sprintf(format, args...), Err: err}
}

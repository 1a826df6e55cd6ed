package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// Runtime error causes. Handlers return these wrapped with detail; the
// run loop wraps the result in a *RuntimeError.
var (
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrUndefinedFunction = errors.New("undefined function")
	ErrUndefinedMethod   = errors.New("undefined method")
	ErrArity             = errors.New("wrong number of arguments")
	ErrNotCallable       = errors.New("value is not callable")
	ErrNoParent          = errors.New("has no parent")
	ErrType              = errors.New("type error")
	ErrUnresolvedImport  = errors.New("unresolved import")
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrBadArgument       = errors.New("malformed instruction argument")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrHostPanic         = errors.New("host panic")
)

// RuntimeError is raised while executing a program. It records where
// execution failed; Err holds the cause.
type RuntimeError struct {
	Module  string
	Pos     *bytecode.Position
	Address int
	Program *bytecode.Program
	Err     error
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	if e.Module != "" {
		sb.WriteString(e.Module)
	} else {
		sb.WriteString("<main>")
	}
	if e.Pos != nil {
		fmt.Fprintf(&sb, ":%d:%d", e.Pos.LineStart, e.Pos.ColumnStart)
	}
	fmt.Fprintf(&sb, ": %v (at %04X)", e.Err, e.Address)
	return sb.String()
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Instruction returns the failing instruction.
func (e *RuntimeError) Instruction() (bytecode.Instruction, bool) {
	if e.Program == nil || e.Address < 0 || e.Address >= len(e.Program.Instructions) {
		return bytecode.Instruction{}, false
	}
	return e.Program.Instructions[e.Address], true
}

func newRuntimeError(p *bytecode.Program, addr int, err error) *RuntimeError {
	rerr := &RuntimeError{Address: addr, Program: p, Err: err}
	if p != nil {
		rerr.Module = p.ModuleName
		if addr >= 0 && addr < len(p.Instructions) {
			rerr.Pos = p.Instructions[addr].Pos
		}
	}
	return rerr
}

func typeError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrType, fmt.Sprintf(format, args...))
}

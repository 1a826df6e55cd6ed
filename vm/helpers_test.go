package vm

import (
	"testing"
	"time"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Assembly helpers
// ---------------------------------------------------------------------------

func ins(op bytecode.Opcode, arg ...bytecode.Arg) bytecode.Instruction {
	in := bytecode.Instruction{Op: op}
	if len(arg) > 0 {
		in.Arg = arg[0]
	}
	return in
}

func num(f float64) bytecode.Arg { return bytecode.Num(f) }
func str(s string) bytecode.Arg  { return bytecode.Str(s) }

func callArgs(name string, argc int) bytecode.Arg {
	return bytecode.Object(
		bytecode.F("name", bytecode.Str(name)),
		bytecode.F("args", bytecode.Num(float64(argc))),
	)
}

func callAt(name string, addr, argc int) bytecode.Arg {
	return bytecode.Object(
		bytecode.F("name", bytecode.Str(name)),
		bytecode.F("addr", bytecode.Num(float64(addr))),
		bytecode.F("args", bytecode.Num(float64(argc))),
	)
}

func superArgs(name string, argc int, callee string) bytecode.Arg {
	return bytecode.Object(
		bytecode.F("name", bytecode.Str(name)),
		bytecode.F("args", bytecode.Num(float64(argc))),
		bytecode.F("callee", bytecode.Str(callee)),
	)
}

func classArgs(name string, ctor, params int) bytecode.Arg {
	return bytecode.Array(bytecode.Str(name), bytecode.Num(float64(ctor)), bytecode.Num(float64(params)))
}

func program(code ...bytecode.Instruction) *bytecode.Program {
	return &bytecode.Program{Instructions: code}
}

// printer records the display form of everything passed to print.
type printer struct {
	lines []string
}

func (p *printer) fn(args []Value) (Value, error) {
	var line string
	for i, a := range args {
		if i > 0 {
			line += " "
		}
		line += a.String()
	}
	p.lines = append(p.lines, line)
	return Null, nil
}

func newTestVM(t *testing.T, p *bytecode.Program, opts ...Option) (*VM, *printer) {
	t.Helper()
	out := &printer{}
	opts = append([]Option{WithFunction("print", out.fn)}, opts...)
	m, err := New(p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, out
}

// runToEnd runs m until it halts, failing the test on a runtime error.
func runToEnd(t *testing.T, m *VM) {
	t.Helper()
	if err := runUntilHalted(m); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func runUntilHalted(m *VM) error {
	for i := 0; i < 10000 && !m.Halted(); i++ {
		if err := m.Run(16 * time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func assertLines(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("output = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

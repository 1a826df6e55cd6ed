package vm

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

func TestPrintSum(t *testing.T) {
	m, out := newTestVM(t, program(
		ins(bytecode.OpConst, num(2)),
		ins(bytecode.OpConst, num(3)),
		ins(bytecode.OpAdd),
		ins(bytecode.OpCall, callArgs("print", 1)),
	))
	runToEnd(t, m)
	assertLines(t, out.lines, "5")
	if !m.Halted() {
		t.Error("VM should halt after running past the last instruction")
	}
}

func TestBudgetResumesWhereItStopped(t *testing.T) {
	var code []bytecode.Instruction
	for i := 0; i < 5; i++ {
		code = append(code, ins(bytecode.OpCall, callArgs("tick", 0)), ins(bytecode.OpPop))
	}
	ticks := 0
	m, _ := newTestVM(t, program(code...),
		WithBudget(4),
		WithFunction("tick", func(args []Value) (Value, error) {
			ticks++
			return Null, nil
		}),
	)

	want := []int{2, 4, 5}
	for i, w := range want {
		if err := m.Run(0); err != nil {
			t.Fatalf("Run %d: %v", i+1, err)
		}
		if ticks != w {
			t.Fatalf("after Run %d: ticks = %d, want %d", i+1, ticks, w)
		}
	}
	if !m.Halted() {
		t.Error("VM should be halted after the third Run")
	}
	if m.IP() != len(code) {
		t.Errorf("IP = %d, want %d", m.IP(), len(code))
	}
}

func TestWaitSpansRuns(t *testing.T) {
	m, out := newTestVM(t, program(
		ins(bytecode.OpConst, num(100)),
		ins(bytecode.OpWait),
		ins(bytecode.OpConst, str("done")),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpHalt),
	))

	if err := m.Run(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(out.lines) != 0 {
		t.Fatalf("output after first Run = %q, want none", out.lines)
	}
	if !m.Waiting() {
		t.Fatal("VM should be waiting")
	}
	if m.IP() != 2 {
		t.Errorf("IP = %d, want 2", m.IP())
	}

	if err := m.Run(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	assertLines(t, out.lines, "done")
	if m.Waiting() {
		t.Error("wait should be over")
	}
}

func TestWaitWithinOneRun(t *testing.T) {
	tests := []struct {
		name    string
		ms      float64
		delta   time.Duration
		printed bool
	}{
		{"zero wait", 0, 0, true},
		{"covered by delta", 30, 100 * time.Millisecond, true},
		{"exactly the delta", 100, 100 * time.Millisecond, true},
		{"longer than delta", 101, 100 * time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, out := newTestVM(t, program(
				ins(bytecode.OpConst, num(tt.ms)),
				ins(bytecode.OpWait),
				ins(bytecode.OpConst, str("x")),
				ins(bytecode.OpCall, callArgs("print", 1)),
			))
			if err := m.Run(tt.delta); err != nil {
				t.Fatal(err)
			}
			if got := len(out.lines) == 1; got != tt.printed {
				t.Errorf("printed = %v, want %v", got, tt.printed)
			}
		})
	}
}

func TestLongWaitSaturates(t *testing.T) {
	for _, ms := range []float64{1e13, 1e300, math.Inf(1)} {
		t.Run(fmt.Sprint(ms), func(t *testing.T) {
			m, out := newTestVM(t, program(
				ins(bytecode.OpConst, num(ms)),
				ins(bytecode.OpWait),
				ins(bytecode.OpConst, str("after")),
				ins(bytecode.OpCall, callArgs("print", 1)),
			))
			if err := m.Run(time.Hour); err != nil {
				t.Fatal(err)
			}
			if !m.Waiting() {
				t.Error("VM should still be waiting")
			}
			if len(out.lines) != 0 {
				t.Errorf("output = %q, want none", out.lines)
			}
		})
	}
}

func TestNegativeWaitGrantsNoCredit(t *testing.T) {
	m, out := newTestVM(t, program(
		ins(bytecode.OpConst, num(-1000)),
		ins(bytecode.OpWait),
		ins(bytecode.OpConst, num(10)),
		ins(bytecode.OpWait),
		ins(bytecode.OpConst, str("a")),
		ins(bytecode.OpCall, callArgs("print", 1)),
	))
	if err := m.Run(0); err != nil {
		t.Fatal(err)
	}
	if !m.Waiting() || len(out.lines) != 0 {
		t.Fatalf("waiting = %v, output = %q: the second wait should suspend", m.Waiting(), out.lines)
	}
	if err := m.Run(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	assertLines(t, out.lines, "a")
}

func TestConsecutiveWaitsShareCredit(t *testing.T) {
	m, out := newTestVM(t, program(
		ins(bytecode.OpConst, num(40)),
		ins(bytecode.OpWait),
		ins(bytecode.OpConst, num(40)),
		ins(bytecode.OpWait),
		ins(bytecode.OpConst, str("a")),
		ins(bytecode.OpCall, callArgs("print", 1)),
	))
	if err := m.Run(60 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(out.lines) != 0 {
		t.Fatal("second wait should not be covered by the first Run")
	}
	if err := m.Run(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(out.lines) != 0 {
		t.Fatal("10ms of the second wait are still outstanding")
	}
	if err := m.Run(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	assertLines(t, out.lines, "a")
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func TestOperators(t *testing.T) {
	tests := []struct {
		name string
		code []bytecode.Instruction
		want string
	}{
		{"sub", []bytecode.Instruction{ins(bytecode.OpConst, num(7)), ins(bytecode.OpConst, num(2)), ins(bytecode.OpSub)}, "5"},
		{"mul", []bytecode.Instruction{ins(bytecode.OpConst, num(6)), ins(bytecode.OpConst, num(7)), ins(bytecode.OpMul)}, "42"},
		{"div", []bytecode.Instruction{ins(bytecode.OpConst, num(7)), ins(bytecode.OpConst, num(2)), ins(bytecode.OpDiv)}, "3.5"},
		{"mod", []bytecode.Instruction{ins(bytecode.OpConst, num(7)), ins(bytecode.OpConst, num(3)), ins(bytecode.OpMod)}, "1"},
		{"exp", []bytecode.Instruction{ins(bytecode.OpConst, num(2)), ins(bytecode.OpConst, num(10)), ins(bytecode.OpExp)}, "1024"},
		{"neg", []bytecode.Instruction{ins(bytecode.OpConst, num(4)), ins(bytecode.OpNeg)}, "-4"},
		{"concat", []bytecode.Instruction{ins(bytecode.OpConst, str("a")), ins(bytecode.OpConst, str("b")), ins(bytecode.OpAdd)}, "ab"},
		{"concat number", []bytecode.Instruction{ins(bytecode.OpConst, str("n=")), ins(bytecode.OpConst, num(1.5)), ins(bytecode.OpAdd)}, "n=1.5"},
		{"concat null", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Null()), ins(bytecode.OpConst, str("!")), ins(bytecode.OpAdd)}, "null!"},
		{"array add", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Array(num(1))),
			ins(bytecode.OpConst, bytecode.Array(num(2), str("x"))),
			ins(bytecode.OpAdd),
		}, `[1, 2, "x"]`},
		{"lt numbers", []bytecode.Instruction{ins(bytecode.OpConst, num(2)), ins(bytecode.OpConst, num(3)), ins(bytecode.OpLt)}, "true"},
		{"gte numbers", []bytecode.Instruction{ins(bytecode.OpConst, num(2)), ins(bytecode.OpConst, num(3)), ins(bytecode.OpGte)}, "false"},
		{"gt strings", []bytecode.Instruction{ins(bytecode.OpConst, str("b")), ins(bytecode.OpConst, str("a")), ins(bytecode.OpGt)}, "true"},
		{"eq scalars", []bytecode.Instruction{ins(bytecode.OpConst, str("a")), ins(bytecode.OpConst, str("a")), ins(bytecode.OpEq)}, "true"},
		{"eq arrays by identity", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Array()),
			ins(bytecode.OpConst, bytecode.Array()),
			ins(bytecode.OpEq),
		}, "false"},
		{"eq same array", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Array()), ins(bytecode.OpDup), ins(bytecode.OpEq)}, "true"},
		{"neq mixed kinds", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, str("1")), ins(bytecode.OpNeq)}, "true"},
		{"not zero", []bytecode.Instruction{ins(bytecode.OpConst, num(0)), ins(bytecode.OpNot)}, "true"},
		{"not string", []bytecode.Instruction{ins(bytecode.OpConst, str("x")), ins(bytecode.OpNot)}, "false"},
		{"in array", []bytecode.Instruction{
			ins(bytecode.OpConst, num(2)),
			ins(bytecode.OpConst, bytecode.Array(num(1), num(2), num(3))),
			ins(bytecode.OpIn),
		}, "true"},
		{"in string", []bytecode.Instruction{ins(bytecode.OpConst, str("ell")), ins(bytecode.OpConst, str("hello")), ins(bytecode.OpIn)}, "true"},
		{"in object", []bytecode.Instruction{
			ins(bytecode.OpConst, str("b")),
			ins(bytecode.OpConst, bytecode.Object(bytecode.F("a", num(1)))),
			ins(bytecode.OpIn),
		}, "false"},
		{"in range", []bytecode.Instruction{
			ins(bytecode.OpConst, num(3)),
			ins(bytecode.OpConst, num(5)),
			ins(bytecode.OpConst, num(1)),
			ins(bytecode.OpMakeRange),
			ins(bytecode.OpIn),
		}, "true"},
		{"fraction in range", []bytecode.Instruction{
			ins(bytecode.OpConst, num(1.5)),
			ins(bytecode.OpConst, num(1)),
			ins(bytecode.OpConst, num(3)),
			ins(bytecode.OpMakeRange),
			ins(bytecode.OpIn),
		}, "false"},
		{"swap", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, num(2)), ins(bytecode.OpSwap), ins(bytecode.OpSub)}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := append(tt.code, ins(bytecode.OpCall, callArgs("print", 1)))
			m, out := newTestVM(t, program(code...))
			runToEnd(t, m)
			assertLines(t, out.lines, tt.want)
		})
	}
}

func TestJumps(t *testing.T) {
	// i = 0; while i < 3 { print(i); i = i + 1 }
	m, out := newTestVM(t, program(
		ins(bytecode.OpConst, num(0)),
		ins(bytecode.OpStore, str("i")),
		ins(bytecode.OpLoad, str("i")), // 2
		ins(bytecode.OpConst, num(3)),
		ins(bytecode.OpLt),
		ins(bytecode.OpJmpIfFalse, num(15)),
		ins(bytecode.OpLoad, str("i")),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop),
		ins(bytecode.OpLoad, str("i")),
		ins(bytecode.OpConst, num(1)),
		ins(bytecode.OpAdd),
		ins(bytecode.OpStore, str("i")),
		ins(bytecode.OpJmp, num(2)),
		ins(bytecode.OpHalt),
		ins(bytecode.OpHalt), // 15
	))
	runToEnd(t, m)
	assertLines(t, out.lines, "0", "1", "2")
	if v, _ := m.Global("i"); v.AsNumber() != 3 {
		t.Errorf("i = %v, want 3", v)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func subProgram() *bytecode.Program {
	p := program(
		ins(bytecode.OpConst, num(2)),
		ins(bytecode.OpConst, num(3)),
		ins(bytecode.OpCall, callArgs("sub", 2)),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpHalt),
		ins(bytecode.OpStore, str("b")), // 5
		ins(bytecode.OpStore, str("a")),
		ins(bytecode.OpLoad, str("a")),
		ins(bytecode.OpLoad, str("b")),
		ins(bytecode.OpSub),
		ins(bytecode.OpRet),
	)
	p.References.Functions = []bytecode.Reference{{Name: "sub", Address: 5, NumArgs: 2}}
	return p
}

func TestCallFunctionReference(t *testing.T) {
	m, out := newTestVM(t, subProgram())
	runToEnd(t, m)
	assertLines(t, out.lines, "-1")
	if _, ok := m.Global("a"); ok {
		t.Error("parameter a leaked into the globals")
	}
	if m.FrameDepth() != 1 {
		t.Errorf("FrameDepth = %d, want 1", m.FrameDepth())
	}
	if len(m.Stack()) != 1 {
		t.Errorf("stack = %v, want only the result of print", m.Stack())
	}
}

func TestCallArityMismatch(t *testing.T) {
	p := subProgram()
	p.Instructions[2] = ins(bytecode.OpCall, callArgs("sub", 1))
	m, _ := newTestVM(t, p)
	err := runUntilHalted(m)
	if !errors.Is(err, ErrArity) {
		t.Fatalf("err = %v, want ErrArity", err)
	}
}

func TestCallByAddressFallsOffEnd(t *testing.T) {
	m, out := newTestVM(t, program(
		ins(bytecode.OpCall, callAt("f", 3, 0)),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpHalt),
		ins(bytecode.OpConst, num(1)), // 3
		ins(bytecode.OpPop),
	))
	runToEnd(t, m)
	assertLines(t, out.lines, "null")
}

func TestStoreAssignsExistingGlobal(t *testing.T) {
	m, _ := newTestVM(t, program(
		ins(bytecode.OpConst, num(1)),
		ins(bytecode.OpStore, str("counter")),
		ins(bytecode.OpCall, callAt("inc", 5, 0)),
		ins(bytecode.OpPop),
		ins(bytecode.OpHalt),
		ins(bytecode.OpLoad, str("counter")), // 5
		ins(bytecode.OpConst, num(1)),
		ins(bytecode.OpAdd),
		ins(bytecode.OpStore, str("counter")),
		ins(bytecode.OpConst, str("local")),
		ins(bytecode.OpStore, str("tmp")),
		ins(bytecode.OpRet),
	))
	runToEnd(t, m)
	if v, _ := m.Global("counter"); v.AsNumber() != 2 {
		t.Errorf("counter = %v, want 2", v)
	}
	if _, ok := m.Global("tmp"); ok {
		t.Error("tmp should stay local to inc")
	}
}

func TestFunctionValues(t *testing.T) {
	m, out := newTestVM(t, program(
		ins(bytecode.OpMakeFunction, callAt("twice", 6, 1)),
		ins(bytecode.OpStore, str("f")),
		ins(bytecode.OpConst, num(21)),
		ins(bytecode.OpCall, callArgs("f", 1)),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpHalt),
		ins(bytecode.OpStore, str("n")), // 6
		ins(bytecode.OpLoad, str("n")),
		ins(bytecode.OpLoad, str("n")),
		ins(bytecode.OpAdd),
		ins(bytecode.OpRet),
	))
	runToEnd(t, m)
	assertLines(t, out.lines, "42")
}

func TestLoadHostFunctionAsValue(t *testing.T) {
	m, out := newTestVM(t, program(
		ins(bytecode.OpLoad, str("print")),
		ins(bytecode.OpLoad, str("print")),
		ins(bytecode.OpEq),
		ins(bytecode.OpStore, str("same")),
		ins(bytecode.OpLoad, str("print")),
		ins(bytecode.OpStore, str("p")),
		ins(bytecode.OpConst, str("via value")),
		ins(bytecode.OpCall, callArgs("p", 1)),
	))
	runToEnd(t, m)
	assertLines(t, out.lines, "via value")
	if v, _ := m.Global("same"); !v.AsBool() {
		t.Error("loading a host function twice should yield the same value")
	}
}

// ---------------------------------------------------------------------------
// Collections and iteration
// ---------------------------------------------------------------------------

// loopProgram prints every value produced by iterating over the value the
// setup instructions leave on the stack.
func loopProgram(setup ...bytecode.Instruction) *bytecode.Program {
	code := append([]bytecode.Instruction{}, setup...)
	start := len(code)
	code = append(code,
		ins(bytecode.OpIterInit),
		ins(bytecode.OpIterNext, num(float64(start+5))),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop),
		ins(bytecode.OpJmp, num(float64(start+1))),
		ins(bytecode.OpHalt),
	)
	return program(code...)
}

func TestIteration(t *testing.T) {
	tests := []struct {
		name  string
		setup []bytecode.Instruction
		want  []string
	}{
		{"ascending range", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, num(4)), ins(bytecode.OpMakeRange)}, []string{"1", "2", "3", "4"}},
		{"descending range", []bytecode.Instruction{ins(bytecode.OpConst, num(3)), ins(bytecode.OpConst, num(1)), ins(bytecode.OpMakeRange)}, []string{"3", "2", "1"}},
		{"array", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Array(str("a"), num(2)))}, []string{"a", "2"}},
		{"empty array", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Array())}, nil},
		{"string", []bytecode.Instruction{ins(bytecode.OpConst, str("hé!"))}, []string{"h", "é", "!"}},
		{"object keys", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Object(bytecode.F("z", num(1)), bytecode.F("a", num(2))))}, []string{"z", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, out := newTestVM(t, loopProgram(tt.setup...))
			runToEnd(t, m)
			assertLines(t, out.lines, tt.want...)
			if len(m.Stack()) != 0 {
				t.Errorf("stack after loop = %v, want empty", m.Stack())
			}
		})
	}
}

func TestIterationSnapshotsArray(t *testing.T) {
	// Pushing onto the array while iterating does not extend the loop.
	m, out := newTestVM(t, program(
		ins(bytecode.OpConst, bytecode.Array(num(1), num(2))),
		ins(bytecode.OpStore, str("xs")),
		ins(bytecode.OpLoad, str("xs")),
		ins(bytecode.OpIterInit),
		ins(bytecode.OpIterNext, num(11)), // 4
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop),
		ins(bytecode.OpLoad, str("xs")),
		ins(bytecode.OpConst, num(9)),
		ins(bytecode.OpArrayPush),
		ins(bytecode.OpJmp, num(4)),
		ins(bytecode.OpLoad, str("xs")), // 11
		ins(bytecode.OpCall, callArgs("print", 1)),
	))
	runToEnd(t, m)
	assertLines(t, out.lines, "1", "2", "[1, 2, 9, 9]")
}

func TestCollections(t *testing.T) {
	tests := []struct {
		name string
		code []bytecode.Instruction
		want string
	}{
		{"make array", []bytecode.Instruction{
			ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, str("b")), ins(bytecode.OpMakeArray, num(2)),
		}, `[1, "b"]`},
		{"make object", []bytecode.Instruction{
			ins(bytecode.OpConst, str("x")), ins(bytecode.OpConst, num(1)),
			ins(bytecode.OpConst, str("y")), ins(bytecode.OpConst, num(2)),
			ins(bytecode.OpMakeObject, num(2)),
		}, "{x: 1, y: 2}"},
		{"object field", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Object(bytecode.F("a", num(7)))), ins(bytecode.OpConst, str("a")), ins(bytecode.OpGetProp),
		}, "7"},
		{"missing field", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Object()), ins(bytecode.OpConst, str("a")), ins(bytecode.OpGetProp),
		}, "null"},
		{"array index", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Array(num(5), num(6))), ins(bytecode.OpConst, num(1)), ins(bytecode.OpGetProp),
		}, "6"},
		{"array length", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Array(num(5), num(6))), ins(bytecode.OpConst, str("length")), ins(bytecode.OpGetProp),
		}, "2"},
		{"string index", []bytecode.Instruction{
			ins(bytecode.OpConst, str("héllo")), ins(bytecode.OpConst, num(1)), ins(bytecode.OpGetProp),
		}, "é"},
		{"range length", []bytecode.Instruction{
			ins(bytecode.OpConst, num(5)), ins(bytecode.OpConst, num(1)), ins(bytecode.OpMakeRange),
			ins(bytecode.OpConst, str("length")), ins(bytecode.OpGetProp),
		}, "5"},
		{"set returns value", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Object()), ins(bytecode.OpConst, str("k")), ins(bytecode.OpConst, num(3)), ins(bytecode.OpSetProp),
		}, "3"},
		{"set appends", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Array(num(1))), ins(bytecode.OpStore, str("xs")),
			ins(bytecode.OpLoad, str("xs")), ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, num(2)), ins(bytecode.OpSetProp), ins(bytecode.OpPop),
			ins(bytecode.OpLoad, str("xs")),
		}, "[1, 2]"},
		{"array method", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Array(str("a"), str("b"))), ins(bytecode.OpConst, str("-")),
			ins(bytecode.OpCallMethod, callArgs("join", 1)),
		}, "a-b"},
		{"string method", []bytecode.Instruction{
			ins(bytecode.OpConst, str("shout")), ins(bytecode.OpCallMethod, callArgs("upper", 0)),
		}, "SHOUT"},
		{"object keys method", []bytecode.Instruction{
			ins(bytecode.OpConst, bytecode.Object(bytecode.F("b", num(1)), bytecode.F("a", num(2)))),
			ins(bytecode.OpCallMethod, callArgs("keys", 0)),
		}, `["b", "a"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := append(tt.code, ins(bytecode.OpCall, callArgs("print", 1)))
			m, out := newTestVM(t, program(code...))
			runToEnd(t, m)
			assertLines(t, out.lines, tt.want)
		})
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []bytecode.Instruction
		want error
		addr int
	}{
		{"division by zero", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, num(0)), ins(bytecode.OpDiv)}, ErrDivisionByZero, 2},
		{"modulo by zero", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, num(0)), ins(bytecode.OpMod)}, ErrDivisionByZero, 2},
		{"sub strings", []bytecode.Instruction{ins(bytecode.OpConst, str("a")), ins(bytecode.OpConst, num(1)), ins(bytecode.OpSub)}, ErrType, 2},
		{"add bool", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Bool(true)), ins(bytecode.OpConst, num(1)), ins(bytecode.OpAdd)}, ErrType, 2},
		{"compare mixed", []bytecode.Instruction{ins(bytecode.OpConst, str("a")), ins(bytecode.OpConst, num(1)), ins(bytecode.OpLt)}, ErrType, 2},
		{"undefined variable", []bytecode.Instruction{ins(bytecode.OpLoad, str("nope"))}, ErrUndefinedVariable, 0},
		{"undefined function", []bytecode.Instruction{ins(bytecode.OpCall, callArgs("nope", 0))}, ErrUndefinedFunction, 0},
		{"call non-function", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpStore, str("x")), ins(bytecode.OpCall, callArgs("x", 0))}, ErrNotCallable, 2},
		{"pop empty stack", []bytecode.Instruction{ins(bytecode.OpPop)}, ErrStackUnderflow, 0},
		{"unresolved import", []bytecode.Instruction{ins(bytecode.OpImport, str("missing"))}, ErrUnresolvedImport, 0},
		{"is non-class", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Null()), ins(bytecode.OpConst, num(1)), ins(bytecode.OpIs)}, ErrType, 2},
		{"object key", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpConst, num(2)), ins(bytecode.OpMakeObject, num(1))}, ErrType, 2},
		{"range of strings", []bytecode.Instruction{ins(bytecode.OpConst, str("a")), ins(bytecode.OpConst, num(2)), ins(bytecode.OpMakeRange)}, ErrType, 2},
		{"range beyond safe integers", []bytecode.Instruction{ins(bytecode.OpConst, num(0)), ins(bytecode.OpConst, num(1e20)), ins(bytecode.OpMakeRange)}, ErrType, 2},
		{"iterate number", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpIterInit)}, ErrType, 1},
		{"property of null", []bytecode.Instruction{ins(bytecode.OpConst, bytecode.Null()), ins(bytecode.OpConst, str("x")), ins(bytecode.OpGetProp)}, ErrType, 2},
		{"jump out of range", []bytecode.Instruction{ins(bytecode.OpJmp, num(99))}, ErrBadArgument, 0},
		{"unknown method", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpCallMethod, callArgs("frobnicate", 0))}, ErrUndefinedMethod, 1},
		{"new non-class", []bytecode.Instruction{ins(bytecode.OpConst, num(1)), ins(bytecode.OpNew, num(0))}, ErrType, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestVM(t, program(tt.code...))
			err := runUntilHalted(m)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var rerr *RuntimeError
			if !errors.As(err, &rerr) {
				t.Fatalf("err = %T, want *RuntimeError", err)
			}
			if rerr.Address != tt.addr {
				t.Errorf("Address = %d, want %d", rerr.Address, tt.addr)
			}
			if _, ok := rerr.Instruction(); !ok {
				t.Error("Instruction() should find the failing instruction")
			}
		})
	}
}

func TestErrorLeavesOperandsInPlace(t *testing.T) {
	m, _ := newTestVM(t, program(
		ins(bytecode.OpConst, str("a")),
		ins(bytecode.OpConst, num(1)),
		ins(bytecode.OpMul),
	))
	if err := m.Run(0); err == nil {
		t.Fatal("expected an error")
	}
	if n := len(m.Stack()); n != 2 {
		t.Errorf("stack depth = %d, want 2", n)
	}
}

func TestErrorIsTerminal(t *testing.T) {
	calls := 0
	m, _ := newTestVM(t, program(
		ins(bytecode.OpLoad, str("missing")),
		ins(bytecode.OpCall, callArgs("count", 0)),
	), WithFunction("count", func([]Value) (Value, error) {
		calls++
		return Null, nil
	}))
	first := m.Run(0)
	if first == nil {
		t.Fatal("expected an error")
	}
	second := m.Run(time.Second)
	if second != first {
		t.Errorf("second Run = %v, want the first error", second)
	}
	if m.Err() != first {
		t.Errorf("Err() = %v, want %v", m.Err(), first)
	}
	if calls != 0 {
		t.Error("no instruction should run after an error")
	}
}

func TestHostFunctionErrorIsWrapped(t *testing.T) {
	errBoom := errors.New("boom")
	m, _ := newTestVM(t, program(
		ins(bytecode.OpCall, callArgs("explode", 0)),
	), WithFunction("explode", func([]Value) (Value, error) {
		return Null, errBoom
	}))
	err := m.Run(0)
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want to wrap boom", err)
	}
	if !strings.Contains(err.Error(), "explode: boom") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestHostPanicIsRecovered(t *testing.T) {
	m, _ := newTestVM(t, program(
		ins(bytecode.OpCall, callArgs("panic", 0)),
	), WithFunction("panic", func([]Value) (Value, error) {
		panic("host bug")
	}))
	err := m.Run(0)
	if !errors.Is(err, ErrHostPanic) {
		t.Fatalf("err = %v, want ErrHostPanic", err)
	}
}

func TestRuntimeErrorMessage(t *testing.T) {
	p := program(
		ins(bytecode.OpConst, num(1)),
		bytecode.Instruction{Op: bytecode.OpLoad, Arg: str("ghost"), Pos: &bytecode.Position{LineStart: 3, ColumnStart: 5}},
	)
	p.ModuleName = "game"
	m, _ := newTestVM(t, p)
	err := m.Run(0)
	want := "game:3:5: undefined variable: ghost (at 0001)"
	if err == nil || err.Error() != want {
		t.Errorf("err = %v, want %q", err, want)
	}

	m2, _ := newTestVM(t, program(ins(bytecode.OpPop)))
	if err := m2.Run(0); err == nil || !strings.HasPrefix(err.Error(), "<main>: ") {
		t.Errorf("err = %v, want <main> prefix", err)
	}
}

func TestNewRejectsNilProgram(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) should fail")
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func eventProgram() *bytecode.Program {
	p := program(
		ins(bytecode.OpConst, str("main")),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpHalt),
		ins(bytecode.OpStore, str("n")), // 3
		ins(bytecode.OpConst, str("tick ")),
		ins(bytecode.OpLoad, str("n")),
		ins(bytecode.OpAdd),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpRet),
	)
	p.References.Events = []bytecode.Reference{{Name: "tick", Address: 3, NumArgs: 1}}
	return p
}

func TestDispatchEvents(t *testing.T) {
	m, out := newTestVM(t, eventProgram())
	if err := m.Dispatch("tick", Number(1)); err != nil {
		t.Fatal(err)
	}
	runToEnd(t, m)
	assertLines(t, out.lines, "main", "tick 1")

	for i := 2; i <= 3; i++ {
		if err := m.Dispatch("tick", Number(float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if m.Halted() {
		t.Error("Halted should be false while events are queued")
	}
	runToEnd(t, m)
	assertLines(t, out.lines, "main", "tick 1", "tick 2", "tick 3")
	if len(m.Stack()) != 1 {
		t.Errorf("stack = %v, want only the main print result", m.Stack())
	}
	if _, ok := m.Global("n"); ok {
		t.Error("event parameter leaked into the globals")
	}
}

func TestDispatchValidation(t *testing.T) {
	m, _ := newTestVM(t, eventProgram())
	if err := m.Dispatch("nope"); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("unknown event: err = %v", err)
	}
	if err := m.Dispatch("tick"); !errors.Is(err, ErrArity) {
		t.Errorf("missing argument: err = %v", err)
	}
}

func TestHaltInsideEventOnlyEndsHandler(t *testing.T) {
	p := program(
		ins(bytecode.OpHalt),
		ins(bytecode.OpConst, num(1)), // 1
		ins(bytecode.OpHalt),
	)
	p.References.Events = []bytecode.Reference{{Name: "e", Address: 1}}
	m, _ := newTestVM(t, p)
	runToEnd(t, m)
	for i := 0; i < 2; i++ {
		if err := m.Dispatch("e"); err != nil {
			t.Fatal(err)
		}
	}
	runToEnd(t, m)
	if m.FrameDepth() != 1 || len(m.Stack()) != 0 {
		t.Errorf("frames = %v, stack = %v", m.Frames(), m.Stack())
	}
}

func ExampleVM_Run() {
	p := &bytecode.Program{Instructions: []bytecode.Instruction{
		{Op: bytecode.OpConst, Arg: bytecode.Num(2)},
		{Op: bytecode.OpConst, Arg: bytecode.Num(3)},
		{Op: bytecode.OpAdd},
		{Op: bytecode.OpCall, Arg: bytecode.Object(
			bytecode.F("name", bytecode.Str("print")),
			bytecode.F("args", bytecode.Num(1)),
		)},
	}}
	m, err := New(p, WithFunction("print", func(args []Value) (Value, error) {
		fmt.Println(args[0])
		return Null, nil
	}))
	if err != nil {
		panic(err)
	}
	for !m.Halted() {
		if err := m.Run(16 * time.Millisecond); err != nil {
			panic(err)
		}
	}
	// Output: 5
}

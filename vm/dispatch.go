package vm

import (
	"fmt"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

type handler func(vm *VM, arg bytecode.Arg) error

// handlers is indexed by opcode. Unassigned opcodes are rejected by step.
var handlers = [256]handler{
	bytecode.OpHalt:   opHalt,
	bytecode.OpConst:  opConst,
	bytecode.OpSwap:   opSwap,
	bytecode.OpExport: opExport,
	bytecode.OpImport: opImport,
	bytecode.OpWait:   opWait,
	bytecode.OpNew:    opNew,
	bytecode.OpSuper:  opSuper,

	bytecode.OpAdd: opAdd,
	bytecode.OpSub: arith("-", func(a, b float64) (float64, error) { return a - b, nil }),
	bytecode.OpMul: arith("*", func(a, b float64) (float64, error) { return a * b, nil }),
	bytecode.OpDiv: arith("/", divide),
	bytecode.OpMod: arith("%", modulo),
	bytecode.OpExp: arith("**", power),
	bytecode.OpNeg: opNeg,

	bytecode.OpEq:  opEq,
	bytecode.OpNeq: opNeq,
	bytecode.OpGt:  compare(">", func(c int) bool { return c > 0 }),
	bytecode.OpGte: compare(">=", func(c int) bool { return c >= 0 }),
	bytecode.OpLt:  compare("<", func(c int) bool { return c < 0 }),
	bytecode.OpLte: compare("<=", func(c int) bool { return c <= 0 }),
	bytecode.OpIn:  opIn,
	bytecode.OpIs:  opIs,

	bytecode.OpNot: opNot,

	bytecode.OpJmp:        opJmp,
	bytecode.OpJmpIfFalse: opJmpIfFalse,
	bytecode.OpJmpIfTrue:  opJmpIfTrue,
	bytecode.OpDup:        opDup,
	bytecode.OpPop:        opPop,

	bytecode.OpLoad:  opLoad,
	bytecode.OpStore: opStore,

	bytecode.OpCall:       opCall,
	bytecode.OpCallMethod: opCallMethod,
	bytecode.OpCallParent: opCallParent,
	bytecode.OpRet:        opRet,

	bytecode.OpMakeArray:    opMakeArray,
	bytecode.OpMakeRange:    opMakeRange,
	bytecode.OpMakeObject:   opMakeObject,
	bytecode.OpMakeFunction: opMakeFunction,
	bytecode.OpMakeClass:    opMakeClass,
	bytecode.OpMakeMethod:   opMakeMethod,

	bytecode.OpGetProp: opGetProp,
	bytecode.OpSetProp: opSetProp,

	bytecode.OpIterInit:  opIterInit,
	bytecode.OpIterNext:  opIterNext,
	bytecode.OpArrayPush: opArrayPush,
}

// ---------------------------------------------------------------------------
// Argument decoding
// ---------------------------------------------------------------------------

func stringArg(op string, arg bytecode.Arg) (string, error) {
	if arg.Kind != bytecode.ArgString || arg.Str == "" {
		return "", fmt.Errorf("%w: %s expects a name, got %s", ErrBadArgument, op, arg)
	}
	return arg.Str, nil
}

func countArg(op string, arg bytecode.Arg) (int, error) {
	if arg.IsNone() || arg.Kind == bytecode.ArgNull {
		return 0, nil
	}
	n, ok := arg.Int()
	if !ok || n < 0 {
		return 0, fmt.Errorf("%w: %s expects a count, got %s", ErrBadArgument, op, arg)
	}
	return n, nil
}

func (vm *VM) addressArg(op string, arg bytecode.Arg) (int, error) {
	addr, ok := arg.Int()
	if !ok || addr < 0 || addr > len(vm.program.Instructions) {
		return 0, fmt.Errorf("%w: %s target %s out of range", ErrBadArgument, op, arg)
	}
	return addr, nil
}

// callArg is the decoded form of {name, addr?, args, callee?}.
type callArg struct {
	name    string
	addr    int
	hasAddr bool
	argc    int
	callee  string
}

func decodeCallArg(op string, arg bytecode.Arg) (callArg, error) {
	var ca callArg
	if arg.Kind != bytecode.ArgObject {
		return ca, fmt.Errorf("%w: %s expects an object, got %s", ErrBadArgument, op, arg)
	}
	name, _ := arg.Get("name")
	if name.Kind != bytecode.ArgString {
		return ca, fmt.Errorf("%w: %s without a name", ErrBadArgument, op)
	}
	ca.name = name.Str
	if a, ok := arg.Get("args"); ok {
		n, err := countArg(op, a)
		if err != nil {
			return ca, err
		}
		ca.argc = n
	}
	if a, ok := arg.Get("addr"); ok && a.Kind == bytecode.ArgNumber {
		addr, ok := a.Int()
		if !ok || addr < 0 {
			return ca, fmt.Errorf("%w: %s address %s", ErrBadArgument, op, a)
		}
		ca.addr, ca.hasAddr = addr, true
	}
	if c, ok := arg.Get("callee"); ok && c.Kind == bytecode.ArgString {
		ca.callee = c.Str
	}
	return ca, nil
}

// literal converts a CONST argument to a fresh value.
func literal(arg bytecode.Arg) Value {
	switch arg.Kind {
	case bytecode.ArgString:
		return String(arg.Str)
	case bytecode.ArgNumber:
		return Number(arg.Num)
	case bytecode.ArgBool:
		return Bool(arg.Bool)
	case bytecode.ArgArray:
		items := make([]Value, len(arg.Items))
		for i, item := range arg.Items {
			items[i] = literal(item)
		}
		return NewArray(items...)
	case bytecode.ArgObject:
		obj := NewObject()
		for _, f := range arg.Fields {
			obj.Set(f.Key, literal(f.Value))
		}
		return ObjectValue(obj)
	}
	return Null
}

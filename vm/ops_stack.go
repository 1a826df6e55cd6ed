package vm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// opHalt stops the VM. Inside an imported module or an event handler it
// only finishes that module or handler.
func opHalt(vm *VM, _ bytecode.Arg) error {
	for i := len(vm.frames) - 1; i > 0; i-- {
		if k := vm.frames[i].kind; k == frameModule || k == frameEvent {
			vm.frames = vm.frames[:i+1]
			return vm.leave(Null)
		}
	}
	vm.halt()
	return nil
}

func opConst(vm *VM, arg bytecode.Arg) error {
	vm.push(literal(arg))
	return nil
}

func opSwap(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	n := len(vm.stack)
	vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]
	return nil
}

func opDup(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(1); err != nil {
		return err
	}
	vm.push(vm.peek(0))
	return nil
}

func opPop(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(1); err != nil {
		return err
	}
	vm.pop()
	return nil
}

func opJmp(vm *VM, arg bytecode.Arg) error {
	addr, err := vm.addressArg("JMP", arg)
	if err != nil {
		return err
	}
	vm.ip = addr
	return nil
}

func opJmpIfFalse(vm *VM, arg bytecode.Arg) error {
	return vm.branch("JMP_IF_FALSE", arg, false)
}

func opJmpIfTrue(vm *VM, arg bytecode.Arg) error {
	return vm.branch("JMP_IF_TRUE", arg, true)
}

func (vm *VM) branch(op string, arg bytecode.Arg, when bool) error {
	addr, err := vm.addressArg(op, arg)
	if err != nil {
		return err
	}
	if err := vm.need(1); err != nil {
		return err
	}
	if vm.pop().Truthy() == when {
		vm.ip = addr
	}
	return nil
}

func opNot(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(1); err != nil {
		return err
	}
	vm.push(Bool(!vm.pop().Truthy()))
	return nil
}

// opWait suspends the VM for the popped number of milliseconds. Time
// left over from the current Run call counts towards the wait.
func opWait(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(1); err != nil {
		return err
	}
	v := vm.peek(0)
	if v.Kind() != KindNumber || math.IsNaN(v.AsNumber()) {
		return typeError("WAIT expects a number of milliseconds, got %s", v.TypeName())
	}
	vm.pop()

	d := waitDuration(v.AsNumber())
	remaining := d - vm.credit
	if remaining <= 0 {
		vm.credit = -remaining
		return nil
	}
	vm.credit = 0
	vm.wait = remaining
	vm.log.Debugf("waiting %s in %s", remaining, moduleLabel(vm.program))
	return nil
}

// waitDuration converts milliseconds to a duration. Negative waits do not
// wait; waits past the duration range saturate.
func waitDuration(ms float64) time.Duration {
	if ms <= 0 {
		return 0
	}
	ns := ms * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func opAdd(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	a, b := vm.peek(1), vm.peek(0)
	var result Value
	switch {
	case a.Kind() == KindNumber && b.Kind() == KindNumber:
		result = Number(a.AsNumber() + b.AsNumber())
	case a.Kind() == KindString || b.Kind() == KindString:
		result = String(a.String() + b.String())
	case a.Kind() == KindArray && b.Kind() == KindArray:
		items := make([]Value, 0, len(a.AsArray().Items)+len(b.AsArray().Items))
		items = append(items, a.AsArray().Items...)
		items = append(items, b.AsArray().Items...)
		result = NewArray(items...)
	default:
		return typeError("cannot add %s and %s", a.TypeName(), b.TypeName())
	}
	vm.pop()
	vm.pop()
	vm.push(result)
	return nil
}

func arith(sym string, fn func(a, b float64) (float64, error)) handler {
	return func(vm *VM, _ bytecode.Arg) error {
		if err := vm.need(2); err != nil {
			return err
		}
		a, b := vm.peek(1), vm.peek(0)
		if a.Kind() != KindNumber || b.Kind() != KindNumber {
			return typeError("cannot apply %s to %s and %s", sym, a.TypeName(), b.TypeName())
		}
		r, err := fn(a.AsNumber(), b.AsNumber())
		if err != nil {
			return err
		}
		vm.pop()
		vm.pop()
		vm.push(Number(r))
		return nil
	}
}

func divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

func modulo(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return math.Mod(a, b), nil
}

func power(a, b float64) (float64, error) {
	return math.Pow(a, b), nil
}

func opNeg(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(1); err != nil {
		return err
	}
	if v := vm.peek(0); v.Kind() != KindNumber {
		return typeError("cannot negate %s", v.TypeName())
	}
	vm.push(Number(-vm.pop().AsNumber()))
	return nil
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func opEq(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	b, a := vm.pop(), vm.pop()
	vm.push(Bool(a.Equal(b)))
	return nil
}

func opNeq(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	b, a := vm.pop(), vm.pop()
	vm.push(Bool(!a.Equal(b)))
	return nil
}

func compare(sym string, test func(c int) bool) handler {
	return func(vm *VM, _ bytecode.Arg) error {
		if err := vm.need(2); err != nil {
			return err
		}
		a, b := vm.peek(1), vm.peek(0)
		var c int
		switch {
		case a.Kind() == KindNumber && b.Kind() == KindNumber:
			x, y := a.AsNumber(), b.AsNumber()
			if math.IsNaN(x) || math.IsNaN(y) {
				vm.pop()
				vm.pop()
				vm.push(Bool(false))
				return nil
			}
			c = cmpOrdered(x, y)
		case a.Kind() == KindString && b.Kind() == KindString:
			c = cmpOrdered(a.AsString(), b.AsString())
		default:
			return typeError("cannot compare %s %s %s", a.TypeName(), sym, b.TypeName())
		}
		vm.pop()
		vm.pop()
		vm.push(Bool(test(c)))
		return nil
	}
}

func cmpOrdered[T float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// opIn tests needle membership in haystack: array elements, substrings,
// range bounds or object keys.
func opIn(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	needle, haystack := vm.peek(1), vm.peek(0)
	found, err := contains(haystack, needle)
	if err != nil {
		return err
	}
	vm.pop()
	vm.pop()
	vm.push(Bool(found))
	return nil
}

func contains(haystack, needle Value) (bool, error) {
	switch haystack.Kind() {
	case KindArray:
		for _, item := range haystack.AsArray().Items {
			if item.Equal(needle) {
				return true, nil
			}
		}
		return false, nil
	case KindString:
		if needle.Kind() != KindString {
			return false, typeError("cannot search a string for %s", needle.TypeName())
		}
		return strings.Contains(haystack.AsString(), needle.AsString()), nil
	case KindRange:
		return needle.Kind() == KindNumber && haystack.AsRange().Contains(needle.AsNumber()), nil
	case KindObject:
		return needle.Kind() == KindString && haystack.AsObject().Has(needle.AsString()), nil
	case KindInstance:
		return needle.Kind() == KindString && haystack.AsInstance().Fields.Has(needle.AsString()), nil
	}
	return false, fmt.Errorf("%w: cannot search in %s", ErrType, haystack.TypeName())
}

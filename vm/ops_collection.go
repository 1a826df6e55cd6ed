package vm

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

func opMakeArray(vm *VM, arg bytecode.Arg) error {
	n, err := countArg("MAKE_ARRAY", arg)
	if err != nil {
		return err
	}
	if err := vm.need(n); err != nil {
		return err
	}
	vm.push(NewArray(vm.popN(n)...))
	return nil
}

// opMakeObject builds an object from n key/value pairs pushed in order.
func opMakeObject(vm *VM, arg bytecode.Arg) error {
	n, err := countArg("MAKE_OBJECT", arg)
	if err != nil {
		return err
	}
	if err := vm.need(2 * n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if k := vm.peek(2*n - 1 - 2*i); k.Kind() != KindString {
			return typeError("object key must be a string, got %s", k.TypeName())
		}
	}
	pairs := vm.popN(2 * n)
	obj := NewObject()
	for i := 0; i < len(pairs); i += 2 {
		obj.Set(pairs[i].AsString(), pairs[i+1])
	}
	vm.push(ObjectValue(obj))
	return nil
}

func opMakeRange(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	start, end := vm.peek(1), vm.peek(0)
	if !isInteger(start) || !isInteger(end) {
		return typeError("range bounds must be integers, got %s and %s", start.TypeName(), end.TypeName())
	}
	if math.Abs(start.AsNumber()) > MaxSafeInteger || math.Abs(end.AsNumber()) > MaxSafeInteger {
		return typeError("range bounds must lie within ±%d, got %s..%s", int64(MaxSafeInteger), start, end)
	}
	vm.pop()
	vm.pop()
	vm.push(RangeValue(&Range{Start: start.AsNumber(), End: end.AsNumber()}))
	return nil
}

// MaxSafeInteger is the largest integer a number holds exactly.
const MaxSafeInteger = 1<<53 - 1

func isInteger(v Value) bool {
	return v.Kind() == KindNumber && v.AsNumber() == math.Trunc(v.AsNumber()) && !math.IsInf(v.AsNumber(), 0)
}

func opArrayPush(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	if av := vm.peek(1); av.Kind() != KindArray {
		return typeError("cannot push onto %s", av.TypeName())
	}
	v := vm.pop()
	arr := vm.pop().AsArray()
	arr.Items = append(arr.Items, v)
	return nil
}

func opIterInit(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(1); err != nil {
		return err
	}
	it, ok := newIterator(vm.peek(0))
	if !ok {
		return typeError("%s is not iterable", vm.peek(0).TypeName())
	}
	vm.pop()
	vm.push(IteratorValue(it))
	return nil
}

// opIterNext pushes the next value of the iterator on top of the stack,
// or pops the iterator and jumps to the argument address once it is
// exhausted.
func opIterNext(vm *VM, arg bytecode.Arg) error {
	exit, err := vm.addressArg("ITER_NEXT", arg)
	if err != nil {
		return err
	}
	if err := vm.need(1); err != nil {
		return err
	}
	iv := vm.peek(0)
	if iv.Kind() != KindIterator {
		return typeError("ITER_NEXT on %s", iv.TypeName())
	}
	if v, ok := iv.AsIterator().Next(); ok {
		vm.push(v)
		return nil
	}
	vm.pop()
	vm.ip = exit
	return nil
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func opGetProp(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	v, err := vm.getProperty(vm.peek(1), vm.peek(0))
	if err != nil {
		return err
	}
	vm.pop()
	vm.pop()
	vm.push(v)
	return nil
}

func (vm *VM) getProperty(obj, key Value) (Value, error) {
	switch obj.Kind() {
	case KindObject:
		if key.Kind() != KindString {
			return Null, typeError("object key must be a string, got %s", key.TypeName())
		}
		v, _ := obj.AsObject().Get(key.AsString())
		return v, nil

	case KindArray:
		items := obj.AsArray().Items
		if key.Kind() == KindString && key.AsString() == "length" {
			return Number(float64(len(items))), nil
		}
		i, ok := index(key)
		if !ok {
			return Null, typeError("array index must be an integer, got %s", key.TypeName())
		}
		if i < 0 || i >= len(items) {
			return Null, nil
		}
		return items[i], nil

	case KindString:
		s := obj.AsString()
		if key.Kind() == KindString && key.AsString() == "length" {
			return Number(float64(utf8.RuneCountInString(s))), nil
		}
		i, ok := index(key)
		if !ok {
			return Null, typeError("string index must be an integer, got %s", key.TypeName())
		}
		for pos, r := range []rune(s) {
			if pos == i {
				return String(string(r)), nil
			}
		}
		return Null, nil

	case KindInstance:
		if key.Kind() != KindString {
			return Null, typeError("property name must be a string, got %s", key.TypeName())
		}
		inst := obj.AsInstance()
		if p, ok := inst.forwardedProperty(key.AsString()); ok {
			return p.get(vm, inst.native)
		}
		v, _ := inst.Fields.Get(key.AsString())
		return v, nil

	case KindRange:
		r := obj.AsRange()
		switch key.AsString() {
		case "start":
			return Number(r.Start), nil
		case "end":
			return Number(r.End), nil
		case "length":
			return Number(float64(r.Len())), nil
		}
		return Null, nil

	case KindClass:
		if key.AsString() == "name" {
			return String(obj.AsClass().Name), nil
		}
		return Null, nil

	case KindNull:
		return Null, typeError("cannot read property %s of null", key)
	}
	return Null, typeError("cannot read property %s of %s", key, obj.TypeName())
}

func index(key Value) (int, bool) {
	if !isInteger(key) {
		return 0, false
	}
	return int(key.AsNumber()), true
}

// opSetProp assigns obj[key] = value and leaves value on the stack.
func opSetProp(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(3); err != nil {
		return err
	}
	obj, key, v := vm.peek(2), vm.peek(1), vm.peek(0)
	if err := vm.setProperty(obj, key, v); err != nil {
		return err
	}
	vm.popN(3)
	vm.push(v)
	return nil
}

func (vm *VM) setProperty(obj, key, v Value) error {
	switch obj.Kind() {
	case KindObject:
		if key.Kind() != KindString {
			return typeError("object key must be a string, got %s", key.TypeName())
		}
		obj.AsObject().Set(key.AsString(), v)
		return nil

	case KindArray:
		arr := obj.AsArray()
		i, ok := index(key)
		if !ok {
			return typeError("array index must be an integer, got %s", key.TypeName())
		}
		switch {
		case i >= 0 && i < len(arr.Items):
			arr.Items[i] = v
		case i == len(arr.Items):
			arr.Items = append(arr.Items, v)
		default:
			return fmt.Errorf("%w: index %d out of range for array of length %d", ErrType, i, len(arr.Items))
		}
		return nil

	case KindInstance:
		if key.Kind() != KindString {
			return typeError("property name must be a string, got %s", key.TypeName())
		}
		inst := obj.AsInstance()
		if p, ok := inst.forwardedProperty(key.AsString()); ok {
			return p.set(vm, inst.native, v)
		}
		inst.Fields.Set(key.AsString(), v)
		return nil
	}
	return typeError("cannot set property %s of %s", key, obj.TypeName())
}

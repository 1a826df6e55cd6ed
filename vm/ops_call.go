package vm

import (
	"fmt"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// opLoad pushes the value bound to a name. Host classes shadow script
// bindings; host functions come last.
func opLoad(vm *VM, arg bytecode.Arg) error {
	name, err := stringArg("LOAD", arg)
	if err != nil {
		return err
	}
	if cls := vm.hostClasses[name]; cls != nil {
		vm.push(ClassValue(cls))
		return nil
	}
	if v, ok := vm.lookup(name); ok {
		vm.push(v)
		return nil
	}
	if v, ok := vm.native(name); ok {
		vm.push(v)
		return nil
	}
	if fn := vm.reference(name); fn != nil {
		vm.push(FunctionValue(fn))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUndefinedVariable, name)
}

// lookup finds a script binding: frame locals, then the globals of the
// module the frame belongs to.
func (vm *VM) lookup(name string) (Value, bool) {
	f := vm.frame()
	if v, ok := f.Locals[name]; ok {
		return v, true
	}
	if v, ok := f.module.Globals[name]; ok {
		return v, true
	}
	return Null, false
}

// native wraps a host function as a Function value. The wrapper is cached
// so that repeated loads compare equal.
func (vm *VM) native(name string) (Value, bool) {
	if v, ok := vm.natives[name]; ok {
		return v, true
	}
	fn, ok := vm.functions[name]
	if !ok {
		return Null, false
	}
	v := FunctionValue(&Function{Name: name, Arity: -1, Native: fn})
	vm.natives[name] = v
	return v, true
}

// reference builds a Function for a named function of the running
// program.
func (vm *VM) reference(name string) *Function {
	ref, ok := vm.program.Function(name)
	if !ok {
		return nil
	}
	return &Function{
		Name:    ref.Name,
		Address: ref.Address,
		Arity:   ref.NumArgs,
		Program: vm.program,
		module:  vm.frame().module,
	}
}

// opStore pops into a binding. While the frame's parameters are still on
// the stack each store binds the next one as a local.
func opStore(vm *VM, arg bytecode.Arg) error {
	name, err := stringArg("STORE", arg)
	if err != nil {
		return err
	}
	if err := vm.need(1); err != nil {
		return err
	}
	f := vm.frame()
	if f.pending > 0 && len(vm.stack) == f.base+f.pending {
		f.Locals[name] = vm.pop()
		f.pending--
		return nil
	}
	v := vm.pop()
	if _, ok := f.Locals[name]; ok {
		f.Locals[name] = v
		return nil
	}
	if _, ok := f.module.Globals[name]; ok {
		f.module.Globals[name] = v
		return nil
	}
	f.Locals[name] = v
	return nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func opCall(vm *VM, arg bytecode.Arg) error {
	ca, err := decodeCallArg("CALL", arg)
	if err != nil {
		return err
	}
	if err := vm.need(ca.argc); err != nil {
		return err
	}
	if ca.hasAddr {
		if ca.addr > len(vm.program.Instructions) {
			return fmt.Errorf("%w: CALL %s address %04X out of range", ErrBadArgument, ca.name, ca.addr)
		}
		return vm.call(&Function{
			Name:    ca.name,
			Address: ca.addr,
			Arity:   ca.argc,
			Program: vm.program,
			module:  vm.frame().module,
		}, ca.argc, nil)
	}
	if v, ok := vm.lookup(ca.name); ok {
		if v.Kind() != KindFunction {
			return fmt.Errorf("%w: %s is %s", ErrNotCallable, ca.name, v.TypeName())
		}
		return vm.call(v.AsFunction(), ca.argc, nil)
	}
	if fn, ok := vm.functions[ca.name]; ok {
		return vm.callNative(ca.name, fn, ca.argc)
	}
	if fn := vm.reference(ca.name); fn != nil {
		return vm.call(fn, ca.argc, nil)
	}
	return fmt.Errorf("%w: %s", ErrUndefinedFunction, ca.name)
}

// call enters fn with the top argc stack values as arguments. this, when
// non-nil, is bound in the new frame.
func (vm *VM) call(fn *Function, argc int, this *Value) error {
	if fn.Native != nil {
		return vm.callNative(fn.Name, fn.Native, argc)
	}
	if fn.Arity != argc {
		return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrArity, fn.Name, fn.Arity, argc)
	}
	f := &Frame{
		Program: fn.Program,
		Name:    fn.Name,
		Owner:   fn.Owner,
		kind:    frameCall,
		module:  fn.module,
		Locals:  make(map[string]Value),
	}
	if f.Program == nil {
		f.Program = vm.program
	}
	if f.module == nil {
		f.module = vm.frame().module
	}
	if this != nil {
		f.Locals["this"] = *this
	}
	vm.pushFrame(f, fn.Address, argc)
	return nil
}

func (vm *VM) callNative(name string, fn NativeFunc, argc int) error {
	args := vm.popN(argc)
	result, err := fn(args)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	vm.push(result)
	return nil
}

// opCallMethod calls a method on the receiver below the arguments.
func opCallMethod(vm *VM, arg bytecode.Arg) error {
	ca, err := decodeCallArg("CALL_METHOD", arg)
	if err != nil {
		return err
	}
	if err := vm.need(ca.argc + 1); err != nil {
		return err
	}
	recv := vm.peek(ca.argc)

	switch recv.Kind() {
	case KindInstance:
		inst := recv.AsInstance()
		if fn := inst.Class.Lookup(ca.name); fn != nil {
			vm.remove(ca.argc)
			return vm.call(fn, ca.argc, &recv)
		}
		if m, ok := inst.forwardedMethod(ca.name); ok {
			args := vm.popN(ca.argc)
			vm.pop()
			result, err := m(vm, inst.native, args)
			if err != nil {
				return err
			}
			vm.push(result)
			return nil
		}
		if v, ok := inst.Fields.Get(ca.name); ok && v.Kind() == KindFunction {
			vm.remove(ca.argc)
			return vm.call(v.AsFunction(), ca.argc, nil)
		}
		return fmt.Errorf("%w: %s has no method %s", ErrUndefinedMethod, inst.Class.Name, ca.name)

	case KindObject:
		if v, ok := recv.AsObject().Get(ca.name); ok {
			if v.Kind() != KindFunction {
				return fmt.Errorf("%w: %s is %s", ErrNotCallable, ca.name, v.TypeName())
			}
			vm.remove(ca.argc)
			return vm.call(v.AsFunction(), ca.argc, nil)
		}
	}

	method, ok := builtinMethod(recv.Kind(), ca.name)
	if !ok {
		return fmt.Errorf("%w: %s has no method %s", ErrUndefinedMethod, recv.TypeName(), ca.name)
	}
	args := vm.popN(ca.argc)
	vm.pop()
	result, err := method(recv, args)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", recv.TypeName(), ca.name, err)
	}
	vm.push(result)
	return nil
}

// opRet returns from the current frame with the value on top of the
// stack, or null when the frame pushed nothing.
func opRet(vm *VM, _ bytecode.Arg) error {
	v := Null
	if len(vm.stack) > vm.frame().base {
		v = vm.pop()
	}
	return vm.leave(v)
}

func opMakeFunction(vm *VM, arg bytecode.Arg) error {
	ca, err := decodeCallArg("MAKE_FUNCTION", arg)
	if err != nil {
		return err
	}
	if !ca.hasAddr {
		return fmt.Errorf("%w: MAKE_FUNCTION %s without an address", ErrBadArgument, ca.name)
	}
	vm.push(FunctionValue(&Function{
		Name:    ca.name,
		Address: ca.addr,
		Arity:   ca.argc,
		Program: vm.program,
		module:  vm.frame().module,
	}))
	return nil
}

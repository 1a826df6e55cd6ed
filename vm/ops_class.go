package vm

import (
	"fmt"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// opMakeClass pops the parent (null or a class) and pushes a new class.
// The argument is [name, constructorAddress, paramCount].
func opMakeClass(vm *VM, arg bytecode.Arg) error {
	if arg.Kind != bytecode.ArgArray || len(arg.Items) < 2 || arg.Items[0].Kind != bytecode.ArgString {
		return fmt.Errorf("%w: MAKE_CLASS expects [name, addr, paramCount], got %s", ErrBadArgument, arg)
	}
	name := arg.Items[0].Str
	addr, ok := arg.Items[1].Int()
	if !ok || addr < 0 {
		return fmt.Errorf("%w: MAKE_CLASS %s constructor address %s", ErrBadArgument, name, arg.Items[1])
	}
	params := 0
	if len(arg.Items) > 2 {
		n, err := countArg("MAKE_CLASS", arg.Items[2])
		if err != nil {
			return err
		}
		params = n
	}

	if err := vm.need(1); err != nil {
		return err
	}
	var parent *Class
	switch pv := vm.peek(0); pv.Kind() {
	case KindNull:
	case KindClass:
		parent = pv.AsClass()
	default:
		return typeError("class %s extends a non-class value (%s)", name, pv.TypeName())
	}
	vm.pop()

	cls := NewClass(name, parent)
	cls.ConstructorAddress = addr
	cls.ParamCount = params
	cls.Program = vm.program
	cls.module = vm.frame().module
	vm.push(ClassValue(cls))
	return nil
}

// opMakeMethod registers the function on top of the stack as a method of
// the class below it and leaves the class on the stack.
func opMakeMethod(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	fv, cv := vm.peek(0), vm.peek(1)
	if cv.Kind() != KindClass {
		return typeError("cannot add a method to %s", cv.TypeName())
	}
	if fv.Kind() != KindFunction {
		return typeError("method of %s is %s, not a function", cv.AsClass().Name, fv.TypeName())
	}
	vm.pop()

	cls := cv.AsClass()
	m := *fv.AsFunction()
	m.Owner = cls
	cls.SetMethod(m.Name, &m)
	return nil
}

// opNew instantiates the class on top of the stack with the arguments
// below it.
func opNew(vm *VM, arg bytecode.Arg) error {
	argc, err := countArg("NEW", arg)
	if err != nil {
		return err
	}
	if err := vm.need(argc + 1); err != nil {
		return err
	}
	cv := vm.peek(0)
	if cv.Kind() != KindClass {
		return typeError("new requires a class, got %s", cv.TypeName())
	}
	cls := cv.AsClass()

	if cls.host != nil {
		vm.pop()
		native, err := cls.host.construct(vm, vm.popN(argc))
		if err != nil {
			return err
		}
		inst := NewInstance(cls)
		inst.attach(cls.host, native)
		vm.push(InstanceValue(inst))
		return nil
	}

	if argc != cls.ParamCount {
		return fmt.Errorf("%w: class %s expects %d arguments, got %d", ErrArity, cls.Name, cls.ParamCount, argc)
	}
	vm.pop()
	inst := NewInstance(cls)
	vm.pushFrame(&Frame{
		Program: cls.Program,
		Name:    "new " + cls.Name,
		Owner:   cls,
		kind:    frameConstruct,
		module:  cls.module,
		Locals:  map[string]Value{"this": InstanceValue(inst)},
	}, cls.ConstructorAddress, argc)
	return nil
}

// opCallParent runs the parent constructor for the instance below the
// arguments. The parent class is on top of the stack.
func opCallParent(vm *VM, arg bytecode.Arg) error {
	argc, err := countArg("CALL_PARENT", arg)
	if err != nil {
		return err
	}
	if err := vm.need(argc + 2); err != nil {
		return err
	}
	pv, tv := vm.peek(0), vm.peek(argc+1)
	if pv.Kind() != KindClass {
		return typeError("super call requires a class, got %s", pv.TypeName())
	}
	parent := pv.AsClass()
	if parent.host == nil && argc != parent.ParamCount {
		return fmt.Errorf("%w: class %s expects %d arguments, got %d", ErrArity, parent.Name, parent.ParamCount, argc)
	}
	if tv.Kind() != KindInstance {
		return typeError("super call on %s", tv.TypeName())
	}
	inst := tv.AsInstance()

	if parent.host != nil {
		vm.pop()
		native, err := parent.host.construct(vm, vm.popN(argc))
		if err != nil {
			return err
		}
		vm.pop()
		inst.attach(parent.host, native)
		vm.push(Null)
		return nil
	}

	vm.pop()
	vm.remove(argc)
	vm.pushFrame(&Frame{
		Program: parent.Program,
		Name:    "super " + parent.Name,
		Owner:   parent,
		kind:    frameCall,
		module:  parent.module,
		Locals:  map[string]Value{"this": tv},
	}, parent.ConstructorAddress, argc)
	return nil
}

// opSuper calls a method of the running method's parent class on this.
func opSuper(vm *VM, arg bytecode.Arg) error {
	ca, err := decodeCallArg("SUPER", arg)
	if err != nil {
		return err
	}
	if err := vm.need(ca.argc + 1); err != nil {
		return err
	}
	tv := vm.peek(ca.argc)
	if tv.Kind() != KindInstance {
		return typeError("parent method %s called on %s", ca.name, tv.TypeName())
	}
	inst := tv.AsInstance()

	owner := vm.frame().Owner
	if owner == nil && ca.callee != "" {
		if cv, ok := vm.lookup(ca.callee); ok && cv.Kind() == KindClass {
			owner = cv.AsClass()
		}
	}
	if owner == nil {
		owner = inst.Class
	}
	parent := owner.Parent
	if parent == nil {
		return fmt.Errorf("class %s %w", owner.Name, ErrNoParent)
	}

	if fn := parent.Lookup(ca.name); fn != nil {
		vm.remove(ca.argc)
		return vm.call(fn, ca.argc, &tv)
	}
	if host := parent.hostAncestor(); host != nil && inst.bridge != nil {
		if m, ok := host.host.methods[ca.name]; ok {
			args := vm.popN(ca.argc)
			vm.pop()
			result, err := m(vm, inst.native, args)
			if err != nil {
				return err
			}
			vm.push(result)
			return nil
		}
	}
	return fmt.Errorf("%w: %s not found in parent class %s", ErrUndefinedMethod, ca.name, parent.Name)
}

// opIs tests whether the instance below the class is an instance of it.
func opIs(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	cv, iv := vm.peek(0), vm.peek(1)
	if cv.Kind() != KindClass {
		return typeError("right-hand side of is must be a class, got %s", cv.TypeName())
	}
	vm.pop()
	vm.pop()
	vm.push(Bool(isInstance(iv, cv.AsClass())))
	return nil
}

func isInstance(v Value, target *Class) bool {
	if v.Kind() != KindInstance {
		return false
	}
	inst := v.AsInstance()
	if inst.Class.IsSubclassOf(target) {
		return true
	}
	return target.host != nil && inst.bridge != nil && inst.native.Type().AssignableTo(target.host.goType)
}

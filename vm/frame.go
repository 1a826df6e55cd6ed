package vm

import "github.com/haroldiedema/luma-language/pkg/bytecode"

type frameKind uint8

const (
	frameRoot      frameKind = iota // main program top level
	frameCall                       // function or method call
	frameConstruct                  // script constructor entered by NEW
	frameModule                     // imported module top level
	frameEvent                      // event handler
)

// Frame is one activation record.
type Frame struct {
	ReturnAddress int
	Locals        map[string]Value
	Program       *bytecode.Program
	Name          string
	// Owner is the class whose method or constructor is running. SUPER
	// and CALL_PARENT resolve parents from it.
	Owner *Class

	kind   frameKind
	module *Module
	// base is the operand stack depth below the frame's arguments.
	base int
	// pending counts arguments still waiting to be bound by the
	// parameter prologue.
	pending int
}

func (f *Frame) this() (Value, bool) {
	v, ok := f.Locals["this"]
	return v, ok
}

// pushFrame enters code at addr. The top argc stack values become the
// frame's arguments.
func (vm *VM) pushFrame(f *Frame, addr, argc int) {
	f.ReturnAddress = vm.ip
	f.base = len(vm.stack) - argc
	f.pending = argc
	if f.Locals == nil {
		f.Locals = make(map[string]Value)
	}
	vm.frames = append(vm.frames, f)
	vm.program = f.Program
	vm.ip = addr
}

// popFrame leaves the current frame, discarding anything it left on the
// stack, and resumes the caller.
func (vm *VM) popFrame() *Frame {
	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.stack) > f.base {
		clear(vm.stack[f.base:])
		vm.stack = vm.stack[:f.base]
	}
	caller := vm.frames[len(vm.frames)-1]
	vm.program = caller.Program
	vm.ip = f.ReturnAddress
	return f
}

func (vm *VM) frame() *Frame {
	return vm.frames[len(vm.frames)-1]
}

// Frames returns the display names of the frame stack, outermost first.
func (vm *VM) Frames() []string {
	names := make([]string, len(vm.frames))
	for i, f := range vm.frames {
		names[i] = f.Name
	}
	return names
}

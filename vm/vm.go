// Package vm executes LUX programs on a stack machine.
//
// A VM runs cooperatively: each Run call executes at most the configured
// budget of instructions and then returns, preserving the instruction
// pointer, the operand stack and the frames exactly. WAIT suspends the
// VM until enough time has been passed to subsequent Run calls. A VM is
// not safe for concurrent use.
package vm

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/tliron/commonlog"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// VM is one running program and the modules it imported.
type VM struct {
	main    *Module
	program *bytecode.Program
	ip      int
	stack   []Value
	frames  []*Frame

	halted bool
	// wait is the suspension time still outstanding; credit is the part
	// of the current Run's delta that WAIT may consume.
	wait   time.Duration
	credit time.Duration
	err    error

	budget      int
	functions   map[string]NativeFunc
	natives     map[string]Value
	resolver    ModuleResolver
	hostClasses map[string]*Class
	hostTypes   map[reflect.Type]*Class
	modules     map[string]*Module
	events      []pendingEvent
	log         commonlog.Logger
}

type pendingEvent struct {
	ref  bytecode.Reference
	args []Value
}

// New prepares p for execution. Host classes are validated here.
func New(p *bytecode.Program, opts ...Option) (*VM, error) {
	if p == nil {
		return nil, errors.New("vm: nil program")
	}
	cfg := config{
		budget:      DefaultBudget,
		functions:   make(map[string]NativeFunc),
		hostClasses: make(map[string]HostClass),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = commonlog.GetLogger("luma.vm")
	}

	vm := &VM{
		program:     p,
		budget:      cfg.budget,
		functions:   cfg.functions,
		natives:     make(map[string]Value),
		resolver:    cfg.resolver,
		hostClasses: make(map[string]*Class),
		hostTypes:   make(map[reflect.Type]*Class),
		modules:     make(map[string]*Module),
		log:         cfg.logger,
		stack:       make([]Value, 0, 64),
	}
	for _, name := range cfg.hostOrder {
		if err := vm.registerHostClass(name, cfg.hostClasses[name]); err != nil {
			return nil, err
		}
	}

	vm.main = newModule(p.ModuleName, p)
	vm.main.loaded = true
	vm.frames = []*Frame{{
		Program: p,
		Locals:  vm.main.Globals,
		Name:    "<main>",
		kind:    frameRoot,
		module:  vm.main,
	}}
	return vm, nil
}

// Run advances the VM by delta of wall-clock time, executing at most the
// budget of instructions. It returns nil when the budget is spent, the
// VM halted or a WAIT suspended it. After a runtime error the VM is
// terminal and every later call returns the same error.
func (vm *VM) Run(delta time.Duration) error {
	if vm.err != nil {
		return vm.err
	}
	vm.credit = delta
	if vm.wait > 0 {
		if delta < vm.wait {
			vm.wait -= delta
			return nil
		}
		vm.credit = delta - vm.wait
		vm.wait = 0
	}

	for executed := 0; executed < vm.budget; executed++ {
		if vm.halted && !vm.startEvent() {
			return nil
		}
		if err := vm.step(); err != nil {
			vm.err = err
			vm.log.Debugf("failed: %s", err)
			return err
		}
		if vm.wait > 0 {
			return nil
		}
	}
	return nil
}

type underflow struct{}

func (vm *VM) step() (err error) {
	prog, addr := vm.program, vm.ip
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(underflow); ok {
				err = newRuntimeError(prog, addr, ErrStackUnderflow)
				return
			}
			err = newRuntimeError(prog, addr, fmt.Errorf("%w: %v", ErrHostPanic, r))
		}
	}()

	if addr < 0 || addr >= len(prog.Instructions) {
		// Falling off the end is an implicit return of null.
		if err := vm.leave(Null); err != nil {
			return newRuntimeError(prog, addr, err)
		}
		return nil
	}
	ins := prog.Instructions[addr]
	vm.ip++
	h := handlers[ins.Op]
	if h == nil {
		return newRuntimeError(prog, addr, fmt.Errorf("%w: unknown opcode 0x%02X", ErrBadArgument, byte(ins.Op)))
	}
	if err := h(vm, ins.Arg); err != nil {
		return newRuntimeError(prog, addr, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	n := len(vm.stack)
	if n == 0 {
		panic(underflow{})
	}
	v := vm.stack[n-1]
	vm.stack[n-1] = Null
	vm.stack = vm.stack[:n-1]
	return v
}

// peek returns the value depth slots below the top; peek(0) is the top.
func (vm *VM) peek(depth int) Value {
	i := len(vm.stack) - 1 - depth
	if i < 0 {
		panic(underflow{})
	}
	return vm.stack[i]
}

// popN pops n values and returns them in push order.
func (vm *VM) popN(n int) []Value {
	if n > len(vm.stack) {
		panic(underflow{})
	}
	start := len(vm.stack) - n
	out := make([]Value, n)
	copy(out, vm.stack[start:])
	clear(vm.stack[start:])
	vm.stack = vm.stack[:start]
	return out
}

// remove deletes the value depth slots below the top.
func (vm *VM) remove(depth int) Value {
	i := len(vm.stack) - 1 - depth
	if i < 0 {
		panic(underflow{})
	}
	v := vm.stack[i]
	copy(vm.stack[i:], vm.stack[i+1:])
	vm.stack[len(vm.stack)-1] = Null
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

// need checks that the current frame has at least n operands, so that a
// handler can validate before it mutates anything.
func (vm *VM) need(n int) error {
	if len(vm.stack)-vm.frame().base < n {
		return ErrStackUnderflow
	}
	return nil
}

// ---------------------------------------------------------------------------
// Halting, returning and events
// ---------------------------------------------------------------------------

func (vm *VM) halt() {
	if !vm.halted {
		vm.log.Debugf("halted %s at %04X", moduleLabel(vm.program), vm.ip)
	}
	vm.halted = true
}

// leave returns v from the current frame.
func (vm *VM) leave(v Value) error {
	f := vm.frame()
	if f.kind == frameRoot {
		vm.halt()
		return nil
	}
	vm.popFrame()
	switch f.kind {
	case frameConstruct:
		if v.IsNull() {
			v, _ = f.this()
		}
		vm.push(v)
	case frameModule:
		vm.finishImport(f.module)
	case frameEvent:
		vm.halted = true
	default:
		vm.push(v)
	}
	return nil
}

// Dispatch queues a call to the event handler named event. Queued events
// run one at a time once the main program has halted.
func (vm *VM) Dispatch(event string, args ...Value) error {
	if vm.err != nil {
		return vm.err
	}
	ref, ok := vm.main.Program.Event(event)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	if ref.NumArgs != len(args) {
		return fmt.Errorf("%w: event %s expects %d arguments, got %d", ErrArity, event, ref.NumArgs, len(args))
	}
	vm.events = append(vm.events, pendingEvent{ref: ref, args: append([]Value(nil), args...)})
	return nil
}

func (vm *VM) startEvent() bool {
	if len(vm.events) == 0 {
		return false
	}
	ev := vm.events[0]
	vm.events[0] = pendingEvent{}
	vm.events = vm.events[1:]

	vm.halted = false
	vm.stack = append(vm.stack, ev.args...)
	vm.pushFrame(&Frame{
		Program: vm.main.Program,
		Name:    "on " + ev.ref.Name,
		kind:    frameEvent,
		module:  vm.main,
	}, ev.ref.Address, len(ev.args))
	vm.log.Debugf("event %s", ev.ref.Name)
	return true
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Halted reports whether the VM stopped and has no queued events.
func (vm *VM) Halted() bool { return vm.halted && len(vm.events) == 0 }

// Waiting reports whether a WAIT is outstanding.
func (vm *VM) Waiting() bool { return vm.wait > 0 }

// IP returns the instruction pointer.
func (vm *VM) IP() int { return vm.ip }

// Program returns the program currently executing.
func (vm *VM) Program() *bytecode.Program { return vm.program }

// Budget returns the instruction budget per Run call.
func (vm *VM) Budget() int { return vm.budget }

// Err returns the error that made the VM terminal, if any.
func (vm *VM) Err() error { return vm.err }

// Stack returns a copy of the operand stack, bottom first.
func (vm *VM) Stack() []Value {
	out := make([]Value, len(vm.stack))
	copy(out, vm.stack)
	return out
}

// FrameDepth returns the number of active frames, the root included.
func (vm *VM) FrameDepth() int { return len(vm.frames) }

// Global returns a top-level binding of the main program.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.main.Globals[name]
	return v, ok
}

// Exports returns the values the main program passed to EXPORT.
func (vm *VM) Exports() *Object { return vm.main.Exports }

// Module returns an imported module.
func (vm *VM) Module(name string) (*Module, bool) {
	m, ok := vm.modules[name]
	return m, ok
}

func moduleLabel(p *bytecode.Program) string {
	if p == nil || p.ModuleName == "" {
		return "<main>"
	}
	return p.ModuleName
}

package vm

import (
	"fmt"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// opImport loads a module and binds its namespace under the module name.
// A module that is not cached yet runs its top-level code in a module
// frame first; the binding happens when that frame finishes.
func opImport(vm *VM, arg bytecode.Arg) error {
	name, err := stringArg("IMPORT", arg)
	if err != nil {
		return err
	}
	if m, ok := vm.modules[name]; ok {
		if !m.loaded {
			return fmt.Errorf("%w: circular import of %s", ErrUnresolvedImport, name)
		}
		vm.bindModule(m)
		return nil
	}
	if vm.resolver == nil {
		return fmt.Errorf("%w: %s (no module resolver)", ErrUnresolvedImport, name)
	}
	p, err := vm.resolver(name)
	if err != nil {
		return fmt.Errorf("import %s: %w", name, err)
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnresolvedImport, name)
	}

	m := newModule(name, p)
	vm.modules[name] = m
	vm.log.Debugf("importing %s", name)
	vm.pushFrame(&Frame{
		Program: p,
		Locals:  m.Globals,
		Name:    "module " + name,
		kind:    frameModule,
		module:  m,
	}, 0, 0)
	return nil
}

func (vm *VM) finishImport(m *Module) {
	m.loaded = true
	vm.bindModule(m)
	vm.log.Debugf("imported %s", m.Name)
}

func (vm *VM) bindModule(m *Module) {
	vm.frame().module.Globals[m.Name] = ObjectValue(m.namespace())
}

// opExport records the value on top of the stack under the name below it
// in the running module's export table.
func opExport(vm *VM, _ bytecode.Arg) error {
	if err := vm.need(2); err != nil {
		return err
	}
	nv := vm.peek(1)
	if nv.Kind() != KindString {
		return typeError("export name must be a string, got %s", nv.TypeName())
	}
	v := vm.pop()
	vm.pop()
	vm.frame().module.Exports.Set(nv.AsString(), v)
	return nil
}

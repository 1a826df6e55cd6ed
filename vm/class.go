package vm

import (
	"reflect"
	"sort"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Class: script and host classes
// ---------------------------------------------------------------------------

// Class is a runtime class. Script classes are created by MAKE_CLASS;
// host classes are created once per VM from registered HostClass
// definitions and carry a dispatch table into native Go objects.
type Class struct {
	Name               string
	Parent             *Class
	ConstructorAddress int
	ParamCount         int
	Program            *bytecode.Program

	methods map[string]*Function
	module  *Module
	host    *hostClass
}

// NewClass creates a script class. parent may be nil.
func NewClass(name string, parent *Class) *Class {
	return &Class{
		Name:    name,
		Parent:  parent,
		methods: make(map[string]*Function),
	}
}

// IsHost reports whether the class is a registered host class.
func (c *Class) IsHost() bool { return c.host != nil }

// SetMethod registers fn in the class's own method table, shadowing any
// inherited method of the same name.
func (c *Class) SetMethod(name string, fn *Function) {
	c.methods[name] = fn
}

// LookupLocal finds a method in this class only.
func (c *Class) LookupLocal(name string) *Function {
	return c.methods[name]
}

// Lookup finds a script method by name, walking the parent chain.
// Returns nil if no class in the chain defines it.
func (c *Class) Lookup(name string) *Function {
	for cls := c; cls != nil; cls = cls.Parent {
		if m := cls.methods[name]; m != nil {
			return m
		}
	}
	return nil
}

// IsSubclassOf returns true if c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Parent {
		if current == other {
			return true
		}
	}
	return false
}

// hostAncestor returns the nearest host class in the chain, including c.
func (c *Class) hostAncestor() *Class {
	for current := c; current != nil; current = current.Parent {
		if current.host != nil {
			return current
		}
	}
	return nil
}

// MethodNames returns the names of the class's own methods, sorted.
func (c *Class) MethodNames() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Instance
// ---------------------------------------------------------------------------

// Instance is an object of a class. Bridged instances additionally hold
// a native Go object whose declared properties and methods are forwarded
// through the host class's dispatch table.
type Instance struct {
	Class  *Class
	Fields *Object

	native reflect.Value
	bridge *hostClass
}

// NewInstance allocates a script instance of c.
func NewInstance(c *Class) *Instance {
	return &Instance{Class: c, Fields: NewObject()}
}

// Native returns the wrapped native object of a bridged instance.
func (i *Instance) Native() (any, bool) {
	if i.bridge == nil {
		return nil, false
	}
	return i.native.Interface(), true
}

func (i *Instance) attach(hc *hostClass, native reflect.Value) {
	i.bridge = hc
	i.native = native
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// Function is a callable value: either compiled code at an address of a
// program, or a host function.
type Function struct {
	Name    string
	Address int
	Arity   int
	Program *bytecode.Program
	// Owner is the class whose method table holds this function.
	Owner  *Class
	Native NativeFunc

	module *Module
}

// IsNative reports whether the function is implemented by the host.
func (f *Function) IsNative() bool { return f.Native != nil }

// ---------------------------------------------------------------------------
// Module
// ---------------------------------------------------------------------------

// Module is one loaded program: its top-level bindings and the values it
// exported.
type Module struct {
	Name    string
	Program *bytecode.Program
	Globals map[string]Value
	Exports *Object

	loaded bool
}

func newModule(name string, p *bytecode.Program) *Module {
	return &Module{
		Name:    name,
		Program: p,
		Globals: make(map[string]Value),
		Exports: NewObject(),
	}
}

// namespace builds the object bound under the module's name in the
// importing scope: exported values, exported variables that were never
// passed to EXPORT, and exported function references.
func (m *Module) namespace() *Object {
	ns := NewObject()
	for _, k := range m.Exports.keys {
		ns.Set(k, m.Exports.fields[k])
	}
	for _, name := range m.Program.Exported.Variables {
		if ns.Has(name) {
			continue
		}
		if v, ok := m.Globals[name]; ok {
			ns.Set(name, v)
		}
	}
	for _, ref := range m.Program.References.Functions {
		if ns.Has(ref.Name) || !m.Program.IsExportedFunction(ref.Name) {
			continue
		}
		ns.Set(ref.Name, FunctionValue(&Function{
			Name:    ref.Name,
			Address: ref.Address,
			Arity:   ref.NumArgs,
			Program: m.Program,
			module:  m,
		}))
	}
	return ns
}

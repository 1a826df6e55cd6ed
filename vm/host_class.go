package vm

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"
)

// HostClass exposes a Go type to scripts.
//
// Constructor must be a func returning *T or (*T, error) where T is a
// struct. Properties name exported fields of T and Methods name methods
// of *T; script names are matched with their first letter upper-cased,
// so the script property "x" forwards to field X.
type HostClass struct {
	Constructor any
	Properties  []string
	Methods     []string
}

// ---------------------------------------------------------------------------
// Dispatch table
// ---------------------------------------------------------------------------

type hostProperty struct {
	get func(vm *VM, native reflect.Value) (Value, error)
	set func(vm *VM, native reflect.Value, v Value) error
}

type hostMethod func(vm *VM, native reflect.Value, args []Value) (Value, error)

// hostClass is the resolved form of a HostClass: every declared name is
// bound to a closure once, at registration.
type hostClass struct {
	name       string
	ctor       reflect.Value
	ctorErr    bool
	goType     reflect.Type // *T
	properties map[string]hostProperty
	methods    map[string]hostMethod
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	valueType = reflect.TypeOf(Value{})
)

func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// compileHostClass validates def and builds its dispatch table.
func compileHostClass(name string, def HostClass) (*hostClass, error) {
	ctor := reflect.ValueOf(def.Constructor)
	if ctor.Kind() != reflect.Func {
		return nil, fmt.Errorf("host class %s: constructor is %T, not a func", name, def.Constructor)
	}
	ct := ctor.Type()
	if ct.NumOut() < 1 || ct.NumOut() > 2 || (ct.NumOut() == 2 && ct.Out(1) != errorType) {
		return nil, fmt.Errorf("host class %s: constructor must return *T or (*T, error)", name)
	}
	goType := ct.Out(0)
	if goType.Kind() != reflect.Pointer || goType.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("host class %s: constructor returns %s, not a struct pointer", name, goType)
	}

	hc := &hostClass{
		name:       name,
		ctor:       ctor,
		ctorErr:    ct.NumOut() == 2,
		goType:     goType,
		properties: make(map[string]hostProperty, len(def.Properties)),
		methods:    make(map[string]hostMethod, len(def.Methods)),
	}

	for _, prop := range def.Properties {
		field, ok := goType.Elem().FieldByName(exportedName(prop))
		if !ok || !field.IsExported() {
			return nil, fmt.Errorf("host class %s: %s has no exported field for property %q", name, goType.Elem(), prop)
		}
		index := field.Index
		fieldType := field.Type
		hc.properties[prop] = hostProperty{
			get: func(vm *VM, native reflect.Value) (Value, error) {
				return vm.FromGo(native.Elem().FieldByIndex(index).Interface())
			},
			set: func(vm *VM, native reflect.Value, v Value) error {
				gv, err := vm.ToGo(v, fieldType)
				if err != nil {
					return fmt.Errorf("property %s: %w", prop, err)
				}
				native.Elem().FieldByIndex(index).Set(gv)
				return nil
			},
		}
	}

	for _, m := range def.Methods {
		method, ok := goType.MethodByName(exportedName(m))
		if !ok {
			return nil, fmt.Errorf("host class %s: %s has no method for %q", name, goType, m)
		}
		hc.methods[m] = bindHostMethod(m, method)
	}
	return hc, nil
}

func bindHostMethod(name string, method reflect.Method) hostMethod {
	mt := method.Type // receiver is In(0)
	return func(vm *VM, native reflect.Value, args []Value) (Value, error) {
		in, err := vm.convertArgs(name, mt, 1, args)
		if err != nil {
			return Null, err
		}
		out := native.Method(method.Index).Call(in)
		return vm.convertResults(name, out)
	}
}

// construct calls the host constructor with script arguments.
func (hc *hostClass) construct(vm *VM, args []Value) (reflect.Value, error) {
	in, err := vm.convertArgs(hc.name, hc.ctor.Type(), 0, args)
	if err != nil {
		return reflect.Value{}, err
	}
	out := hc.ctor.Call(in)
	if hc.ctorErr && !out[1].IsNil() {
		return reflect.Value{}, fmt.Errorf("new %s: %w", hc.name, out[1].Interface().(error))
	}
	if out[0].IsNil() {
		return reflect.Value{}, fmt.Errorf("new %s: constructor returned nil", hc.name)
	}
	return out[0], nil
}

// ---------------------------------------------------------------------------
// Type marshaling: Go <-> script values
// ---------------------------------------------------------------------------

func (vm *VM) convertArgs(name string, ft reflect.Type, skip int, args []Value) ([]reflect.Value, error) {
	want := ft.NumIn() - skip
	if ft.IsVariadic() {
		if len(args) < want-1 {
			return nil, fmt.Errorf("%w: %s expects at least %d arguments, got %d", ErrArity, name, want-1, len(args))
		}
	} else if len(args) != want {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrArity, name, want, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var t reflect.Type
		if ft.IsVariadic() && i >= want-1 {
			t = ft.In(ft.NumIn() - 1).Elem()
		} else {
			t = ft.In(i + skip)
		}
		gv, err := vm.ToGo(arg, t)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", name, i+1, err)
		}
		in[i] = gv
	}
	return in, nil
}

func (vm *VM) convertResults(name string, out []reflect.Value) (Value, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if !out[n-1].IsNil() {
			return Null, fmt.Errorf("%s: %w", name, out[n-1].Interface().(error))
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return Null, nil
	case 1:
		return vm.FromGo(out[0].Interface())
	}
	items := make([]Value, len(out))
	for i, o := range out {
		v, err := vm.FromGo(o.Interface())
		if err != nil {
			return Null, err
		}
		items[i] = v
	}
	return NewArray(items...), nil
}

// FromGo converts a Go value to a script value. Pointers to registered
// host types become bridged instances.
func (vm *VM) FromGo(x any) (Value, error) {
	if x == nil {
		return Null, nil
	}
	if v, ok := x.(Value); ok {
		return v, nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil

	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil

	case reflect.String:
		return String(rv.String()), nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(string(rv.Bytes())), nil
		}
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := vm.FromGo(rv.Index(i).Interface())
			if err != nil {
				return Null, err
			}
			items[i] = item
		}
		return NewArray(items...), nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			item, err := vm.FromGo(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return Null, err
			}
			obj.Set(k, item)
		}
		return ObjectValue(obj), nil

	case reflect.Pointer:
		if rv.IsNil() {
			return Null, nil
		}
		if cls := vm.hostTypes[rv.Type()]; cls != nil {
			inst := NewInstance(cls)
			inst.attach(cls.host, rv)
			return InstanceValue(inst), nil
		}
	}
	return Null, fmt.Errorf("%w: cannot convert Go value of type %T", ErrType, x)
}

// ToGo converts a script value to a Go value of type t.
func (vm *VM) ToGo(v Value, t reflect.Type) (reflect.Value, error) {
	if t == valueType {
		return reflect.ValueOf(v), nil
	}
	mismatch := func() (reflect.Value, error) {
		return reflect.Value{}, fmt.Errorf("%w: cannot use %s as %s", ErrType, v.TypeName(), t)
	}

	switch t.Kind() {
	case reflect.Interface:
		if v.IsNull() {
			return reflect.Zero(t), nil
		}
		x := reflect.ValueOf(v.Interface())
		if !x.Type().AssignableTo(t) {
			return mismatch()
		}
		return x.Convert(t), nil

	case reflect.Bool:
		if v.Kind() != KindBool {
			return mismatch()
		}
		return reflect.ValueOf(v.AsBool()).Convert(t), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v.Kind() != KindNumber || v.AsNumber() != math.Trunc(v.AsNumber()) {
			return mismatch()
		}
		f := v.AsNumber()
		rv := reflect.New(t).Elem()
		if t.Kind() >= reflect.Uint && t.Kind() <= reflect.Uint64 {
			if f < 0 || f >= 1<<64 || rv.OverflowUint(uint64(f)) {
				return mismatch()
			}
			rv.SetUint(uint64(f))
		} else {
			if f < -(1<<63) || f >= 1<<63 || rv.OverflowInt(int64(f)) {
				return mismatch()
			}
			rv.SetInt(int64(f))
		}
		return rv, nil

	case reflect.Float32, reflect.Float64:
		if v.Kind() != KindNumber {
			return mismatch()
		}
		f := v.AsNumber()
		rv := reflect.New(t).Elem()
		if !math.IsInf(f, 0) && rv.OverflowFloat(f) {
			return mismatch()
		}
		rv.SetFloat(f)
		return rv, nil

	case reflect.String:
		if v.Kind() != KindString {
			return mismatch()
		}
		return reflect.ValueOf(v.AsString()).Convert(t), nil

	case reflect.Slice:
		if v.Kind() != KindArray {
			return mismatch()
		}
		items := v.AsArray().Items
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			gv, err := vm.ToGo(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(gv)
		}
		return out, nil

	case reflect.Map:
		if v.Kind() != KindObject || t.Key().Kind() != reflect.String {
			return mismatch()
		}
		obj := v.AsObject()
		out := reflect.MakeMapWithSize(t, obj.Len())
		for _, k := range obj.keys {
			gv, err := vm.ToGo(obj.fields[k], t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), gv)
		}
		return out, nil

	case reflect.Pointer:
		if v.IsNull() {
			return reflect.Zero(t), nil
		}
		if inst := v.AsInstance(); inst != nil && inst.bridge != nil && inst.native.Type().AssignableTo(t) {
			return inst.native, nil
		}
	}
	return mismatch()
}

// ---------------------------------------------------------------------------
// VM-level helpers
// ---------------------------------------------------------------------------

// registerHostClass compiles def and creates the class value that LOAD
// returns for name.
func (vm *VM) registerHostClass(name string, def HostClass) error {
	hc, err := compileHostClass(name, def)
	if err != nil {
		return err
	}
	if _, dup := vm.hostTypes[hc.goType]; dup {
		return fmt.Errorf("host class %s: type %s is already registered", name, hc.goType)
	}
	cls := NewClass(name, nil)
	cls.host = hc
	cls.ParamCount = hc.ctor.Type().NumIn()
	vm.hostClasses[name] = cls
	vm.hostTypes[hc.goType] = cls
	return nil
}

// forwardedProperty finds a declared property of a bridged instance.
func (inst *Instance) forwardedProperty(name string) (hostProperty, bool) {
	if inst.bridge == nil {
		return hostProperty{}, false
	}
	p, ok := inst.bridge.properties[name]
	return p, ok
}

func (inst *Instance) forwardedMethod(name string) (hostMethod, bool) {
	if inst.bridge == nil {
		return nil, false
	}
	m, ok := inst.bridge.methods[name]
	return m, ok
}

// HostClassNames returns the names of the registered host classes.
func (vm *VM) HostClassNames() []string {
	names := make([]string, 0, len(vm.hostClasses))
	for name := range vm.hostClasses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

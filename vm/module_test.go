package vm

import (
	"errors"
	"testing"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

func mathModule() *bytecode.Program {
	p := program(
		ins(bytecode.OpConst, str("pi")),
		ins(bytecode.OpConst, num(3)),
		ins(bytecode.OpExport),
		ins(bytecode.OpConst, str("1.0")),
		ins(bytecode.OpStore, str("version")),
		ins(bytecode.OpConst, str("hidden")), // 5
		ins(bytecode.OpStore, str("secret")),
		ins(bytecode.OpHalt),
		ins(bytecode.OpStore, str("n")), // 8: square(n)
		ins(bytecode.OpLoad, str("n")),
		ins(bytecode.OpLoad, str("n")), // 10
		ins(bytecode.OpMul),
		ins(bytecode.OpRet),
		ins(bytecode.OpLoad, str("version")), // 13: getVersion()
		ins(bytecode.OpRet),
	)
	p.ModuleName = "math"
	p.Exported = bytecode.Exported{
		Functions: []string{"square", "getVersion"},
		Variables: []string{"version"},
	}
	p.References.Functions = []bytecode.Reference{
		{Name: "square", Address: 8, NumArgs: 1},
		{Name: "getVersion", Address: 13},
	}
	return p
}

// mapResolver resolves modules from a map and counts lookups.
type mapResolver struct {
	modules map[string]*bytecode.Program
	calls   int
}

func (r *mapResolver) resolve(name string) (*bytecode.Program, error) {
	r.calls++
	return r.modules[name], nil
}

func TestImportBindsNamespace(t *testing.T) {
	res := &mapResolver{modules: map[string]*bytecode.Program{"math": mathModule()}}
	m, out := newTestVM(t, program(
		ins(bytecode.OpImport, str("math")),
		ins(bytecode.OpLoad, str("math")),
		ins(bytecode.OpConst, str("pi")),
		ins(bytecode.OpGetProp),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop), // 5
		ins(bytecode.OpLoad, str("math")),
		ins(bytecode.OpConst, num(5)),
		ins(bytecode.OpCallMethod, callArgs("square", 1)),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop), // 10
		ins(bytecode.OpLoad, str("math")),
		ins(bytecode.OpConst, str("version")),
		ins(bytecode.OpGetProp),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop), // 15
		ins(bytecode.OpLoad, str("math")),
		ins(bytecode.OpConst, str("secret")),
		ins(bytecode.OpGetProp),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop), // 20
		ins(bytecode.OpLoad, str("math")),
		ins(bytecode.OpCallMethod, callArgs("getVersion", 0)),
		ins(bytecode.OpCall, callArgs("print", 1)),
		ins(bytecode.OpPop),
		ins(bytecode.OpImport, str("math")), // 25
		ins(bytecode.OpHalt),
	), WithResolver(res.resolve))
	runToEnd(t, m)

	assertLines(t, out.lines, "3", "25", "1.0", "null", "1.0")
	if res.calls != 1 {
		t.Errorf("resolver called %d times, want 1", res.calls)
	}
	mod, ok := m.Module("math")
	if !ok {
		t.Fatal("math should be cached")
	}
	if v, _ := mod.Globals["secret"]; v.AsString() != "hidden" {
		t.Errorf("module global secret = %v", v)
	}
	if _, ok := m.Global("secret"); ok {
		t.Error("module globals leaked into the importer")
	}
	if m.FrameDepth() != 1 || len(m.Stack()) != 0 {
		t.Errorf("frames = %v, stack = %v", m.Frames(), m.Stack())
	}
}

func TestImportErrors(t *testing.T) {
	errDisk := errors.New("disk on fire")
	tests := []struct {
		name     string
		resolver ModuleResolver
		want     error
	}{
		{"not found", func(string) (*bytecode.Program, error) { return nil, nil }, ErrUnresolvedImport},
		{"resolver error", func(string) (*bytecode.Program, error) { return nil, errDisk }, errDisk},
		{"circular", func(string) (*bytecode.Program, error) {
			return program(ins(bytecode.OpImport, str("self"))), nil
		}, ErrUnresolvedImport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestVM(t, program(ins(bytecode.OpImport, str("self"))), WithResolver(tt.resolver))
			if err := runUntilHalted(m); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestImportRunsInsideBudget(t *testing.T) {
	mod := program(
		ins(bytecode.OpConst, num(1)),
		ins(bytecode.OpPop),
		ins(bytecode.OpConst, num(2)),
		ins(bytecode.OpPop),
	)
	m, _ := newTestVM(t, program(
		ins(bytecode.OpImport, str("slow")),
		ins(bytecode.OpHalt),
	), WithBudget(2), WithResolver(func(string) (*bytecode.Program, error) { return mod, nil }))

	if err := m.Run(0); err != nil {
		t.Fatal(err)
	}
	if m.FrameDepth() != 2 {
		t.Fatalf("FrameDepth = %d, want 2 while the module runs", m.FrameDepth())
	}
	runToEnd(t, m)
	if v, ok := m.Global("slow"); !ok || v.Kind() != KindObject {
		t.Errorf("slow = %v, want a namespace object", v)
	}
}

func TestExport(t *testing.T) {
	m, _ := newTestVM(t, program(
		ins(bytecode.OpConst, str("answer")),
		ins(bytecode.OpConst, num(42)),
		ins(bytecode.OpExport),
	))
	runToEnd(t, m)
	if v, ok := m.Exports().Get("answer"); !ok || v.AsNumber() != 42 {
		t.Errorf("answer = %v, want 42", v)
	}
}

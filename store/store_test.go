package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

func greeter(module, text string) *bytecode.Program {
	return &bytecode.Program{
		ModuleName: module,
		Source:     "export const text = " + text,
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpConst, Arg: bytecode.Str("text")},
			{Op: bytecode.OpConst, Arg: bytecode.Str(text), Pos: &bytecode.Position{LineStart: 1, ColumnStart: 1, LineEnd: 1, ColumnEnd: 10}},
			{Op: bytecode.OpExport},
			{Op: bytecode.OpHalt},
		},
		Exported: bytecode.Exported{Variables: []string{"text"}},
	}
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "programs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	p := greeter("greet", "hello")
	hash, err := s.Put(ctx, p, true)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	want, _ := bytecode.Fingerprint(p)
	if hash != want {
		t.Errorf("hash = %q, want fingerprint %q", hash, want)
	}
	if p.Hash != "" {
		t.Error("Put should not modify the caller's program")
	}

	got, err := s.Get(ctx, "greet")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ModuleName != "greet" || got.Hash != hash {
		t.Errorf("got module %q hash %q", got.ModuleName, got.Hash)
	}
	if len(got.Instructions) != 4 || got.Instructions[1].Pos == nil {
		t.Errorf("instructions = %v, want 4 with debug positions", got.Instructions)
	}
	if got.Source != p.Source {
		t.Errorf("source = %q, want %q", got.Source, p.Source)
	}
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	first, _ := s.Put(ctx, greeter("greet", "hello"), false)
	second, err := s.Put(ctx, greeter("greet", "goodbye"), false)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("different programs should have different hashes")
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Hash != second || entries[0].Debug {
		t.Errorf("entries = %+v", entries)
	}
}

func TestPutRequiresModuleName(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Put(context.Background(), greeter("", "x"), false); !errors.Is(err, ErrUnnamed) {
		t.Errorf("err = %v, want ErrUnnamed", err)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.Put(ctx, greeter(name, name), false); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Module)
		if e.Size == 0 || e.UpdatedAt.IsZero() {
			t.Errorf("entry %+v is missing size or time", e)
		}
	}
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("modules = %v, want [alpha mid zeta]", names)
	}

	if err := s.Delete(ctx, "mid"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
}

func TestStoreResolver(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if _, err := s.Put(ctx, greeter("greet", "hi"), false); err != nil {
		t.Fatal(err)
	}
	resolve := s.Resolver(ctx)

	p, err := resolve("greet")
	if err != nil || p == nil || p.ModuleName != "greet" {
		t.Errorf("resolve(greet) = %v, %v", p, err)
	}
	p, err = resolve("missing")
	if err != nil || p != nil {
		t.Errorf("resolve(missing) = %v, %v, want nil, nil", p, err)
	}
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	bin, err := bytecode.Encode(greeter("", "binary"), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "both.lux"), bin, 0644); err != nil {
		t.Fatal(err)
	}
	js, err := json.Marshal(greeter("", "json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"both.json", "only.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), js, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.lux"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	resolve := DirResolver(filepath.Join(dir, "absent"), dir)
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"both", "binary", false},
		{"only", "json", false},
		{"missing", "", false},
		{"broken", "", true},
		{"../escape", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := resolve(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want == "" {
				if p != nil {
					t.Errorf("program = %v, want nil", p)
				}
				return
			}
			if p == nil {
				t.Fatal("program = nil")
			}
			if got := p.Instructions[1].Arg.Str; got != tt.want {
				t.Errorf("resolved the %q variant, want %q", got, tt.want)
			}
			if p.ModuleName != tt.name {
				t.Errorf("module name = %q, want %q", p.ModuleName, tt.name)
			}
		})
	}
}

func TestChainResolvers(t *testing.T) {
	errBoom := errors.New("boom")
	a := func(name string) (*bytecode.Program, error) {
		if name == "a" {
			return greeter("a", "from a"), nil
		}
		return nil, nil
	}
	b := func(name string) (*bytecode.Program, error) {
		switch name {
		case "a", "b":
			return greeter(name, "from b"), nil
		case "bad":
			return nil, errBoom
		}
		return nil, nil
	}
	resolve := ChainResolvers(nil, a, b)

	if p, _ := resolve("a"); p == nil || p.Instructions[1].Arg.Str != "from a" {
		t.Errorf("resolve(a) = %v, want the first resolver's program", p)
	}
	if p, _ := resolve("b"); p == nil || p.Instructions[1].Arg.Str != "from b" {
		t.Errorf("resolve(b) = %v", p)
	}
	if _, err := resolve("bad"); !errors.Is(err, errBoom) {
		t.Errorf("resolve(bad) err = %v, want boom", err)
	}
	if p, err := resolve("none"); p != nil || err != nil {
		t.Errorf("resolve(none) = %v, %v", p, err)
	}
}

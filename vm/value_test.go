package vm

import (
	"math"
	"testing"
)

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Null, false},
		{Bool(false), false},
		{Bool(true), true},
		{Number(0), false},
		{Number(math.NaN()), false},
		{Number(-1), true},
		{String(""), false},
		{String("0"), true},
		{NewArray(), true},
		{ObjectValue(NewObject()), true},
	}
	for _, tt := range tests {
		if got := tt.v.Truthy(); got != tt.want {
			t.Errorf("%s (%s).Truthy() = %v, want %v", tt.v, tt.v.Kind(), got, tt.want)
		}
	}
}

func TestEqual(t *testing.T) {
	arr := NewArray(Number(1))
	obj := ObjectValue(NewObject())
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null", Null, Null, true},
		{"numbers", Number(1), Number(1), true},
		{"nan", Number(math.NaN()), Number(math.NaN()), false},
		{"strings", String("a"), String("a"), true},
		{"kinds differ", Number(0), Bool(false), false},
		{"same array", arr, arr, true},
		{"equal arrays", NewArray(Number(1)), NewArray(Number(1)), false},
		{"same object", obj, obj, true},
		{"ranges by bounds", RangeValue(&Range{1, 3}), RangeValue(&Range{1, 3}), true},
		{"ranges differ", RangeValue(&Range{1, 3}), RangeValue(&Range{3, 1}), false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValueString(t *testing.T) {
	obj := NewObject()
	obj.Set("name", String("x"))
	obj.Set("list", NewArray(Number(1), Null, Bool(true)))

	tests := []struct {
		v    Value
		want string
	}{
		{Null, "null"},
		{Number(3), "3"},
		{Number(-0.25), "-0.25"},
		{Number(1e21), "1e+21"},
		{Number(math.Inf(1)), "Infinity"},
		{Number(math.NaN()), "NaN"},
		{String("plain"), "plain"},
		{ObjectValue(obj), `{name: "x", list: [1, null, true]}`},
		{ClassValue(NewClass("Point", nil)), "<class Point>"},
		{InstanceValue(NewInstance(NewClass("Point", nil))), "<Point>"},
		{FunctionValue(&Function{Name: "f"}), "<fn f>"},
		{RangeValue(&Range{Start: 5, End: 1}), "5..1"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestValueStringCycles(t *testing.T) {
	arr := &Array{}
	arr.Items = append(arr.Items, ArrayValue(arr))
	// Must terminate.
	if s := ArrayValue(arr).String(); s == "" {
		t.Error("empty display for a self-referencing array")
	}
}

func TestInterface(t *testing.T) {
	obj := NewObject()
	obj.Set("n", Number(2))
	obj.Set("xs", NewArray(String("a")))
	got := ObjectValue(obj).Interface().(map[string]any)
	if got["n"] != 2.0 {
		t.Errorf("n = %#v", got["n"])
	}
	if xs := got["xs"].([]any); len(xs) != 1 || xs[0] != "a" {
		t.Errorf("xs = %#v", got["xs"])
	}
	if Null.Interface() != nil {
		t.Error("null should convert to nil")
	}
}

func TestObjectOrder(t *testing.T) {
	o := NewObject()
	o.Set("b", Number(1))
	o.Set("a", Number(2))
	o.Set("b", Number(3))
	o.Delete("missing")
	if keys := o.Keys(); len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("Keys = %v, want [b a]", keys)
	}
	if v, _ := o.Get("b"); v.AsNumber() != 3 {
		t.Errorf("b = %v, want 3", v)
	}
	o.Delete("b")
	if o.Has("b") || o.Len() != 1 {
		t.Errorf("after Delete: keys = %v", o.Keys())
	}
}

func TestRange(t *testing.T) {
	tests := []struct {
		r    Range
		len  int
		in   []float64
		out  []float64
		vals []float64
	}{
		{Range{1, 3}, 3, []float64{1, 2, 3}, []float64{0, 1.5, 2.5, 4}, []float64{1, 2, 3}},
		{Range{3, 1}, 3, []float64{1, 3}, []float64{4, 2.5}, []float64{3, 2, 1}},
		{Range{2, 2}, 1, []float64{2}, []float64{1}, []float64{2}},
	}
	for _, tt := range tests {
		if got := tt.r.Len(); got != tt.len {
			t.Errorf("%v.Len() = %d, want %d", tt.r, got, tt.len)
		}
		for _, n := range tt.in {
			if !tt.r.Contains(n) {
				t.Errorf("%v should contain %v", tt.r, n)
			}
		}
		for _, n := range tt.out {
			if tt.r.Contains(n) {
				t.Errorf("%v should not contain %v", tt.r, n)
			}
		}
		r := tt.r
		it, _ := newIterator(RangeValue(&r))
		var got []float64
		for v, ok := it.Next(); ok; v, ok = it.Next() {
			got = append(got, v.AsNumber())
		}
		if len(got) != len(tt.vals) {
			t.Fatalf("%v iterates %v, want %v", tt.r, got, tt.vals)
		}
		for i := range got {
			if got[i] != tt.vals[i] {
				t.Errorf("%v iterates %v, want %v", tt.r, got, tt.vals)
				break
			}
		}
	}
}

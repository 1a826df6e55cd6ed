package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
	KindClass
	KindInstance
	KindFunction
	KindRange
	KindIterator
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "boolean",
	KindNumber:   "number",
	KindString:   "string",
	KindArray:    "array",
	KindObject:   "object",
	KindClass:    "class",
	KindInstance: "instance",
	KindFunction: "function",
	KindRange:    "range",
	KindIterator: "iterator",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a script value. The zero Value is null.
//
// Scalars are stored inline. Arrays, objects, classes, instances,
// functions, ranges and iterators are held by pointer and share identity
// when copied.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	ref  any
}

// Null is the null value.
var Null = Value{}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func ArrayValue(a *Array) Value { return Value{kind: KindArray, ref: a} }
func ObjectValue(o *Object) Value { return Value{kind: KindObject, ref: o} }
func ClassValue(c *Class) Value { return Value{kind: KindClass, ref: c} }
func InstanceValue(i *Instance) Value {
	return Value{kind: KindInstance, ref: i}
}
func FunctionValue(f *Function) Value { return Value{kind: KindFunction, ref: f} }
func RangeValue(r *Range) Value { return Value{kind: KindRange, ref: r} }
func IteratorValue(it *Iterator) Value {
	return Value{kind: KindIterator, ref: it}
}

// NewArray returns an array value holding items.
func NewArray(items ...Value) Value {
	return ArrayValue(&Array{Items: items})
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload. It is false for non-bool values.
func (v Value) AsBool() bool { return v.kind == KindBool && v.b }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() float64 { return v.num }

// AsString returns the string payload.
func (v Value) AsString() string { return v.str }

func (v Value) AsArray() *Array {
	a, _ := v.ref.(*Array)
	return a
}

func (v Value) AsObject() *Object {
	o, _ := v.ref.(*Object)
	return o
}

func (v Value) AsClass() *Class {
	c, _ := v.ref.(*Class)
	return c
}

func (v Value) AsInstance() *Instance {
	i, _ := v.ref.(*Instance)
	return i
}

func (v Value) AsFunction() *Function {
	f, _ := v.ref.(*Function)
	return f
}

func (v Value) AsRange() *Range {
	r, _ := v.ref.(*Range)
	return r
}

func (v Value) AsIterator() *Iterator {
	it, _ := v.ref.(*Iterator)
	return it
}

// Truthy implements the language's truth test: null, false, 0, NaN and
// the empty string are false, everything else is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.str != ""
	case KindArray, KindObject, KindClass, KindInstance, KindFunction, KindRange, KindIterator:
		return true
	}
	return false
}

// Equal compares scalars by value and everything else by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindRange:
		a, b := v.AsRange(), o.AsRange()
		return a == b || (a.Start == b.Start && a.End == b.End)
	case KindArray, KindObject, KindClass, KindInstance, KindFunction, KindIterator:
		return v.ref == o.ref
	}
	return false
}

// TypeName returns the script-visible type name. Instances report their
// class name.
func (v Value) TypeName() string {
	if v.kind == KindInstance {
		if inst := v.AsInstance(); inst != nil && inst.Class != nil {
			return inst.Class.Name
		}
	}
	return v.kind.String()
}

// String returns the display form used by print and string concatenation.
func (v Value) String() string {
	var sb strings.Builder
	v.format(&sb, false, 0)
	return sb.String()
}

const maxFormatDepth = 8

func (v Value) format(sb *strings.Builder, quote bool, depth int) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(FormatNumber(v.num))
	case KindString:
		if quote {
			sb.WriteString(strconv.Quote(v.str))
		} else {
			sb.WriteString(v.str)
		}
	case KindArray:
		if depth > maxFormatDepth {
			sb.WriteString("[...]")
			return
		}
		sb.WriteByte('[')
		for i, item := range v.AsArray().Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.format(sb, true, depth+1)
		}
		sb.WriteByte(']')
	case KindObject:
		if depth > maxFormatDepth {
			sb.WriteString("{...}")
			return
		}
		obj := v.AsObject()
		sb.WriteByte('{')
		for i, k := range obj.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			obj.fields[k].format(sb, true, depth+1)
		}
		sb.WriteByte('}')
	case KindClass:
		fmt.Fprintf(sb, "<class %s>", v.AsClass().Name)
	case KindInstance:
		fmt.Fprintf(sb, "<%s>", v.TypeName())
	case KindFunction:
		fmt.Fprintf(sb, "<fn %s>", v.AsFunction().Name)
	case KindRange:
		r := v.AsRange()
		fmt.Fprintf(sb, "%s..%s", FormatNumber(r.Start), FormatNumber(r.End))
	case KindIterator:
		sb.WriteString("<iterator>")
	}
}

// FormatNumber renders integral numbers without a fractional part.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Interface converts v to a plain Go value: nil, bool, float64, string,
// []any, map[string]any, or the native handle of a bridged instance.
// Other kinds are returned as the Value itself.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindArray:
		items := v.AsArray().Items
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		obj := v.AsObject()
		out := make(map[string]any, obj.Len())
		for _, k := range obj.keys {
			out[k] = obj.fields[k].Interface()
		}
		return out
	case KindInstance:
		if native, ok := v.AsInstance().Native(); ok {
			return native
		}
	}
	return v
}

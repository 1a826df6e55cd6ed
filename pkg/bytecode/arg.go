package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ArgKind identifies the shape of an instruction argument. The numeric
// values double as the argument tags in the binary format.
type ArgKind uint8

const (
	ArgNone   ArgKind = 0
	ArgString ArgKind = 1
	ArgNumber ArgKind = 2
	ArgBool   ArgKind = 3
	ArgArray  ArgKind = 4
	ArgObject ArgKind = 5
	ArgNull   ArgKind = 6
)

func (k ArgKind) String() string {
	switch k {
	case ArgNone:
		return "none"
	case ArgString:
		return "string"
	case ArgNumber:
		return "number"
	case ArgBool:
		return "bool"
	case ArgArray:
		return "array"
	case ArgObject:
		return "object"
	case ArgNull:
		return "null"
	}
	return fmt.Sprintf("ArgKind(%d)", uint8(k))
}

// Arg is an instruction argument. Only the field matching Kind is
// meaningful.
type Arg struct {
	Kind   ArgKind
	Str    string
	Num    float64
	Bool   bool
	Items  []Arg
	Fields []Field
}

// Field is one key/value pair of an object argument. Object arguments
// keep their key order.
type Field struct {
	Key   string
	Value Arg
}

func None() Arg { return Arg{Kind: ArgNone} }
func Null() Arg { return Arg{Kind: ArgNull} }
func Str(s string) Arg { return Arg{Kind: ArgString, Str: s} }
func Num(f float64) Arg { return Arg{Kind: ArgNumber, Num: f} }
func Bool(b bool) Arg { return Arg{Kind: ArgBool, Bool: b} }
func Array(items ...Arg) Arg { return Arg{Kind: ArgArray, Items: items} }

// Object builds an object argument from fields, preserving their order.
func Object(fields ...Field) Arg { return Arg{Kind: ArgObject, Fields: fields} }

// F is shorthand for a Field.
func F(key string, value Arg) Field { return Field{Key: key, Value: value} }

// IsNone reports whether the instruction carries no argument.
func (a Arg) IsNone() bool { return a.Kind == ArgNone }

// Get returns the value of an object field.
func (a Arg) Get(key string) (Arg, bool) {
	if a.Kind != ArgObject {
		return Arg{}, false
	}
	for _, f := range a.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Arg{}, false
}

// Int returns a numeric argument as an int.
func (a Arg) Int() (int, bool) {
	if a.Kind != ArgNumber || a.Num != math.Trunc(a.Num) {
		return 0, false
	}
	return int(a.Num), true
}

// Equal reports deep equality. Numbers compare by bit pattern so that
// round-trip checks are exact.
func (a Arg) Equal(b Arg) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ArgString:
		return a.Str == b.Str
	case ArgNumber:
		return math.Float64bits(a.Num) == math.Float64bits(b.Num)
	case ArgBool:
		return a.Bool == b.Bool
	case ArgArray:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !a.Items[i].Equal(b.Items[i]) {
				return false
			}
		}
		return true
	case ArgObject:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Key != b.Fields[i].Key || !a.Fields[i].Value.Equal(b.Fields[i].Value) {
				return false
			}
		}
		return true
	}
	return true
}

// String renders the argument in the notation used by the disassembler.
func (a Arg) String() string {
	switch a.Kind {
	case ArgNone:
		return ""
	case ArgNull:
		return "null"
	case ArgString:
		return strconv.Quote(a.Str)
	case ArgNumber:
		return strconv.FormatFloat(a.Num, 'g', -1, 64)
	case ArgBool:
		return strconv.FormatBool(a.Bool)
	case ArgArray:
		parts := make([]string, len(a.Items))
		for i, item := range a.Items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ArgObject:
		parts := make([]string, len(a.Fields))
		for i, f := range a.Fields {
			parts[i] = f.Key + ": " + f.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprintf("<%s>", a.Kind)
}

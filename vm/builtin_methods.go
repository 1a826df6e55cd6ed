package vm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type builtin func(recv Value, args []Value) (Value, error)

var builtinMethods = map[Kind]map[string]builtin{
	KindString: {
		"length": func(recv Value, args []Value) (Value, error) {
			return Number(float64(utf8.RuneCountInString(recv.AsString()))), nil
		},
		"upper": func(recv Value, args []Value) (Value, error) {
			return String(cases.Upper(language.Und).String(recv.AsString())), nil
		},
		"lower": func(recv Value, args []Value) (Value, error) {
			return String(cases.Lower(language.Und).String(recv.AsString())), nil
		},
		"trim": func(recv Value, args []Value) (Value, error) {
			return String(strings.TrimSpace(recv.AsString())), nil
		},
		"split": func(recv Value, args []Value) (Value, error) {
			sep, err := stringParam(args, 0)
			if err != nil {
				return Null, err
			}
			parts := strings.Split(recv.AsString(), sep)
			items := make([]Value, len(parts))
			for i, p := range parts {
				items[i] = String(p)
			}
			return NewArray(items...), nil
		},
		"contains": func(recv Value, args []Value) (Value, error) {
			s, err := stringParam(args, 0)
			if err != nil {
				return Null, err
			}
			return Bool(strings.Contains(recv.AsString(), s)), nil
		},
		"startsWith": func(recv Value, args []Value) (Value, error) {
			s, err := stringParam(args, 0)
			if err != nil {
				return Null, err
			}
			return Bool(strings.HasPrefix(recv.AsString(), s)), nil
		},
		"endsWith": func(recv Value, args []Value) (Value, error) {
			s, err := stringParam(args, 0)
			if err != nil {
				return Null, err
			}
			return Bool(strings.HasSuffix(recv.AsString(), s)), nil
		},
		"repeat": func(recv Value, args []Value) (Value, error) {
			n, err := intParam(args, 0)
			if err != nil {
				return Null, err
			}
			if n < 0 {
				return Null, fmt.Errorf("%w: negative repeat count %d", ErrType, n)
			}
			return String(strings.Repeat(recv.AsString(), n)), nil
		},
	},

	KindArray: {
		"length": func(recv Value, args []Value) (Value, error) {
			return Number(float64(len(recv.AsArray().Items))), nil
		},
		"push": func(recv Value, args []Value) (Value, error) {
			arr := recv.AsArray()
			arr.Items = append(arr.Items, args...)
			return Number(float64(len(arr.Items))), nil
		},
		"pop": func(recv Value, args []Value) (Value, error) {
			arr := recv.AsArray()
			if len(arr.Items) == 0 {
				return Null, nil
			}
			v := arr.Items[len(arr.Items)-1]
			arr.Items = arr.Items[:len(arr.Items)-1]
			return v, nil
		},
		"join": func(recv Value, args []Value) (Value, error) {
			sep := ","
			if len(args) > 0 {
				s, err := stringParam(args, 0)
				if err != nil {
					return Null, err
				}
				sep = s
			}
			parts := make([]string, len(recv.AsArray().Items))
			for i, item := range recv.AsArray().Items {
				parts[i] = item.String()
			}
			return String(strings.Join(parts, sep)), nil
		},
		"contains": func(recv Value, args []Value) (Value, error) {
			if len(args) != 1 {
				return Null, fmt.Errorf("%w: expects 1 argument, got %d", ErrArity, len(args))
			}
			found, _ := contains(recv, args[0])
			return Bool(found), nil
		},
		"indexOf": func(recv Value, args []Value) (Value, error) {
			if len(args) != 1 {
				return Null, fmt.Errorf("%w: expects 1 argument, got %d", ErrArity, len(args))
			}
			for i, item := range recv.AsArray().Items {
				if item.Equal(args[0]) {
					return Number(float64(i)), nil
				}
			}
			return Number(-1), nil
		},
		"reverse": func(recv Value, args []Value) (Value, error) {
			items := recv.AsArray().Items
			for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
				items[i], items[j] = items[j], items[i]
			}
			return recv, nil
		},
		"slice": func(recv Value, args []Value) (Value, error) {
			items := recv.AsArray().Items
			start, end, err := sliceBounds(args, len(items))
			if err != nil {
				return Null, err
			}
			out := make([]Value, end-start)
			copy(out, items[start:end])
			return NewArray(out...), nil
		},
	},

	KindObject: {
		"length": func(recv Value, args []Value) (Value, error) {
			return Number(float64(recv.AsObject().Len())), nil
		},
		"keys": func(recv Value, args []Value) (Value, error) {
			keys := recv.AsObject().Keys()
			items := make([]Value, len(keys))
			for i, k := range keys {
				items[i] = String(k)
			}
			return NewArray(items...), nil
		},
		"values": func(recv Value, args []Value) (Value, error) {
			obj := recv.AsObject()
			items := make([]Value, 0, obj.Len())
			for _, k := range obj.keys {
				items = append(items, obj.fields[k])
			}
			return NewArray(items...), nil
		},
		"has": func(recv Value, args []Value) (Value, error) {
			k, err := stringParam(args, 0)
			if err != nil {
				return Null, err
			}
			return Bool(recv.AsObject().Has(k)), nil
		},
		"remove": func(recv Value, args []Value) (Value, error) {
			k, err := stringParam(args, 0)
			if err != nil {
				return Null, err
			}
			v, _ := recv.AsObject().Get(k)
			recv.AsObject().Delete(k)
			return v, nil
		},
	},

	KindRange: {
		"length": func(recv Value, args []Value) (Value, error) {
			return Number(float64(recv.AsRange().Len())), nil
		},
		"contains": func(recv Value, args []Value) (Value, error) {
			if len(args) != 1 {
				return Null, fmt.Errorf("%w: expects 1 argument, got %d", ErrArity, len(args))
			}
			found, _ := contains(recv, args[0])
			return Bool(found), nil
		},
		"toArray": func(recv Value, args []Value) (Value, error) {
			it, _ := newIterator(recv)
			var items []Value
			for v, ok := it.Next(); ok; v, ok = it.Next() {
				items = append(items, v)
			}
			return NewArray(items...), nil
		},
	},
}

func builtinMethod(kind Kind, name string) (builtin, bool) {
	m, ok := builtinMethods[kind][name]
	return m, ok
}

func stringParam(args []Value, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", ErrArity, i+1)
	}
	if args[i].Kind() != KindString {
		return "", typeError("argument %d must be a string, got %s", i+1, args[i].TypeName())
	}
	return args[i].AsString(), nil
}

func intParam(args []Value, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrArity, i+1)
	}
	n, ok := index(args[i])
	if !ok {
		return 0, typeError("argument %d must be an integer, got %s", i+1, args[i].TypeName())
	}
	return n, nil
}

// sliceBounds clamps optional [start, end) arguments to [0, n].
func sliceBounds(args []Value, n int) (int, int, error) {
	start, end := 0, n
	if len(args) > 0 {
		s, err := intParam(args, 0)
		if err != nil {
			return 0, 0, err
		}
		start = s
	}
	if len(args) > 1 {
		e, err := intParam(args, 1)
		if err != nil {
			return 0, 0, err
		}
		end = e
	}
	if start < 0 {
		start = max(n+start, 0)
	}
	if end < 0 {
		end = max(n+end, 0)
	}
	start, end = min(start, n), min(end, n)
	if end < start {
		end = start
	}
	return start, end, nil
}

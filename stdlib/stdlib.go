// Package stdlib provides the host functions every Luma script can call.
package stdlib

import (
	"container/list"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/haroldiedema/luma-language/vm"
)

// Functions returns the standard library keyed by script name. The map is
// fresh on every call and may be extended by the caller.
func Functions() map[string]vm.NativeFunc {
	return map[string]vm.NativeFunc{
		"len":     length,
		"str":     str,
		"num":     num,
		"type":    typeOf,
		"keys":    keys,
		"floor":   unaryMath("floor", math.Floor),
		"abs":     unaryMath("abs", math.Abs),
		"min":     extreme("min", math.Min),
		"max":     extreme("max", math.Max),
		"upper":   caser("upper", func(string) cases.Caser { return cases.Upper(language.Und) }),
		"lower":   caser("lower", func(string) cases.Caser { return cases.Lower(language.Und) }),
		"title":   caser("title", func(tag string) cases.Caser { return cases.Title(language.Make(tag)) }),
		"match":   match,
		"replace": replace,
		"find":    find,
	}
}

func arity(name string, args []vm.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: %s expects %d arguments, got %d", vm.ErrArity, name, n, len(args))
	}
	return nil
}

func wantString(name string, v vm.Value) (string, error) {
	if v.Kind() != vm.KindString {
		return "", fmt.Errorf("%w: %s expects a string, got %s", vm.ErrType, name, v.TypeName())
	}
	return v.AsString(), nil
}

func wantNumber(name string, v vm.Value) (float64, error) {
	if v.Kind() != vm.KindNumber {
		return 0, fmt.Errorf("%w: %s expects a number, got %s", vm.ErrType, name, v.TypeName())
	}
	return v.AsNumber(), nil
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func length(args []vm.Value) (vm.Value, error) {
	if err := arity("len", args, 1); err != nil {
		return vm.Null, err
	}
	switch v := args[0]; v.Kind() {
	case vm.KindString:
		return vm.Number(float64(utf8.RuneCountInString(v.AsString()))), nil
	case vm.KindArray:
		return vm.Number(float64(len(v.AsArray().Items))), nil
	case vm.KindObject:
		return vm.Number(float64(v.AsObject().Len())), nil
	case vm.KindRange:
		return vm.Number(float64(v.AsRange().Len())), nil
	default:
		return vm.Null, fmt.Errorf("%w: len of %s", vm.ErrType, v.TypeName())
	}
}

func str(args []vm.Value) (vm.Value, error) {
	if err := arity("str", args, 1); err != nil {
		return vm.Null, err
	}
	return vm.String(args[0].String()), nil
}

// num converts strings, booleans and null to numbers.
func num(args []vm.Value) (vm.Value, error) {
	if err := arity("num", args, 1); err != nil {
		return vm.Null, err
	}
	switch v := args[0]; v.Kind() {
	case vm.KindNumber:
		return v, nil
	case vm.KindNull:
		return vm.Number(0), nil
	case vm.KindBool:
		if v.AsBool() {
			return vm.Number(1), nil
		}
		return vm.Number(0), nil
	case vm.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.AsString()), 64)
		if err != nil {
			return vm.Null, fmt.Errorf("%w: cannot convert %q to a number", vm.ErrType, v.AsString())
		}
		return vm.Number(f), nil
	default:
		return vm.Null, fmt.Errorf("%w: cannot convert %s to a number", vm.ErrType, v.TypeName())
	}
}

func typeOf(args []vm.Value) (vm.Value, error) {
	if err := arity("type", args, 1); err != nil {
		return vm.Null, err
	}
	return vm.String(args[0].TypeName()), nil
}

func keys(args []vm.Value) (vm.Value, error) {
	if err := arity("keys", args, 1); err != nil {
		return vm.Null, err
	}
	var names []string
	switch v := args[0]; v.Kind() {
	case vm.KindObject:
		names = v.AsObject().Keys()
	case vm.KindInstance:
		names = v.AsInstance().Fields.Keys()
	default:
		return vm.Null, fmt.Errorf("%w: keys of %s", vm.ErrType, v.TypeName())
	}
	items := make([]vm.Value, len(names))
	for i, n := range names {
		items[i] = vm.String(n)
	}
	return vm.NewArray(items...), nil
}

// ---------------------------------------------------------------------------
// Math
// ---------------------------------------------------------------------------

func unaryMath(name string, fn func(float64) float64) vm.NativeFunc {
	return func(args []vm.Value) (vm.Value, error) {
		if err := arity(name, args, 1); err != nil {
			return vm.Null, err
		}
		n, err := wantNumber(name, args[0])
		if err != nil {
			return vm.Null, err
		}
		return vm.Number(fn(n)), nil
	}
}

// extreme folds its arguments, or the items of a single array argument.
func extreme(name string, pick func(a, b float64) float64) vm.NativeFunc {
	return func(args []vm.Value) (vm.Value, error) {
		if len(args) == 1 && args[0].Kind() == vm.KindArray {
			args = args[0].AsArray().Items
		}
		if len(args) == 0 {
			return vm.Null, fmt.Errorf("%w: %s expects at least one number", vm.ErrArity, name)
		}
		best, err := wantNumber(name, args[0])
		if err != nil {
			return vm.Null, err
		}
		for _, a := range args[1:] {
			n, err := wantNumber(name, a)
			if err != nil {
				return vm.Null, err
			}
			best = pick(best, n)
		}
		return vm.Number(best), nil
	}
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// caser applies a case mapping. An optional second argument names the
// BCP 47 language whose rules apply.
func caser(name string, mapping func(tag string) cases.Caser) vm.NativeFunc {
	return func(args []vm.Value) (vm.Value, error) {
		if len(args) < 1 || len(args) > 2 {
			return vm.Null, fmt.Errorf("%w: %s expects 1 or 2 arguments, got %d", vm.ErrArity, name, len(args))
		}
		s, err := wantString(name, args[0])
		if err != nil {
			return vm.Null, err
		}
		tag := "und"
		if len(args) == 2 {
			if tag, err = wantString(name, args[1]); err != nil {
				return vm.Null, err
			}
		}
		return vm.String(mapping(tag).String(s)), nil
	}
}

// MatchTimeout bounds a single regular expression evaluation. A script
// pattern that backtracks past it fails the call instead of stalling the
// host.
var MatchTimeout = 250 * time.Millisecond

// patternCacheSize bounds the compiled pattern cache shared by every VM.
const patternCacheSize = 256

var patterns = newPatternCache(patternCacheSize)

// patternCache is a least recently used cache of compiled patterns.
type patternCache struct {
	mu    sync.Mutex
	max   int
	order *list.List // front is most recent; values are *cachedPattern
	index map[string]*list.Element
}

type cachedPattern struct {
	source string
	re     *regexp2.Regexp
}

func newPatternCache(max int) *patternCache {
	return &patternCache{max: max, order: list.New(), index: make(map[string]*list.Element)}
}

func (c *patternCache) get(source string) (*regexp2.Regexp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[source]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cachedPattern).re, true
}

func (c *patternCache) put(source string, re *regexp2.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[source]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cachedPattern).re = re
		return
	}
	c.index[source] = c.order.PushFront(&cachedPattern{source: source, re: re})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*cachedPattern).source)
	}
}

func (c *patternCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func compile(pattern string) (*regexp2.Regexp, error) {
	if re, ok := patterns.get(pattern); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = MatchTimeout
	patterns.put(pattern, re)
	return re, nil
}

func subjectAndPattern(name string, args []vm.Value, n int) (string, *regexp2.Regexp, error) {
	if err := arity(name, args, n); err != nil {
		return "", nil, err
	}
	s, err := wantString(name, args[0])
	if err != nil {
		return "", nil, err
	}
	p, err := wantString(name, args[1])
	if err != nil {
		return "", nil, err
	}
	re, err := compile(p)
	if err != nil {
		return "", nil, err
	}
	return s, re, nil
}

func match(args []vm.Value) (vm.Value, error) {
	s, re, err := subjectAndPattern("match", args, 2)
	if err != nil {
		return vm.Null, err
	}
	ok, err := re.MatchString(s)
	if err != nil {
		return vm.Null, matchFailed("match", err)
	}
	return vm.Bool(ok), nil
}

// replace substitutes every match. The replacement may refer to groups
// as $1 or ${name}.
func replace(args []vm.Value) (vm.Value, error) {
	s, re, err := subjectAndPattern("replace", args, 3)
	if err != nil {
		return vm.Null, err
	}
	repl, err := wantString("replace", args[2])
	if err != nil {
		return vm.Null, err
	}
	out, err := re.Replace(s, repl, -1, -1)
	if err != nil {
		return vm.Null, matchFailed("replace", err)
	}
	return vm.String(out), nil
}

// find returns the first match and its groups, or null.
func find(args []vm.Value) (vm.Value, error) {
	s, re, err := subjectAndPattern("find", args, 2)
	if err != nil {
		return vm.Null, err
	}
	m, err := re.FindStringMatch(s)
	if err != nil {
		return vm.Null, matchFailed("find", err)
	}
	if m == nil {
		return vm.Null, nil
	}
	groups := m.Groups()
	items := make([]vm.Value, len(groups))
	for i, g := range groups {
		if len(g.Captures) == 0 {
			items[i] = vm.Null
			continue
		}
		items[i] = vm.String(g.String())
	}
	return vm.NewArray(items...), nil
}

func matchFailed(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}

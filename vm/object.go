package vm

import (
	"math"
	"unicode/utf8"
)

// Array is a mutable, shared list of values.
type Array struct {
	Items []Value
}

// Object is a string-keyed map that remembers insertion order.
type Object struct {
	keys   []string
	fields map[string]Value
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.fields[key]
	return v, ok
}

func (o *Object) Has(key string) bool {
	_, ok := o.fields[key]
	return ok
}

func (o *Object) Set(key string, v Value) {
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
}

func (o *Object) Delete(key string) {
	if _, ok := o.fields[key]; !ok {
		return
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) Len() int { return len(o.keys) }

// Range is an inclusive integer range. It counts down when Start > End.
type Range struct {
	Start float64
	End   float64
}

func (r *Range) step() float64 {
	if r.Start > r.End {
		return -1
	}
	return 1
}

// Len returns the number of values the range produces.
func (r *Range) Len() int {
	return int(math.Abs(r.End-r.Start)) + 1
}

// Contains reports whether the range produces n: an integer between the
// bounds, inclusive.
func (r *Range) Contains(n float64) bool {
	if n != math.Trunc(n) {
		return false
	}
	lo, hi := math.Min(r.Start, r.End), math.Max(r.Start, r.End)
	return n >= lo && n <= hi
}

// Iterator walks an array snapshot, a range, the characters of a string
// or the keys of an object.
type Iterator struct {
	items []Value
	rng   *Range
	pos   int
}

func newIterator(v Value) (*Iterator, bool) {
	switch v.Kind() {
	case KindArray:
		items := v.AsArray().Items
		snapshot := make([]Value, len(items))
		copy(snapshot, items)
		return &Iterator{items: snapshot}, true
	case KindRange:
		return &Iterator{rng: v.AsRange()}, true
	case KindString:
		s := v.AsString()
		items := make([]Value, 0, utf8.RuneCountInString(s))
		for _, r := range s {
			items = append(items, String(string(r)))
		}
		return &Iterator{items: items}, true
	case KindObject:
		keys := v.AsObject().Keys()
		items := make([]Value, len(keys))
		for i, k := range keys {
			items[i] = String(k)
		}
		return &Iterator{items: items}, true
	case KindIterator:
		return v.AsIterator(), true
	}
	return nil, false
}

// Next returns the next value, or false once the iterator is exhausted.
func (it *Iterator) Next() (Value, bool) {
	if it.rng != nil {
		if it.pos >= it.rng.Len() {
			return Null, false
		}
		v := it.rng.Start + float64(it.pos)*it.rng.step()
		it.pos++
		return Number(v), true
	}
	if it.pos >= len(it.items) {
		return Null, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

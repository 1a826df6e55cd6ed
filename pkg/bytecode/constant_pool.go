package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// ConstantKind is the type tag of a pooled constant. Values match the
// tags written in the constants section.
type ConstantKind uint8

const (
	ConstNumber ConstantKind = 1
	ConstString ConstantKind = 2
)

// Constant is a pooled scalar.
type Constant struct {
	Kind ConstantKind
	Num  float64
	Str  string
}

func NumberConstant(f float64) Constant { return Constant{Kind: ConstNumber, Num: f} }
func StringConstant(s string) Constant { return Constant{Kind: ConstString, Str: s} }

func (c Constant) String() string {
	if c.Kind == ConstNumber {
		return strconv.FormatFloat(c.Num, 'g', -1, 64)
	}
	return strconv.Quote(c.Str)
}

// constKey identifies a constant by kind and exact bit pattern.
type constKey struct {
	kind ConstantKind
	bits uint64
	str  string
}

func keyOf(c Constant) constKey {
	if c.Kind == ConstNumber {
		return constKey{kind: ConstNumber, bits: math.Float64bits(c.Num)}
	}
	return constKey{kind: ConstString, str: c.Str}
}

// ConstantPool is a bidirectional mapping between constants and dense
// ids starting at 0.
type ConstantPool struct {
	values []Constant
	ids    map[constKey]uint16
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{ids: make(map[constKey]uint16)}
}

// ConstantPoolFromProgram builds the pool for p. Ids follow walk order:
// instruction arguments, exported functions, exported variables,
// function reference names, event reference names.
func ConstantPoolFromProgram(p *Program) (*ConstantPool, error) {
	pool := NewConstantPool()
	var err error
	add := func(c Constant) {
		if err == nil {
			_, err = pool.Add(c, false)
		}
	}
	var walk func(a Arg)
	walk = func(a Arg) {
		switch a.Kind {
		case ArgString:
			add(StringConstant(a.Str))
		case ArgNumber:
			add(NumberConstant(a.Num))
		case ArgArray:
			for _, item := range a.Items {
				walk(item)
			}
		case ArgObject:
			for _, f := range a.Fields {
				add(StringConstant(f.Key))
				walk(f.Value)
			}
		}
	}
	for _, ins := range p.Instructions {
		walk(ins.Arg)
	}
	for _, name := range p.Exported.Functions {
		add(StringConstant(name))
	}
	for _, name := range p.Exported.Variables {
		add(StringConstant(name))
	}
	for _, r := range p.References.Functions {
		add(StringConstant(r.Name))
	}
	for _, r := range p.References.Events {
		add(StringConstant(r.Name))
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Add inserts c and returns its id. Unless force is set an equal
// constant already in the pool is reused.
func (p *ConstantPool) Add(c Constant, force bool) (uint16, error) {
	key := keyOf(c)
	if !force {
		if id, ok := p.ids[key]; ok {
			return id, nil
		}
	}
	if len(p.values) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: more than %d constants", ErrTooLarge, math.MaxUint16+1)
	}
	id := uint16(len(p.values))
	p.values = append(p.values, c)
	if _, exists := p.ids[key]; !exists {
		p.ids[key] = id
	}
	return id, nil
}

// ID returns the id of c. A constant absent from the pool is an error.
func (p *ConstantPool) ID(c Constant) (uint16, error) {
	id, ok := p.ids[keyOf(c)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrConstantMissing, c)
	}
	return id, nil
}

// Value returns the constant stored under id.
func (p *ConstantPool) Value(id uint16) (Constant, error) {
	if int(id) >= len(p.values) {
		return Constant{}, fmt.Errorf("%w: id %d out of range (pool size %d)", ErrConstantMissing, id, len(p.values))
	}
	return p.values[id], nil
}

// Len returns the number of slots in the pool.
func (p *ConstantPool) Len() int { return len(p.values) }

// Constants returns the pool contents in id order.
func (p *ConstantPool) Constants() []Constant {
	out := make([]Constant, len(p.values))
	copy(out, p.values)
	return out
}

package bytecode

import (
	"bytes"
	"encoding/binary"
	"math"
)

// maxArgDepth bounds nesting of array and object arguments.
const maxArgDepth = 64

// Reader decodes a LUX binary.
type Reader struct {
	data  []byte
	pos   int
	debug bool
	pool  *ConstantPool
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Decode parses a LUX binary. It never returns a partial program.
func Decode(data []byte) (*Program, error) {
	return NewReader(data).Read()
}

// Debug reports whether the decoded binary carried debug metadata.
func (r *Reader) Debug() bool { return r.debug }

// Read decodes the whole binary.
func (r *Reader) Read() (*Program, error) {
	r.pos = 0
	r.pool = NewConstantPool()
	p := &Program{}

	if len(r.data) < len(Magic) || !bytes.Equal(r.data[:len(Magic)], Magic) {
		return nil, corrupt(0, ErrInvalidMagic, "invalid magic, expected %q", Magic)
	}
	r.pos = len(Magic)

	version, err := r.readByte("version")
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, corrupt(r.pos-1, ErrUnsupportedVersion, "unsupported version %d (expected %d)", version, Version)
	}
	flag, err := r.readByte("debug flag")
	if err != nil {
		return nil, err
	}
	switch flag {
	case 0:
	case 1:
		r.debug = true
	default:
		return nil, corrupt(r.pos-1, ErrUnknownTag, "invalid debug flag %d", flag)
	}
	if p.ModuleName, err = r.readShortString("module name"); err != nil {
		return nil, err
	}
	if p.Hash, err = r.readShortString("hash"); err != nil {
		return nil, err
	}

	if err := r.readConstants(); err != nil {
		return nil, err
	}
	if p.Exported.Functions, err = r.readNameList("exported functions"); err != nil {
		return nil, err
	}
	if p.Exported.Variables, err = r.readNameList("exported variables"); err != nil {
		return nil, err
	}
	if p.References.Functions, err = r.readReferences("function references"); err != nil {
		return nil, err
	}
	if p.References.Events, err = r.readReferences("event references"); err != nil {
		return nil, err
	}
	if p.Instructions, err = r.readInstructions(); err != nil {
		return nil, err
	}

	sourceStart := r.pos
	source, err := r.readString("source")
	if err != nil {
		return nil, err
	}
	if !r.debug && source != "" {
		return nil, corrupt(sourceStart, ErrTruncated, "source present in non-debug binary")
	}
	p.Source = source

	if r.pos != len(r.data) {
		return nil, corrupt(r.pos, ErrTruncated, "%d trailing bytes", len(r.data)-r.pos)
	}
	return p, nil
}

func (r *Reader) readConstants() error {
	count, err := r.readUint16("constant count")
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		tagPos := r.pos
		tag, err := r.readByte("constant tag")
		if err != nil {
			return err
		}
		var c Constant
		switch ConstantKind(tag) {
		case ConstNumber:
			bits, err := r.readUint64("number constant")
			if err != nil {
				return err
			}
			c = NumberConstant(math.Float64frombits(bits))
		case ConstString:
			s, err := r.readString("string constant")
			if err != nil {
				return err
			}
			c = StringConstant(s)
		default:
			return corrupt(tagPos, ErrUnknownTag, "unknown constant type tag %d", tag)
		}
		if _, err := r.pool.Add(c, true); err != nil {
			return corrupt(tagPos, err, "constant %d", i)
		}
	}
	return nil
}

func (r *Reader) readNameList(what string) ([]string, error) {
	count, err := r.readUint16(what + " count")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		name, err := r.readStringID(what)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (r *Reader) readReferences(what string) ([]Reference, error) {
	count, err := r.readUint16(what + " count")
	if err != nil {
		return nil, err
	}
	refs := make([]Reference, 0, count)
	for i := 0; i < int(count); i++ {
		name, err := r.readStringID(what)
		if err != nil {
			return nil, err
		}
		addr, err := r.readUint16(what + " address")
		if err != nil {
			return nil, err
		}
		args, err := r.readByte(what + " arity")
		if err != nil {
			return nil, err
		}
		refs = append(refs, Reference{Name: name, Address: int(addr), NumArgs: int(args)})
	}
	return refs, nil
}

func (r *Reader) readInstructions() ([]Instruction, error) {
	count, err := r.readUint16("instruction count")
	if err != nil {
		return nil, err
	}
	code := make([]Instruction, 0, count)
	for i := 0; i < int(count); i++ {
		opPos := r.pos
		b, err := r.readByte("opcode")
		if err != nil {
			return nil, err
		}
		op := Opcode(b)
		if !op.Valid() {
			return nil, corrupt(opPos, ErrUnknownOpcode, "unknown opcode 0x%02X", b)
		}
		arg, err := r.readArg(0)
		if err != nil {
			return nil, err
		}
		ins := Instruction{Op: op, Arg: arg}
		if r.debug {
			if err := r.readDebugInfo(&ins); err != nil {
				return nil, err
			}
		}
		code = append(code, ins)
	}
	return code, nil
}

func (r *Reader) readDebugInfo(ins *Instruction) error {
	flagPos := r.pos
	hasPos, err := r.readByte("position flag")
	if err != nil {
		return err
	}
	switch hasPos {
	case 0:
	case 1:
		var span [4]int
		for j := range span {
			n, err := r.readUint16("position")
			if err != nil {
				return err
			}
			span[j] = int(n)
		}
		ins.Pos = &Position{LineStart: span[0], ColumnStart: span[1], LineEnd: span[2], ColumnEnd: span[3]}
	default:
		return corrupt(flagPos, ErrUnknownTag, "invalid position flag %d", hasPos)
	}
	lenPos := r.pos
	n, err := r.readUint16("comment length")
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	comment, err := r.readString("comment")
	if err != nil {
		return err
	}
	if len(comment) != int(n) {
		return corrupt(lenPos, ErrTruncated, "comment length %d does not match %d", n, len(comment))
	}
	ins.Comment = comment
	return nil
}

func (r *Reader) readArg(depth int) (Arg, error) {
	tagPos := r.pos
	tag, err := r.readByte("argument tag")
	if err != nil {
		return Arg{}, err
	}
	if depth > maxArgDepth {
		return Arg{}, corrupt(tagPos, ErrTruncated, "argument nested deeper than %d", maxArgDepth)
	}
	switch ArgKind(tag) {
	case ArgNone:
		return None(), nil
	case ArgNull:
		return Null(), nil
	case ArgString:
		s, err := r.readStringID("string argument")
		if err != nil {
			return Arg{}, err
		}
		return Str(s), nil
	case ArgNumber:
		idPos := r.pos
		id, err := r.readUint16("number argument")
		if err != nil {
			return Arg{}, err
		}
		c, err := r.pool.Value(id)
		if err != nil || c.Kind != ConstNumber {
			return Arg{}, corrupt(idPos, ErrBadConstant, "constant %d is not a number", id)
		}
		return Num(c.Num), nil
	case ArgBool:
		b, err := r.readByte("bool argument")
		if err != nil {
			return Arg{}, err
		}
		if b > 1 {
			return Arg{}, corrupt(r.pos-1, ErrUnknownTag, "invalid bool %d", b)
		}
		return Bool(b == 1), nil
	case ArgArray:
		n, err := r.readUint16("array length")
		if err != nil {
			return Arg{}, err
		}
		items := make([]Arg, 0, n)
		for i := 0; i < int(n); i++ {
			item, err := r.readArg(depth + 1)
			if err != nil {
				return Arg{}, err
			}
			items = append(items, item)
		}
		return Array(items...), nil
	case ArgObject:
		n, err := r.readUint16("object size")
		if err != nil {
			return Arg{}, err
		}
		fields := make([]Field, 0, n)
		for i := 0; i < int(n); i++ {
			keyPos := r.pos
			key, err := r.readArg(depth + 1)
			if err != nil {
				return Arg{}, err
			}
			if key.Kind != ArgString {
				return Arg{}, corrupt(keyPos, ErrUnknownTag, "object key has tag %d", key.Kind)
			}
			value, err := r.readArg(depth + 1)
			if err != nil {
				return Arg{}, err
			}
			fields = append(fields, Field{Key: key.Str, Value: value})
		}
		return Object(fields...), nil
	}
	return Arg{}, corrupt(tagPos, ErrUnknownTag, "unknown argument tag %d", tag)
}

func (r *Reader) readStringID(what string) (string, error) {
	idPos := r.pos
	id, err := r.readUint16(what)
	if err != nil {
		return "", err
	}
	c, err := r.pool.Value(id)
	if err != nil || c.Kind != ConstString {
		return "", corrupt(idPos, ErrBadConstant, "%s: constant %d is not a string", what, id)
	}
	return c.Str, nil
}

// readShortString reads a u8 length and, when non-zero, a string of
// exactly that many bytes.
func (r *Reader) readShortString(what string) (string, error) {
	lenPos := r.pos
	n, err := r.readByte(what + " length")
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	s, err := r.readString(what)
	if err != nil {
		return "", err
	}
	if len(s) != int(n) {
		return "", corrupt(lenPos, ErrTruncated, "%s length %d does not match %d", what, n, len(s))
	}
	return s, nil
}

func (r *Reader) readString(what string) (string, error) {
	n, err := r.readUint32(what + " length")
	if err != nil {
		return "", err
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.data)) {
		return "", corrupt(r.pos, ErrTruncated, "unexpected end of data reading %s (%d bytes)", what, n)
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *Reader) readByte(what string) (byte, error) {
	if r.pos >= len(r.data) {
		return 0, corrupt(r.pos, ErrTruncated, "unexpected end of data reading %s", what)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) readUint16(what string) (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, corrupt(r.pos, ErrTruncated, "unexpected end of data reading %s", what)
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) readUint32(what string) (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, corrupt(r.pos, ErrTruncated, "unexpected end of data reading %s", what)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) readUint64(what string) (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, corrupt(r.pos, ErrTruncated, "unexpected end of data reading %s", what)
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

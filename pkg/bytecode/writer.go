package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer serializes a Program into the LUX format.
type Writer struct {
	buf   []byte
	pool  *ConstantPool
	debug bool
}

// Encode serializes p. When debug is set, instruction positions and
// comments and the program source are included.
func Encode(p *Program, debug bool) ([]byte, error) {
	w := &Writer{debug: debug}
	return w.Write(p)
}

// NewWriter returns a Writer that includes debug metadata when debug is set.
func NewWriter(debug bool) *Writer {
	return &Writer{debug: debug}
}

// Write serializes p and returns the encoded bytes.
//
// Layout:
//
//	[magic:3] [version:1] [debug:1] [name] [hash]
//	[const_count:2] [tag:1 value...]...
//	[fn_export_count:2] [id:2]... [var_export_count:2] [id:2]...
//	[fn_ref_count:2] [id:2 addr:2 args:1]... [event_ref_count:2] [...]
//	[instr_count:2] [op:1 arg... (pos) (comment)]...
//	[source]
func (w *Writer) Write(p *Program) ([]byte, error) {
	pool, err := ConstantPoolFromProgram(p)
	if err != nil {
		return nil, err
	}
	w.pool = pool
	w.buf = make([]byte, 0, 64+len(p.Instructions)*8+len(p.Source))

	w.buf = append(w.buf, Magic...)
	w.buf = append(w.buf, Version)
	if w.debug {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
	if err := w.writeShortString("module name", p.ModuleName); err != nil {
		return nil, err
	}
	if err := w.writeShortString("hash", p.Hash); err != nil {
		return nil, err
	}

	if err := w.writeConstants(); err != nil {
		return nil, err
	}
	if err := w.writeExports(p.Exported); err != nil {
		return nil, err
	}
	if err := w.writeReferences("function", p.References.Functions); err != nil {
		return nil, err
	}
	if err := w.writeReferences("event", p.References.Events); err != nil {
		return nil, err
	}
	if err := w.writeInstructions(p.Instructions); err != nil {
		return nil, err
	}

	if w.debug {
		w.writeString(p.Source)
	} else {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, 0)
	}
	return w.buf, nil
}

func (w *Writer) writeConstants() error {
	if err := w.writeCount("constants", w.pool.Len()); err != nil {
		return err
	}
	for _, c := range w.pool.values {
		w.buf = append(w.buf, byte(c.Kind))
		switch c.Kind {
		case ConstNumber:
			w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(c.Num))
		case ConstString:
			w.writeString(c.Str)
		default:
			return fmt.Errorf("invalid constant kind %d", c.Kind)
		}
	}
	return nil
}

func (w *Writer) writeExports(e Exported) error {
	for _, names := range [][]string{e.Functions, e.Variables} {
		if err := w.writeCount("exports", len(names)); err != nil {
			return err
		}
		for _, name := range names {
			if err := w.writeStringID(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeReferences(kind string, refs []Reference) error {
	if err := w.writeCount(kind+" references", len(refs)); err != nil {
		return err
	}
	for _, r := range refs {
		if err := w.writeStringID(r.Name); err != nil {
			return err
		}
		if r.Address < 0 || r.Address > math.MaxUint16 {
			return fmt.Errorf("%w: %s %q address %d", ErrTooLarge, kind, r.Name, r.Address)
		}
		if r.NumArgs < 0 || r.NumArgs > math.MaxUint8 {
			return fmt.Errorf("%w: %s %q takes %d arguments", ErrTooLarge, kind, r.Name, r.NumArgs)
		}
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(r.Address))
		w.buf = append(w.buf, byte(r.NumArgs))
	}
	return nil
}

func (w *Writer) writeInstructions(code []Instruction) error {
	if err := w.writeCount("instructions", len(code)); err != nil {
		return err
	}
	for i, ins := range code {
		w.buf = append(w.buf, byte(ins.Op))
		if err := w.writeArg(ins.Arg); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, ins.Op, err)
		}
		if !w.debug {
			continue
		}
		if ins.Pos == nil {
			w.buf = append(w.buf, 0)
		} else {
			w.buf = append(w.buf, 1)
			for _, n := range []int{ins.Pos.LineStart, ins.Pos.ColumnStart, ins.Pos.LineEnd, ins.Pos.ColumnEnd} {
				if n < 0 || n > math.MaxUint16 {
					return fmt.Errorf("instruction %d: %w: position %d", i, ErrTooLarge, n)
				}
				w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(n))
			}
		}
		if err := w.writeCount("comment", len(ins.Comment)); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		if len(ins.Comment) > 0 {
			w.writeString(ins.Comment)
		}
	}
	return nil
}

func (w *Writer) writeArg(a Arg) error {
	w.buf = append(w.buf, byte(a.Kind))
	switch a.Kind {
	case ArgNone, ArgNull:
	case ArgString:
		return w.writeStringID(a.Str)
	case ArgNumber:
		id, err := w.pool.ID(NumberConstant(a.Num))
		if err != nil {
			return err
		}
		w.buf = binary.LittleEndian.AppendUint16(w.buf, id)
	case ArgBool:
		if a.Bool {
			w.buf = append(w.buf, 1)
		} else {
			w.buf = append(w.buf, 0)
		}
	case ArgArray:
		if err := w.writeCount("array argument", len(a.Items)); err != nil {
			return err
		}
		for _, item := range a.Items {
			if err := w.writeArg(item); err != nil {
				return err
			}
		}
	case ArgObject:
		if err := w.writeCount("object argument", len(a.Fields)); err != nil {
			return err
		}
		for _, f := range a.Fields {
			if err := w.writeArg(Str(f.Key)); err != nil {
				return err
			}
			if err := w.writeArg(f.Value); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("invalid argument kind %d", a.Kind)
	}
	return nil
}

func (w *Writer) writeStringID(s string) error {
	id, err := w.pool.ID(StringConstant(s))
	if err != nil {
		return err
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, id)
	return nil
}

func (w *Writer) writeCount(what string, n int) error {
	if n > math.MaxUint16 {
		return fmt.Errorf("%w: %d %s", ErrTooLarge, n, what)
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(n))
	return nil
}

// writeShortString writes a u8 length and, when non-empty, the string.
func (w *Writer) writeShortString(what, s string) error {
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("%w: %s is %d bytes long", ErrTooLarge, what, len(s))
	}
	w.buf = append(w.buf, byte(len(s)))
	if len(s) > 0 {
		w.writeString(s)
	}
	return nil
}

func (w *Writer) writeString(s string) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

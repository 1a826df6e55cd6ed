package bytecode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

type programJSON struct {
	Module       string            `json:"module,omitempty"`
	Hash         string            `json:"hash,omitempty"`
	Source       string            `json:"source,omitempty"`
	Exported     exportedJSON      `json:"exported"`
	References   referencesJSON    `json:"references"`
	Instructions []instructionJSON `json:"instructions"`
}

type exportedJSON struct {
	Functions []string `json:"functions"`
	Variables []string `json:"variables"`
}

type referencesJSON struct {
	Functions []referenceJSON `json:"functions"`
	Events    []referenceJSON `json:"events"`
}

type referenceJSON struct {
	Name    string `json:"name"`
	Address int    `json:"address"`
	Args    int    `json:"args"`
}

type instructionJSON struct {
	Op      string          `json:"op"`
	Arg     json.RawMessage `json:"arg,omitempty"`
	Comment string          `json:"comment,omitempty"`
	Pos     *[4]int         `json:"pos,omitempty"`
}

// MarshalJSON encodes the program with opcodes by mnemonic. Object
// arguments keep their field order.
func (p *Program) MarshalJSON() ([]byte, error) {
	out := programJSON{
		Module: p.ModuleName,
		Hash:   p.Hash,
		Source: p.Source,
		Exported: exportedJSON{
			Functions: nonNil(p.Exported.Functions),
			Variables: nonNil(p.Exported.Variables),
		},
		References: referencesJSON{
			Functions: refsToJSON(p.References.Functions),
			Events:    refsToJSON(p.References.Events),
		},
		Instructions: make([]instructionJSON, 0, len(p.Instructions)),
	}
	for i, ins := range p.Instructions {
		ij := instructionJSON{Op: ins.Op.String(), Comment: ins.Comment}
		if !ins.Arg.IsNone() {
			raw, err := ins.Arg.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			ij.Arg = raw
		}
		if ins.Pos != nil {
			ij.Pos = &[4]int{ins.Pos.LineStart, ins.Pos.ColumnStart, ins.Pos.LineEnd, ins.Pos.ColumnEnd}
		}
		out.Instructions = append(out.Instructions, ij)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON. A missing
// "arg" means no argument; an explicit null is a null argument.
func (p *Program) UnmarshalJSON(data []byte) error {
	var in programJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	prog := Program{
		Hash:       in.Hash,
		Source:     in.Source,
		ModuleName: in.Module,
		Exported: Exported{
			Functions: in.Exported.Functions,
			Variables: in.Exported.Variables,
		},
		References: References{
			Functions: refsFromJSON(in.References.Functions),
			Events:    refsFromJSON(in.References.Events),
		},
		Instructions: make([]Instruction, 0, len(in.Instructions)),
	}
	for i, ij := range in.Instructions {
		op, err := ParseOpcode(ij.Op)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		ins := Instruction{Op: op, Comment: ij.Comment}
		if len(ij.Arg) > 0 {
			if err := ins.Arg.UnmarshalJSON(ij.Arg); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		}
		if ij.Pos != nil {
			ins.Pos = &Position{LineStart: ij.Pos[0], ColumnStart: ij.Pos[1], LineEnd: ij.Pos[2], ColumnEnd: ij.Pos[3]}
		}
		prog.Instructions = append(prog.Instructions, ins)
	}
	*p = prog
	return nil
}

// MarshalJSON encodes an argument. ArgNone has no JSON form and encodes
// as null.
func (a Arg) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a Arg) writeJSON(buf *bytes.Buffer) error {
	switch a.Kind {
	case ArgNone, ArgNull:
		buf.WriteString("null")
	case ArgBool:
		buf.WriteString(strconv.FormatBool(a.Bool))
	case ArgNumber:
		if math.IsNaN(a.Num) || math.IsInf(a.Num, 0) {
			return fmt.Errorf("number %v has no JSON form", a.Num)
		}
		buf.WriteString(strconv.FormatFloat(a.Num, 'g', -1, 64))
	case ArgString:
		s, err := json.Marshal(a.Str)
		if err != nil {
			return err
		}
		buf.Write(s)
	case ArgArray:
		buf.WriteByte('[')
		for i, item := range a.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ArgObject:
		buf.WriteByte('{')
		for i, f := range a.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := f.Value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("invalid argument kind %d", a.Kind)
	}
	return nil
}

// UnmarshalJSON decodes an argument, keeping object key order.
func (a *Arg) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeArgJSON(dec)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func decodeArgJSON(dec *json.Decoder) (Arg, error) {
	tok, err := dec.Token()
	if err != nil {
		return Arg{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return Str(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Arg{}, err
		}
		return Num(f), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Arg{}
			for dec.More() {
				item, err := decodeArgJSON(dec)
				if err != nil {
					return Arg{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Arg{}, err
			}
			return Array(items...), nil
		case '{':
			fields := []Field{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Arg{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Arg{}, errors.New("object key is not a string")
				}
				value, err := decodeArgJSON(dec)
				if err != nil {
					return Arg{}, err
				}
				fields = append(fields, Field{Key: key, Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return Arg{}, err
			}
			return Object(fields...), nil
		}
	}
	return Arg{}, fmt.Errorf("unexpected JSON token %v", tok)
}

func refsToJSON(refs []Reference) []referenceJSON {
	out := make([]referenceJSON, len(refs))
	for i, r := range refs {
		out[i] = referenceJSON{Name: r.Name, Address: r.Address, Args: r.NumArgs}
	}
	return out
}

func refsFromJSON(refs []referenceJSON) []Reference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]Reference, len(refs))
	for i, r := range refs {
		out[i] = Reference{Name: r.Name, Address: r.Address, NumArgs: r.Args}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

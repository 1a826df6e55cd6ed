package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func Disassemble(p *Program) string {
	var sb strings.Builder

	// Header
	if p.ModuleName != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", p.ModuleName))
	}
	sb.WriteString(fmt.Sprintf("; LUX v%d\n", Version))
	if p.Hash != "" {
		sb.WriteString(fmt.Sprintf("; Hash: %s\n", p.Hash))
	}
	sb.WriteString("\n")

	// Constants
	if pool, err := ConstantPoolFromProgram(p); err == nil && pool.Len() > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range pool.Constants() {
			display := c.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
		sb.WriteString("\n")
	}

	// Exports
	if len(p.Exported.Functions)+len(p.Exported.Variables) > 0 {
		sb.WriteString("; Exports:\n")
		for _, name := range p.Exported.Functions {
			sb.WriteString(fmt.Sprintf(";   fn  %s\n", name))
		}
		for _, name := range p.Exported.Variables {
			sb.WriteString(fmt.Sprintf(";   var %s\n", name))
		}
		sb.WriteString("\n")
	}

	// References
	if len(p.References.Functions)+len(p.References.Events) > 0 {
		sb.WriteString("; References:\n")
		for _, r := range p.References.Functions {
			sb.WriteString(fmt.Sprintf(";   fn %s/%d -> %04X\n", r.Name, r.NumArgs, r.Address))
		}
		for _, r := range p.References.Events {
			sb.WriteString(fmt.Sprintf(";   on %s/%d -> %04X\n", r.Name, r.NumArgs, r.Address))
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	for addr, ins := range p.Instructions {
		sb.WriteString(DisassembleInstruction(addr, ins))
		sb.WriteString("\n")
	}
	return sb.String()
}

// DisassembleInstruction formats a single instruction at addr.
func DisassembleInstruction(addr int, ins Instruction) string {
	line := fmt.Sprintf("%04X  %-14s", addr, ins.Op)
	if !ins.Arg.IsNone() {
		arg := ins.Arg.String()
		if target, ok := ins.Arg.Int(); ok && ins.Op.IsJump() {
			arg = fmt.Sprintf("%04X", target)
		}
		line += " " + arg
	}
	var notes []string
	if ins.Pos != nil {
		notes = append(notes, fmt.Sprintf("line %d:%d", ins.Pos.LineStart, ins.Pos.ColumnStart))
	}
	if ins.Comment != "" {
		notes = append(notes, ins.Comment)
	}
	if len(notes) > 0 {
		line = fmt.Sprintf("%-40s ; %s", line, strings.Join(notes, " "))
	}
	return strings.TrimRight(line, " ")
}

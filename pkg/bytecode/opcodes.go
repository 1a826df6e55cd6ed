package bytecode

import (
	"fmt"
	"sort"
)

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category; the byte values are part
// of the LUX wire format and must never be renumbered.
type Opcode byte

const (
	// ========================================================================
	// Stack, modules and classes (0x00-0x0F)
	// ========================================================================

	OpHalt   Opcode = 0x00 // Stop execution
	OpConst  Opcode = 0x01 // Push literal argument
	OpSwap   Opcode = 0x02 // Swap top two stack elements
	OpExport Opcode = 0x03 // Pop value and name, record export
	OpImport Opcode = 0x04 // Import module: IMPORT <name>
	OpWait   Opcode = 0x05 // Pop milliseconds, suspend execution
	OpNew    Opcode = 0x06 // Instantiate class: NEW <numArgs>
	OpSuper  Opcode = 0x07 // Call parent method: SUPER {name, args, callee}

	// ========================================================================
	// Arithmetic (0x10-0x1F)
	// ========================================================================

	OpAdd Opcode = 0x10 // Pop two, push sum or concatenation
	OpSub Opcode = 0x11 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x12 // Pop two, push product
	OpDiv Opcode = 0x13 // Pop two, push quotient
	OpMod Opcode = 0x14 // Pop two, push remainder
	OpExp Opcode = 0x15 // Pop two, push a ** b
	OpNeg Opcode = 0x16 // Negate top of stack

	// ========================================================================
	// Comparison (0x20-0x2F)
	// ========================================================================

	OpEq  Opcode = 0x20
	OpNeq Opcode = 0x21
	OpGt  Opcode = 0x22
	OpGte Opcode = 0x23
	OpLt  Opcode = 0x24
	OpLte Opcode = 0x25
	OpIn  Opcode = 0x26 // Pop needle and haystack, push membership
	OpIs  Opcode = 0x27 // Pop class and instance, push class-chain test

	// ========================================================================
	// Logical (0x30-0x3F)
	// ========================================================================

	OpNot Opcode = 0x30

	// ========================================================================
	// Control flow (0x40-0x4F)
	// ========================================================================

	OpJmp        Opcode = 0x40 // JMP <addr>
	OpJmpIfFalse Opcode = 0x41 // Pop, jump when falsy
	OpJmpIfTrue  Opcode = 0x42 // Pop, jump when truthy
	OpDup        Opcode = 0x43 // Duplicate top of stack
	OpPop        Opcode = 0x44 // Pop top of stack

	// ========================================================================
	// Variables (0x50-0x5F)
	// ========================================================================

	OpLoad  Opcode = 0x50 // Push variable: LOAD <name>
	OpStore Opcode = 0x51 // Pop into variable: STORE <name>

	// ========================================================================
	// Calls (0x60-0x6F)
	// ========================================================================

	OpCall       Opcode = 0x60 // CALL {name, addr, args}
	OpCallMethod Opcode = 0x61 // CALL_METHOD {name, args}
	OpCallParent Opcode = 0x62 // CALL_PARENT <numArgs>
	OpRet        Opcode = 0x63

	// ========================================================================
	// Constructors (0x70-0x7F)
	// ========================================================================

	OpMakeArray    Opcode = 0x70 // MAKE_ARRAY <count>
	OpMakeRange    Opcode = 0x71 // Pop end and start, push inclusive range
	OpMakeObject   Opcode = 0x72 // MAKE_OBJECT <pairs>
	OpMakeFunction Opcode = 0x73 // MAKE_FUNCTION {name, addr, args}
	OpMakeClass    Opcode = 0x74 // MAKE_CLASS [name, addr, paramCount]
	OpMakeMethod   Opcode = 0x75 // Pop function and class, register method

	// ========================================================================
	// Properties (0x80-0x8F)
	// ========================================================================

	OpGetProp Opcode = 0x80 // [obj, key] -> value
	OpSetProp Opcode = 0x81 // [obj, key, value] -> value

	// ========================================================================
	// Iteration (0x90-0x9F)
	// ========================================================================

	OpIterInit  Opcode = 0x90 // [iterable] -> [iterator]
	OpIterNext  Opcode = 0x91 // ITER_NEXT <exitAddr>
	OpArrayPush Opcode = 0x92 // [array, value] -> []
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string // Human-readable name
	StackPop  int    // How many values popped from stack (-1 = variable)
	StackPush int    // How many values pushed to stack (-1 = variable)
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpHalt:   {"HALT", 0, 0},
	OpConst:  {"CONST", 0, 1},
	OpSwap:   {"SWAP", 2, 2},
	OpExport: {"EXPORT", 2, 0},
	OpImport: {"IMPORT", 0, 0},
	OpWait:   {"WAIT", 1, 0},
	OpNew:    {"NEW", -1, -1},
	OpSuper:  {"SUPER", -1, -1},

	OpAdd: {"ADD", 2, 1},
	OpSub: {"SUB", 2, 1},
	OpMul: {"MUL", 2, 1},
	OpDiv: {"DIV", 2, 1},
	OpMod: {"MOD", 2, 1},
	OpExp: {"EXP", 2, 1},
	OpNeg: {"NEG", 1, 1},

	OpEq:  {"EQ", 2, 1},
	OpNeq: {"NEQ", 2, 1},
	OpGt:  {"GT", 2, 1},
	OpGte: {"GTE", 2, 1},
	OpLt:  {"LT", 2, 1},
	OpLte: {"LTE", 2, 1},
	OpIn:  {"IN", 2, 1},
	OpIs:  {"IS", 2, 1},

	OpNot: {"NOT", 1, 1},

	OpJmp:        {"JMP", 0, 0},
	OpJmpIfFalse: {"JMP_IF_FALSE", 1, 0},
	OpJmpIfTrue:  {"JMP_IF_TRUE", 1, 0},
	OpDup:        {"DUP", 1, 2},
	OpPop:        {"POP", 1, 0},

	OpLoad:  {"LOAD", 0, 1},
	OpStore: {"STORE", 1, 0},

	OpCall:       {"CALL", -1, -1},
	OpCallMethod: {"CALL_METHOD", -1, -1},
	OpCallParent: {"CALL_PARENT", -1, -1},
	OpRet:        {"RET", -1, 1},

	OpMakeArray:    {"MAKE_ARRAY", -1, 1},
	OpMakeRange:    {"MAKE_RANGE", 2, 1},
	OpMakeObject:   {"MAKE_OBJECT", -1, 1},
	OpMakeFunction: {"MAKE_FUNCTION", 0, 1},
	OpMakeClass:    {"MAKE_CLASS", 1, 1},
	OpMakeMethod:   {"MAKE_METHOD", 2, 1},

	OpGetProp: {"GET_PROP", 2, 1},
	OpSetProp: {"SET_PROP", 3, 1},

	OpIterInit:  {"ITER_INIT", 1, 1},
	OpIterNext:  {"ITER_NEXT", 1, -1},
	OpArrayPush: {"ARRAY_PUSH", 2, 0},
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsJump returns true if the argument of this opcode is an absolute address.
func (op Opcode) IsJump() bool {
	return (op >= OpJmp && op <= OpJmpIfTrue) || op == OpIterNext
}

// ParseOpcode looks up an opcode by its mnemonic.
func ParseOpcode(name string) (Opcode, error) {
	if op, ok := opcodesByName[name]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown opcode %q", name)
}

// AllOpcodes returns every defined opcode in ascending byte order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

package bytecode

import (
	"crypto/sha256"
	"encoding/hex"
)

// Magic identifies a LUX binary.
var Magic = []byte{'L', 'U', 'X'}

// Version is the current binary format version.
const Version byte = 1

// Position is a source span attached to an instruction in debug builds.
type Position struct {
	LineStart   int
	ColumnStart int
	LineEnd     int
	ColumnEnd   int
}

// Instruction is one decoded instruction. Comment and Pos are debug
// metadata and never affect execution.
type Instruction struct {
	Op      Opcode
	Arg     Arg
	Comment string
	Pos     *Position
}

// Reference is a named entry point into a program.
type Reference struct {
	Name    string
	Address int
	NumArgs int
}

// References lists the public entry points of a program.
type References struct {
	Functions []Reference
	Events    []Reference
}

// Exported lists publicly visible names.
type Exported struct {
	Functions []string
	Variables []string
}

// Program is one compiled module.
type Program struct {
	Hash         string
	Source       string
	ModuleName   string
	Instructions []Instruction
	References   References
	Exported     Exported
}

// Function returns the function reference with the given name.
func (p *Program) Function(name string) (Reference, bool) {
	for _, r := range p.References.Functions {
		if r.Name == name {
			return r, true
		}
	}
	return Reference{}, false
}

// Event returns the event handler reference with the given name.
func (p *Program) Event(name string) (Reference, bool) {
	for _, r := range p.References.Events {
		if r.Name == name {
			return r, true
		}
	}
	return Reference{}, false
}

// IsExportedFunction reports whether name is listed in Exported.Functions.
func (p *Program) IsExportedFunction(name string) bool {
	for _, n := range p.Exported.Functions {
		if n == name {
			return true
		}
	}
	return false
}

// Fingerprint returns the hex SHA-256 of the program's debug-free
// encoding with the hash field cleared.
func Fingerprint(p *Program) (string, error) {
	clone := *p
	clone.Hash = ""
	data, err := Encode(&clone, false)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

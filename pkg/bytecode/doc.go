// Package bytecode defines compiled Luma programs and their LUX binary
// encoding.
//
// A Program is the unit produced by the compiler for one module: an
// ordered instruction list, the names it exports, and the addresses of
// its public functions and event handlers. Programs are immutable once
// built and may be shared by any number of virtual machines.
//
// # Binary format
//
// LUX files are little-endian and consist of six sections, always in
// this order:
//
//	header        "LUX" magic, version, debug flag, module name, hash
//	constants     deduplicated strings and float64 numbers
//	exports       pool ids of exported function and variable names
//	references    function and event entry points (name, address, arity)
//	instructions  opcode byte + tagged argument (+ position and comment)
//	source        original source text, debug builds only
//
// Strings and numbers inside instruction arguments are stored by
// constant-pool id. Pool ids are assigned in a fixed walk order over the
// program, so encoding is deterministic and Encode(Decode(b)) == b.
//
// Programs can also be written as JSON (see Program.MarshalJSON), which
// is how tests and the luma command author programs without a compiler.
package bytecode

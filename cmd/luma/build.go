package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
	"github.com/haroldiedema/luma-language/store"
)

// handleBuildCommand encodes a JSON program as a LUX binary.
//
//	luma build game.json            # game.lux
//	luma build -debug -o out.lux game.json
func handleBuildCommand(args []string) error {
	fs := newFlagSet("build")
	debug := fs.Bool("debug", false, "include positions, comments and source")
	output := fs.String("o", "", "output path (default: input with .lux extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("build requires exactly one file")
	}
	in := fs.Arg(0)

	p, err := store.ReadProgram(in)
	if err != nil {
		return err
	}
	if p.Hash == "" {
		if p.Hash, err = bytecode.Fingerprint(p); err != nil {
			return err
		}
	}
	data, err := bytecode.Encode(p, *debug)
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(in, ".json") + ".lux"
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Printf("%s: %d instructions, %d bytes, hash %s\n", out, len(p.Instructions), len(data), p.Hash)
	return nil
}

// handleDisasmCommand prints a program listing.
func handleDisasmCommand(args []string) error {
	fs := newFlagSet("disasm")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("disasm requires exactly one file")
	}
	p, err := store.ReadProgram(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Print(bytecode.Disassemble(p))
	return nil
}

// handleHexdumpCommand prints the LUX encoding of a program. JSON
// programs are encoded with debug metadata first.
func handleHexdumpCommand(args []string) error {
	fs := newFlagSet("hexdump")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("hexdump requires exactly one file")
	}
	path := fs.Arg(0)

	var data []byte
	var err error
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		p, err := store.ReadProgram(path)
		if err != nil {
			return err
		}
		if data, err = bytecode.Encode(p, true); err != nil {
			return err
		}
	} else if data, err = os.ReadFile(path); err != nil {
		return err
	}
	fmt.Print(bytecode.HexDump(data))
	return nil
}

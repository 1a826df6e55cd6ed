// Command luma runs, inspects and serves compiled Luma programs.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/haroldiedema/luma-language/manifest"
)

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands []command

// commands is populated in init to break the initialization cycle through
// newFlagSet, which reads it for usage output.
func init() {
	commands = []command{
		{"run", "run [-budget n] [-tick d] [-config dir] file", handleRunCommand},
		{"build", "build [-debug] [-o out] prog.json", handleBuildCommand},
		{"disasm", "disasm file", handleDisasmCommand},
		{"hexdump", "hexdump file", handleHexdumpCommand},
		{"publish", "publish [-server url] [-config dir] file", handlePublishCommand},
		{"serve", "serve [-addr a] [-config dir]", handleServeCommand},
		{"store", "store [-config dir] list|rm name", handleStoreCommand},
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: luma <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  luma %s\n", c.usage)
	}
	fmt.Fprintf(os.Stderr, "\nFiles ending in .json are read as JSON programs, anything else as LUX binaries.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		usage()
		return
	}
	for _, c := range commands {
		if c.name == name {
			if err := c.run(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	usage()
	os.Exit(2)
}

// newFlagSet returns a flag set that reports usage for the command.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("luma "+name, flag.ContinueOnError)
	fs.Usage = func() {
		for _, c := range commands {
			if c.name == name {
				fmt.Fprintf(fs.Output(), "Usage: luma %s\n", c.usage)
			}
		}
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig finds luma.toml from dir upwards, falling back to defaults,
// and configures logging from it.
func loadConfig(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
		if m.Dir, err = filepath.Abs(dir); err != nil {
			return nil, err
		}
	}
	commonlog.Configure(m.Log.Verbosity, m.LogFile())
	return m, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
	"github.com/haroldiedema/luma-language/server"
	"github.com/haroldiedema/luma-language/store"
)

// handlePublishCommand stores a program in the local library, or in a
// running server's library with -server.
//
//	luma publish math.lux
//	luma publish -server http://127.0.0.1:7420 math.json
func handlePublishCommand(args []string) error {
	fs := newFlagSet("publish")
	remote := fs.String("server", "", "base URL of a running luma server")
	config := fs.String("config", ".", "directory to search for luma.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("publish requires exactly one file")
	}

	m, err := loadConfig(*config)
	if err != nil {
		return err
	}
	p, err := store.ReadProgram(fs.Arg(0))
	if err != nil {
		return err
	}
	ctx := context.Background()

	if *remote != "" {
		data, err := bytecode.Encode(p, m.Runtime.Debug)
		if err != nil {
			return err
		}
		resp, err := server.DefaultClient(*remote).Publish(ctx, data)
		if err != nil {
			return err
		}
		fmt.Printf("published %s (%s) to %s\n", resp.Module, resp.Hash, *remote)
		return nil
	}

	st, err := store.Open(m.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()
	hash, err := st.Put(ctx, p, m.Runtime.Debug)
	if err != nil {
		return err
	}
	fmt.Printf("published %s (%s)\n", p.ModuleName, hash)
	return nil
}

// handleStoreCommand manages the local program library.
//
//	luma store list
//	luma store rm math
func handleStoreCommand(args []string) error {
	fs := newFlagSet("store")
	config := fs.String("config", ".", "directory to search for luma.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("store requires a subcommand: list or rm")
	}

	m, err := loadConfig(*config)
	if err != nil {
		return err
	}
	st, err := store.Open(m.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	switch fs.Arg(0) {
	case "list", "ls":
		entries, err := st.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODULE\tHASH\tSIZE\tDEBUG\tUPDATED")
		for _, e := range entries {
			hash := e.Hash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n", e.Module, hash, e.Size, e.Debug, e.UpdatedAt.Format(time.DateTime))
		}
		return w.Flush()
	case "rm":
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: luma store rm <module>")
		}
		if err := st.Delete(ctx, fs.Arg(1)); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", fs.Arg(1))
		return nil
	default:
		return fmt.Errorf("unknown store subcommand: %s", fs.Arg(0))
	}
}

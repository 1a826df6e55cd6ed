package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/haroldiedema/luma-language/host"
	"github.com/haroldiedema/luma-language/manifest"
	"github.com/haroldiedema/luma-language/store"
	"github.com/haroldiedema/luma-language/vm"
)

// handleRunCommand runs a program until it halts or fails.
//
//	luma run game.lux
//	luma run -budget 1000 -tick 50ms game.json
func handleRunCommand(args []string) error {
	fs := newFlagSet("run")
	budget := fs.Int("budget", 0, "instructions per tick (default from luma.toml)")
	tick := fs.Duration("tick", 0, "tick interval (default from luma.toml)")
	config := fs.String("config", ".", "directory to search for luma.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("run requires exactly one file")
	}
	path := fs.Arg(0)

	m, err := loadConfig(*config)
	if err != nil {
		return err
	}
	if *budget > 0 {
		m.Runtime.Budget = *budget
	}
	interval := *tick
	if interval <= 0 {
		if interval, err = m.TickDuration(); err != nil {
			return err
		}
	}

	p, err := store.ReadProgram(path)
	if err != nil {
		return err
	}

	resolver, closeStore, err := moduleResolver(m, filepath.Dir(path))
	if err != nil {
		return err
	}
	defer closeStore()

	h := host.New(host.WithBudget(m.Runtime.Budget), host.WithResolver(resolver))
	defer h.Close()

	id, err := h.Spawn(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runUntilDone(ctx, h, id, interval)
}

// runUntilDone ticks h until instance id halts or fails, printing its
// output as it goes.
func runUntilDone(ctx context.Context, h *host.Host, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		if err := h.Tick(time.Since(last)); err != nil {
			return err
		}
		last = time.Now()

		lines, err := h.Output(id)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}

		st, err := h.Status(id)
		if err != nil {
			return err
		}
		switch st.State {
		case host.StateHalted:
			return nil
		case host.StateFailed:
			return fmt.Errorf("%s", st.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// moduleResolver resolves imports from the program's directory, the
// configured module paths and, when it exists, the program library.
func moduleResolver(m *manifest.Manifest, programDir string) (vm.ModuleResolver, func(), error) {
	dirs := append([]string{programDir}, m.ModulePaths()...)
	resolvers := []vm.ModuleResolver{store.DirResolver(dirs...)}

	closeStore := func() {}
	if _, err := os.Stat(m.StorePath()); err == nil {
		st, err := store.Open(m.StorePath())
		if err != nil {
			return nil, nil, err
		}
		resolvers = append(resolvers, st.Resolver(context.Background()))
		closeStore = func() { st.Close() }
	}
	return store.ChainResolvers(resolvers...), closeStore, nil
}

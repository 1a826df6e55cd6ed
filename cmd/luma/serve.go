package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/haroldiedema/luma-language/host"
	"github.com/haroldiedema/luma-language/server"
	"github.com/haroldiedema/luma-language/store"
)

// handleServeCommand runs a host behind the RPC server until interrupted.
//
//	luma serve
//	luma serve -addr :7420
func handleServeCommand(args []string) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address (default from luma.toml)")
	config := fs.String("config", ".", "directory to search for luma.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := loadConfig(*config)
	if err != nil {
		return err
	}
	if *addr != "" {
		m.Server.Addr = *addr
	}
	interval, err := m.TickDuration()
	if err != nil {
		return err
	}

	st, err := store.Open(m.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := host.New(
		host.WithBudget(m.Runtime.Budget),
		host.WithResolver(store.ChainResolvers(st.Resolver(ctx), store.DirResolver(m.ModulePaths()...))),
	)
	defer h.Close()

	log := commonlog.GetLogger("luma.serve")
	cancel := h.Subscribe(func(e host.Event) {
		switch e.Kind {
		case host.EventRuntimeError:
			log.Errorf("%s: %s", e.Instance, e.Err)
		case host.EventHalted:
			log.Infof("%s halted", e.Instance)
		}
	})
	defer cancel()

	go func() {
		if err := h.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("host: %s", err)
		}
	}()

	fmt.Printf("Luma runtime listening on %s\n", m.Server.Addr)
	fmt.Printf("  Connect (CBOR): http://%s%s\n", m.Server.Addr, server.SpawnProcedure)
	return server.New(h, st, server.WithAddr(m.Server.Addr)).ListenAndServe(ctx)
}

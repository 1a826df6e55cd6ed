// Package server exposes a host and a program library over connect RPC.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/haroldiedema/luma-language/host"
	"github.com/haroldiedema/luma-language/pkg/bytecode"
	"github.com/haroldiedema/luma-language/store"
	"github.com/haroldiedema/luma-language/vm"
)

// ServiceName is the fully-qualified name of the runtime service.
const ServiceName = "luma.v1.RuntimeService"

// Procedure paths.
const (
	PublishProcedure  = "/" + ServiceName + "/Publish"
	SpawnProcedure    = "/" + ServiceName + "/Spawn"
	DispatchProcedure = "/" + ServiceName + "/Dispatch"
	OutputProcedure   = "/" + ServiceName + "/Output"
	KillProcedure     = "/" + ServiceName + "/Kill"
	StatusProcedure   = "/" + ServiceName + "/Status"
)

// Server serves the runtime service.
type Server struct {
	host  *host.Host
	store *store.Store
	addr  string
	log   commonlog.Logger
	mux   *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address used by ListenAndServe.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger replaces the "luma.server" logger.
func WithLogger(l commonlog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server. st may be nil, in which case Publish and
// spawning by module name fail with FailedPrecondition.
func New(h *host.Host, st *store.Store, opts ...Option) *Server {
	s := &Server{
		host:  h,
		store: st,
		addr:  "127.0.0.1:7420",
		log:   commonlog.GetLogger("luma.server"),
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	codec := connect.WithCodec(Codec{})
	s.mux.Handle(PublishProcedure, connect.NewUnaryHandler(PublishProcedure, s.publish, codec))
	s.mux.Handle(SpawnProcedure, connect.NewUnaryHandler(SpawnProcedure, s.spawn, codec))
	s.mux.Handle(DispatchProcedure, connect.NewUnaryHandler(DispatchProcedure, s.dispatch, codec))
	s.mux.Handle(OutputProcedure, connect.NewUnaryHandler(OutputProcedure, s.output, codec))
	s.mux.Handle(KillProcedure, connect.NewUnaryHandler(KillProcedure, s.kill, codec))
	s.mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.status, codec))
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Noticef("listening on %s", ln.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) publish(ctx context.Context, req *connect.Request[PublishRequest]) (*connect.Response[PublishResponse], error) {
	if s.store == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no program store configured"))
	}
	p, err := bytecode.Decode(req.Msg.Binary)
	if err != nil {
		return nil, s.rpcError("publish", err)
	}
	hash, err := s.store.Put(ctx, p, p.Source != "")
	if err != nil {
		return nil, s.rpcError("publish", err)
	}
	s.log.Infof("published %s (%s)", p.ModuleName, hash)
	return connect.NewResponse(&PublishResponse{Module: p.ModuleName, Hash: hash}), nil
}

func (s *Server) spawn(ctx context.Context, req *connect.Request[SpawnRequest]) (*connect.Response[SpawnResponse], error) {
	var p *bytecode.Program
	var err error
	switch {
	case len(req.Msg.Binary) > 0:
		p, err = bytecode.Decode(req.Msg.Binary)
	case req.Msg.Module != "":
		if s.store == nil {
			return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no program store configured"))
		}
		p, err = s.store.Get(ctx, req.Msg.Module)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("spawn needs a binary or a module name"))
	}
	if err != nil {
		return nil, s.rpcError("spawn", err)
	}
	id, err := s.host.Spawn(p)
	if err != nil {
		return nil, s.rpcError("spawn", err)
	}
	return connect.NewResponse(&SpawnResponse{ID: id, Module: p.ModuleName}), nil
}

func (s *Server) dispatch(_ context.Context, req *connect.Request[DispatchRequest]) (*connect.Response[DispatchResponse], error) {
	if err := s.host.Dispatch(req.Msg.ID, req.Msg.Event, req.Msg.Args...); err != nil {
		return nil, s.rpcError("dispatch", err)
	}
	return connect.NewResponse(&DispatchResponse{}), nil
}

func (s *Server) output(_ context.Context, req *connect.Request[OutputRequest]) (*connect.Response[OutputResponse], error) {
	lines, err := s.host.Output(req.Msg.ID)
	if err != nil {
		return nil, s.rpcError("output", err)
	}
	return connect.NewResponse(&OutputResponse{Lines: lines}), nil
}

func (s *Server) kill(_ context.Context, req *connect.Request[KillRequest]) (*connect.Response[KillResponse], error) {
	if err := s.host.Kill(req.Msg.ID); err != nil {
		return nil, s.rpcError("kill", err)
	}
	return connect.NewResponse(&KillResponse{}), nil
}

func (s *Server) status(_ context.Context, req *connect.Request[StatusRequest]) (*connect.Response[StatusResponse], error) {
	var all []host.Status
	if req.Msg.ID != "" {
		st, err := s.host.Status(req.Msg.ID)
		if err != nil {
			return nil, s.rpcError("status", err)
		}
		all = []host.Status{st}
	} else {
		var err error
		if all, err = s.host.List(); err != nil {
			return nil, s.rpcError("status", err)
		}
	}

	resp := &StatusResponse{Instances: make([]InstanceStatus, len(all))}
	for i, st := range all {
		resp.Instances[i] = InstanceStatus{
			ID:      st.ID,
			Module:  st.Module,
			State:   string(st.State),
			Error:   st.Error,
			Frames:  st.Frames,
			Pending: st.Pending,
			Spawned: st.Spawned.UnixMilli(),
		}
	}
	return connect.NewResponse(resp), nil
}

// rpcError maps domain errors to connect codes.
func (s *Server) rpcError(op string, err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, host.ErrUnknownInstance), errors.Is(err, store.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, host.ErrClosed):
		code = connect.CodeUnavailable
	case errors.As(err, new(*vm.RuntimeError)):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, bytecode.ErrCorruptBinary),
		errors.Is(err, store.ErrUnnamed),
		errors.Is(err, vm.ErrUnknownEvent),
		errors.Is(err, vm.ErrArity),
		errors.Is(err, vm.ErrType):
		code = connect.CodeInvalidArgument
	}
	if code == connect.CodeInternal {
		s.log.Errorf("%s: %s", op, err)
	}
	return connect.NewError(code, err)
}

// Package host runs many Luma VMs side by side on a shared clock.
//
// A Host owns a set of instances, each one VM executing a program. Tick
// advances every instance by one time slice; Run drives Tick from a
// ticker. All methods are safe for concurrent use.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
	"github.com/haroldiedema/luma-language/stdlib"
	"github.com/haroldiedema/luma-language/vm"
)

var (
	// ErrUnknownInstance indicates no instance has the given id.
	ErrUnknownInstance = errors.New("unknown instance")
	// ErrClosed is returned by every method once Close has been called.
	ErrClosed = errors.New("host closed")
)

// State is the lifecycle state of an instance.
type State string

const (
	StateRunning State = "running"
	StateWaiting State = "waiting"
	StateHalted  State = "halted"
	StateFailed  State = "failed"
)

// Status describes an instance.
type Status struct {
	ID      string
	Module  string
	State   State
	Error   string
	Frames  []string
	Pending int
	Spawned time.Time
}

type instance struct {
	id      string
	module  string
	vm      *vm.VM
	out     []string
	state   State
	spawned time.Time
}

// Host runs VM instances.
type Host struct {
	cfg *config
	log commonlog.Logger

	instances map[string]*instance
	pending   []Event

	requests chan request
	quit     chan struct{}
	once     sync.Once

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a Host and starts its worker goroutine.
func New(opts ...Option) *Host {
	cfg := &config{
		budget:    vm.DefaultBudget,
		functions: stdlib.Functions(),
		log:       commonlog.GetLogger("luma.host"),
		outputCap: DefaultOutputBuffer,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Host{
		cfg:       cfg,
		log:       cfg.log,
		instances: make(map[string]*instance),
		requests:  make(chan request),
		quit:      make(chan struct{}),
		subs:      make(map[int]func(Event)),
	}
	go h.loop()
	return h
}

// Spawn creates an instance running p and returns its id. The program
// starts executing on the next Tick.
func (h *Host) Spawn(p *bytecode.Program) (string, error) {
	if p == nil {
		return "", errors.New("spawn: nil program")
	}
	v, err := h.do(func() (any, error) {
		inst := &instance{
			id:      uuid.NewString(),
			module:  p.ModuleName,
			state:   StateRunning,
			spawned: time.Now(),
		}
		opts := []vm.Option{
			vm.WithBudget(h.cfg.budget),
			vm.WithFunctions(h.cfg.functions),
			vm.WithFunction("print", h.printer(inst)),
		}
		if h.cfg.resolver != nil {
			opts = append(opts, vm.WithResolver(h.cfg.resolver))
		}
		for _, c := range h.cfg.classes {
			opts = append(opts, vm.WithHostClass(c.name, c.def))
		}
		m, err := vm.New(p, opts...)
		if err != nil {
			return nil, err
		}
		inst.vm = m
		h.instances[inst.id] = inst
		h.log.Infof("spawned %s (%s)", inst.id, inst.label())
		return inst.id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// printer binds the print function to inst.
func (h *Host) printer(inst *instance) vm.NativeFunc {
	return func(args []vm.Value) (vm.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		line := strings.Join(parts, " ")
		inst.out = append(inst.out, line)
		if over := len(inst.out) - h.cfg.outputCap; over > 0 {
			inst.out = append(inst.out[:0], inst.out[over:]...)
		}
		h.emit(Event{Kind: EventOutput, Instance: inst.id, Module: inst.module, Line: line})
		return vm.Null, nil
	}
}

// Tick runs every live instance for one time slice of length delta.
func (h *Host) Tick(delta time.Duration) error {
	_, err := h.do(func() (any, error) {
		for _, id := range h.sortedIDs() {
			h.tick(h.instances[id], delta)
		}
		return nil, nil
	})
	return err
}

func (h *Host) tick(inst *instance, delta time.Duration) {
	if inst.state == StateFailed {
		return
	}
	if inst.state == StateHalted && inst.vm.Halted() {
		return
	}
	if err := inst.vm.Run(delta); err != nil {
		inst.state = StateFailed
		h.log.Errorf("instance %s (%s): %s", inst.id, inst.label(), err)
		h.emit(Event{Kind: EventRuntimeError, Instance: inst.id, Module: inst.module, Err: err})
		return
	}
	switch {
	case inst.vm.Halted():
		if inst.state != StateHalted {
			inst.state = StateHalted
			h.emit(Event{Kind: EventHalted, Instance: inst.id, Module: inst.module})
		}
	case inst.vm.Waiting():
		inst.state = StateWaiting
	default:
		inst.state = StateRunning
	}
}

// Run calls Tick every interval with the measured time since the
// previous tick until ctx is done.
func (h *Host) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := h.Tick(now.Sub(last)); err != nil {
				return err
			}
			last = now
		}
	}
}

// Dispatch queues an event on instance id. Arguments are converted with
// the instance's FromGo.
func (h *Host) Dispatch(id, event string, args ...any) error {
	_, err := h.do(func() (any, error) {
		inst, err := h.lookup(id)
		if err != nil {
			return nil, err
		}
		values := make([]vm.Value, len(args))
		for i, a := range args {
			if values[i], err = inst.vm.FromGo(a); err != nil {
				return nil, fmt.Errorf("event %s argument %d: %w", event, i, err)
			}
		}
		if err := inst.vm.Dispatch(event, values...); err != nil {
			return nil, err
		}
		if inst.state == StateHalted {
			inst.state = StateRunning
		}
		return nil, nil
	})
	return err
}

// Kill removes an instance.
func (h *Host) Kill(id string) error {
	_, err := h.do(func() (any, error) {
		inst, err := h.lookup(id)
		if err != nil {
			return nil, err
		}
		delete(h.instances, id)
		h.log.Infof("killed %s (%s)", id, inst.label())
		return nil, nil
	})
	return err
}

// Output drains the buffered output lines of instance id.
func (h *Host) Output(id string) ([]string, error) {
	v, err := h.do(func() (any, error) {
		inst, err := h.lookup(id)
		if err != nil {
			return nil, err
		}
		lines := inst.out
		inst.out = nil
		return lines, nil
	})
	if err != nil {
		return nil, err
	}
	lines, _ := v.([]string)
	return lines, nil
}

// Status describes instance id.
func (h *Host) Status(id string) (Status, error) {
	v, err := h.do(func() (any, error) {
		inst, err := h.lookup(id)
		if err != nil {
			return nil, err
		}
		return inst.status(), nil
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

// List describes all instances ordered by spawn time.
func (h *Host) List() ([]Status, error) {
	v, err := h.do(func() (any, error) {
		ids := h.sortedIDs()
		out := make([]Status, len(ids))
		for i, id := range ids {
			out[i] = h.instances[id].status()
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Status), nil
}

// Close stops the worker goroutine. Later calls return ErrClosed.
func (h *Host) Close() {
	h.once.Do(func() { close(h.quit) })
}

func (h *Host) lookup(id string) (*instance, error) {
	inst, ok := h.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return inst, nil
}

func (h *Host) sortedIDs() []string {
	ids := make([]string, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := h.instances[ids[i]], h.instances[ids[j]]
		if !a.spawned.Equal(b.spawned) {
			return a.spawned.Before(b.spawned)
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (inst *instance) label() string {
	if inst.module == "" {
		return "<main>"
	}
	return inst.module
}

func (inst *instance) status() Status {
	s := Status{
		ID:      inst.id,
		Module:  inst.module,
		State:   inst.state,
		Frames:  inst.vm.Frames(),
		Pending: len(inst.out),
		Spawned: inst.spawned,
	}
	if err := inst.vm.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

package vm

import (
	"github.com/tliron/commonlog"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
)

// DefaultBudget is the number of instructions executed per Run call when
// no budget is configured.
const DefaultBudget = 250

// NativeFunc is a host function callable from scripts by name.
type NativeFunc func(args []Value) (Value, error)

// ModuleResolver returns the program for an imported module. A nil
// program with a nil error means the module does not exist.
type ModuleResolver func(name string) (*bytecode.Program, error)

// Option configures a VM.
type Option func(*config)

type config struct {
	budget      int
	functions   map[string]NativeFunc
	resolver    ModuleResolver
	hostClasses map[string]HostClass
	hostOrder   []string
	logger      commonlog.Logger
}

// WithBudget sets the number of instructions executed per Run call.
func WithBudget(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.budget = n
		}
	}
}

// WithFunction registers a single host function.
func WithFunction(name string, fn NativeFunc) Option {
	return func(c *config) {
		c.functions[name] = fn
	}
}

// WithFunctions registers host functions. Later registrations win.
func WithFunctions(fns map[string]NativeFunc) Option {
	return func(c *config) {
		for name, fn := range fns {
			c.functions[name] = fn
		}
	}
}

// WithResolver sets the module resolver used by IMPORT.
func WithResolver(r ModuleResolver) Option {
	return func(c *config) {
		c.resolver = r
	}
}

// WithHostClass exposes a Go type to scripts under name.
func WithHostClass(name string, def HostClass) Option {
	return func(c *config) {
		if _, ok := c.hostClasses[name]; !ok {
			c.hostOrder = append(c.hostOrder, name)
		}
		c.hostClasses[name] = def
	}
}

// WithLogger overrides the VM's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

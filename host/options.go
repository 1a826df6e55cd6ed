package host

import (
	"github.com/tliron/commonlog"

	"github.com/haroldiedema/luma-language/vm"
)

// DefaultOutputBuffer is the number of output lines kept per instance.
const DefaultOutputBuffer = 1024

// Option configures a Host.
type Option func(*config)

type config struct {
	budget    int
	resolver  vm.ModuleResolver
	functions map[string]vm.NativeFunc
	classes   []namedClass
	log       commonlog.Logger
	outputCap int
}

type namedClass struct {
	name string
	def  vm.HostClass
}

// WithBudget sets the instruction budget of every spawned VM.
func WithBudget(n int) Option {
	return func(c *config) { c.budget = n }
}

// WithResolver sets the module resolver used for imports.
func WithResolver(r vm.ModuleResolver) Option {
	return func(c *config) { c.resolver = r }
}

// WithFunctions adds host functions on top of the standard library.
func WithFunctions(fns map[string]vm.NativeFunc) Option {
	return func(c *config) {
		for name, fn := range fns {
			c.functions[name] = fn
		}
	}
}

// WithHostClass registers a host class with every spawned VM.
func WithHostClass(name string, def vm.HostClass) Option {
	return func(c *config) { c.classes = append(c.classes, namedClass{name, def}) }
}

// WithLogger replaces the "luma.host" logger.
func WithLogger(l commonlog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithOutputBuffer sets how many undrained output lines an instance
// keeps. Older lines are dropped first.
func WithOutputBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.outputCap = n
		}
	}
}

// Package manifest handles luma.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file looked up by Load.
const FileName = "luma.toml"

// Manifest represents a luma.toml configuration.
type Manifest struct {
	Runtime Runtime `toml:"runtime"`
	Modules Modules `toml:"modules"`
	Server  Server  `toml:"server"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the luma.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures the VMs.
type Runtime struct {
	Budget int    `toml:"budget"`
	Tick   string `toml:"tick"`
	Debug  bool   `toml:"debug"`
}

// Modules configures where imports are resolved from.
type Modules struct {
	Paths []string `toml:"paths"`
	Store string   `toml:"store"`
}

// Server configures the RPC endpoint.
type Server struct {
	Addr string `toml:"addr"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no luma.toml exists.
func Default() *Manifest {
	m := &Manifest{Dir: "."}
	m.Log.Verbosity = 1
	m.applyDefaults()
	return m
}

// Load parses a luma.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := &Manifest{Log: Log{Verbosity: 1}}
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if _, err := m.TickDuration(); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Runtime.Budget < 0 {
		return nil, fmt.Errorf("parse error in %s: runtime.budget must not be negative", path)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a luma.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Runtime.Budget == 0 {
		m.Runtime.Budget = 250
	}
	if m.Runtime.Tick == "" {
		m.Runtime.Tick = "16ms"
	}
	if len(m.Modules.Paths) == 0 {
		m.Modules.Paths = []string{"modules"}
	}
	if m.Modules.Store == "" {
		m.Modules.Store = filepath.Join(".luma", "programs.db")
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "127.0.0.1:7420"
	}
}

// TickDuration parses runtime.tick.
func (m *Manifest) TickDuration() (time.Duration, error) {
	d, err := time.ParseDuration(m.Runtime.Tick)
	if err != nil {
		return 0, fmt.Errorf("runtime.tick: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("runtime.tick must be positive, got %s", m.Runtime.Tick)
	}
	return d, nil
}

// ModulePaths returns absolute paths for the configured module directories.
func (m *Manifest) ModulePaths() []string {
	var paths []string
	for _, p := range m.Modules.Paths {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// StorePath returns the absolute path of the program library database.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Modules.Store)
}

// LogFile returns the absolute log file path, or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

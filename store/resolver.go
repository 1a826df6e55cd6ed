package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
	"github.com/haroldiedema/luma-language/vm"
)

// ReadProgram loads a program from disk. Files ending in .json are read
// as JSON programs, anything else as LUX binaries.
func ReadProgram(path string) (*bytecode.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		p := &bytecode.Program{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		return p, nil
	}
	p, err := bytecode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// DirResolver resolves modules from <dir>/<name>.lux, then
// <dir>/<name>.json, for each directory in order.
func DirResolver(dirs ...string) vm.ModuleResolver {
	return func(name string) (*bytecode.Program, error) {
		if name == "" || strings.Contains(name, "..") || filepath.IsAbs(name) {
			return nil, fmt.Errorf("invalid module name %q", name)
		}
		for _, dir := range dirs {
			for _, ext := range []string{".lux", ".json"} {
				p, err := ReadProgram(filepath.Join(dir, filepath.FromSlash(name)+ext))
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					return nil, err
				}
				if p.ModuleName == "" {
					p.ModuleName = name
				}
				return p, nil
			}
		}
		return nil, nil
	}
}

// ChainResolvers tries each resolver in order and returns the first
// program found. An error stops the chain.
func ChainResolvers(rs ...vm.ModuleResolver) vm.ModuleResolver {
	return func(name string) (*bytecode.Program, error) {
		for _, r := range rs {
			if r == nil {
				continue
			}
			p, err := r(name)
			if err != nil || p != nil {
				return p, err
			}
		}
		return nil, nil
	}
}

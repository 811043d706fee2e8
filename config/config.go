// Package config handles roxor.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/roxor/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "roxor.toml"

// Config represents a roxor.toml file.
type Config struct {
	Runtime   Runtime   `toml:"runtime"`
	Logging   Logging   `toml:"logging"`
	CodeCache CodeCache `toml:"code_cache"`

	// Dir is the directory containing the roxor.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures the dispatch core.
type Runtime struct {
	MaxDepth              int    `toml:"max_depth"`
	MaxMethodMissingDepth int    `toml:"max_method_missing_depth"`
	CompileFailure        string `toml:"compile_failure"`
	InlineCacheEntries    int    `toml:"inline_cache_entries"`
	NormalizeSelectors    bool   `toml:"normalize_selectors"`
}

// Logging configures the commonlog backend.
type Logging struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// CodeCache configures the persistent compiled-program cache. An empty
// path disables it.
type CodeCache struct {
	Path string `toml:"path"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	opts := vm.DefaultOptions()
	return &Config{
		Runtime: Runtime{
			MaxDepth:              opts.MaxDepth,
			MaxMethodMissingDepth: opts.MaxMethodMissingDepth,
			CompileFailure:        opts.CompileFailure.String(),
			InlineCacheEntries:    opts.InlineCacheEntries,
			NormalizeSelectors:    opts.NormalizeSelectors,
		},
	}
}

// Load parses a roxor.toml file from the given directory. Keys missing
// from the file keep their defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// LoadFile loads an explicitly named configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes and validates configuration text.
func Parse(data []byte) (*Config, error) {
	c := Defaults()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a roxor.toml file, then loads
// it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Runtime.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("runtime.max_depth must be positive, got %d", c.Runtime.MaxDepth))
	}
	if c.Runtime.MaxMethodMissingDepth <= 0 {
		errs = append(errs, fmt.Errorf("runtime.max_method_missing_depth must be positive, got %d", c.Runtime.MaxMethodMissingDepth))
	}
	if c.Runtime.InlineCacheEntries < 1 {
		errs = append(errs, fmt.Errorf("runtime.inline_cache_entries must be at least 1, got %d", c.Runtime.InlineCacheEntries))
	}
	if _, err := vm.ParseCompilePolicy(c.Runtime.CompileFailure); err != nil {
		errs = append(errs, fmt.Errorf("runtime.compile_failure: %w", err))
	}
	if c.Logging.Verbosity < 0 {
		errs = append(errs, fmt.Errorf("logging.verbosity must not be negative, got %d", c.Logging.Verbosity))
	}
	return errors.Join(errs...)
}

// RuntimeOptions converts the runtime section into vm options. Producer
// and bridge are left for the caller.
func (c *Config) RuntimeOptions() (vm.Options, error) {
	policy, err := vm.ParseCompilePolicy(c.Runtime.CompileFailure)
	if err != nil {
		return vm.Options{}, err
	}
	return vm.Options{
		MaxDepth:              c.Runtime.MaxDepth,
		MaxMethodMissingDepth: c.Runtime.MaxMethodMissingDepth,
		CompileFailure:        policy,
		InlineCacheEntries:    c.Runtime.InlineCacheEntries,
		NormalizeSelectors:    c.Runtime.NormalizeSelectors,
	}, nil
}

// CodeCachePath returns the code cache path resolved against the config
// directory, or "" when caching is disabled.
func (c *Config) CodeCachePath() string {
	p := c.CodeCache.Path
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// LogPath returns the log file path resolved like CodeCachePath. An empty
// result means stderr.
func (c *Config) LogPath() string {
	p := c.Logging.Path
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

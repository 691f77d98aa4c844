// Package config handles tensorvm.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "tensorvm.toml"

// Config represents a tensorvm.toml configuration.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`
	Profile Profile `toml:"profile"`

	// Dir is the directory containing the tensorvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures the interpreter.
type Runtime struct {
	StackCapacity   int   `toml:"stack-capacity"`
	MaxCallDepth    int   `toml:"max-call-depth"`
	Trace           bool  `toml:"trace"`
	ResolutionCache int   `toml:"resolution-cache"`
	HostMemoryLimit int64 `toml:"host-memory-limit"` // bytes, 0 = unlimited
}

// Log configures commonlog output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Profile configures the opcode profiler.
type Profile struct {
	Enabled  bool   `toml:"enabled"`
	Database string `toml:"database"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Runtime.StackCapacity <= 0 {
		c.Runtime.StackCapacity = 64
	}
	if c.Runtime.MaxCallDepth <= 0 {
		c.Runtime.MaxCallDepth = 64
	}
	if c.Runtime.ResolutionCache <= 0 {
		c.Runtime.ResolutionCache = 128
	}
}

// Parse decodes configuration from TOML bytes and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration key %q", undecoded[0].String())
	}
	if c.Runtime.HostMemoryLimit < 0 {
		return nil, fmt.Errorf("runtime.host-memory-limit must not be negative, got %d", c.Runtime.HostMemoryLimit)
	}
	c.applyDefaults()
	return &c, nil
}

// Load parses a tensorvm.toml file from the given directory.
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

// FindAndLoad walks up from startDir to find a tensorvm.toml file, then
// loads it. Returns Default() if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
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
			return Default(), nil
		}
		dir = parent
	}
}

// ProfileDatabasePath returns the profile database path, resolved against
// the configuration directory.
func (c *Config) ProfileDatabasePath() string {
	if c.Profile.Database == "" || filepath.IsAbs(c.Profile.Database) || c.Dir == "" {
		return c.Profile.Database
	}
	return filepath.Join(c.Dir, c.Profile.Database)
}

// LogFilePath returns the log file path, resolved like ProfileDatabasePath.
func (c *Config) LogFilePath() string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) || c.Dir == "" {
		return c.Log.File
	}
	return filepath.Join(c.Dir, c.Log.File)
}

// ConfigureLogging applies the [log] table to commonlog. An empty file logs
// to stderr.
func (c *Config) ConfigureLogging() {
	var path *string
	if f := c.LogFilePath(); f != "" {
		path = &f
	}
	commonlog.Configure(c.Log.Verbosity, path)
}

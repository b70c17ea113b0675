package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config represents the complete agentpool configuration.
type Config struct {
	Pool     PoolConfig     `yaml:"pool"`
	Parallel ParallelConfig `yaml:"parallel"`
	Log      LogConfig      `yaml:"log"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// PoolConfig sizes the agent pool.
type PoolConfig struct {
	InitialAgents int      `yaml:"initial_agents"`
	StackSize     ByteSize `yaml:"stack_size"`
	TLSSize       ByteSize `yaml:"tls_size"`
	Host          string   `yaml:"host"`      // goroutine | thread
	Allocator     string   `yaml:"allocator"` // heap | mmap
	MemoryLimit   ByteSize `yaml:"memory_limit,omitempty"`
}

// ParallelConfig sizes the task scheduler hosted on the pool.
type ParallelConfig struct {
	Threads   int `yaml:"threads"`
	QueueSize int `yaml:"queue_size,omitempty"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ByteSize is a size in bytes. In YAML it may be a plain integer or a
// human-readable string such as "1MiB" or "64 kB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: invalid size: %w", node.Line, err)
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return fmt.Errorf("line %d: size must not be negative: %q", node.Line, s)
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, s, err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(max(b, 0)))
}

// Int returns the size as an int.
func (b ByteSize) Int() int { return int(b) }

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Pool: PoolConfig{
			InitialAgents: 2,
			StackSize:     1 << 20,
			TLSSize:       4 << 10,
			Host:          "goroutine",
			Allocator:     "heap",
		},
		Parallel: ParallelConfig{
			Threads:   4,
			QueueSize: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/agentpool/internal/memory"
)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "AGENTPOOL_CONFIG"

// ErrNoConfig is returned by Discover when no config file exists in any of the
// searched locations.
var ErrNoConfig = errors.New("no config found")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and parses the configuration file at configPath.
// A directory is accepted and resolved to its config.yaml. When a .checksums
// manifest sits next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse interpolates environment variables into data, decodes it over the
// defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := checkUnresolvedEnvVars(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file to use when no --config flag was given.
// Priority order: $AGENTPOOL_CONFIG, ~/.config/agentpool/config.yaml, ./config.yaml.
func Discover() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("$%s points to missing file %s", EnvConfigPath, path)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "agentpool", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("%w (checked: $%s, ~/.config/agentpool/config.yaml, ./config.yaml)", ErrNoConfig, EnvConfigPath)
}

// applyConfigDefaults fills values an explicit empty YAML entry cleared.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if strings.TrimSpace(cfg.Pool.Host) == "" {
		cfg.Pool.Host = defaults.Pool.Host
	}
	if strings.TrimSpace(cfg.Pool.Allocator) == "" {
		cfg.Pool.Allocator = defaults.Pool.Allocator
	}
	if cfg.Parallel.QueueSize == 0 {
		cfg.Parallel.QueueSize = defaults.Parallel.QueueSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}

	cfg.Pool.Host = strings.ToLower(strings.TrimSpace(cfg.Pool.Host))
	cfg.Pool.Allocator = strings.ToLower(strings.TrimSpace(cfg.Pool.Allocator))
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// checkUnresolvedEnvVars reports string settings still holding a ${VAR}
// placeholder after interpolation.
func checkUnresolvedEnvVars(cfg *Config) error {
	fields := []struct {
		name  string
		value string
	}{
		{"pool.host", cfg.Pool.Host},
		{"pool.allocator", cfg.Pool.Allocator},
		{"log.level", cfg.Log.Level},
		{"log.format", cfg.Log.Format},
	}
	for _, f := range fields {
		if m := envVarPattern.FindStringSubmatch(f.value); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", f.name, m[1])
		}
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Pool.InitialAgents < 0 {
		return fmt.Errorf("pool.initial_agents must be >= 0 (got %d)", cfg.Pool.InitialAgents)
	}
	if cfg.Pool.StackSize < 0 || cfg.Pool.StackSize > memory.MaxRegionSize {
		return fmt.Errorf("pool.stack_size must be between 0 and %s (got %d)", ByteSize(memory.MaxRegionSize), cfg.Pool.StackSize)
	}
	if cfg.Pool.TLSSize < 0 || cfg.Pool.TLSSize > memory.MaxRegionSize {
		return fmt.Errorf("pool.tls_size must be between 0 and %s (got %d)", ByteSize(memory.MaxRegionSize), cfg.Pool.TLSSize)
	}
	if cfg.Pool.MemoryLimit < 0 {
		return fmt.Errorf("pool.memory_limit must be >= 0 (got %d)", cfg.Pool.MemoryLimit)
	}

	validHosts := map[string]bool{"goroutine": true, "thread": true}
	if !validHosts[cfg.Pool.Host] {
		return fmt.Errorf("pool.host must be one of: goroutine, thread (got %q)", cfg.Pool.Host)
	}
	validAllocators := map[string]bool{"heap": true, "mmap": true}
	if !validAllocators[cfg.Pool.Allocator] {
		return fmt.Errorf("pool.allocator must be one of: heap, mmap (got %q)", cfg.Pool.Allocator)
	}
	if cfg.Pool.Allocator == "mmap" && cfg.Pool.MemoryLimit > 0 {
		return fmt.Errorf("pool.memory_limit is only supported with the heap allocator")
	}

	if cfg.Parallel.Threads < 0 {
		return fmt.Errorf("parallel.threads must be >= 0 (got %d)", cfg.Parallel.Threads)
	}
	if cfg.Parallel.QueueSize < 0 {
		return fmt.Errorf("parallel.queue_size must be >= 0 (got %d)", cfg.Parallel.QueueSize)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text (got %q)", cfg.Log.Format)
	}

	return nil
}

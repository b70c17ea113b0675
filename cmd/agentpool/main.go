package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/agentpool/internal/config"
	"github.com/mattjoyce/agentpool/internal/events"
	"github.com/mattjoyce/agentpool/internal/log"
	"github.com/mattjoyce/agentpool/internal/memory"
	"github.com/mattjoyce/agentpool/internal/parallel"
	"github.com/mattjoyce/agentpool/internal/pool"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "run":
		return runRun(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: agentpool <command> [flags]

Commands:
  run            Start the agent pool and run a batch of tasks through it
  config check   Load and validate the configuration
  config hash    Write the BLAKE3 checksum of the configuration to .checksums
  version        Print version information

Run 'agentpool <command> --help' for command flags.`)
}

// resolveConfig loads the config named by path, or the discovered one. The
// defaults are used only when no config exists anywhere; a config that was
// asked for but cannot be found is an error.
func resolveConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.Discover()
		if errors.Is(err, config.ErrNoConfig) {
			return config.Defaults(), nil
		}
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return config.Load(path)
}

type runSummary struct {
	Tasks       int        `json:"tasks"`
	Completed   int64      `json:"completed"`
	Threads     int        `json:"threads"`
	Elapsed     string     `json:"elapsed"`
	Pool        pool.Stats `json:"pool"`
	Reserved    string     `json:"reserved"`
	EventsTotal int64      `json:"events_total"`
	EventsDrop  int64      `json:"events_dropped"`
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	tasks := fs.Int("tasks", 100, "Number of tasks to run")
	showEvents := fs.Bool("events", false, "Stream pool lifecycle events to stderr as JSON lines")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *tasks < 0 {
		fmt.Fprintln(os.Stderr, "--tasks must be >= 0")
		return 1
	}

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWithFormat(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logger := log.WithComponent("cli")

	alloc, err := memory.New(cfg.Pool.Allocator, int64(cfg.Pool.MemoryLimit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create allocator: %v\n", err)
		return 1
	}
	host, err := pool.NewHost(cfg.Pool.Host)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create host: %v\n", err)
		return 1
	}
	hub := events.NewHub(256)
	if *showEvents {
		ch, cancel := hub.Subscribe()
		streamDone := make(chan struct{})
		go func(enc *json.Encoder) {
			defer close(streamDone)
			for ev := range ch {
				_ = enc.Encode(ev)
			}
		}(json.NewEncoder(os.Stderr))
		defer func() {
			cancel()
			<-streamDone
		}()
	}

	p, err := pool.New(pool.Config{
		InitialAgents: cfg.Pool.InitialAgents,
		StackSize:     cfg.Pool.StackSize.Int(),
		TLSSize:       cfg.Pool.TLSSize.Int(),
	},
		pool.WithHost(host),
		pool.WithAllocator(alloc),
		pool.WithEvents(hub),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create agent pool: %v\n", err)
		return 1
	}

	tp, err := parallel.Builder{
		NumThreads:   cfg.Parallel.Threads,
		QueueSize:    cfg.Parallel.QueueSize,
		SpawnHandler: parallel.SpawnHandler(p),
	}.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build thread pool: %v\n", err)
		return 1
	}

	logger.Info("running tasks", "tasks", *tasks, "threads", tp.Len(), "agents", p.Len())

	var completed atomic.Int64
	start := time.Now()
	err = tp.Scope(func(s *parallel.Scope) {
		for range *tasks {
			s.Spawn(func() { completed.Add(1) })
		}
	})
	elapsed := time.Since(start)
	tp.Close()
	tp.Wait()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Task batch failed: %v\n", err)
		return 1
	}

	stats := p.Stats()
	log.Info("task batch complete",
		"tasks", *tasks,
		"elapsed", elapsed,
		"agents", stats.Agents,
		"dispatched", stats.Dispatched,
	)
	summary := runSummary{
		Tasks:       *tasks,
		Completed:   completed.Load(),
		Threads:     tp.Len(),
		Elapsed:     elapsed.String(),
		Pool:        stats,
		Reserved:    humanize.IBytes(uint64(stats.ReservedBytes)),
		EventsTotal: hub.Total(),
		EventsDrop:  hub.Dropped(),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render summary: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentpool config <check|hash> [--config path]")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "hash":
		return runConfigHash(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		path = discovered
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration valid: %s\n", cfg.SourcePath)
	fmt.Printf("  agents: %d initial, host=%s\n", cfg.Pool.InitialAgents, cfg.Pool.Host)
	fmt.Printf("  regions: stack=%s tls=%s allocator=%s\n", cfg.Pool.StackSize, cfg.Pool.TLSSize, cfg.Pool.Allocator)
	fmt.Printf("  threads: %d\n", cfg.Parallel.Threads)
	return 0
}

func runConfigHash(args []string) int {
	fs := flag.NewFlagSet("config hash", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: agentpool config hash --config <path>")
		return 1
	}

	hash, err := config.GenerateChecksum(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash config: %v\n", err)
		return 1
	}
	fmt.Printf("%s  %s\n", hash, *configPath)
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: agentpool version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("agentpool %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

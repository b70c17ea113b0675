package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const testConfigYAML = `
pool:
  initial_agents: 2
  stack_size: 64KiB
  tls_size: 1KiB
  host: goroutine
  allocator: heap
parallel:
  threads: 2
log:
  level: error
  format: text
`

func TestRunCLINoArgs(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI(nil) })
	if code != 1 {
		t.Fatalf("runCLI(nil) code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: agentpool") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"frobnicate"}) })
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRunCLIHelp(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"help"}) })
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(stderr, "config hash") {
		t.Fatalf("usage missing config hash: %s", stderr)
	}
}

func TestRunExecutesTasks(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", path, "--tasks", "20"})
	})
	if code != 0 {
		t.Fatalf("run code = %d, stderr: %s", code, stderr)
	}

	var summary runSummary
	if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, stdout)
	}
	if summary.Tasks != 20 || summary.Completed != 20 {
		t.Fatalf("tasks = %d completed = %d, want 20/20", summary.Tasks, summary.Completed)
	}
	if summary.Threads != 2 {
		t.Fatalf("threads = %d, want 2", summary.Threads)
	}
	if summary.Pool.Agents != 2 {
		t.Fatalf("agents = %d, want 2 (one per thread)", summary.Pool.Agents)
	}
	if summary.Pool.ReservedBytes != 2*(64*1024+1024) {
		t.Fatalf("reserved bytes = %d", summary.Pool.ReservedBytes)
	}
	if summary.Reserved != "130 KiB" {
		t.Fatalf("reserved = %q, want 130 KiB", summary.Reserved)
	}
	if summary.EventsTotal == 0 {
		t.Fatal("expected lifecycle events to be recorded")
	}
}

func TestRunStreamsEvents(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", path, "--tasks", "3", "--events"})
	})
	if code != 0 {
		t.Fatalf("run code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{`"type":"agent.spawned"`, `"type":"work.dispatched"`} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("stderr missing %s: %s", want, stderr)
		}
	}
}

func TestRunRejectsNegativeTasks(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--tasks", "-1"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "--tasks must be >= 0") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRunMissingConfig(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Failed to load config") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRunEnvConfigPointsToMissingFile(t *testing.T) {
	t.Setenv("AGENTPOOL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--tasks", "1"})
	})
	if code == 0 {
		t.Fatalf("run succeeded with a missing $AGENTPOOL_CONFIG target; stdout: %s", stdout)
	}
	if !strings.Contains(stderr, "points to missing file") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRunFallsBackToDefaultsWithoutConfig(t *testing.T) {
	t.Setenv("AGENTPOOL_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--tasks", "4"})
	})
	if code != 0 {
		t.Fatalf("run code = %d, stderr: %s", code, stderr)
	}

	var summary runSummary
	if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, stdout)
	}
	if summary.Completed != 4 {
		t.Fatalf("completed = %d, want 4", summary.Completed)
	}
}

func TestRunAllocatorBudgetTooSmall(t *testing.T) {
	path := writeConfig(t, `
pool:
  initial_agents: 2
  stack_size: 1KiB
  tls_size: 0
  memory_limit: 1KiB
parallel:
  threads: 1
log:
  level: error
`)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", path, "--tasks", "1"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Failed to create agent pool") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRunRejectsOversizedStack(t *testing.T) {
	path := writeConfig(t, "pool:\n  stack_size: 9223372036854775800\nlog:\n  level: error\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", path, "--tasks", "1"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "pool.stack_size") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestConfigCheckValid(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", path})
	})
	if code != 0 {
		t.Fatalf("config check code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid") {
		t.Fatalf("stdout = %s", stdout)
	}
	if !strings.Contains(stdout, "stack=64 KiB") {
		t.Fatalf("stdout missing humanized stack size: %s", stdout)
	}
}

func TestConfigCheckInvalid(t *testing.T) {
	path := writeConfig(t, "pool:\n  host: wasm\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", path})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "pool.host") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestConfigHashThenTamper(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "hash", "--config", path})
	})
	if code != 0 {
		t.Fatalf("config hash code = %d, stderr: %s", code, stderr)
	}
	if !strings.HasSuffix(strings.TrimSpace(stdout), path) {
		t.Fatalf("stdout = %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), ".checksums")); err != nil {
		t.Fatalf(".checksums not written: %v", err)
	}

	if err := os.WriteFile(path, []byte(testConfigYAML+"\n# edited\n"), 0644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", path})
	})
	if code != 1 {
		t.Fatalf("tampered config check code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "hash mismatch") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestConfigHashRequiresPath(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "hash"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestConfigUnknownAction(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lint"})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown config action") {
		t.Fatalf("code = %d stderr = %s", code, stderr)
	}
}

func TestRunVersionHuman(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int { return runVersion(nil) })
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"agentpool 1.2.3", "commit: 0123456789ab", "built_at: 2026-01-02T03:04:05Z"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %s", want, stdout)
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abc1234", "2026-01-02T03:04:05Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int { return runVersion([]string{"--json"}) })
	if code != 0 {
		t.Fatalf("runVersion(--json) code = %d, stderr: %s", code, stderr)
	}

	var got versionInfo
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	want := versionInfo{Version: "1.2.3", Commit: "abc1234", BuildTime: "2026-01-02T03:04:05Z"}
	if got != want {
		t.Fatalf("version = %+v, want %+v", got, want)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int { return runVersion([]string{"extra"}) })
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

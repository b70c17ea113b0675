package pool

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/mattjoyce/agentpool/internal/memory"
)

//go:generate mockgen -destination=mocks/mock_host.go -package=mocks github.com/mattjoyce/agentpool/internal/pool Host
//go:generate mockgen -destination=mocks/mock_allocator.go -package=mocks github.com/mattjoyce/agentpool/internal/memory Allocator

// AgentSpec is everything a host needs to bring one agent to life.
type AgentSpec struct {
	ID    int
	Stack memory.Region
	TLS   memory.Region
	// Entry is the agent loop. The host must eventually call it exactly once,
	// on its own thread of control. It never returns under normal operation.
	Entry func()
}

// Host creates execution agents. CreateAgent may return before the agent
// starts running; an error means the agent will never run.
type Host interface {
	CreateAgent(spec AgentSpec) error
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(spec AgentSpec) error

func (f HostFunc) CreateAgent(spec AgentSpec) error { return f(spec) }

// GoroutineHost runs each agent on its own goroutine.
type GoroutineHost struct{}

func (GoroutineHost) CreateAgent(spec AgentSpec) error {
	if spec.Entry == nil {
		return fmt.Errorf("agent %d has no entry point", spec.ID)
	}
	go spec.Entry()
	return nil
}

// ThreadHost runs each agent on a goroutine wired to its own OS thread for the
// agent's whole life.
type ThreadHost struct{}

func (ThreadHost) CreateAgent(spec AgentSpec) error {
	if spec.Entry == nil {
		return fmt.Errorf("agent %d has no entry point", spec.ID)
	}
	go func() {
		// Never unlocked: the thread exits with the agent.
		runtime.LockOSThread()
		spec.Entry()
	}()
	return nil
}

// NewHost selects a host by its configuration name.
func NewHost(kind string) (Host, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "goroutine":
		return GoroutineHost{}, nil
	case "thread":
		return ThreadHost{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHost, kind)
	}
}

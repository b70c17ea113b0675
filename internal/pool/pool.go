package pool

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mattjoyce/agentpool/internal/events"
	"github.com/mattjoyce/agentpool/internal/futex"
	"github.com/mattjoyce/agentpool/internal/log"
	"github.com/mattjoyce/agentpool/internal/memory"
)

// Slot states held in a slot's futex word.
const (
	stateBusy int32 = 0
	stateIdle int32 = 1
	stateLost int32 = -1
)

// SlotState is the exported view of a slot's flag.
type SlotState string

const (
	SlotIdle SlotState = "idle"
	SlotBusy SlotState = "busy"
	SlotLost SlotState = "lost"
)

func slotState(v int32) SlotState {
	switch v {
	case stateIdle:
		return SlotIdle
	case stateLost:
		return SlotLost
	default:
		return SlotBusy
	}
}

// Publisher receives pool lifecycle events. *events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Config sizes a pool.
type Config struct {
	// InitialAgents are created eagerly by New.
	InitialAgents int
	// StackSize and TLSSize are the region sizes, in bytes, handed to the
	// host for every agent.
	StackSize int
	TLSSize   int
}

func (c Config) validate() error {
	if c.InitialAgents < 0 {
		return fmt.Errorf("%w: initial agents must be >= 0 (got %d)", ErrInvalidConfig, c.InitialAgents)
	}
	if c.StackSize < 0 {
		return fmt.Errorf("%w: stack size must be >= 0 (got %d)", ErrInvalidConfig, c.StackSize)
	}
	if c.TLSSize < 0 {
		return fmt.Errorf("%w: tls size must be >= 0 (got %d)", ErrInvalidConfig, c.TLSSize)
	}
	return nil
}

type work struct {
	id string
	fn func()
}

// slot is one agent's record. Slots are allocated individually so the pointer
// an agent holds stays valid while the table grows.
type slot struct {
	id    int
	state futex.Word
	work  atomic.Pointer[work]
	stack memory.Region
	tls   memory.Region
}

// Pool hands closures to idle agents, creating agents on demand. It is never
// torn down and never shrinks.
type Pool struct {
	slots     []*slot
	stackSize int
	tlsSize   int

	host   Host
	alloc  memory.Allocator
	events Publisher
	logger *slog.Logger

	dispatching atomic.Bool
	dispatched  int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithHost sets the agent-creation capability. Defaults to GoroutineHost.
func WithHost(h Host) Option {
	return func(p *Pool) { p.host = h }
}

// WithAllocator sets the region allocator. Defaults to an unlimited
// HeapAllocator.
func WithAllocator(a memory.Allocator) Option {
	return func(p *Pool) { p.alloc = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithEvents sets the lifecycle event sink.
func WithEvents(pub Publisher) Option {
	return func(p *Pool) { p.events = pub }
}

// New creates a pool and eagerly starts cfg.InitialAgents agents.
//
// If an agent cannot be created, New stops and returns the error together with
// the pool built so far. Agents already created are kept; the pool is usable
// with fewer agents than requested. A nil pool is only returned for an invalid
// config.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		slots:     make([]*slot, 0, cfg.InitialAgents),
		stackSize: cfg.StackSize,
		tlsSize:   cfg.TLSSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.host == nil {
		p.host = GoroutineHost{}
	}
	if p.alloc == nil {
		p.alloc = &memory.HeapAllocator{}
	}
	if p.logger == nil {
		p.logger = log.WithComponent("pool")
	}

	for range cfg.InitialAgents {
		s, err := p.spawnOne()
		if err != nil {
			p.logger.Error("pool created with fewer agents than requested",
				"requested", cfg.InitialAgents,
				"created", len(p.slots),
				"error", err,
			)
			return p, fmt.Errorf("create pool: %w", err)
		}
		p.slots = append(p.slots, s)
	}

	p.logger.Info("pool created",
		"agents", len(p.slots),
		"stack_size", p.stackSize,
		"tls_size", p.tlsSize,
	)
	return p, nil
}

// spawnOne provisions regions for the next agent and asks the host to start
// it. The returned slot is idle and not yet part of the table; the caller
// appends it.
func (p *Pool) spawnOne() (*slot, error) {
	id := len(p.slots)

	stack, err := p.alloc.Alloc(p.stackSize)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %d stack: %w", ErrAllocation, id, err)
	}
	tls, err := p.alloc.Alloc(p.tlsSize)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %d tls: %w", ErrAllocation, id, err)
	}

	s := &slot{id: id, stack: stack, tls: tls}
	s.state.Store(stateIdle)

	spec := AgentSpec{
		ID:    id,
		Stack: stack,
		TLS:   tls,
		Entry: func() { p.agentLoop(s) },
	}
	if err := p.host.CreateAgent(spec); err != nil {
		return nil, fmt.Errorf("%w: agent %d: %w", ErrAgentCreation, id, err)
	}

	p.logger.Debug("spawned agent", "agent_id", id)
	p.publish(events.AgentSpawned, map[string]any{"agent_id": id})
	return s, nil
}

// Len returns the number of agents, including lost ones.
func (p *Pool) Len() int { return len(p.slots) }

// States returns the current state of every slot, in creation order.
func (p *Pool) States() []SlotState {
	out := make([]SlotState, len(p.slots))
	for i, s := range p.slots {
		out[i] = slotState(s.state.Load())
	}
	return out
}

// Stats is a point-in-time summary of the pool.
type Stats struct {
	Agents        int   `json:"agents"`
	Idle          int   `json:"idle"`
	Busy          int   `json:"busy"`
	Lost          int   `json:"lost"`
	Dispatched    int64 `json:"dispatched"`
	ReservedBytes int64 `json:"reserved_bytes"`
}

// Stats summarizes the pool.
func (p *Pool) Stats() Stats {
	st := Stats{Agents: len(p.slots), Dispatched: p.dispatched}
	for _, s := range p.slots {
		switch slotState(s.state.Load()) {
		case SlotIdle:
			st.Idle++
		case SlotLost:
			st.Lost++
		default:
			st.Busy++
		}
		st.ReservedBytes += int64(s.stack.Len() + s.tls.Len())
	}
	return st
}

func (p *Pool) publish(eventType string, data any) {
	if p.events != nil {
		p.events.Publish(eventType, data)
	}
}

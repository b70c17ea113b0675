package pool

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mattjoyce/agentpool/internal/events"
)

// acquireIdleIndex returns the lowest-index idle slot, growing the table by
// one agent when none is idle.
func (p *Pool) acquireIdleIndex() (int, error) {
	for i, s := range p.slots {
		if s.state.Load() == stateIdle {
			return i, nil
		}
	}

	s, err := p.spawnOne()
	if err != nil {
		return 0, err
	}
	p.slots = append(p.slots, s)
	p.logger.Info("pool grew", "agents", len(p.slots))
	return len(p.slots) - 1, nil
}

// Run hands fn to an idle agent and returns without waiting for it to run.
// The only errors are from growing the pool; nothing about fn's execution is
// reported back.
//
// Run must not be called concurrently with itself or with any other Pool
// method; overlapping calls panic.
func (p *Pool) Run(fn func()) error {
	if fn == nil {
		return ErrNilWork
	}
	if !p.dispatching.CompareAndSwap(false, true) {
		panic("pool: concurrent Run; dispatch must come from a single goroutine")
	}
	defer p.dispatching.Store(false)

	idx, err := p.acquireIdleIndex()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	w := &work{id: uuid.NewString(), fn: fn}
	p.handoff(p.slots[idx], w)
	p.dispatched++

	p.logger.Debug("dispatched work", "agent_id", idx, "work_id", w.id)
	p.publish(events.WorkDispatched, map[string]any{"agent_id": idx, "work_id": w.id})
	return nil
}

// handoff publishes w to an idle slot. The work pointer is stored before the
// flag flips to busy, and the notify comes after, so the agent never observes
// busy without its work.
func (p *Pool) handoff(s *slot, w *work) {
	if st := s.state.Load(); st != stateIdle {
		panic(fmt.Sprintf("pool: dispatch to agent %d in state %s", s.id, slotState(st)))
	}
	s.work.Store(w)
	s.state.Store(stateBusy)
	s.state.Notify()
}

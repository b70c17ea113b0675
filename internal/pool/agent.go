package pool

import (
	"runtime/debug"

	"github.com/mattjoyce/agentpool/internal/events"
	"github.com/mattjoyce/agentpool/internal/futex"
)

// agentLoop is the body every agent runs forever. A slot starts idle, so the
// loop parks first; the producer's store-then-notify means a dispatch that
// lands before the agent reaches Wait is seen as NotEqual, not lost.
//
// The flag goes back to idle only after the taken work has run, never before,
// so a dispatch racing with agent start-up cannot be overwritten.
func (p *Pool) agentLoop(s *slot) {
	logger := p.logger.With("agent_id", s.id)
	logger.Debug("agent started")

	defer func() {
		// Only reached when a work item ended this goroutine with
		// runtime.Goexit.
		s.state.Store(stateLost)
		logger.Error("agent terminated by work item; slot is lost")
		p.publish(events.AgentLost, map[string]any{"agent_id": s.id})
	}()

	for {
		s.state.Wait(stateIdle, futex.Forever)

		if w := s.work.Swap(nil); w != nil {
			p.execute(s, w)
		}
		s.state.Store(stateIdle)
	}
}

// execute runs one work item, recovering a panic so the agent survives it.
func (p *Pool) execute(s *slot, w *work) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("work item panicked",
				"agent_id", s.id,
				"work_id", w.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			p.publish(events.WorkPanicked, map[string]any{"agent_id": s.id, "work_id": w.id})
		}
	}()
	w.fn()
}

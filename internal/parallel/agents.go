package parallel

import (
	"fmt"

	"github.com/mattjoyce/agentpool/internal/log"
	"github.com/mattjoyce/agentpool/internal/pool"
)

// SpawnHandler runs every scheduler thread body on an agent of p. Build calls
// it from one goroutine, which satisfies the pool's single-dispatcher rule.
func SpawnHandler(p *pool.Pool) func(ThreadBuilder) error {
	return func(t ThreadBuilder) error {
		return p.Run(t.Run)
	}
}

// NewThreadPool builds a scheduler with concurrency threads hosted on p.
func NewThreadPool(concurrency int, p *pool.Pool) (*ThreadPool, error) {
	return Builder{
		NumThreads:   concurrency,
		SpawnHandler: SpawnHandler(p),
	}.Build()
}

// DefaultThreadPool creates an agent pool primed with concurrency agents and a
// scheduler of the same width on top of it.
func DefaultThreadPool(concurrency, stackSize, tlsSize int, opts ...pool.Option) (*ThreadPool, *pool.Pool, error) {
	p, err := pool.New(pool.Config{
		InitialAgents: concurrency,
		StackSize:     stackSize,
		TLSSize:       tlsSize,
	}, opts...)
	if err != nil {
		log.Error("failed to create agent pool", "component", "parallel", "error", err)
		return nil, nil, fmt.Errorf("default thread pool: %w", err)
	}

	tp, err := NewThreadPool(concurrency, p)
	if err != nil {
		return nil, p, fmt.Errorf("default thread pool: %w", err)
	}
	return tp, p, nil
}

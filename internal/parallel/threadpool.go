package parallel

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/agentpool/internal/log"
)

const defaultQueueSize = 1024

var (
	ErrClosed       = errors.New("parallel: thread pool closed")
	ErrSpawnHandler = errors.New("parallel: spawn handler failed")
)

// ThreadBuilder describes one scheduler thread. Run is the thread body: it
// serves tasks until the pool is closed.
type ThreadBuilder struct {
	index int
	pool  *ThreadPool
}

// Index is the thread's position, 0 to NumThreads-1.
func (t ThreadBuilder) Index() int { return t.index }

// Run executes the thread body on the calling goroutine.
func (t ThreadBuilder) Run() { t.pool.serve(t.index) }

// Builder configures a ThreadPool.
type Builder struct {
	// NumThreads defaults to GOMAXPROCS when <= 0.
	NumThreads int
	// QueueSize bounds pending tasks; Spawn blocks when it is full.
	QueueSize int
	// SpawnHandler starts one thread body. Defaults to a plain goroutine.
	SpawnHandler func(ThreadBuilder) error
	// PanicHandler receives values from panicking tasks. Defaults to logging.
	PanicHandler func(any)
	Logger       *slog.Logger
}

// ThreadPool runs spawned tasks on its threads.
type ThreadPool struct {
	numThreads int
	tasks      chan func()
	onPanic    func(any)
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool

	running atomic.Int32
	wg      sync.WaitGroup
}

// Build creates the pool and calls the spawn handler once per thread, in
// index order, from the calling goroutine. If a handler call fails, the threads
// already started are told to exit and the error is returned.
func (b Builder) Build() (*ThreadPool, error) {
	n := b.NumThreads
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	qs := b.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	logger := b.Logger
	if logger == nil {
		logger = log.WithComponent("parallel")
	}

	tp := &ThreadPool{
		numThreads: n,
		tasks:      make(chan func(), qs),
		onPanic:    b.PanicHandler,
		logger:     logger,
	}
	if tp.onPanic == nil {
		tp.onPanic = func(v any) {
			tp.logger.Error("task panicked", "panic", v, "stack", string(debug.Stack()))
		}
	}

	spawn := b.SpawnHandler
	if spawn == nil {
		spawn = func(t ThreadBuilder) error {
			go t.Run()
			return nil
		}
	}

	for i := range n {
		tp.wg.Add(1)
		if err := spawn(ThreadBuilder{index: i, pool: tp}); err != nil {
			tp.wg.Done()
			tp.Close()
			return nil, fmt.Errorf("%w: thread %d: %w", ErrSpawnHandler, i, err)
		}
	}

	tp.logger.Debug("thread pool built", "threads", n, "queue_size", qs)
	return tp, nil
}

// Len returns the number of threads.
func (tp *ThreadPool) Len() int { return tp.numThreads }

// Running returns how many thread bodies are currently serving tasks.
func (tp *ThreadPool) Running() int { return int(tp.running.Load()) }

// Spawn queues f to run on one of the pool's threads.
func (tp *ThreadPool) Spawn(f func()) error {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	if tp.closed {
		return ErrClosed
	}
	tp.tasks <- f
	return nil
}

// Close stops accepting tasks. Threads finish the queued tasks and then their
// bodies return. Close does not wait; use Wait for that.
func (tp *ThreadPool) Close() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.closed {
		return
	}
	tp.closed = true
	close(tp.tasks)
}

// Wait blocks until every started thread body has returned. It only returns
// after Close.
func (tp *ThreadPool) Wait() { tp.wg.Wait() }

func (tp *ThreadPool) serve(index int) {
	defer tp.wg.Done()
	tp.running.Add(1)
	defer tp.running.Add(-1)

	tp.logger.Debug("thread started", "thread", index)
	for task := range tp.tasks {
		tp.runTask(task)
	}
	tp.logger.Debug("thread exited", "thread", index)
}

func (tp *ThreadPool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			tp.onPanic(r)
		}
	}()
	task()
}

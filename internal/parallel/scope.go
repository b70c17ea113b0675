package parallel

import "sync"

// Scope collects tasks whose completion the caller waits for.
type Scope struct {
	tp *ThreadPool
	wg sync.WaitGroup

	mu       sync.Mutex
	panicked bool
	panicVal any
	err      error
}

// Spawn queues f as part of the scope.
func (s *Scope) Spawn(f func()) {
	s.wg.Add(1)
	err := s.tp.Spawn(func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.mu.Lock()
				if !s.panicked {
					s.panicked, s.panicVal = true, r
				}
				s.mu.Unlock()
			}
		}()
		f()
	})
	if err != nil {
		s.wg.Done()
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
}

// Scope runs fn, then waits for every task fn spawned. The first task panic is
// re-raised on the caller. Calling Scope from inside a task of the same pool
// can deadlock once every thread is waiting.
func (tp *ThreadPool) Scope(fn func(*Scope)) error {
	s := &Scope{tp: tp}
	fn(s)
	s.wg.Wait()

	if s.panicked {
		panic(s.panicVal)
	}
	return s.err
}

// Package parallel is a small parallel-task scheduler whose worker threads are
// started through a pluggable spawn handler.
//
// Build calls the spawn handler once per thread with a ThreadBuilder; the
// handler must arrange for ThreadBuilder.Run to execute on some thread of
// control and return. SpawnHandler adapts an agent pool into such a handler,
// so each scheduler thread body runs on a pool agent instead of a goroutine
// of its own.
//
// Tasks are served from one shared FIFO in submission order. There is no work
// stealing and no per-thread queue.
package parallel

// Package pool dispatches closures to a growable set of long-lived agents.
//
// A Pool owns one slot per agent. Each slot carries a futex word that is the
// only synchronization between the dispatching goroutine and the agent:
//
//	idle (1) --Run stores work, flips to busy, notifies--> busy (0)
//	busy (0) --agent takes work, runs it, flips back------> idle (1)
//
// Dispatch is fire-and-forget. Run picks the lowest-index idle slot, or grows
// the pool by one agent when every slot is busy, then returns without waiting
// for the work to execute.
//
// Run, New and every method that reads the slot table must be called from a
// single orchestrating goroutine. The pool detects overlapping Run calls and
// panics; it does not serialize them.
//
// A work item that panics is recovered and logged, and its agent goes back to
// idle. A work item that calls runtime.Goexit ends its agent; that slot is
// marked lost and is never selected again.
package pool

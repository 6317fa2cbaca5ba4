package mcache

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// TableAllocator arbitrates exclusive access to one shared table among
// the worker finite-state machines, granting the table to waiters in the
// order they asked for it. It is a round-robin arbiter in the sense the
// original hardware used that term: every waiter is eventually served,
// none starves behind a higher-priority peer.
type TableAllocator struct {
	name string
	sem  *semaphore.Weighted
}

func newTableAllocator(name string) *TableAllocator {
	return &TableAllocator{name: name, sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the table is granted to the caller, or ctx is
// done.
func (a *TableAllocator) Acquire(ctx context.Context) error {
	return a.sem.Acquire(ctx, 1)
}

// TryAcquire attempts to acquire the table without blocking.
func (a *TableAllocator) TryAcquire() bool {
	return a.sem.TryAcquire(1)
}

// Release relinquishes the table, letting the next waiter (if any)
// proceed.
func (a *TableAllocator) Release() {
	a.sem.Release(1)
}

// Allocators is the set of six table arbiters guarding the directory,
// heap, transaction table, update table, invalidate table and the LL/SC
// reservation table. Every FSM that needs more than one of these must
// acquire them in the fixed order DIR, then HEAP, then TRT, then UPT,
// then IVT, then RESV (skipping whichever it does not need); release
// order is not constrained. This is the one total order that admits no
// cross-table deadlock cycle among the controller's worker machines. CAS
// is the one path that holds DIR while it also takes RESV; no path ever
// takes RESV first and then waits on DIR, so the order still holds.
type Allocators struct {
	DIR  *TableAllocator
	HEAP *TableAllocator
	TRT  *TableAllocator
	UPT  *TableAllocator
	IVT  *TableAllocator
	RESV *TableAllocator
}

func newAllocators() *Allocators {
	return &Allocators{
		DIR:  newTableAllocator("DIR"),
		HEAP: newTableAllocator("HEAP"),
		TRT:  newTableAllocator("TRT"),
		UPT:  newTableAllocator("UPT"),
		IVT:  newTableAllocator("IVT"),
		RESV: newTableAllocator("RESV"),
	}
}

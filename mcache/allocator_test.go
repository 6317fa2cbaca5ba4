package mcache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTableAllocatorMutualExclusion(t *testing.T) {
	a := newTableAllocator("DIR")
	ctx := context.Background()

	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if a.TryAcquire() {
		t.Fatal("TryAcquire must fail while the table is held")
	}
	a.Release()
	if !a.TryAcquire() {
		t.Fatal("TryAcquire must succeed once the table is released")
	}
	a.Release()
}

func TestTableAllocatorSerializesWaiters(t *testing.T) {
	a := newTableAllocator("TRT")
	ctx := context.Background()

	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	const n = 4
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := a.Acquire(ctx); err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			a.Release()
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let the goroutines queue up
	a.Release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("expected all %d waiters to be served, got %d", n, len(order))
	}
}

func TestNewAllocatorsAllIndependent(t *testing.T) {
	as := newAllocators()
	ctx := context.Background()

	for _, a := range []*TableAllocator{as.DIR, as.HEAP, as.TRT, as.UPT, as.IVT, as.RESV} {
		if err := a.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %s: %v", a.name, err)
		}
	}
	// All six must be independently held at once: holding DIR must not
	// block HEAP/TRT/UPT/IVT/RESV.
	for _, a := range []*TableAllocator{as.DIR, as.HEAP, as.TRT, as.UPT, as.IVT, as.RESV} {
		a.Release()
	}
}

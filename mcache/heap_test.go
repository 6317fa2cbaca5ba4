package mcache

import "testing"

func TestHeapInitSelfLoop(t *testing.T) {
	h := NewHeap(4)
	if h.IsFull() {
		t.Fatal("freshly initialized heap must not be full")
	}
	for i := 0; i < 3; i++ {
		if got := h.Read(i).Next; got != i+1 {
			t.Fatalf("entry %d: Next = %d, want %d", i, got, i+1)
		}
	}
	if got := h.Read(3).Next; got != 3 {
		t.Fatalf("last entry must self-loop, got Next = %d", got)
	}
}

func TestHeapAllocWriteChain(t *testing.T) {
	h := NewHeap(4)
	a := Owner{Srcid: 1}
	b := Owner{Srcid: 2}

	p1, ok := h.Alloc()
	if !ok {
		t.Fatal("Alloc failed on empty heap")
	}
	h.Write(p1, HeapEntry{Owner: a, Next: p1}) // single-node list, self-loop

	p2, ok := h.Alloc()
	if !ok {
		t.Fatal("second Alloc failed")
	}
	// Prepend p2 to the list: p2.Next points at the old head p1.
	h.Write(p2, HeapEntry{Owner: b, Next: p1})

	if n := h.Len(p2); n != 2 {
		t.Fatalf("Len(p2) = %d, want 2", n)
	}
	if got := h.Read(p2).Owner; got != b {
		t.Fatalf("head owner = %+v, want %+v", got, b)
	}
	if got := h.Read(p1).Owner; got != a {
		t.Fatalf("tail owner = %+v, want %+v", got, a)
	}
}

func TestHeapAllocExhaustion(t *testing.T) {
	h := NewHeap(2)
	p1, ok := h.Alloc()
	if !ok {
		t.Fatal("first Alloc failed")
	}
	h.Write(p1, HeapEntry{Owner: Owner{Srcid: 1}, Next: p1})

	if h.IsFull() {
		t.Fatal("heap marked full with one node still free")
	}

	p2, ok := h.Alloc()
	if !ok {
		t.Fatal("second Alloc failed")
	}
	h.Write(p2, HeapEntry{Owner: Owner{Srcid: 2}, Next: p1})

	if !h.IsFull() {
		t.Fatal("heap should be marked full after allocating its last free node")
	}

	if _, ok := h.Alloc(); ok {
		t.Fatal("Alloc on a full heap must fail")
	}
}

func TestHeapFreeChain(t *testing.T) {
	h := NewHeap(4)
	p1, _ := h.Alloc()
	h.Write(p1, HeapEntry{Owner: Owner{Srcid: 1}, Next: p1})
	p2, _ := h.Alloc()
	h.Write(p2, HeapEntry{Owner: Owner{Srcid: 2}, Next: p1})
	p3, _ := h.Alloc()
	h.Write(p3, HeapEntry{Owner: Owner{Srcid: 3}, Next: p2})

	h.FreeChain(p3)

	// All three nodes must now be reachable from the free list, and the
	// heap must again be able to allocate exactly three distinct nodes
	// before the pointer self-loops.
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		ptr, ok := h.Alloc()
		if !ok {
			t.Fatalf("Alloc %d after FreeChain failed", i)
		}
		if seen[ptr] {
			t.Fatalf("Alloc returned duplicate index %d", ptr)
		}
		seen[ptr] = true
		h.Write(ptr, HeapEntry{Owner: Owner{Srcid: uint32(10 + i)}, Next: ptr})
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct freed nodes reclaimed, got %d", len(seen))
	}
}

func TestHeapRemoveHead(t *testing.T) {
	h := NewHeap(4)
	a := Owner{Srcid: 1}
	b := Owner{Srcid: 2}
	p1, _ := h.Alloc()
	h.Write(p1, HeapEntry{Owner: a, Next: p1})
	p2, _ := h.Alloc()
	h.Write(p2, HeapEntry{Owner: b, Next: p1}) // head: p2(b) -> p1(a) -> self

	newHead, found := h.Remove(p2, b)
	if !found {
		t.Fatal("expected to find head owner")
	}
	if newHead != p1 {
		t.Fatalf("newHead = %d, want %d", newHead, p1)
	}
	if h.Len(newHead) != 1 {
		t.Fatalf("Len(newHead) = %d, want 1", h.Len(newHead))
	}
}

func TestHeapRemoveMiddleAndTail(t *testing.T) {
	h := NewHeap(4)
	oa := Owner{Srcid: 1}
	ob := Owner{Srcid: 2}
	oc := Owner{Srcid: 3}

	pa, _ := h.Alloc()
	h.Write(pa, HeapEntry{Owner: oa, Next: pa})
	pb, _ := h.Alloc()
	h.Write(pb, HeapEntry{Owner: ob, Next: pa})
	pc, _ := h.Alloc()
	h.Write(pc, HeapEntry{Owner: oc, Next: pb}) // head: pc(c) -> pb(b) -> pa(a) -> self

	// Remove the middle node (b).
	newHead, found := h.Remove(pc, ob)
	if !found || newHead != pc {
		t.Fatalf("Remove(middle): newHead=%d found=%v", newHead, found)
	}
	if h.Len(pc) != 2 {
		t.Fatalf("Len after middle removal = %d, want 2", h.Len(pc))
	}

	// Remove the tail (a); pc should become a self-looped single node.
	newHead, found = h.Remove(pc, oa)
	if !found || newHead != pc {
		t.Fatalf("Remove(tail): newHead=%d found=%v", newHead, found)
	}
	if h.Len(pc) != 1 {
		t.Fatalf("Len after tail removal = %d, want 1", h.Len(pc))
	}
	if h.Read(pc).Next != pc {
		t.Fatal("remaining node must self-loop after its only neighbor is removed")
	}
}

func TestHeapRemoveNotFound(t *testing.T) {
	h := NewHeap(4)
	oa := Owner{Srcid: 1}
	pa, _ := h.Alloc()
	h.Write(pa, HeapEntry{Owner: oa, Next: pa})

	newHead, found := h.Remove(pa, Owner{Srcid: 99})
	if found {
		t.Fatal("Remove should not find a non-member owner")
	}
	if newHead != pa {
		t.Fatalf("newHead changed on a failed Remove: got %d, want %d", newHead, pa)
	}
}

package mcache

// HeapEntry is one node of the sharer heap: an additional copy owner,
// plus the index of the next node in its list. The final node of any
// list self-loops (next == its own index) as the terminator.
type HeapEntry struct {
	Owner Owner
	Next  int
}

// Heap is the free-list-backed arena of sharer-list nodes: a
// fixed-capacity array addressed by index (an arena-and-index scheme,
// since Go has no raw aliasing to lean on for the self-loop convention
// used by node termination — see DESIGN.md).
type Heap struct {
	entries []HeapEntry
	freePtr int
	full    bool
}

// NewHeap allocates a heap of size nodes, all linked into one free list.
func NewHeap(size int) *Heap {
	h := &Heap{entries: make([]HeapEntry, size)}
	h.Init()
	return h
}

// Init links every entry into a single free list rooted at index 0, with
// the last entry self-looped as the terminator, and clears the full flag.
func (h *Heap) Init() {
	h.freePtr = 0
	h.full = false
	n := len(h.entries)
	for i := 0; i < n-1; i++ {
		h.entries[i] = HeapEntry{Next: i + 1}
	}
	if n > 0 {
		h.entries[n-1] = HeapEntry{Next: n - 1}
	}
}

// IsFull reports whether the heap has been marked exhausted.
func (h *Heap) IsFull() bool { return h.full }

// SetFull / UnsetFull toggle the exhaustion flag directly, mirroring the
// original HeapDirectory's set_full/unset_full.
func (h *Heap) SetFull()   { h.full = true }
func (h *Heap) UnsetFull() { h.full = false }

// NextFreePtr returns the index of the next entry Alloc would hand out.
func (h *Heap) NextFreePtr() int { return h.freePtr }

// NextFreeEntry returns a copy of the entry at the free pointer.
func (h *Heap) NextFreeEntry() HeapEntry { return h.entries[h.freePtr] }

// WriteFreeEntry overwrites the entry at the free pointer.
func (h *Heap) WriteFreeEntry(e HeapEntry) { h.entries[h.freePtr] = e }

// WriteFreePtr moves the free pointer.
func (h *Heap) WriteFreePtr(ptr int) { h.freePtr = ptr }

// Read returns a copy of the entry at i.
func (h *Heap) Read(i int) HeapEntry { return h.entries[i] }

// Write overwrites the entry at i.
func (h *Heap) Write(i int, e HeapEntry) { h.entries[i] = e }

// Alloc takes the head of the free list and returns its index, advancing
// the free pointer to the node's free-list successor. The returned node's
// Owner/Next are whatever the free list happened to leave there; callers
// always follow with Write(ptr, ...) to install the real owner and link
// the node into a sharer list. When the head is its own self-loop (the
// last free node), it is still handed out with ok true and the heap is
// marked full; ok is false only when the heap is already marked full.
func (h *Heap) Alloc() (ptr int, ok bool) {
	if h.full {
		return 0, false
	}
	ptr = h.freePtr
	next := h.entries[ptr].Next
	if next == ptr {
		h.full = true
		return ptr, true
	}
	h.freePtr = next
	return ptr, true
}

// Free splices node i back onto the head of the free list.
func (h *Heap) Free(i int) {
	wasFull := h.full
	h.full = false
	if wasFull {
		h.entries[i] = HeapEntry{Next: i}
		h.freePtr = i
		return
	}
	h.entries[i] = HeapEntry{Next: h.freePtr}
	h.freePtr = i
}

// FreeChain walks the list rooted at head (as it stood before this call)
// and returns every node in it to the free list. Used when a directory
// entry converts to counter mode: any existing additional-sharer list
// must be fully freed first.
func (h *Heap) FreeChain(head int) {
	cur := head
	for {
		next := h.entries[cur].Next
		self := next == cur
		h.Free(cur)
		if self {
			return
		}
		cur = next
	}
}

// Remove splices the first node whose Owner equals target out of the
// list rooted at head, freeing it back to the free list, and returns the
// (possibly unchanged) new head of the list. found is false if no node in
// the chain matched. Used by cleanup handling when the retiring sharer is
// not the directory-resident owner: a sharer in the middle of the heap
// list is spliced out and its node freed.
func (h *Heap) Remove(head int, target Owner) (newHead int, found bool) {
	if h.entries[head].Owner == target {
		next := h.entries[head].Next
		self := next == head
		h.Free(head)
		if self {
			return head, true // chain is now empty; caller must not dereference
		}
		return next, true
	}
	prev := head
	cur := h.entries[head].Next
	for cur != prev {
		next := h.entries[cur].Next
		if h.entries[cur].Owner == target {
			if next == cur {
				// cur was the tail: prev becomes the new tail.
				h.entries[prev].Next = prev
			} else {
				h.entries[prev].Next = next
			}
			h.Free(cur)
			return head, true
		}
		prev = cur
		cur = next
	}
	return head, false
}

// Len walks the list rooted at head and counts its nodes (including
// head), stopping at the self-loop terminator. Intended for tests and
// invariant checks, not the hot path.
func (h *Heap) Len(head int) int {
	n := 1
	cur := head
	for {
		next := h.entries[cur].Next
		if next == cur {
			return n
		}
		cur = next
		n++
	}
}

// Package llsc implements the fabric-wide LL/SC reservation table: a
// small set of (address, key) slots shared by every core, backing
// at-most-one-successful-SC-per-LL semantics across the mesh.
//
// The source this engine is modeled on keeps the table as a single
// in-process object reachable by every core; in a Go implementation that
// distributes cores across goroutines, Table is still owned by the
// coherence controller, whose READ (LL), WRITE (SC, sw) and CAS workers
// take turns through one arbiter, rather than guarded by its own
// fine-grained lock — the
// bounded-life key semantics assume a single logical order of
// operations, not interleaved concurrent mutation.
package llsc

import "fmt"

// blockMasks gives the victim-selection block mask for each supported
// slot count. Only these NSLOTS values are valid.
var blockMasks = map[int]uint64{
	12: 0x000,
	16: 0xA800,
	20: 0xD5500,
	24: 0xDB5540,
	28: 0xEEDAAA0,
	32: 0xF776D550,
	36: 0xFBDDDB550,
	40: 0xFDF7BB6D50,
	44: 0xFEFBDEEDAA8,
	48: 0xFF7EFBDDDAA8,
	52: 0xFFBFBF7BBB6A8,
	56: 0xFFDFEFDF7BB6A8,
	60: 0xFFF7FDFDF7BB6A8,
	64: 0xFFFBFF7FBF7BB6A8,
}

type slot struct {
	valid bool
	addr  uint64
	key   uint32
}

// Table is a fixed-capacity set of reservation slots addressed by cache
// line word address. It always returns a key from LL; no allocation
// failure path exists (a full table evicts a victim slot instead).
type Table struct {
	slots     []slot
	nextKey   uint32
	lifeSpan  uint32
	blockMask uint64
	lastCtr   uint64
	writePtr  int

	// Stats, observable only through their monotonic progression: counts,
	// not exact values, are load-bearing.
	LLCount      uint64
	LLRefreshed  uint64
	SCCount      uint64
	SCSuccess    uint64
	CheckCount   uint64
	SWCount      uint64
	EvictCount   uint64
}

// New builds a reservation table with nslots slots and the given
// reservation life span (in number of keys issued since the slot's key
// before a re-registration is forced; an LL that reuses a fresh key
// issues none). nslots must be one of the supported slot
// counts (12, 16, 20, ..., 64), each with its own precomputed victim
// block mask.
func New(nslots int, lifeSpan uint32) (*Table, error) {
	mask, ok := blockMasks[nslots]
	if !ok {
		return nil, fmt.Errorf("llsc: unsupported slot count %d", nslots)
	}
	t := &Table{
		slots:     make([]slot, nslots),
		lifeSpan:  lifeSpan,
		blockMask: mask,
	}
	return t, nil
}

// Reset clears every slot and the key/victim-pointer state, as at
// platform reset: no state persists across it.
func (t *Table) Reset() {
	for i := range t.slots {
		t.slots[i] = slot{}
	}
	t.nextKey = 0
	t.lastCtr = 0
	t.writePtr = 0
}

func (t *Table) hitAddr(addr uint64) int {
	for i, s := range t.slots {
		if s.valid && s.addr == addr {
			return i
		}
	}
	return -1
}

func (t *Table) hitAddrKey(addr uint64, key uint32) int {
	for i, s := range t.slots {
		if s.valid && s.addr == addr && s.key == key {
			return i
		}
	}
	return -1
}

func (t *Table) firstEmpty() int {
	for i, s := range t.slots {
		if !s.valid {
			return i
		}
	}
	return -1
}

// newCounter advances the victim counter using the bit-block recurrence
// c' = (((~c) & (c<<1)) & mask) | (c+1). Exactly one bit differs between
// successive values; that bit index is the next victim slot.
func newCounter(mask, counter uint64) uint64 {
	return (((^counter) & (counter << 1)) & mask) | (counter + 1)
}

func (t *Table) updateVictim() {
	next := newCounter(t.blockMask, t.lastCtr)
	xored := next ^ t.lastCtr
	for i := len(t.slots) - 1; i >= 0; i-- {
		if xored&(1<<uint(i)) != 0 {
			t.writePtr = i
			break
		}
	}
	t.lastCtr = next
}

// absDiff is the unsigned wrap-around absolute difference used by the
// freshness test: the key counter never resets, and wrap-around is
// expected and correct.
func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// LL registers a load-linked at addr and returns the reservation key to
// hand back to the requester alongside the line data.
func (t *Table) LL(addr uint64) uint32 {
	t.LLCount++

	if pos := t.hitAddr(addr); pos >= 0 {
		if absDiff(t.slots[pos].key, t.nextKey) < t.lifeSpan {
			return t.slots[pos].key
		}
		t.slots[pos].key = t.nextKey
		t.nextKey++
		t.LLRefreshed++
		return t.slots[pos].key
	}

	pos := t.firstEmpty()
	if pos < 0 {
		t.updateVictim()
		pos = t.writePtr
		t.EvictCount++
	}

	key := t.nextKey
	t.slots[pos] = slot{valid: true, addr: addr, key: key}
	t.nextKey++
	return key
}

// SC attempts a store-conditional: on a matching valid (addr, key) slot it
// invalidates the reservation and returns true; otherwise it returns
// false and leaves the table unchanged.
func (t *Table) SC(addr uint64, key uint32) bool {
	t.SCCount++
	pos := t.hitAddrKey(addr, key)
	if pos < 0 {
		return false
	}
	t.SCSuccess++
	t.slots[pos].valid = false
	return true
}

// Check is the read-only variant of SC: it reports whether the
// reservation is still live without consuming it.
func (t *Table) Check(addr uint64, key uint32) bool {
	t.CheckCount++
	return t.hitAddrKey(addr, key) >= 0
}

// SW invalidates every reservation whose word address falls in
// [addrMin, addrMax], inclusive, at word (4-byte) granularity. This is
// the only sw variant specified; the single-address form from the
// original source was dropped in favor of the range form.
func (t *Table) SW(addrMin, addrMax uint64) {
	t.SWCount++
	for a := addrMin; a <= addrMax; a += 4 {
		if pos := t.hitAddr(a); pos >= 0 {
			t.slots[pos].valid = false
		}
	}
}

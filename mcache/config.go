// Package mcache implements the L2 memory-cache coherence controller: a
// directory-based, write-invalidate/write-update engine serving L1 misses,
// writes, LL/SC and CAS, and driving multicast/broadcast invalidation and
// multicast update traffic to keep L1 caches coherent.
package mcache

import (
	"fmt"
	"math/bits"
)

// Config holds the engine's structural parameters. All size fields that
// must be powers of two are validated by NewController.
type Config struct {
	Ways  int // set associativity
	Sets  int // number of sets (power of two)
	Words int // words per cache line (power of two, 32-bit words)

	MaxSharers int // per-copy sharer threshold before counter-mode conversion
	HeapSize   int // sharer heap arena size

	TRTSize int
	UPTSize int
	IVTSize int

	NSlots   int    // reservation table slot count
	LifeSpan uint32 // reservation life span, in reservation keys issued

	LFSRSeed      uint32 // CAS force-fail LFSR seed
	CASFailThrottle uint32 // force-fail roughly 1-in-N (0 disables)

	// HomeID is this controller's own (x, y) mesh coordinate, packed the
	// same way as a requester's srcid: y in the high YBits bits, x in the
	// low XBits bits. It is compared against each command's Srcid to
	// classify the request as local or remote and to weight its counter
	// entry by requesterDistance (see counters.go).
	HomeID uint32
	XBits  uint
	YBits  uint
}

// DefaultConfig returns a small but representative configuration, useful
// for tests and the example wiring: 4-way, 64 sets, 16-word (64 byte)
// lines.
func DefaultConfig() Config {
	return Config{
		Ways:            4,
		Sets:            64,
		Words:           16,
		MaxSharers:      8,
		HeapSize:        256,
		TRTSize:         16,
		UPTSize:         8,
		IVTSize:         8,
		NSlots:          16,
		LifeSpan:        4,
		LFSRSeed:        0x2463417a,
		CASFailThrottle: 64,
		HomeID:          0,
		XBits:           4,
		YBits:           4,
	}
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

func (c Config) validate() error {
	if !isPow2(c.Sets) {
		return fmt.Errorf("mcache: Sets must be a power of two, got %d", c.Sets)
	}
	if !isPow2(c.Words) {
		return fmt.Errorf("mcache: Words must be a power of two, got %d", c.Words)
	}
	if c.Ways <= 0 {
		return fmt.Errorf("mcache: Ways must be positive, got %d", c.Ways)
	}
	if c.HeapSize <= 0 || c.TRTSize <= 0 || c.UPTSize <= 0 || c.IVTSize <= 0 {
		return fmt.Errorf("mcache: table sizes must be positive")
	}
	return nil
}

// addressLayout precomputes the shift amounts used to split a physical
// address into tag || set || word || byte-offset.
type addressLayout struct {
	wordBits  uint
	setBits   uint
	setMask   uint64
	wordMask  uint64
}

func newAddressLayout(cfg Config) addressLayout {
	return addressLayout{
		wordBits: uint(bits.TrailingZeros(uint(cfg.Words))),
		setBits:  uint(bits.TrailingZeros(uint(cfg.Sets))),
		setMask:  uint64(cfg.Sets - 1),
		wordMask: uint64(cfg.Words - 1),
	}
}

// nline returns the cache-line index (tag || set) for address: the
// address with the word-index and byte-offset bits shifted out.
func (a addressLayout) nline(address uint64) uint64 {
	return address >> (a.wordBits + 2)
}

// set returns the set index for address.
func (a addressLayout) set(address uint64) int {
	return int((address >> (a.wordBits + 2)) & a.setMask)
}

// tag returns the tag for address.
func (a addressLayout) tag(address uint64) uint32 {
	return uint32(address >> (a.setBits + a.wordBits + 2))
}

// wordIndex returns the in-line word index for address.
func (a addressLayout) wordIndex(address uint64) int {
	return int((address >> 2) & a.wordMask)
}

// lineBase returns the base address of the line containing address.
func (a addressLayout) lineBase(address uint64) uint64 {
	return address &^ ((a.wordMask << 2) | 0x3)
}

// fromNline reassembles a line base address from an nline index.
func (a addressLayout) fromNline(nline uint64) uint64 {
	return nline << (a.wordBits + 2)
}

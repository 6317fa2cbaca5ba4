package mcache

import "sync/atomic"

// opCounter tracks one operation category's local/remote split and
// accumulated distance cost, incremented concurrently by worker FSMs and
// read out through the CONFIG FSM's INSTRM registers.
type opCounter struct {
	local  atomic.Uint32
	remote atomic.Uint32
	cost   atomic.Uint64
}

func (c *opCounter) record(remote bool, cost uint32) {
	if remote {
		c.remote.Add(1)
	} else {
		c.local.Add(1)
	}
	c.cost.Add(uint64(cost))
}

func (c *opCounter) reset() {
	c.local.Store(0)
	c.remote.Store(0)
	c.cost.Store(0)
}

// Local, Remote and Total report 32-bit counts; *_HI register reads
// always alias to zero and are not modeled here.
func (c *opCounter) Local() uint32  { return c.local.Load() }
func (c *opCounter) Remote() uint32 { return c.remote.Load() }
func (c *opCounter) Total() uint32  { return c.local.Load() + c.remote.Load() }
func (c *opCounter) Cost() uint64   { return c.cost.Load() }

// coherenceCounter wraps opCounter for the coherence-traffic categories,
// which expose the four-way local/remote/cost/total shape; the total is
// opCounter's computed Total (local + remote), not a separate field.
type coherenceCounter struct {
	opCounter
}

// Counters holds every observable, read-only counter category: per
// operation (READ, WRITE, LL, SC, CAS), per coherence-traffic kind
// (multi-update, multi-inval, broadcast-inval, cleanup), miss
// classification, and structural backpressure.
type Counters struct {
	Read opCounter
	Write opCounter
	LL   opCounter
	SC   opCounter
	CAS  opCounter

	MUpdate coherenceCounter
	MInval  coherenceCounter
	BInval  coherenceCounter
	Cleanup coherenceCounter

	ReadMiss       atomic.Uint32
	WriteMiss      atomic.Uint32
	WriteDirty     atomic.Uint32
	WriteBroadcast atomic.Uint32

	TRTReadBlocked atomic.Uint32
	TRTFullBlocked atomic.Uint32
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters { return &Counters{} }

// Reset zeros every counter, as at platform reset.
func (c *Counters) Reset() {
	for _, oc := range []*opCounter{&c.Read, &c.Write, &c.LL, &c.SC, &c.CAS, &c.MUpdate.opCounter, &c.MInval.opCounter, &c.BInval.opCounter, &c.Cleanup.opCounter} {
		oc.reset()
	}
	c.ReadMiss.Store(0)
	c.WriteMiss.Store(0)
	c.WriteDirty.Store(0)
	c.WriteBroadcast.Store(0)
	c.TRTReadBlocked.Store(0)
	c.TRTFullBlocked.Store(0)
}

// requesterDistance is the Manhattan metric on the (x, y) mesh
// coordinates packed into the low bits of srcid (x in the low xBits bits,
// y in the yBits bits just above), used only to compute
// the cost figure attached to each counter category; it carries no
// coherence-correctness weight; see DESIGN.md.
func requesterDistance(srcid, home uint32, xBits, yBits uint) uint32 {
	mask := uint32(1)<<xBits - 1
	sx := srcid & mask
	sy := (srcid >> xBits) & (uint32(1)<<yBits - 1)
	hx := home & mask
	hy := (home >> xBits) & (uint32(1)<<yBits - 1)
	return absU32(sx, hx) + absU32(sy, hy)
}

func absU32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// requestCost classifies srcid against this controller's own HomeID,
// returning the (remote, cost) pair every opCounter.record call needs.
func (c *Controller) requestCost(srcid uint32) (remote bool, cost uint32) {
	cost = requesterDistance(srcid, c.cfg.HomeID, c.cfg.XBits, c.cfg.YBits)
	return cost != 0, cost
}

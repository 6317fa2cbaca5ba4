package mcache

// Originator identifies the processor request a deferred response is
// owed to, once a multicast update or invalidation completes.
type Originator struct {
	Srcid uint32
	Trdid uint32
	Pktid uint32
}

// multiEntry is the shared shape of one UPT or IVT row: both track an
// in-flight multicast operation over a set of former or current sharers
// and a countdown of outstanding acknowledgements, mirroring the
// original's single UpdateTab class reused for both m_upt and m_ivt.
type multiEntry struct {
	Valid      bool
	Update     bool // true: multi-update (UPT); false: invalidation (IVT)
	Broadcast  bool
	NeedRsp    bool // a processor response is deferred on this entry
	NeedAck    bool // a CONFIG-FSM completion ack is deferred on this entry
	Origin     Originator
	Nline      uint64
	NbPending  int
}

// multiTab is the table type backing both UPT and IVT: UPDATE_SIZE or
// IVT_SIZE entries of multiEntry, allocated at transaction start and
// retired exactly once on completion.
type multiTab struct {
	entries []multiEntry
}

func newMultiTab(size int) multiTab {
	return multiTab{entries: make([]multiEntry, size)}
}

// Full reports whether every entry is valid; index names a free slot
// when it is not.
func (m *multiTab) Full() (full bool, index int) {
	for i := range m.entries {
		if !m.entries[i].Valid {
			return false, i
		}
	}
	return true, -1
}

// Read returns a copy of the entry at index.
func (m *multiTab) Read(index int) multiEntry { return m.entries[index] }

// Set installs a new in-flight multicast transaction at index.
func (m *multiTab) Set(index int, update, broadcast, needRsp, needAck bool, origin Originator, nline uint64, nbPending int) {
	m.entries[index] = multiEntry{
		Valid:     true,
		Update:    update,
		Broadcast: broadcast,
		NeedRsp:   needRsp,
		NeedAck:   needAck,
		Origin:    origin,
		Nline:     nline,
		NbPending: nbPending,
	}
}

// Decrement lowers the pending-acknowledgement count of entry index by
// one and returns the new count. It does not clear the entry: callers
// clear explicitly once the count reaches zero, since zero-pending and
// retired are distinct observable states during the same FSM step.
func (m *multiTab) Decrement(index int) int {
	e := &m.entries[index]
	if e.NbPending > 0 {
		e.NbPending--
	}
	return e.NbPending
}

// Clear invalidates the entry at index, retiring the transaction.
func (m *multiTab) Clear(index int) {
	m.entries[index] = multiEntry{}
}

// UPT is the Update Table: tracks in-flight per-copy multicast updates.
type UPT struct{ multiTab }

// NewUPT allocates an all-invalid update table of the given size.
func NewUPT(size int) *UPT { return &UPT{newMultiTab(size)} }

// IVT is the Invalidate Table: tracks in-flight multicast or broadcast
// invalidations. Per nline, at most one IVT entry may be valid at a time.
type IVT struct{ multiTab }

// NewIVT allocates an all-invalid invalidate table of the given size.
func NewIVT(size int) *IVT { return &IVT{newMultiTab(size)} }

// SearchInval reports the index of the valid entry invalidating nline,
// if any. Used by XRAM-response and CLEANUP to detect a pending invalidation on
// a line before issuing a new one or retiring a cleanup against it.
func (t *IVT) SearchInval(nline uint64) (index int, ok bool) {
	for i := range t.entries {
		if t.entries[i].Valid && t.entries[i].Nline == nline {
			return i, true
		}
	}
	return -1, false
}

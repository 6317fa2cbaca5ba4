package mcache

// TRTEntry tracks one outstanding XRAM transaction, grounded on the
// original's TransactionTabEntry/xram_transaction.h.
type TRTEntry struct {
	Valid     bool
	XramRead  bool // true: GET: false: PUT
	Nline     uint64
	Srcid     uint32
	Trdid     uint32
	Pktid     uint32
	Inst      bool // the requesting cache is an instruction cache, not data
	ProcRead  bool // GET serves a processor request and owes it a response
	Uncached  bool // ProcRead's original request was uncached: install the line in counter mode, not single-owner
	ReadLength int
	WordIndex int
	Wdata     []uint32 // write-through merge buffer, one slot per line word
	WdataBe   []uint8  // byte-enable of the merge buffer, per word
	Rerror    bool
	LLKey     uint32
	Config    bool // PUT issued by the CONFIG FSM, needs its own ack
}

// TRT is the Transaction Table: TRTSize entries, with the invariant that
// at most one valid GET and one valid PUT exist per nline at a time.
type TRT struct {
	entries []TRTEntry
	words   int
}

// NewTRT allocates an all-invalid transaction table sized for lines of
// `words` 32-bit words.
func NewTRT(size, words int) *TRT {
	return &TRT{entries: make([]TRTEntry, size), words: words}
}

// Full reports whether every entry is valid; when it is not, index names
// a free slot a caller may Set.
func (t *TRT) Full() (full bool, index int) {
	for i := range t.entries {
		if !t.entries[i].Valid {
			return false, i
		}
	}
	return true, -1
}

// HitRead reports the index of a valid GET entry for nline, if any.
func (t *TRT) HitRead(nline uint64) (index int, ok bool) {
	for i := range t.entries {
		if t.entries[i].Valid && t.entries[i].XramRead && t.entries[i].Nline == nline {
			return i, true
		}
	}
	return -1, false
}

// HitWrite reports whether a valid PUT entry exists for nline.
func (t *TRT) HitWrite(nline uint64) bool {
	for i := range t.entries {
		if t.entries[i].Valid && !t.entries[i].XramRead && t.entries[i].Nline == nline {
			return true
		}
	}
	return false
}

// Read returns a copy of the entry at index.
func (t *TRT) Read(index int) TRTEntry { return t.entries[index] }

// Set installs a new transaction at index, allocating the merge buffers.
func (t *TRT) Set(index int, xramRead bool, nline uint64, srcid, trdid, pktid uint32, procRead, uncached bool, readLength, wordIndex int, wdata []uint32, wdataBe []uint8, config bool) {
	t.SetInst(index, xramRead, nline, srcid, trdid, pktid, false, procRead, uncached, readLength, wordIndex, wdata, wdataBe, config)
}

// SetInst is Set plus the instruction-cache flag, used by the READ
// worker so an instruction-fetch GET miss can still be routed to the
// right target type once its line arrives.
func (t *TRT) SetInst(index int, xramRead bool, nline uint64, srcid, trdid, pktid uint32, inst, procRead, uncached bool, readLength, wordIndex int, wdata []uint32, wdataBe []uint8, config bool) {
	e := TRTEntry{
		Valid:      true,
		XramRead:   xramRead,
		Nline:      nline,
		Srcid:      srcid,
		Trdid:      trdid,
		Pktid:      pktid,
		Inst:       inst,
		ProcRead:   procRead,
		Uncached:   uncached,
		ReadLength: readLength,
		WordIndex:  wordIndex,
		Wdata:      make([]uint32, t.words),
		WdataBe:    make([]uint8, t.words),
		Config:     config,
	}
	copy(e.Wdata, wdata)
	copy(e.WdataBe, wdataBe)
	t.entries[index] = e
}

// WriteDataMask merges a processor write burst into an outstanding
// entry's buffer: new bytes (selected by be) overwrite the buffer, bytes not
// selected by be are left as they were (zero, for a freshly allocated
// entry). Mirrors TransactionTab::write_data_mask.
func (t *TRT) WriteDataMask(index int, data []uint32, be []uint8) {
	e := &t.entries[index]
	for i := 0; i < len(data) && i < len(e.Wdata); i++ {
		mask := beToMask(be[i])
		e.Wdata[i] = (e.Wdata[i] &^ mask) | (data[i] & mask)
		e.WdataBe[i] |= be[i]
	}
}

// WriteRsp merges one 64-bit XRAM response flit (two consecutive 32-bit
// words) into entry index's buffer: bytes already written through
// (WdataBe bit set) are kept, XRAM's bytes fill the rest. word is the
// index of the first of the two words. On rerror the entry is marked
// failed and no data is merged.
func (t *TRT) WriteRsp(index int, word int, data uint64, rerror bool) {
	e := &t.entries[index]
	if rerror {
		e.Rerror = true
		return
	}
	lo := uint32(data)
	loMask := beToMask(e.WdataBe[word])
	e.Wdata[word] = (e.Wdata[word] & loMask) | (lo &^ loMask)

	hi := uint32(data >> 32)
	hiMask := beToMask(e.WdataBe[word+1])
	e.Wdata[word+1] = (e.Wdata[word+1] & hiMask) | (hi &^ hiMask)
}

// Clear invalidates the entry at index, retiring the transaction.
func (t *TRT) Clear(index int) {
	t.entries[index] = TRTEntry{}
}

// IsConfig reports whether the entry at index was issued by the CONFIG
// FSM and so needs its own completion ack rather than a processor
// response.
func (t *TRT) IsConfig(index int) bool { return t.entries[index].Config }

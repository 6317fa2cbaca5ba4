package mcache

// Owner identifies the first (directory-resident) sharer of a line: an
// L1 cache, distinguished as instruction or data.
type Owner struct {
	Srcid uint32
	Inst  bool
}

// DirectoryEntry is one (set, way) slot of the directory.
type DirectoryEntry struct {
	Valid  bool
	IsCnt  bool // counter mode: count is tracked, identities are not
	Dirty  bool
	Lock   bool
	Tag    uint32
	Count  int
	Owner  Owner // meaningful only when !IsCnt && Count > 0
	Ptr    int   // heap head; meaningful only when !IsCnt && Count > 1
}

func (e *DirectoryEntry) init() {
	*e = DirectoryEntry{}
}

// lruEntry tracks the one-bit pseudo-LRU "recent" state per (set, way).
type lruEntry struct {
	recent bool
}

// Directory is the set-associative tag+state array, grounded on the
// original's CacheDirectory: a flat sets*ways table of entries plus a
// parallel pseudo-LRU table.
type Directory struct {
	layout addressLayout
	ways   int
	sets   int

	entries []DirectoryEntry // sets*ways, row-major by set
	lru     []lruEntry
}

// NewDirectory allocates an all-invalid directory of the given shape.
func NewDirectory(cfg Config) *Directory {
	return &Directory{
		layout:  newAddressLayout(cfg),
		ways:    cfg.Ways,
		sets:    cfg.Sets,
		entries: make([]DirectoryEntry, cfg.Sets*cfg.Ways),
		lru:     make([]lruEntry, cfg.Sets*cfg.Ways),
	}
}

func (d *Directory) index(set, way int) int { return set*d.ways + way }

// Init invalidates every entry and clears all pseudo-LRU state.
func (d *Directory) Init() {
	for i := range d.entries {
		d.entries[i].init()
		d.lru[i] = lruEntry{}
	}
}

// Read returns a copy of the entry matching address, and the way it was
// found in. On a hit it marks the line as pseudo-LRU "recent". The
// returned entry is the zero value (Valid == false) on a miss.
func (d *Directory) Read(address uint64) (DirectoryEntry, int) {
	set := d.layout.set(address)
	tag := d.layout.tag(address)
	for way := 0; way < d.ways; way++ {
		i := d.index(set, way)
		if d.entries[i].Valid && d.entries[i].Tag == tag {
			d.touch(set, way)
			return d.entries[i], way
		}
	}
	return DirectoryEntry{}, -1
}

// ReadNeutral is Read without the pseudo-LRU update; it additionally
// returns the set the address maps to (used by the XRAM-response FSM,
// which needs the set even on a miss, to pick a victim way).
func (d *Directory) ReadNeutral(address uint64) (entry DirectoryEntry, way, set int) {
	set = d.layout.set(address)
	tag := d.layout.tag(address)
	for w := 0; w < d.ways; w++ {
		i := d.index(set, w)
		if d.entries[i].Valid && d.entries[i].Tag == tag {
			return d.entries[i], w, set
		}
	}
	return DirectoryEntry{}, -1, set
}

// Write replaces the entry at (set, way) and updates pseudo-LRU: writing
// a line sets its "recent" bit; when all ways of the set have become
// recent, all are cleared together.
func (d *Directory) Write(set, way int, entry DirectoryEntry) {
	d.entries[d.index(set, way)] = entry
	d.touch(set, way)
}

func (d *Directory) touch(set, way int) {
	allRecent := true
	for w := 0; w < d.ways; w++ {
		if w == way {
			continue
		}
		if !d.lru[d.index(set, w)].recent {
			allRecent = false
			break
		}
	}
	if allRecent {
		for w := 0; w < d.ways; w++ {
			d.lru[d.index(set, w)].recent = false
		}
	} else {
		d.lru[d.index(set, way)].recent = true
	}
}

// Invalidate clears the entry at (set, way).
func (d *Directory) Invalidate(set, way int) {
	d.entries[d.index(set, way)].init()
}

// EntryAt returns a copy of the entry at (set, way) without side effects,
// for callers that already resolved the coordinates (e.g. CLEANUP).
func (d *Directory) EntryAt(set, way int) DirectoryEntry {
	return d.entries[d.index(set, way)]
}

// Select applies the eviction-priority ladder: any invalid way first,
// then not-recent-and-not-locked, then not-recent-and-locked, then
// recent-and-not-locked, then way 0 as a last resort.
func (d *Directory) Select(set int) (entry DirectoryEntry, way int) {
	for w := 0; w < d.ways; w++ {
		if !d.entries[d.index(set, w)].Valid {
			return d.entries[d.index(set, w)], w
		}
	}
	for w := 0; w < d.ways; w++ {
		i := d.index(set, w)
		if !d.lru[i].recent && !d.entries[i].Lock {
			return d.entries[i], w
		}
	}
	for w := 0; w < d.ways; w++ {
		i := d.index(set, w)
		if !d.lru[i].recent && d.entries[i].Lock {
			return d.entries[i], w
		}
	}
	for w := 0; w < d.ways; w++ {
		i := d.index(set, w)
		if d.lru[i].recent && !d.entries[i].Lock {
			return d.entries[i], w
		}
	}
	return d.entries[d.index(set, 0)], 0
}

// Layout exposes the address decomposition helpers shared with other
// components (TRT nline lookups, CONFIG's line-by-line walk).
func (d *Directory) Layout() addressLayout { return d.layout }

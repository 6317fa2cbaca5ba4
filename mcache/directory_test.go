package mcache

import "testing"

func testDirConfig() Config {
	return Config{Ways: 4, Sets: 2, Words: 4}
}

func TestDirectoryMissThenWriteThenHit(t *testing.T) {
	d := NewDirectory(testDirConfig())
	addr := uint64(0x1000)

	if entry, way := d.Read(addr); entry.Valid || way != -1 {
		t.Fatalf("Read on empty directory: entry=%+v way=%d, want invalid/-1", entry, way)
	}

	entry, way, set := d.ReadNeutral(addr)
	if entry.Valid {
		t.Fatal("ReadNeutral on empty directory must miss")
	}
	if way != -1 {
		t.Fatalf("ReadNeutral way = %d, want -1 on miss", way)
	}

	layout := d.Layout()
	wantSet := layout.set(addr)
	if set != wantSet {
		t.Fatalf("ReadNeutral set = %d, want %d", set, wantSet)
	}

	d.Write(set, 0, DirectoryEntry{Valid: true, Tag: layout.tag(addr), Count: 1, Owner: Owner{Srcid: 5}})

	got, way2 := d.Read(addr)
	if !got.Valid || way2 != 0 {
		t.Fatalf("Read after Write: got=%+v way=%d, want valid/way 0", got, way2)
	}
	if got.Owner != (Owner{Srcid: 5}) {
		t.Fatalf("Owner = %+v, want {Srcid:5}", got.Owner)
	}
}

func TestDirectoryInvalidate(t *testing.T) {
	d := NewDirectory(testDirConfig())
	layout := d.Layout()
	addr := uint64(0x2000)
	d.Write(layout.set(addr), 1, DirectoryEntry{Valid: true, Tag: layout.tag(addr), Count: 1})

	d.Invalidate(layout.set(addr), 1)

	if entry, way := d.Read(addr); entry.Valid || way != -1 {
		t.Fatalf("Read after Invalidate: entry=%+v way=%d, want invalid/-1", entry, way)
	}
}

func TestDirectorySelectPrefersInvalidWay(t *testing.T) {
	d := NewDirectory(testDirConfig())
	d.Write(0, 0, DirectoryEntry{Valid: true, Tag: 1})
	d.Write(0, 1, DirectoryEntry{Valid: true, Tag: 2})
	// ways 2 and 3 remain invalid.

	entry, way := d.Select(0)
	if entry.Valid {
		t.Fatal("Select must prefer an invalid way when one exists")
	}
	if way != 2 {
		t.Fatalf("Select way = %d, want 2 (first invalid way)", way)
	}
}

func TestDirectorySelectPrefersNotRecentNotLocked(t *testing.T) {
	d := NewDirectory(testDirConfig())
	for w := 0; w < 4; w++ {
		d.Write(0, w, DirectoryEntry{Valid: true, Tag: uint32(w)})
	}
	// Touch ways 0,1,2 (mark recent) via repeated Write, leave way 3 alone.
	// touch() toggles lru bits; writing marks the written way recent
	// unless that completes the set, which would reset all. Touch ways
	// 0..2 individually so way 3 remains the lone not-recent entry.
	d.Write(0, 0, d.EntryAt(0, 0))
	d.Write(0, 1, d.EntryAt(0, 1))
	d.Write(0, 2, d.EntryAt(0, 2))

	entry, way := d.Select(0)
	if entry.Valid == false {
		t.Fatal("selected entry should be the valid, not-recent way")
	}
	if way != 3 {
		t.Fatalf("Select way = %d, want 3 (the only not-recent way)", way)
	}
}

func TestDirectoryTouchResetsWhenAllRecent(t *testing.T) {
	d := NewDirectory(testDirConfig())
	for w := 0; w < 4; w++ {
		d.Write(0, w, DirectoryEntry{Valid: true, Tag: uint32(w)})
	}
	// Every way has now been touched once by its own Write; the last
	// touch should have noticed all-recent and cleared every bit, so way
	// 0 (the first written, least recently touched by Select's ladder)
	// must again be picked ahead of the no-valid-invalid-way branches by
	// the not-recent-and-not-locked rule rather than falling through.
	entry, way := d.Select(0)
	if way != 0 {
		t.Fatalf("Select way = %d, want 0 after the all-recent reset", way)
	}
	_ = entry
}

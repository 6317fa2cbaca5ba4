package mcache

import "testing"

func TestMultiTabFullAndSet(t *testing.T) {
	upt := NewUPT(2)
	full, idx := upt.Full()
	if full || idx != 0 {
		t.Fatalf("Full() = (%v, %d), want (false, 0)", full, idx)
	}

	upt.Set(0, true, false, true, false, Originator{Srcid: 2, Trdid: 1, Pktid: 0}, 0x400, 2)
	full, idx = upt.Full()
	if full || idx != 1 {
		t.Fatalf("Full() = (%v, %d), want (false, 1)", full, idx)
	}

	upt.Set(1, false, true, false, true, Originator{}, 0x800, 17)
	full, _ = upt.Full()
	if !full {
		t.Fatal("Full() should report true once every entry is valid")
	}
}

func TestUPTDecrementAndClear(t *testing.T) {
	upt := NewUPT(1)
	upt.Set(0, true, false, true, false, Originator{Srcid: 2}, 0x400, 2)

	if n := upt.Decrement(0); n != 1 {
		t.Fatalf("Decrement = %d, want 1", n)
	}
	if n := upt.Decrement(0); n != 0 {
		t.Fatalf("Decrement = %d, want 0", n)
	}
	// further decrements below zero must clamp at zero.
	if n := upt.Decrement(0); n != 0 {
		t.Fatalf("Decrement below zero = %d, want clamp at 0", n)
	}

	e := upt.Read(0)
	if !e.Valid || !e.NeedRsp {
		t.Fatal("entry must remain valid until explicitly cleared")
	}

	upt.Clear(0)
	e = upt.Read(0)
	if e.Valid {
		t.Fatal("entry must be invalid after Clear")
	}
}

func TestIVTSearchInval(t *testing.T) {
	ivt := NewIVT(4)
	ivt.Set(2, false, true, false, false, Originator{}, 0x1000, 17)

	idx, ok := ivt.SearchInval(0x1000)
	if !ok || idx != 2 {
		t.Fatalf("SearchInval = (%d, %v), want (2, true)", idx, ok)
	}

	if _, ok := ivt.SearchInval(0x2000); ok {
		t.Fatal("SearchInval must miss on an untracked nline")
	}

	ivt.Clear(2)
	if _, ok := ivt.SearchInval(0x1000); ok {
		t.Fatal("SearchInval must miss once the entry is cleared")
	}
}

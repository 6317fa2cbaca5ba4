package mcache

import (
	"context"
	"testing"

	"github.com/tilemesh/mcc/proto"
)

func testCleanupController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(Config{
		Ways: 4, Sets: 2, Words: 4,
		MaxSharers: 8, HeapSize: 8,
		TRTSize: 4, UPTSize: 4, IVTSize: 4,
		NSlots: 12, LifeSpan: 4,
	}, []Segment{{Base: 0, Size: 1 << 32}})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestHandleCleanupSoleSharerInvalidatesOwner(t *testing.T) {
	ctx := context.Background()
	c := testCleanupController(t)
	layout := c.dir.Layout()
	addr := uint64(0x4000)
	set := layout.set(addr)
	c.dir.Write(set, 0, DirectoryEntry{Valid: true, Tag: layout.tag(addr), Count: 1, Owner: Owner{Srcid: 7}})

	if err := c.handleCleanup(ctx, proto.Cleanup{Srcid: 7, Way: 0, Nline: layout.nline(addr)}); err != nil {
		t.Fatalf("handleCleanup: %v", err)
	}

	entry := c.dir.EntryAt(set, 0)
	if entry.Count != 0 || entry.Owner != (Owner{}) {
		t.Fatalf("entry after cleanup = %+v, want Count 0 and zero Owner", entry)
	}

	select {
	case ck := <-c.clack:
		if ck.Dest != 7 {
			t.Fatalf("clack Dest = %d, want 7", ck.Dest)
		}
	default:
		t.Fatal("handleCleanup did not post a clack")
	}
}

func TestHandleCleanupRetiresPendingInval(t *testing.T) {
	ctx := context.Background()
	c := testCleanupController(t)
	layout := c.dir.Layout()
	addr := uint64(0x8000)
	set := layout.set(addr)
	nline := layout.nline(addr)
	c.dir.Write(set, 1, DirectoryEntry{Valid: true, Tag: layout.tag(addr), Count: 1, Owner: Owner{Srcid: 2}})

	origin := Originator{Srcid: 9, Trdid: 1, Pktid: 0}
	c.ivt.Set(0, false, false, true, false, origin, nline, 1)

	if err := c.handleCleanup(ctx, proto.Cleanup{Srcid: 2, Way: 1, Nline: nline}); err != nil {
		t.Fatalf("handleCleanup: %v", err)
	}

	if c.ivt.Read(0).Valid {
		t.Fatal("IVT entry should have been cleared once its last pending cleanup arrived")
	}

	select {
	case r := <-c.responses:
		if r.Rsrcid != origin.Srcid {
			t.Fatalf("deferred response Rsrcid = %d, want %d", r.Rsrcid, origin.Srcid)
		}
	default:
		t.Fatal("handleCleanup did not post the deferred response once the IVT entry retired")
	}
}

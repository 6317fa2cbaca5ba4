package mcache

import (
	"context"
	"testing"

	"github.com/tilemesh/mcc/proto"
)

func TestHandleMultiAckWaitsForEveryPending(t *testing.T) {
	ctx := context.Background()
	c := testCleanupController(t)
	origin := Originator{Srcid: 4, Trdid: 1, Pktid: 2}
	c.upt.Set(0, true, false, true, false, origin, 0x10, 2)

	if err := c.handleMultiAck(ctx, proto.MultiAck{UPTIndex: 0}); err != nil {
		t.Fatalf("handleMultiAck: %v", err)
	}
	select {
	case r := <-c.responses:
		t.Fatalf("response posted after only one of two acks: %+v", r)
	default:
	}
	if !c.upt.Read(0).Valid {
		t.Fatal("UPT entry cleared before its last pending ack arrived")
	}

	if err := c.handleMultiAck(ctx, proto.MultiAck{UPTIndex: 0}); err != nil {
		t.Fatalf("handleMultiAck: %v", err)
	}
	select {
	case r := <-c.responses:
		if r.Rsrcid != origin.Srcid || !r.Reop {
			t.Fatalf("response = %+v, want Rsrcid %d and Reop", r, origin.Srcid)
		}
	default:
		t.Fatal("handleMultiAck did not post the deferred response on the last ack")
	}
	if c.upt.Read(0).Valid {
		t.Fatal("UPT entry should be retired after its last ack")
	}
}

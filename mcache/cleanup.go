package mcache

import (
	"context"

	"github.com/tilemesh/mcc/proto"
)

// runCleanup is the CLEANUP FSM: it retires one sharer per incoming
// coherence-network cleanup packet, splicing the directory and heap
// state and, once an outstanding invalidation has fully drained,
// retiring the IVT entry and releasing whatever response it had deferred.
func (c *Controller) runCleanup(ctx context.Context) error {
	for {
		var p proto.Cleanup
		select {
		case p = <-c.cleanupq:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.handleCleanup(ctx, p); err != nil {
			return err
		}
	}
}

func (c *Controller) handleCleanup(ctx context.Context, p proto.Cleanup) error {
	layout := c.dir.Layout()
	address := layout.fromNline(p.Nline)
	set := layout.set(address)
	sharer := Owner{Srcid: p.Srcid, Inst: p.Type == proto.TargetInstruction}

	if err := c.alloc.DIR.Acquire(ctx); err != nil {
		return err
	}
	entry := c.dir.EntryAt(set, int(p.Way))
	if entry.Valid && !entry.IsCnt {
		switch {
		case entry.Count > 0 && entry.Owner == sharer:
			if entry.Count > 1 {
				if err := c.alloc.HEAP.Acquire(ctx); err != nil {
					c.alloc.DIR.Release()
					return err
				}
				head := c.heap.Read(entry.Ptr)
				entry.Owner = head.Owner
				c.heap.Free(entry.Ptr)
				if head.Next != entry.Ptr {
					entry.Ptr = head.Next
				}
				c.alloc.HEAP.Release()
			} else {
				entry.Owner = Owner{}
			}
			entry.Count--
		case entry.Count > 1:
			if err := c.alloc.HEAP.Acquire(ctx); err != nil {
				c.alloc.DIR.Release()
				return err
			}
			if newHead, found := c.heap.Remove(entry.Ptr, sharer); found {
				entry.Ptr = newHead
				entry.Count--
			}
			c.alloc.HEAP.Release()
		}
	} else if entry.Valid && entry.IsCnt && entry.Count > 0 {
		entry.Count--
	}
	c.dir.Write(set, int(p.Way), entry)
	c.alloc.DIR.Release()
	c.stats.Cleanup.record(c.requestCost(p.Srcid))

	if err := c.alloc.IVT.Acquire(ctx); err != nil {
		return err
	}
	if idx, ok := c.ivt.SearchInval(p.Nline); ok {
		remaining := c.ivt.Decrement(idx)
		if remaining == 0 {
			ivtEntry := c.ivt.Read(idx)
			c.ivt.Clear(idx)
			c.alloc.IVT.Release()
			if ivtEntry.NeedAck {
				c.completeOutstandingLine(ctx)
			}
			if ivtEntry.NeedRsp {
				c.postResponse(ctx, proto.Response{
					Rsrcid: ivtEntry.Origin.Srcid,
					Rtrdid: ivtEntry.Origin.Trdid,
					Rpktid: ivtEntry.Origin.Pktid,
					Reop:   true,
				})
			}
		} else {
			c.alloc.IVT.Release()
		}
	} else {
		c.alloc.IVT.Release()
	}

	c.postClack(ctx, proto.Clack{Dest: p.Srcid, Set: uint32(set), Way: p.Way, Type: p.Type})
	return nil
}

// postClack sends a cleanup acknowledgement on the dedicated ack
// channel, respecting ctx cancellation.
func (c *Controller) postClack(ctx context.Context, ck proto.Clack) {
	select {
	case c.clack <- ck:
	case <-ctx.Done():
	}
}

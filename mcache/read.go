package mcache

import (
	"context"
	"time"

	"github.com/tilemesh/mcc/proto"
)

// retryBackoff is the pause between a blocked table acquisition and the
// next attempt on the same command. Workers retry in place rather than
// re-queuing, so a bound keeps a stalled transaction from starving its
// FIFO without resorting to a dedicated wakeup channel per table.
const retryBackoff = 50 * time.Microsecond

// runRead is the READ worker: it services ordinary cached reads, LL and
// uncached reads drained from the READ FIFO.
func (c *Controller) runRead(ctx context.Context) error {
	for {
		var cmd proto.Command
		select {
		case cmd = <-c.readq:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.handleRead(ctx, cmd); err != nil {
			return err
		}
	}
}

func (c *Controller) handleRead(ctx context.Context, cmd proto.Command) error {
	layout := c.dir.Layout()
	owner := Owner{Srcid: cmd.Srcid, Inst: cmd.Op.IsInstruction()}
	uncached := cmd.Op.IsUncached()

	if err := c.alloc.DIR.Acquire(ctx); err != nil {
		return err
	}
	entry, way := c.dir.Read(cmd.Address)
	set := layout.set(cmd.Address)

	if entry.Valid {
		soleOwner := !entry.IsCnt && entry.Count == 1 && entry.Owner == owner
		if entry.IsCnt || uncached || soleOwner {
			c.alloc.DIR.Release()
			return c.respondReadHit(ctx, cmd, way, set)
		}

		if err := c.alloc.HEAP.Acquire(ctx); err != nil {
			c.alloc.DIR.Release()
			return err
		}
		c.addSharer(&entry, owner)
		c.dir.Write(set, way, entry)
		c.alloc.HEAP.Release()
		c.alloc.DIR.Release()
		return c.respondReadHit(ctx, cmd, way, set)
	}
	c.alloc.DIR.Release()

	return c.missRead(ctx, cmd)
}

// addSharer links owner into entry's sharer set, converting to counter
// mode if doing so would exceed MaxSharers or the heap has no room. The
// caller must hold DIR and HEAP.
func (c *Controller) addSharer(entry *DirectoryEntry, owner Owner) {
	if entry.Count == 0 {
		entry.Owner = owner
		entry.Count = 1
		return
	}

	if entry.Count+1 > c.cfg.MaxSharers || c.heap.IsFull() {
		if entry.Count > 1 {
			c.heap.FreeChain(entry.Ptr)
		}
		entry.IsCnt = true
		entry.Count++
		entry.Owner = Owner{}
		entry.Ptr = 0
		return
	}

	ptr, ok := c.heap.Alloc()
	if !ok {
		if entry.Count > 1 {
			c.heap.FreeChain(entry.Ptr)
		}
		entry.IsCnt = true
		entry.Count++
		entry.Owner = Owner{}
		entry.Ptr = 0
		return
	}

	next := ptr // self-loop if this is the first heap node
	if entry.Count > 1 {
		next = entry.Ptr
	}
	c.heap.Write(ptr, HeapEntry{Owner: owner, Next: next})
	entry.Ptr = ptr
	entry.Count++
}

func (c *Controller) respondReadHit(ctx context.Context, cmd proto.Command, way, set int) error {
	line := c.data.ReadLine(way, set)
	rdata := make([]uint32, 0, len(line)+1)
	if cmd.Op == proto.OpLL {
		if err := c.alloc.RESV.Acquire(ctx); err != nil {
			return err
		}
		key := c.resv.LL(cmd.Address)
		c.alloc.RESV.Release()
		rdata = append(rdata, key, line[c.dir.Layout().wordIndex(cmd.Address)])
	} else {
		rdata = append(rdata, line...)
	}
	c.stats.Read.record(c.requestCost(cmd.Srcid))
	c.postResponse(ctx, proto.Response{
		Rsrcid: cmd.Srcid,
		Rtrdid: cmd.Trdid,
		Rpktid: cmd.Pktid,
		Rdata:  rdata,
		Reop:   true,
	})
	return nil
}

// missRead allocates a TRT GET entry for cmd's line and dispatches it to
// external memory, or blocks in place on table-full / in-flight
// conflicts. The eventual response is produced by the XRAM-response FSM.
func (c *Controller) missRead(ctx context.Context, cmd proto.Command) error {
	layout := c.dir.Layout()
	nline := layout.nline(cmd.Address)

	for {
		if err := c.alloc.TRT.Acquire(ctx); err != nil {
			return err
		}
		if _, hit := c.trt.HitRead(nline); hit {
			c.stats.TRTReadBlocked.Add(1)
			c.alloc.TRT.Release()
			if err := sleepCtx(ctx, retryBackoff); err != nil {
				return err
			}
			continue
		}
		if c.trt.HitWrite(nline) {
			c.stats.TRTReadBlocked.Add(1)
			c.alloc.TRT.Release()
			if err := sleepCtx(ctx, retryBackoff); err != nil {
				return err
			}
			continue
		}
		full, index := c.trt.Full()
		if full {
			c.stats.TRTFullBlocked.Add(1)
			c.alloc.TRT.Release()
			if err := sleepCtx(ctx, retryBackoff); err != nil {
				return err
			}
			continue
		}

		c.trt.SetInst(index, true, nline, cmd.Srcid, cmd.Trdid, cmd.Pktid, cmd.Op.IsInstruction(), true, cmd.Op.IsUncached(), c.cfg.Words, 0, nil, nil, false)
		c.alloc.TRT.Release()

		select {
		case c.ixrCmdRead <- xramCommand{TRTIndex: index, Read: true, Nline: nline}:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.stats.ReadMiss.Add(1)
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

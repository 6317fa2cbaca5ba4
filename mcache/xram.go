package mcache

import (
	"context"

	"github.com/tilemesh/mcc/proto"
)

// runIXRRsp is the IXR-rsp FSM: it demultiplexes arriving XRAM responses
// back into the TRT entry that owns them, and wakes the XRAM-response
// FSM once a GET's data has fully arrived.
func (c *Controller) runIXRRsp(ctx context.Context) error {
	for {
		var r xramResponse
		select {
		case r = <-c.ixrRsp:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := c.alloc.TRT.Acquire(ctx); err != nil {
			return err
		}
		if r.Read {
			c.trt.WriteRsp(r.TRTIndex, r.WordPair, r.Data, r.Rerror)
			c.alloc.TRT.Release()
		} else {
			// PUT ack: nothing to merge, the transaction simply retires.
			if r.Rerror {
				c.alloc.TRT.Release()
				c.fatalf("XRAM PUT error at TRT index %d", r.TRTIndex)
			}
			wasConfig := c.trt.IsConfig(r.TRTIndex)
			c.trt.Clear(r.TRTIndex)
			c.alloc.TRT.Release()
			if wasConfig {
				c.completeOutstandingLine(ctx)
			}
			continue
		}

		if !r.Done {
			continue
		}
		select {
		case c.trtReady <- r.TRTIndex:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runXRAMResponse is the XRAM-response FSM: for each TRT entry whose GET
// data fully arrived, it installs the line in the directory (selecting
// and, if needed, invalidating a victim), completes or repurposes the
// TRT entry, and emits the processor response and any coherence traffic
// the victim's eviction requires.
func (c *Controller) runXRAMResponse(ctx context.Context) error {
	for {
		var trtIndex int
		select {
		case trtIndex = <-c.trtReady:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.handleXRAMResponse(ctx, trtIndex); err != nil {
			return err
		}
	}
}

func (c *Controller) handleXRAMResponse(ctx context.Context, trtIndex int) error {
	if err := c.alloc.TRT.Acquire(ctx); err != nil {
		return err
	}
	txn := c.trt.Read(trtIndex)
	c.alloc.TRT.Release()

	layout := c.dir.Layout()
	address := layout.fromNline(txn.Nline)

	if txn.Rerror {
		if err := c.alloc.TRT.Acquire(ctx); err != nil {
			return err
		}
		c.trt.Clear(trtIndex)
		c.alloc.TRT.Release()

		if txn.ProcRead {
			c.postResponse(ctx, proto.Response{Rsrcid: txn.Srcid, Rtrdid: txn.Trdid, Rpktid: txn.Pktid, Rerror: true, Reop: true})
		} else {
			c.raiseInterrupt(txn.Srcid, address)
		}
		return nil
	}

	set := layout.set(address)

	if err := c.alloc.DIR.Acquire(ctx); err != nil {
		return err
	}
	victim, way := c.dir.Select(set)

	needsInval := victim.Valid && (victim.Count > 0)
	var ivtIndex int
	if needsInval {
		for {
			if err := c.alloc.IVT.Acquire(ctx); err != nil {
				c.alloc.DIR.Release()
				return err
			}
			if _, pending := c.ivt.SearchInval(layout.nline(address)); pending {
				c.alloc.IVT.Release()
				if err := sleepCtx(ctx, retryBackoff); err != nil {
					c.alloc.DIR.Release()
					return err
				}
				continue
			}
			full, idx := c.ivt.Full()
			if full {
				c.alloc.IVT.Release()
				if err := sleepCtx(ctx, retryBackoff); err != nil {
					c.alloc.DIR.Release()
					return err
				}
				continue
			}
			ivtIndex = idx
			break
		}
	}

	var newEntry DirectoryEntry
	if txn.Uncached {
		// An uncached GET is not retained as a per-copy line: install it in
		// counter mode so no specific owner is recorded and a later write
		// broadcast-invalidates rather than targeting a sharer that isn't
		// really resident.
		newEntry = DirectoryEntry{Valid: true, Tag: layout.tag(address), IsCnt: true, Count: 1}
	} else {
		owner := Owner{Srcid: txn.Srcid, Inst: txn.Inst}
		newEntry = DirectoryEntry{Valid: true, Tag: layout.tag(address), Count: 1, Owner: owner}
	}
	newEntry.Dirty = len(txn.WdataBe) > 0 && anyByteSet(txn.WdataBe)

	var victimLine []uint32
	if victim.Valid {
		victimLine = c.data.ReadLine(way, layout.set(address))
	}
	c.data.WriteLine(way, layout.set(address), txn.Wdata, fullBe(len(txn.Wdata)))
	c.dir.Write(layout.set(address), way, newEntry)
	c.alloc.DIR.Release()

	if needsInval {
		victimNline := uint64(0)
		if victim.Valid {
			victimNline = addressNline(layout, set, victim)
		}
		origin := Originator{}
		c.ivt.Set(ivtIndex, false, !victim.IsCnt == false, false, false, origin, victimNline, victim.Count)
		c.alloc.IVT.Release()

		if victim.IsCnt {
			c.postCoherence(ctx, ccSendFromXRAM, coherencePacket{Broadcast: &proto.BroadcastInval{Index: uint32(ivtIndex), Nline: victimNline}})
			c.stats.BInval.record(c.requestCost(txn.Srcid))
		} else {
			for _, s := range c.sharerList(victim) {
				c.postCoherence(ctx, ccSendFromXRAM, coherencePacket{Inval: &proto.MultiInval{Dest: s.Srcid, Index: uint32(ivtIndex), Type: targetType(s), Nline: victimNline}})
			}
			c.stats.MInval.record(c.requestCost(txn.Srcid))
		}

		if entryDirty(victim) {
			if err := c.alloc.TRT.Acquire(ctx); err != nil {
				return err
			}
			c.trt.Set(trtIndex, false, victimNline, 0, 0, 0, false, false, 0, 0, victimLine, fullBe(len(victimLine)), false)
			c.alloc.TRT.Release()
			select {
			case c.ixrCmdXRAM <- xramCommand{TRTIndex: trtIndex, Read: false, Nline: victimNline, Data: victimLine, Be: fullBe(len(victimLine))}:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			if err := c.alloc.TRT.Acquire(ctx); err != nil {
				return err
			}
			c.trt.Clear(trtIndex)
			c.alloc.TRT.Release()
		}
	} else {
		if err := c.alloc.TRT.Acquire(ctx); err != nil {
			return err
		}
		c.trt.Clear(trtIndex)
		c.alloc.TRT.Release()
	}

	// A write-miss GET (ProcRead false) was already answered by missWrite.
	if txn.ProcRead {
		rdata := append([]uint32(nil), txn.Wdata...)
		c.postResponse(ctx, proto.Response{Rsrcid: txn.Srcid, Rtrdid: txn.Trdid, Rpktid: txn.Pktid, Rdata: rdata, Reop: true})
	}
	c.stats.ReadMiss.Add(1)
	return nil
}

func anyByteSet(be []uint8) bool {
	for _, b := range be {
		if b != 0 {
			return true
		}
	}
	return false
}

func fullBe(n int) []uint8 {
	be := make([]uint8, n)
	for i := range be {
		be[i] = 0xf
	}
	return be
}

func entryDirty(e DirectoryEntry) bool { return e.Dirty }

// addressNline reconstructs the nline (tag || set) of an entry resident
// in set, from the tag it stores — DirectoryEntry does not itself carry
// the set it lives in, so callers evicting a victim must supply it.
func addressNline(layout addressLayout, set int, e DirectoryEntry) uint64 {
	return uint64(e.Tag)<<layout.setBits | uint64(set)
}

package mcache

import (
	"context"

	"github.com/tilemesh/mcc/proto"
)

// runWrite is the WRITE worker: it services ordinary cached writes and
// SC, both drained from the WRITE FIFO.
func (c *Controller) runWrite(ctx context.Context) error {
	for {
		var cmd proto.Command
		select {
		case cmd = <-c.writeq:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.handleWrite(ctx, cmd); err != nil {
			return err
		}
	}
}

func (c *Controller) handleWrite(ctx context.Context, cmd proto.Command) error {
	layout := c.dir.Layout()
	isSC := cmd.Op == proto.OpSC
	writer := Owner{Srcid: cmd.Srcid, Inst: cmd.Op.IsInstruction()}

	if isSC {
		key := uint32(0)
		if len(cmd.Wdata) > 0 {
			key = cmd.Wdata[0]
		}
		if err := c.alloc.RESV.Acquire(ctx); err != nil {
			return err
		}
		ok := c.resv.Check(cmd.Address, key)
		c.alloc.RESV.Release()
		if !ok {
			c.stats.SC.record(c.requestCost(cmd.Srcid))
			c.postResponse(ctx, proto.Response{
				Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid,
				Rdata: []uint32{proto.AtomicFail}, Reop: true,
			})
			return nil
		}
	} else {
		wordBytes := uint64(4)
		min := layout.lineBase(cmd.Address)
		max := min + uint64(c.cfg.Words)*wordBytes - wordBytes
		if err := c.alloc.RESV.Acquire(ctx); err != nil {
			return err
		}
		c.resv.SW(min, max)
		c.alloc.RESV.Release()
	}

	if err := c.alloc.DIR.Acquire(ctx); err != nil {
		return err
	}
	entry, way := c.dir.Read(cmd.Address)
	set := layout.set(cmd.Address)

	if !entry.Valid {
		c.alloc.DIR.Release()
		return c.missWrite(ctx, cmd, writer)
	}

	wordData, be := burstWords(cmd, c.cfg.Words)

	soleWriter := entry.Count == 0 || (!entry.IsCnt && entry.Count == 1 && entry.Owner == writer)
	if soleWriter {
		c.data.WriteLine(way, set, wordData, be)
		entry.Dirty = true
		c.dir.Write(set, way, entry)
		c.alloc.DIR.Release()
		if isSC {
			if err := c.alloc.RESV.Acquire(ctx); err != nil {
				return err
			}
			c.resv.SC(cmd.Address, cmd.Wdata[0])
			c.alloc.RESV.Release()
			c.stats.SC.record(c.requestCost(cmd.Srcid))
			c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Rdata: []uint32{proto.AtomicSuccess}, Reop: true})
		} else {
			c.stats.Write.record(c.requestCost(cmd.Srcid))
			c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
		}
		return nil
	}

	if entry.IsCnt {
		return c.writeBroadcast(ctx, cmd, writer, entry, way, set, wordData, be, isSC)
	}
	return c.writeMulticast(ctx, cmd, writer, entry, way, set, wordData, be, isSC)
}

// burstWords expands a command's sparse word/be arrays into full-line
// slices, defaulting untouched words to an all-clear byte-enable. For SC,
// whose Wdata is (key, data), only the data word is placed, as a
// full-word write at the addressed word.
func burstWords(cmd proto.Command, words int) ([]uint32, []uint8) {
	data := make([]uint32, words)
	be := make([]uint8, words)
	if cmd.Op == proto.OpSC {
		if len(cmd.Wdata) > 1 {
			i := int((cmd.Address >> 2) & uint64(words-1))
			data[i] = cmd.Wdata[1]
			be[i] = 0xf
		}
		return data, be
	}
	for i := 0; i < len(cmd.Wdata) && i < words; i++ {
		data[i] = cmd.Wdata[i]
		if i < len(cmd.Be) {
			be[i] = uint8(cmd.Be[i])
		}
	}
	return data, be
}

// sharerList returns every owner recorded for entry: the directory's
// resident owner, plus its heap chain when Count > 1.
func (c *Controller) sharerList(entry DirectoryEntry) []Owner {
	if entry.Count == 0 {
		return nil
	}
	out := make([]Owner, 0, entry.Count)
	out = append(out, entry.Owner)
	if entry.Count > 1 {
		cur := entry.Ptr
		for {
			h := c.heap.Read(cur)
			out = append(out, h.Owner)
			if h.Next == cur {
				break
			}
			cur = h.Next
		}
	}
	return out
}

// writeMulticast handles a write hitting a per-copy (non-counter-mode)
// line: it writes the cache, registers a multi-update and queues update
// packets to every sharer but the writer, deferring the response to the
// MULTI-ACK FSM.
func (c *Controller) writeMulticast(ctx context.Context, cmd proto.Command, writer Owner, entry DirectoryEntry, way, set int, data []uint32, be []uint8, isSC bool) error {
	c.data.WriteLine(way, set, data, be)
	entry.Dirty = true
	c.dir.Write(set, way, entry)
	c.alloc.DIR.Release()

	sharers := c.sharerList(entry)
	targets := make([]Owner, 0, len(sharers))
	writerIsSharer := false
	for _, s := range sharers {
		if s == writer {
			writerIsSharer = true
			continue
		}
		targets = append(targets, s)
	}

	if err := c.alloc.UPT.Acquire(ctx); err != nil {
		return err
	}
	full, index := c.upt.Full()
	for full {
		c.alloc.UPT.Release()
		if err := sleepCtx(ctx, retryBackoff); err != nil {
			return err
		}
		if err := c.alloc.UPT.Acquire(ctx); err != nil {
			return err
		}
		full, index = c.upt.Full()
	}

	pending := len(targets)
	origin := Originator{Srcid: cmd.Srcid, Trdid: cmd.Trdid, Pktid: cmd.Pktid}
	c.upt.Set(index, true, false, true, false, origin, c.dir.Layout().nline(cmd.Address), pending)
	c.alloc.UPT.Release()

	if isSC {
		if err := c.alloc.RESV.Acquire(ctx); err != nil {
			return err
		}
		c.resv.SC(cmd.Address, cmd.Wdata[0])
		c.alloc.RESV.Release()
	}

	first, last := 0, -1
	for i := range data {
		if be[i] != 0 {
			if last < 0 {
				first = i
			}
			last = i
		}
	}
	words := make([]proto.UpdateWord, 0, len(data))
	for i := first; i <= last; i++ {
		words = append(words, proto.UpdateWord{Be: be[i], Data: data[i]})
	}
	nline := c.dir.Layout().nline(cmd.Address)
	for _, s := range targets {
		c.postCoherence(ctx, ccSendFromWrite, coherencePacket{Update: &proto.MultiUpdate{
			Dest: s.Srcid, Index: uint32(index), Type: targetType(s), Nline: nline, WordIndex: uint32(first), Words: words,
		}})
	}
	_ = writerIsSharer // accounted for: the writer is excluded from targets and never double-counted in pending
	c.stats.Write.record(c.requestCost(cmd.Srcid))
	c.stats.MUpdate.record(c.requestCost(cmd.Srcid))
	return nil
}

// writeBroadcast handles a write hitting a counter-mode line (or an SC
// that must invalidate every copy): it snapshots the line for a PUT,
// invalidates the directory entry, and emits a broadcast invalidation.
func (c *Controller) writeBroadcast(ctx context.Context, cmd proto.Command, writer Owner, entry DirectoryEntry, way, set int, data []uint32, be []uint8, isSC bool) error {
	nline := c.dir.Layout().nline(cmd.Address)
	old := c.data.ReadLine(way, set)
	for i := range data {
		if be[i] != 0 {
			old[i] = data[i]
		}
	}
	c.dir.Invalidate(set, way)
	c.alloc.DIR.Release()

	if err := c.alloc.IVT.Acquire(ctx); err != nil {
		return err
	}
	full, index := c.ivt.Full()
	for full {
		c.alloc.IVT.Release()
		if err := sleepCtx(ctx, retryBackoff); err != nil {
			return err
		}
		if err := c.alloc.IVT.Acquire(ctx); err != nil {
			return err
		}
		full, index = c.ivt.Full()
	}
	origin := Originator{Srcid: cmd.Srcid, Trdid: cmd.Trdid, Pktid: cmd.Pktid}
	c.ivt.Set(index, false, true, true, false, origin, nline, entry.Count)
	c.alloc.IVT.Release()

	if err := c.alloc.TRT.Acquire(ctx); err != nil {
		return err
	}
	full2, trtIndex := c.trt.Full()
	for full2 {
		c.alloc.TRT.Release()
		if err := sleepCtx(ctx, retryBackoff); err != nil {
			return err
		}
		if err := c.alloc.TRT.Acquire(ctx); err != nil {
			return err
		}
		full2, trtIndex = c.trt.Full()
	}
	c.trt.Set(trtIndex, false, nline, cmd.Srcid, cmd.Trdid, cmd.Pktid, false, false, 0, 0, old, be, false)
	c.alloc.TRT.Release()

	if isSC {
		if err := c.alloc.RESV.Acquire(ctx); err != nil {
			return err
		}
		c.resv.SC(cmd.Address, cmd.Wdata[0])
		c.alloc.RESV.Release()
	}

	c.postCoherence(ctx, ccSendFromWrite, coherencePacket{Broadcast: &proto.BroadcastInval{Index: uint32(index), Nline: nline}})
	select {
	case c.ixrCmdWrite <- xramCommand{TRTIndex: trtIndex, Read: false, Nline: nline, Data: old, Be: be}:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.stats.Write.record(c.requestCost(cmd.Srcid))
	c.stats.WriteBroadcast.Add(1)
	c.stats.BInval.record(c.requestCost(cmd.Srcid))
	return nil
}

// missWrite allocates a GET entry for a write miss, merging the write
// burst into the buffer as write-through data, and responds optimistically.
func (c *Controller) missWrite(ctx context.Context, cmd proto.Command, writer Owner) error {
	layout := c.dir.Layout()
	nline := layout.nline(cmd.Address)
	data, be := burstWords(cmd, c.cfg.Words)

	if err := c.alloc.TRT.Acquire(ctx); err != nil {
		return err
	}
	if idx, hit := c.trt.HitRead(nline); hit {
		c.trt.WriteDataMask(idx, data, be)
		c.alloc.TRT.Release()
		c.stats.WriteMiss.Add(1)
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
		return nil
	}
	full, index := c.trt.Full()
	for full {
		c.stats.TRTFullBlocked.Add(1)
		c.alloc.TRT.Release()
		if err := sleepCtx(ctx, retryBackoff); err != nil {
			return err
		}
		if err := c.alloc.TRT.Acquire(ctx); err != nil {
			return err
		}
		full, index = c.trt.Full()
	}
	c.trt.Set(index, true, nline, cmd.Srcid, cmd.Trdid, cmd.Pktid, false, false, c.cfg.Words, 0, data, be, false)
	c.alloc.TRT.Release()

	select {
	case c.ixrCmdWrite <- xramCommand{TRTIndex: index, Read: true, Nline: nline}:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.stats.WriteMiss.Add(1)
	c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
	return nil
}

func targetType(o Owner) proto.TargetType {
	if o.Inst {
		return proto.TargetInstruction
	}
	return proto.TargetData
}

package mcache

import (
	"context"

	"github.com/tilemesh/mcc/proto"
)

// runCAS is the CAS worker: two- or four-flit atomic compare-and-swap
// drained from the CAS FIFO.
func (c *Controller) runCAS(ctx context.Context) error {
	for {
		var cmd proto.Command
		select {
		case cmd = <-c.casq:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.handleCAS(ctx, cmd); err != nil {
			return err
		}
	}
}

func (c *Controller) handleCAS(ctx context.Context, cmd proto.Command) error {
	layout := c.dir.Layout()
	writer := Owner{Srcid: cmd.Srcid, Inst: cmd.Op.IsInstruction()}

	if err := c.alloc.DIR.Acquire(ctx); err != nil {
		return err
	}
	entry, way := c.dir.Read(cmd.Address)
	set := layout.set(cmd.Address)

	if !entry.Valid {
		c.alloc.DIR.Release()
		return c.missWrite(ctx, cmd, writer)
	}

	half := len(cmd.Wdata) / 2
	expected := cmd.Wdata[:half]
	replacement := cmd.Wdata[half:]

	wordIndex := layout.wordIndex(cmd.Address)
	line := c.data.ReadLine(way, set)
	match := true
	for i, want := range expected {
		if wordIndex+i >= len(line) || line[wordIndex+i] != want {
			match = false
			break
		}
	}
	if match && c.fail.OneIn(c.cfg.CASFailThrottle) {
		match = false
	}

	if !match {
		c.alloc.DIR.Release()
		c.stats.CAS.record(c.requestCost(cmd.Srcid))
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Rdata: []uint32{proto.AtomicFail}, Reop: true})
		return nil
	}

	data := make([]uint32, c.cfg.Words)
	be := make([]uint8, c.cfg.Words)
	for i, v := range replacement {
		if wordIndex+i < len(data) {
			data[wordIndex+i] = v
			be[wordIndex+i] = 0xf
		}
	}

	if err := c.alloc.RESV.Acquire(ctx); err != nil {
		c.alloc.DIR.Release()
		return err
	}
	c.resv.SW(cmd.Address, cmd.Address)
	c.alloc.RESV.Release()

	soleWriter := entry.Count == 0 || (!entry.IsCnt && entry.Count == 1 && entry.Owner == writer)
	if soleWriter {
		c.data.WriteLine(way, set, data, be)
		entry.Dirty = true
		c.dir.Write(set, way, entry)
		c.alloc.DIR.Release()
		c.stats.CAS.record(c.requestCost(cmd.Srcid))
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Rdata: []uint32{proto.AtomicSuccess}, Reop: true})
		return nil
	}

	if entry.IsCnt {
		return c.writeBroadcast(ctx, cmd, writer, entry, way, set, data, be, false)
	}
	return c.writeMulticast(ctx, cmd, writer, entry, way, set, data, be, false)
}

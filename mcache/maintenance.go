package mcache

import (
	"context"

	"github.com/tilemesh/mcc/proto"
)

// runConfig is the CONFIG FSM (§4.1.8): it services the configuration
// sub-segment's register reads and writes, and drives the line-by-line
// INVAL/SYNC maintenance loop a CMD_TYPE write starts.
func (c *Controller) runConfig(ctx context.Context) error {
	for {
		var cmd proto.Command
		select {
		case cmd = <-c.configq:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.handleConfig(ctx, cmd); err != nil {
			return err
		}
	}
}

func (c *Controller) handleConfig(ctx context.Context, cmd proto.Command) error {
	seg, ok := c.resolveSegment(cmd.Address)
	if !ok {
		c.fatalf("config command at %#x resolved to no segment on second pass", cmd.Address)
	}
	offset := uint32(cmd.Address-seg.Base) & 0xFFF
	fn, regr := proto.DecodeConfigOffset(offset)
	isWrite := cmd.Op == proto.OpWrite

	switch fn {
	case proto.FuncConfig:
		return c.handleConfigFunc(ctx, cmd, regr, isWrite)
	case proto.FuncInstrm:
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Rdata: []uint32{c.instrmRegister(regr)}, Reop: true})
		return nil
	case proto.FuncRerror:
		return c.handleRerrorFunc(ctx, cmd, regr, isWrite)
	default:
		c.fatalf("malformed config command: unknown function %d (srcid %d)", fn, cmd.Srcid)
		return nil
	}
}

func (c *Controller) handleConfigFunc(ctx context.Context, cmd proto.Command, regr proto.ConfigReg, isWrite bool) error {
	value := uint32(0)
	if len(cmd.Wdata) > 0 {
		value = cmd.Wdata[0]
	}

	if !isWrite {
		var v uint32
		switch regr {
		case proto.RegAddrLo:
			v = c.cfgAddrLo
		case proto.RegAddrHi:
			v = c.cfgAddrHi
		case proto.RegBufLength:
			v = c.cfgBufLength
		}
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Rdata: []uint32{v}, Reop: true})
		return nil
	}

	switch regr {
	case proto.RegAddrLo:
		c.cfgAddrLo = value
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
		return nil
	case proto.RegAddrHi:
		c.cfgAddrHi = value
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
		return nil
	case proto.RegBufLength:
		c.cfgBufLength = value
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
		return nil
	case proto.RegCmdType:
		if proto.CmdType(value) == proto.CmdTypeNone {
			c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
			return nil
		}
		return c.runMaintenanceLoop(ctx, cmd, proto.CmdType(value))
	default:
		c.fatalf("malformed config command: unknown CONFIG register %d (srcid %d)", regr, cmd.Srcid)
		return nil
	}
}

func (c *Controller) handleRerrorFunc(ctx context.Context, cmd proto.Command, regr proto.ConfigReg, isWrite bool) error {
	c.rerrorMu.Lock()
	if isWrite {
		value := uint32(0)
		if len(cmd.Wdata) > 0 {
			value = cmd.Wdata[0]
		}
		switch regr {
		case proto.RegRerrorIrqReset:
			c.rerrorLatched = false
			c.rerrorSrcid, c.rerrorAddrLo, c.rerrorAddrHi = 0, 0, 0
		case proto.RegRerrorIrqEnable:
			c.irqEnable = value != 0
		}
		c.rerrorMu.Unlock()
		c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Reop: true})
		return nil
	}

	var v uint32
	switch regr {
	case proto.RegRerrorSrcid:
		v = c.rerrorSrcid
	case proto.RegRerrorAddrLo:
		v = c.rerrorAddrLo
	case proto.RegRerrorAddrHi:
		v = c.rerrorAddrHi
	case proto.RegRerrorIrqEnable:
		if c.irqEnable {
			v = 1
		}
	}
	c.rerrorMu.Unlock()
	c.postResponse(ctx, proto.Response{Rsrcid: cmd.Srcid, Rtrdid: cmd.Trdid, Rpktid: cmd.Pktid, Rdata: []uint32{v}, Reop: true})
	return nil
}

// raiseInterrupt latches (srcid, address) and posts a single interrupt,
// rate-limited by the IRQ_RESET handshake: a second error arriving while
// one is already latched is dropped rather than queued, matching the
// "rate-limited" language of §7.
func (c *Controller) raiseInterrupt(srcid uint32, address uint64) {
	c.rerrorMu.Lock()
	if c.rerrorLatched || !c.irqEnable {
		c.rerrorMu.Unlock()
		return
	}
	c.rerrorLatched = true
	c.rerrorSrcid = srcid
	c.rerrorAddrLo = uint32(address)
	c.rerrorAddrHi = uint32(address >> 32)
	c.rerrorMu.Unlock()

	select {
	case c.interrupts <- proto.Interrupt{Srcid: srcid, AddrLo: uint32(address), AddrHi: uint32(address >> 32)}:
	default:
	}
}

// runMaintenanceLoop walks every line of the buffer named by the CONFIG
// registers, driving an INVAL or SYNC against each, and defers cmd's
// response until outstanding_lines returns to zero (§4.1.8).
func (c *Controller) runMaintenanceLoop(ctx context.Context, cmd proto.Command, kind proto.CmdType) error {
	req := proto.ConfigRequest{AddrLo: c.cfgAddrLo, AddrHi: c.cfgAddrHi, BufLength: c.cfgBufLength, Cmd: kind}
	base := req.Address()
	lineBytes := uint64(c.cfg.Words) * 4
	if lineBytes == 0 || req.BufLength == 0 || uint64(req.BufLength)%lineBytes != 0 || base%lineBytes != 0 {
		c.fatalf("malformed config command: unaligned maintenance range base=%#x len=%d (srcid %d)", base, req.BufLength, cmd.Srcid)
	}
	nLines := uint64(req.BufLength) / lineBytes

	c.cfgMu.Lock()
	c.cfgIssuing = true
	c.cfgOutstanding = 0
	c.cfgOrigin = Originator{Srcid: cmd.Srcid, Trdid: cmd.Trdid, Pktid: cmd.Pktid}
	c.cfgMu.Unlock()

	for i := uint64(0); i < nLines; i++ {
		addr := base + i*lineBytes
		var err error
		switch kind {
		case proto.CmdTypeInval:
			err = c.invalLine(ctx, addr)
		case proto.CmdTypeSync:
			err = c.syncLine(ctx, addr)
		default:
			c.fatalf("malformed config command: unknown CMD_TYPE %d (srcid %d)", kind, cmd.Srcid)
		}
		if err != nil {
			return err
		}
	}

	c.cfgMu.Lock()
	c.cfgIssuing = false
	done := c.cfgOutstanding == 0
	origin := c.cfgOrigin
	c.cfgMu.Unlock()

	if done {
		c.postResponse(ctx, proto.Response{Rsrcid: origin.Srcid, Rtrdid: origin.Trdid, Rpktid: origin.Pktid, Reop: true})
	}
	return nil
}

func (c *Controller) incrementOutstandingLine() {
	c.cfgMu.Lock()
	c.cfgOutstanding++
	c.cfgMu.Unlock()
}

// completeOutstandingLine retires one line of the current maintenance
// loop; once the count returns to zero and CONFIG has finished issuing
// every line, it posts the deferred response.
func (c *Controller) completeOutstandingLine(ctx context.Context) {
	c.cfgMu.Lock()
	c.cfgOutstanding--
	done := c.cfgOutstanding == 0 && !c.cfgIssuing
	origin := c.cfgOrigin
	c.cfgMu.Unlock()

	if done {
		c.postResponse(ctx, proto.Response{Rsrcid: origin.Srcid, Rtrdid: origin.Trdid, Rpktid: origin.Pktid, Reop: true})
	}
}

// invalLine drives an INVAL maintenance step for the line at addr: if
// the line is directory-resident with live copies, it registers a
// config-owned IVT entry (incrementing outstanding_lines) and emits a
// multicast or broadcast invalidation; CLEANUP retires the entry as
// cleanups arrive. A line with no copies (or absent from the directory)
// is simply invalidated in place.
func (c *Controller) invalLine(ctx context.Context, addr uint64) error {
	layout := c.dir.Layout()
	set := layout.set(addr)

	if err := c.alloc.DIR.Acquire(ctx); err != nil {
		return err
	}
	entry, way := c.dir.Read(addr)
	if !entry.Valid {
		c.alloc.DIR.Release()
		return nil
	}
	if entry.Count == 0 {
		c.dir.Invalidate(set, way)
		c.alloc.DIR.Release()
		return nil
	}
	nline := layout.nline(addr)
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
	c.ivt.Set(index, false, entry.IsCnt, false, true, Originator{}, nline, entry.Count)
	c.alloc.IVT.Release()
	c.incrementOutstandingLine()

	if entry.IsCnt {
		c.postCoherence(ctx, ccSendFromConfig, coherencePacket{Broadcast: &proto.BroadcastInval{Index: uint32(index), Nline: nline}})
	} else {
		for _, s := range c.sharerList(entry) {
			c.postCoherence(ctx, ccSendFromConfig, coherencePacket{Inval: &proto.MultiInval{Dest: s.Srcid, Index: uint32(index), Type: targetType(s), Nline: nline}})
		}
	}
	return nil
}

// syncLine drives a SYNC maintenance step for the line at addr: if the
// line is dirty, it snapshots it into a config-owned TRT PUT entry
// (incrementing outstanding_lines) and dispatches the write-back;
// IXR-rsp retires the entry once XRAM acknowledges it. A clean or absent
// line is a no-op.
func (c *Controller) syncLine(ctx context.Context, addr uint64) error {
	layout := c.dir.Layout()
	set := layout.set(addr)

	if err := c.alloc.DIR.Acquire(ctx); err != nil {
		return err
	}
	entry, way := c.dir.Read(addr)
	if !entry.Valid || !entry.Dirty {
		c.alloc.DIR.Release()
		return nil
	}
	line := c.data.ReadLine(way, set)
	entry.Dirty = false
	c.dir.Write(set, way, entry)
	c.alloc.DIR.Release()

	nline := layout.nline(addr)
	be := fullBe(len(line))

	if err := c.alloc.TRT.Acquire(ctx); err != nil {
		return err
	}
	full, index := c.trt.Full()
	for full {
		c.alloc.TRT.Release()
		if err := sleepCtx(ctx, retryBackoff); err != nil {
			return err
		}
		if err := c.alloc.TRT.Acquire(ctx); err != nil {
			return err
		}
		full, index = c.trt.Full()
	}
	c.trt.Set(index, false, nline, 0, 0, 0, false, false, 0, 0, line, be, true)
	c.alloc.TRT.Release()
	c.incrementOutstandingLine()

	select {
	case c.ixrCmdConfig <- xramCommand{TRTIndex: index, Read: false, Nline: nline, Data: line, Be: be}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// instrmRegister reads one observable counter register. The layout
// beyond "these counters exist and are monotonic until reset" is
// implementation-defined (§9): unrecognized or *_HI alias indices read
// zero.
func (c *Controller) instrmRegister(regr proto.ConfigReg) uint32 {
	i := uint32(regr)
	switch i {
	case 0:
		return c.stats.Read.Local()
	case 1:
		return c.stats.Read.Remote()
	case 2:
		return uint32(c.stats.Read.Cost())
	case 3:
		return c.stats.Write.Local()
	case 4:
		return c.stats.Write.Remote()
	case 5:
		return uint32(c.stats.Write.Cost())
	case 6:
		return c.stats.LL.Local()
	case 7:
		return c.stats.LL.Remote()
	case 8:
		return uint32(c.stats.LL.Cost())
	case 9:
		return c.stats.SC.Local()
	case 10:
		return c.stats.SC.Remote()
	case 11:
		return uint32(c.stats.SC.Cost())
	case 12:
		return c.stats.CAS.Local()
	case 13:
		return c.stats.CAS.Remote()
	case 14:
		return uint32(c.stats.CAS.Cost())
	case 15:
		return c.stats.MUpdate.Local()
	case 16:
		return c.stats.MUpdate.Remote()
	case 17:
		return c.stats.MUpdate.Total()
	case 18:
		return c.stats.MInval.Local()
	case 19:
		return c.stats.MInval.Remote()
	case 20:
		return c.stats.MInval.Total()
	case 21:
		return c.stats.BInval.Local()
	case 22:
		return c.stats.BInval.Remote()
	case 23:
		return c.stats.BInval.Total()
	case 24:
		return c.stats.Cleanup.Local()
	case 25:
		return c.stats.Cleanup.Remote()
	case 26:
		return c.stats.Cleanup.Total()
	case 27:
		return c.stats.ReadMiss.Load()
	case 28:
		return c.stats.WriteMiss.Load()
	case 29:
		return c.stats.WriteDirty.Load()
	case 30:
		return c.stats.WriteBroadcast.Load()
	case 31:
		return c.stats.TRTReadBlocked.Load()
	case 32:
		return c.stats.TRTFullBlocked.Load()
	default:
		return 0
	}
}

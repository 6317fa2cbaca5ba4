// Command coldmiss wires a mcache.Controller end to end against a tiny
// in-process stand-in for external memory, and drives a single
// processor read through a cold miss. It is the mcc analogue of the
// teacher's example/hello: the smallest program that exercises the
// direct-network and XRAM ports once (a single read raises no coherence
// traffic).
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/tilemesh/mcc/mcache"
	"github.com/tilemesh/mcc/proto"
)

func main() {
	addr := flag.Uint64("addr", 0x10000, "address to read")
	srcid := flag.Uint("srcid", 3, "requester srcid")
	flag.Parse()

	cfg := mcache.DefaultConfig()
	segments := []mcache.Segment{
		{Base: 0, Size: 1 << 32},
	}
	ctl, err := mcache.NewController(cfg, segments)
	if err != nil {
		log.Fatalf("coldmiss: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctl.Run(ctx) })
	g.Go(func() error { return serveXRAM(ctx, ctl, cfg) })

	cmd := proto.Command{
		Srcid:   uint32(*srcid),
		Trdid:   0,
		Pktid:   0,
		Address: *addr,
		Cmd:     proto.CmdRead,
		Op:      proto.OpReadDataMiss,
		Eop:     true,
	}
	if err := ctl.Submit(ctx, cmd); err != nil {
		log.Fatalf("coldmiss: submit: %v", err)
	}

	select {
	case r := <-ctl.Responses():
		log.Printf("cold miss at %#x resolved: %d words for srcid %d", *addr, len(r.Rdata), r.Rsrcid)
	case <-ctx.Done():
		log.Fatalf("coldmiss: %v", ctx.Err())
	}

	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("coldmiss: %v", err)
	}
}

// serveXRAM is the simplest possible external-memory stand-in: every
// word reads back as a fill pattern of its line and word index
// (nline<<8 | word), and every PUT
// is acknowledged without being stored anywhere.
func serveXRAM(ctx context.Context, ctl *mcache.Controller, cfg mcache.Config) error {
	for {
		select {
		case cmd, ok := <-ctl.XRAMCommands():
			if !ok {
				return nil
			}
			if !cmd.Read {
				if err := ctl.DeliverXRAMPutAck(ctx, cmd.TRTIndex, false); err != nil {
					return err
				}
				continue
			}
			line := fillPattern(cmd.Nline, cfg.Words)
			for word := 0; word < cfg.Words; word += 2 {
				var buf [8]byte
				binary.LittleEndian.PutUint32(buf[0:4], line[word])
				binary.LittleEndian.PutUint32(buf[4:8], line[word+1])
				flit := binary.LittleEndian.Uint64(buf[:])
				done := word+2 >= cfg.Words
				if err := ctl.DeliverXRAMGetFlit(ctx, cmd.TRTIndex, word, flit, false, done); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func fillPattern(nline uint64, words int) []uint32 {
	line := make([]uint32, words)
	for i := range line {
		line[i] = uint32(nline)<<8 | uint32(i)
	}
	return line
}

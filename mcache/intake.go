package mcache

import (
	"context"

	"github.com/tilemesh/mcc/proto"
)

// resolveSegment returns the segment address matches, if any.
func (c *Controller) resolveSegment(address uint64) (Segment, bool) {
	for _, s := range c.segments {
		if s.Contains(address) {
			return s, true
		}
	}
	return Segment{}, false
}

// runIntake is the command-intake FSM: it demultiplexes incoming
// direct-network commands into the READ, WRITE, CAS and CONFIG FIFOs, or
// consumes an out-of-segment command and posts a segmentation error
// response. A malformed command is fatal: it panics via fatalf.
func (c *Controller) runIntake(ctx context.Context) error {
	for {
		var cmd proto.Command
		select {
		case cmd = <-c.intake:
		case <-ctx.Done():
			return ctx.Err()
		}

		seg, ok := c.resolveSegment(cmd.Address)
		if !ok {
			c.postResponse(ctx, proto.SegmentationError(cmd.Srcid, cmd.Trdid, cmd.Pktid))
			continue
		}

		want := proto.ExpectedCmd(cmd.Op)
		if cmd.Cmd != want {
			c.fatalf("malformed command: op %s carried cmd %d, want %d (srcid %d)", cmd.Op, cmd.Cmd, want, cmd.Srcid)
		}

		var dst chan proto.Command
		switch {
		case seg.Config:
			dst = c.configq
		case cmd.Op.IsRead() || cmd.Op == proto.OpLL:
			dst = c.readq
		case cmd.Op == proto.OpWrite || cmd.Op == proto.OpSC:
			dst = c.writeq
		case cmd.Op == proto.OpCas:
			dst = c.casq
		default:
			c.fatalf("malformed command: unrecognized op %s (srcid %d)", cmd.Op, cmd.Srcid)
		}

		select {
		case dst <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// postResponse sends r on the response channel, respecting ctx
// cancellation.
func (c *Controller) postResponse(ctx context.Context, r proto.Response) {
	select {
	case c.responses <- r:
	case <-ctx.Done():
	}
}

// ccSendSource names a producer of outbound coherence-network packets,
// for CC-send's rotating-priority arbitration (§4.1.9).
type ccSendSource int

const (
	ccSendFromXRAM ccSendSource = iota
	ccSendFromWrite
	ccSendFromConfig
)

// postCoherence hands p to the CC-send arbiter on behalf of source,
// respecting ctx cancellation.
func (c *Controller) postCoherence(ctx context.Context, source ccSendSource, p coherencePacket) {
	var dst chan coherencePacket
	switch source {
	case ccSendFromXRAM:
		dst = c.ccSendXRAM
	case ccSendFromWrite:
		dst = c.ccSendWrite
	case ccSendFromConfig:
		dst = c.ccSendConfig
	default:
		c.fatalf("postCoherence: unknown source %d", source)
	}
	select {
	case dst <- p:
	case <-ctx.Done():
	}
}

package mcache

import (
	"context"

	"github.com/tilemesh/mcc/proto"
)

// runMultiAck is the MULTI-ACK FSM: it decrements the UPT entry named by
// each incoming coherence-network multi-ack, and once it reaches zero,
// retires the entry and posts the deferred write response.
func (c *Controller) runMultiAck(ctx context.Context) error {
	for {
		var p proto.MultiAck
		select {
		case p = <-c.multiAckq:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := c.handleMultiAck(ctx, p); err != nil {
			return err
		}
	}
}

func (c *Controller) handleMultiAck(ctx context.Context, p proto.MultiAck) error {
	if err := c.alloc.UPT.Acquire(ctx); err != nil {
		return err
	}
	remaining := c.upt.Decrement(int(p.UPTIndex))
	if remaining > 0 {
		c.alloc.UPT.Release()
		return nil
	}
	entry := c.upt.Read(int(p.UPTIndex))
	c.upt.Clear(int(p.UPTIndex))
	c.alloc.UPT.Release()

	if entry.NeedRsp {
		c.postResponse(ctx, proto.Response{
			Rsrcid: entry.Origin.Srcid,
			Rtrdid: entry.Origin.Trdid,
			Rpktid: entry.Origin.Pktid,
			Reop:   true,
		})
	}
	return nil
}

package mcache

import "context"

// runIXRCmd is the IXR-cmd FSM (§4.1.7): it serializes XRAM requests
// produced by READ, WRITE/CAS (WRITE and CAS share one source, since CAS
// reuses the WRITE worker's miss and eviction paths), XRAM-response (victim PUTs)
// and CONFIG (SYNC PUTs) onto the single outbound XRAM-command port,
// round-robin with rotating priority among whichever sources currently
// have a request pending.
func (c *Controller) runIXRCmd(ctx context.Context) error {
	srcs := [4]<-chan xramCommand{c.ixrCmdRead, c.ixrCmdWrite, c.ixrCmdXRAM, c.ixrCmdConfig}
	prio := 0
	for {
		cmd, from, err := recvRotatedXRAM(ctx, srcs, prio)
		if err != nil {
			return err
		}
		select {
		case c.ixrCmd <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
		prio = (from + 1) % len(srcs)
	}
}

func recvRotatedXRAM(ctx context.Context, srcs [4]<-chan xramCommand, start int) (xramCommand, int, error) {
	n := len(srcs)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		select {
		case cmd := <-srcs[idx]:
			return cmd, idx, nil
		default:
		}
	}
	select {
	case cmd := <-srcs[0]:
		return cmd, 0, nil
	case cmd := <-srcs[1]:
		return cmd, 1, nil
	case cmd := <-srcs[2]:
		return cmd, 2, nil
	case cmd := <-srcs[3]:
		return cmd, 3, nil
	case <-ctx.Done():
		return xramCommand{}, 0, ctx.Err()
	}
}

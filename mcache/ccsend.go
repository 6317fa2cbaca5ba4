package mcache

import "context"

// runCCSend is the CC-send arbiter (§4.1.9): it merges the outbound
// coherence-network packets produced by the XRAM-response, WRITE/CAS and
// CONFIG FSMs onto the single coherence-send port, rotating which
// producer is favored each time it has to choose among several that are
// simultaneously ready so that none can starve the others.
func (c *Controller) runCCSend(ctx context.Context) error {
	srcs := [3]<-chan coherencePacket{c.ccSendXRAM, c.ccSendWrite, c.ccSendConfig}
	prio := 0
	for {
		p, from, err := recvRotated(ctx, srcs, prio)
		if err != nil {
			return err
		}
		select {
		case c.coherenceOut <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
		prio = (from + 1) % len(srcs)
	}
}

// recvRotated receives the next value ready on any of srcs, trying them
// in rotated order starting at start without blocking first, and falling
// back to a blocking select across all of them (plus ctx) only when none
// has anything ready.
func recvRotated(ctx context.Context, srcs [3]<-chan coherencePacket, start int) (coherencePacket, int, error) {
	n := len(srcs)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		select {
		case p := <-srcs[idx]:
			return p, idx, nil
		default:
		}
	}
	select {
	case p := <-srcs[0]:
		return p, 0, nil
	case p := <-srcs[1]:
		return p, 1, nil
	case p := <-srcs[2]:
		return p, 2, nil
	case <-ctx.Done():
		return coherencePacket{}, 0, ctx.Err()
	}
}

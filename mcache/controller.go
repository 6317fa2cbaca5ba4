package mcache

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tilemesh/mcc/internal/lfsr"
	"github.com/tilemesh/mcc/llsc"
	"github.com/tilemesh/mcc/proto"
)

// Segment describes one declared address range served by this
// controller; commands outside every segment draw a segmentation error
// response from the intake FSM.
type Segment struct {
	Base   uint64
	Size   uint64
	Config bool // true: this range is a configuration segment, not cached memory
}

// Contains reports whether address falls in the segment.
func (s Segment) Contains(address uint64) bool {
	return address >= s.Base && address < s.Base+s.Size
}

// Controller is the coherence engine: a directory-based L2 cache
// controller plus a fabric-wide LL/SC reservation table, coordinated by
// a mesh of goroutines that share six tables, each guarded by its own
// TableAllocator. Construct
// with NewController and drive with Run.
type Controller struct {
	cfg      Config
	segments []Segment

	dir   *Directory
	data  *DataArray
	heap  *Heap
	trt   *TRT
	upt   *UPT
	ivt   *IVT
	resv  *llsc.Table
	alloc *Allocators
	stats *Counters
	fail  *lfsr.Generator

	// direct-network ingress/egress.
	intake    chan proto.Command
	responses chan proto.Response

	// per-opcode FIFOs fed by the intake FSM.
	readq   chan proto.Command
	writeq  chan proto.Command
	casq    chan proto.Command
	configq chan proto.Command

	// coherence-network ingress/egress.
	cleanupq     chan proto.Cleanup
	multiAckq    chan proto.MultiAck
	coherenceOut chan coherencePacket
	clack        chan proto.Clack

	// CC-send arbiter sources: one small FIFO per producer FSM, merged
	// onto coherenceOut with rotating priority by runCCSend (§4.1.9).
	ccSendXRAM   chan coherencePacket
	ccSendWrite  chan coherencePacket
	ccSendConfig chan coherencePacket

	// XRAM command/response network.
	ixrCmd chan xramCommand
	ixrRsp chan xramResponse

	// IXR-cmd arbiter sources: one small FIFO per producer FSM, merged
	// onto ixrCmd with rotating priority by runIXRCmd (§4.1.7).
	ixrCmdRead   chan xramCommand
	ixrCmdWrite  chan xramCommand
	ixrCmdXRAM   chan xramCommand
	ixrCmdConfig chan xramCommand

	// xram-response worker wakeup: TRT indices whose GET data fully
	// arrived.
	trtReady chan int

	// interrupts carries the RERROR maskable interrupt raised on a
	// write-miss GET that came back from XRAM with its error bit set.
	interrupts chan proto.Interrupt

	// CONFIG's register file and the outstanding_lines bookkeeping for
	// its INVAL/SYNC maintenance loop (§4.1.8). cfgMu guards the
	// outstanding-lines state (cfgIssuing, cfgOutstanding, cfgOrigin),
	// since CLEANUP and IXR-rsp complete lines from their own goroutines;
	// the address and length registers are touched only by CONFIG.
	cfgMu          sync.Mutex
	cfgAddrLo      uint32
	cfgAddrHi      uint32
	cfgBufLength   uint32
	cfgIssuing     bool // true while CONFIG is still walking its line loop
	cfgOutstanding int
	cfgOrigin      Originator

	rerrorMu      sync.Mutex
	rerrorLatched bool
	rerrorSrcid   uint32
	rerrorAddrLo  uint32
	rerrorAddrHi  uint32
	irqEnable     bool
}

// coherencePacket is the tagged union of outbound coherence-network
// message shapes CC-send can emit.
type coherencePacket struct {
	Inval     *proto.MultiInval
	Broadcast *proto.BroadcastInval
	Update    *proto.MultiUpdate
	CAS       *proto.CASUpdate
}

// xramCommand is one request enqueued to external memory: a line GET or
// a (possibly partial) line PUT, keyed by the TRT index that owns it.
type xramCommand struct {
	TRTIndex int
	Read     bool
	Nline    uint64
	Data     []uint32
	Be       []uint8
}

// xramResponse is one reply arriving from external memory.
type xramResponse struct {
	TRTIndex int
	Read     bool
	WordPair int
	Data     uint64
	Rerror   bool
	Done     bool // true on the final flit of a GET burst
}

// NewController builds a controller from cfg and the declared address
// segments. It validates cfg and constructs every table at its
// configured size.
func NewController(cfg Config, segments []Segment) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	resv, err := llsc.New(cfg.NSlots, cfg.LifeSpan)
	if err != nil {
		return nil, fmt.Errorf("mcache: %w", err)
	}

	c := &Controller{
		cfg:      cfg,
		segments: segments,
		dir:      NewDirectory(cfg),
		data:     NewDataArray(cfg),
		heap:     NewHeap(cfg.HeapSize),
		trt:      NewTRT(cfg.TRTSize, cfg.Words),
		upt:      NewUPT(cfg.UPTSize),
		ivt:      NewIVT(cfg.IVTSize),
		resv:     resv,
		alloc:    newAllocators(),
		stats:    NewCounters(),
		fail:     lfsr.New(cfg.LFSRSeed),

		intake:    make(chan proto.Command, 4),
		responses: make(chan proto.Response, 8),

		readq:   make(chan proto.Command, 4),
		writeq:  make(chan proto.Command, 8),
		casq:    make(chan proto.Command, 4),
		configq: make(chan proto.Command, 1),

		cleanupq:     make(chan proto.Cleanup, 4),
		multiAckq:    make(chan proto.MultiAck, 4),
		coherenceOut: make(chan coherencePacket, 8),
		clack:        make(chan proto.Clack, 4),

		ccSendXRAM:   make(chan coherencePacket, 8),
		ccSendWrite:  make(chan coherencePacket, 8),
		ccSendConfig: make(chan coherencePacket, 8),

		ixrCmd: make(chan xramCommand, 4),
		ixrRsp: make(chan xramResponse, 4),

		ixrCmdRead:   make(chan xramCommand, 4),
		ixrCmdWrite:  make(chan xramCommand, 4),
		ixrCmdXRAM:   make(chan xramCommand, 4),
		ixrCmdConfig: make(chan xramCommand, 4),

		trtReady: make(chan int, cfg.TRTSize),

		interrupts: make(chan proto.Interrupt, 1),
	}
	return c, nil
}

// Responses is the channel the controller posts direct-network replies
// to; callers driving the engine end-to-end should range over it.
func (c *Controller) Responses() <-chan proto.Response { return c.responses }

// CoherenceOut is the channel the controller posts outbound
// coherence-network packets to.
func (c *Controller) CoherenceOut() <-chan coherencePacket { return c.coherenceOut }

// Clacks is the channel the controller posts cleanup acknowledgements to.
func (c *Controller) Clacks() <-chan proto.Clack { return c.clack }

// Submit enqueues an incoming direct-network command for the intake FSM.
// It blocks if the intake FIFO is full, modeling network backpressure.
func (c *Controller) Submit(ctx context.Context, cmd proto.Command) error {
	select {
	case c.intake <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverCleanup feeds an incoming coherence-network cleanup packet to
// the CLEANUP FSM's FIFO.
func (c *Controller) DeliverCleanup(ctx context.Context, p proto.Cleanup) error {
	select {
	case c.cleanupq <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverMultiAck feeds an incoming coherence-network multi-ack packet
// to the MULTI-ACK FSM's FIFO.
func (c *Controller) DeliverMultiAck(ctx context.Context, p proto.MultiAck) error {
	select {
	case c.multiAckq <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverXRAMResponse feeds an incoming XRAM response to IXR-rsp.
func (c *Controller) DeliverXRAMResponse(ctx context.Context, r xramResponse) error {
	select {
	case c.ixrRsp <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverXRAMGetFlit feeds one 64-bit flit of a GET burst back to
// IXR-rsp: wordPair is the index of the first of the two 32-bit words it
// carries, done marks the burst's final flit. External memory drivers
// outside this package use this (xramResponse itself is unexported,
// since only IXR-rsp needs its Read/TRTIndex routing fields).
func (c *Controller) DeliverXRAMGetFlit(ctx context.Context, trtIndex, wordPair int, data uint64, rerror, done bool) error {
	return c.DeliverXRAMResponse(ctx, xramResponse{TRTIndex: trtIndex, Read: true, WordPair: wordPair, Data: data, Rerror: rerror, Done: done})
}

// DeliverXRAMPutAck feeds a PUT's completion back to IXR-rsp.
func (c *Controller) DeliverXRAMPutAck(ctx context.Context, trtIndex int, rerror bool) error {
	return c.DeliverXRAMResponse(ctx, xramResponse{TRTIndex: trtIndex, Read: false, Rerror: rerror})
}

// XRAMCommands is the channel the controller posts outgoing XRAM
// requests to; a driver simulating external memory should range over it
// and feed completions back through DeliverXRAMGetFlit/DeliverXRAMPutAck.
func (c *Controller) XRAMCommands() <-chan xramCommand { return c.ixrCmd }

// Interrupts is the channel the controller posts RERROR maskable
// interrupts to, raised when a write-miss GET comes back from XRAM with
// its error bit set and IRQ_ENABLE is set (§7).
func (c *Controller) Interrupts() <-chan proto.Interrupt { return c.interrupts }

// Run launches every worker goroutine and blocks until ctx is canceled
// or a worker returns a non-context error, mirroring the teacher's
// read-loop-then-dispatch server shape, spread across one goroutine per
// finite-state machine instead of one loop per mount.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.runIntake(ctx) })
	g.Go(func() error { return c.runRead(ctx) })
	g.Go(func() error { return c.runWrite(ctx) })
	g.Go(func() error { return c.runCAS(ctx) })
	g.Go(func() error { return c.runXRAMResponse(ctx) })
	g.Go(func() error { return c.runIXRCmd(ctx) })
	g.Go(func() error { return c.runIXRRsp(ctx) })
	g.Go(func() error { return c.runCleanup(ctx) })
	g.Go(func() error { return c.runMultiAck(ctx) })
	g.Go(func() error { return c.runCCSend(ctx) })
	g.Go(func() error { return c.runConfig(ctx) })

	return g.Wait()
}

func (c *Controller) fatalf(format string, args ...interface{}) {
	log.Panicf("mcache: "+format, args...)
}

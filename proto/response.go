package proto

// Response is a (possibly multi-flit) reply sent back over the direct
// network. LL responses carry two flits (key, then data); a caller that
// wants both flits as separate wire transfers should split Rdata itself —
// Response models the logical payload, not the flit framing.
type Response struct {
	Rsrcid uint32
	Rtrdid uint32
	Rpktid uint32
	Rdata  []uint32
	Rerror bool
	Reop   bool
}

// Outcome values used in the single-flit Rdata of SC/CAS responses:
// rdata = 0 on success, rdata = 1 on failure.
const (
	AtomicSuccess uint32 = 0
	AtomicFail    uint32 = 1
)

// SegmentationError builds the single-flit error response the intake FSM
// sends when an address matches no declared segment.
func SegmentationError(srcid, trdid, pktid uint32) Response {
	return Response{Rsrcid: srcid, Rtrdid: trdid, Rpktid: pktid, Rerror: true, Reop: true}
}

package proto

// XRAMGet is a single request for a whole cache line from external RAM:
// 8-byte-wide, plen = line bytes, always eop.
type XRAMGet struct {
	Trdid   uint32 // carries the TRT index
	Address uint64
	Plen    uint32
}

// XRAMGetRsp is one flit of a GET response; a full transaction is
// line-bytes/8 flits in ascending word order, the last with Reop set.
// Rerror may be set on any flit and marks the whole transaction failed.
type XRAMGetRsp struct {
	Trdid  uint32
	Data   uint64 // two consecutive 32-bit words, low word first
	Rerror bool
	Reop   bool
}

// XRAMPut is one flit of a multi-flit 8-byte write-back; Eop marks the
// last flit of the line.
type XRAMPut struct {
	Trdid uint32
	Data  uint64
	Eop   bool
}

// XRAMPutRsp is the single-flit write-back acknowledgement.
type XRAMPutRsp struct {
	Trdid  uint32
	Rerror bool
}

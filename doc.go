// Package mcc is a distributed, directory-based, write-invalidate /
// write-update cache-coherence engine for a tiled many-core system.
//
// The engine, implemented in package mcache, sits between a cluster's L1
// caches (reached over a direct request/response network and a coherence
// network, types in package proto) and an off-cluster external RAM
// (reached over a third request/response network). It serves L1 misses,
// writes, LL/SC and compare-and-swap operations, maintains an inclusive
// directory of L1 copies, and issues multicast/broadcast invalidations and
// multicast updates to keep L1 caches coherent.
//
// Package llsc holds the fabric-wide LL/SC reservation table used by the
// READ (LL), WRITE (SC) and CAS workers; package internal/lfsr holds the
// deterministic pseudo-random generator used for CAS force-fail.
//
// See example/coldmiss for a minimal wiring of a Controller end to end.
package mcc

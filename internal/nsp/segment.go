// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

// RoutingFlags carries the bits routing attaches to an inbound segment
// (spec §6 Routing control block).
type RoutingFlags uint8

const (
	RTFReturnedToSender RoutingFlags = 1 << iota
	RTFIntraEthernet
	// RTFShortHeader reports that the segment arrived over a short
	// routing header (packet-type mask, dn_nsp_in.c's DN_RT_PKT_SHORT),
	// which caps the negotiated segment size the same as a clear
	// Intra-Ethernet bit does.
	RTFShortHeader
)

func (f RoutingFlags) has(bit RoutingFlags) bool { return f&bit != 0 }

// InSegment is the inbound-buffer entity from spec §3: a byte range plus a
// sidecar control block. It is consumed-or-freed by TopDispatcher; every
// terminal branch of dispatch must call Release exactly once.
type InSegment struct {
	Buf     []byte
	RtFlags RoutingFlags

	// Decoded incrementally as dispatch proceeds; zero until the
	// corresponding decode step runs.
	Flags   uint8
	Kind    MsgKind
	Retransmit bool
	DstPort uint16
	SrcPort uint16
	HasSrc  bool

	// Hdr/Body are populated by Dispatcher when a segment is deferred to
	// a connection's backlog, so the drain path re-applies the already
	// decoded header instead of re-parsing raw bytes.
	Hdr  CommonHeader
	Body []byte

	released bool
}

// Release marks the segment consumed. The engine holds no buffer pool of
// its own (spec places allocation with an external collaborator), so this
// is a bookkeeping hook for tests and for future pool integration rather
// than an active free.
func (s *InSegment) Release() { s.released = true }

// Released reports whether Release has been called, used by tests to
// assert every dispatch branch terminates cleanly.
func (s *InSegment) Released() bool { return s.released }

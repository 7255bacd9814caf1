// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

// ConnState is one of the 15 connection states below: StateClosed plus 14
// NSP states (spec §3). Unlike the
// teacher's linear TCP state list, NSP's states are not totally ordered —
// transitions are looked up per (state, message class) rather than by
// numeric comparison.
type ConnState uint8

const (
	StateClosed ConnState = iota
	StateCI               // sent/received Connect-Initiate, awaiting CC/CA
	StateCD               // CI acked (CA), awaiting CC
	StateCC               // Connect-Confirm sent, awaiting first traffic
	StateCN               // Connect No-link / disconnect-confirmed
	StateDR               // Disconnect-Reject in progress
	StateDRC              // Disconnect-Reject confirmed
	StateDI               // Disconnect-Initiate sent
	StateDIC              // Disconnect-Initiate confirmed (retry of DI)
	StateDN               // Disconnected, notified
	StateDIR              // Disconnect-Initiate received, reply pending
	StateRJ               // Rejected
	StateRUN              // established, full data transfer
	StateNR               // No resources / never linked
	StateNC               // No connection (own CI returned to sender)
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateCI:
		return "CI"
	case StateCD:
		return "CD"
	case StateCC:
		return "CC"
	case StateCN:
		return "CN"
	case StateDR:
		return "DR"
	case StateDRC:
		return "DRC"
	case StateDI:
		return "DI"
	case StateDIC:
		return "DIC"
	case StateDN:
		return "DN"
	case StateDIR:
		return "DIR"
	case StateRJ:
		return "RJ"
	case StateRUN:
		return "RUN"
	case StateNR:
		return "NR"
	case StateNC:
		return "NC"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s never mutates further on new input (spec
// §3 invariant: "A connection in closed or post-terminal state never
// mutates further on new inputs; inputs are dropped").
func (s ConnState) IsTerminal() bool {
	switch s {
	case StateClosed, StateDN, StateRJ, StateNR, StateNC, StateDRC, StateDIC, StateCN:
		return true
	default:
		return false
	}
}

// FlowGate is the SEND/DONTSEND/NOCHANGE gate carried by link-service
// messages and advertised locally (spec §3: flowrem_sw, flowloc_sw).
type FlowGate uint8

const (
	GateNoChange FlowGate = iota
	GateDontSend
	GateSend
)

// FlowControlType is the peer-negotiated flow-control discipline (spec
// §3: fctype).
type FlowControlType uint8

const (
	FlowNone FlowControlType = iota
	FlowSegment                // SCMC: segment-count controlled
	FlowMessage
)

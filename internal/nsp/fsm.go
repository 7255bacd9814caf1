// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"encoding/binary"
	"time"
)

// maxNspDataHeader is the largest fixed header a Data/Other-Data segment
// can carry ahead of its payload: flags(1) + dst(2) + src(2) + segnum(2)
// + two piggyback ack words(4). Used only for the segsize clamp in the
// CC/first-traffic promotion (spec §4.4).
const maxNspDataHeader = 11

// lsflags bit layout (spec §4.4 Link-Service).
const (
	lsReservedMask = 0xF8
	lsFcvalMask    = 0x03
	lsInterrupt    = 0x04

	lsNoChange = 0
	lsDontSend = 1
	lsSend     = 2
)

// servicesFCMask extracts the peer-advertised flow-control discipline from
// the low two bits of the CI/CC services byte (dn_nsp_in.c's NSP_FC_MASK);
// the values line up with FlowControlType's own none/segment/message order.
const servicesFCMask = 0x03

// clampSegsize applies the CC/first-traffic segsize rule: when the routing
// header was short or the Intra-Ethernet bit is clear, the remote segment
// size is capped to what our own configured buffer can carry after
// accounting for header overhead.
func clampSegsize(cfg *EngineConfig, peerSegsize uint16, rt RoutingFlags) uint16 {
	if rt.has(RTFIntraEthernet) && !rt.has(RTFShortHeader) {
		return peerSegsize
	}
	ceiling := cfg.SegBufSize - (maxNspDataHeader + 6)
	if peerSegsize > ceiling {
		return ceiling
	}
	return peerSegsize
}

// transitionTerminal moves the connection to a terminal state, arms the
// destroy timer via persist, and — if a peer address is known — emits a
// Disconnect-Confirm with reason DC (spec §4.4: "After any terminal
// transition the FSM schedules a destroy-timer ... If a remote address is
// known, a Disconnect-Confirm with reason DC is emitted").
func (c *Connection) transitionTerminal(to ConnState, errCode SockErr) {
	c.State = to
	c.cdb.StateTransitions++
	if c.timers != nil {
		c.timers.Schedule(c, TimerPersist, 0)
	}
	if c.RemoteAddr != 0 && c.emitter != nil {
		_ = c.emitter.Emit(&OutSegment{DstAddr: c.RemoteAddr, Reason: uint16(ReasonDC)})
	}
	c.markTerminal(errCode)
}

// promoteToRun applies the shared CC/first-traffic promotion: capture
// remote_addr and peer capabilities, clamp segsize, apply the no-flow-
// control window ceiling, clear persist/conntimer.
func (c *Connection) promoteToRun(cfg *EngineConfig, remoteAddr uint16, services, info uint8, segsize uint16, rt RoutingFlags) {
	c.State = StateRUN
	c.cdb.StateTransitions++
	c.RemoteAddr = remoteAddr
	c.ServicesRem = services
	c.InfoRem = info
	c.SegsizeRem = clampSegsize(cfg, segsize, rt)
	c.Fctype = FlowControlType(services & servicesFCMask)
	if c.Fctype == FlowNone {
		c.FlowremDat = int32(cfg.NoFCMaxCwnd)
		c.FlowremOth = int32(cfg.NoFCMaxCwnd)
	}
	c.FlowlocSw = GateSend
	c.PersistActive = false
	c.ConnTimerActive = false
	if c.timers != nil {
		c.timers.Cancel(c, TimerPersist)
		c.timers.Cancel(c, TimerConn)
	}
	if c.notifier != nil {
		c.notifier.StateChanged(c)
	}
}

// HandleCA applies a Connect-Ack: CI -> CD (spec §4.4).
func (c *Connection) HandleCA(cfg *EngineConfig) {
	if c.State != StateCI {
		return
	}
	c.State = StateCD
	c.cdb.StateTransitions++
	c.PersistActive = false
	c.ConnTimerActive = true
	if c.timers != nil {
		c.timers.Cancel(c, TimerPersist)
		c.timers.Schedule(c, TimerConn, cfg.OutgoingTimer)
	}
}

// HandleCC applies a Connect-Confirm from states CI or CD, promoting the
// connection to RUN and capturing the optional inline user payload (spec
// §4.4).
func (c *Connection) HandleCC(cfg *EngineConfig, remoteAddr uint16, body []byte, rt RoutingFlags) {
	if c.State != StateCI && c.State != StateCD {
		return
	}
	if len(body) < 4 {
		return
	}
	services, info := body[0], body[1]
	segsize := binary.LittleEndian.Uint16(body[2:4])
	rest := body[4:]
	c.promoteToRun(cfg, remoteAddr, services, info, segsize, rt)
	if len(rest) >= 1 {
		n := int(rest[0])
		rest = rest[1:]
		if n > maxInlinePayload {
			n = maxInlinePayload
		}
		if n <= len(rest) {
			c.connectData.set(rest[:n])
		}
	}
}

// PromoteOnFirstTraffic applies the CC-equivalent promotion the first time
// a data/ack frame arrives while still in StateCC (spec §4.4: "CC -> any
// data/ack frame -> RUN").
func (c *Connection) PromoteOnFirstTraffic(cfg *EngineConfig, rt RoutingFlags) {
	if c.State != StateCC {
		return
	}
	c.promoteToRun(cfg, c.RemoteAddr, c.ServicesRem, c.InfoRem, c.SegsizeRem, rt)
}

// HandleDI applies a Disconnect-Initiate (spec §4.4).
func (c *Connection) HandleDI(reason uint16) {
	switch c.State {
	case StateCI, StateCD:
		c.State = StateRJ
		c.ConnTimerActive = false
		if c.timers != nil {
			c.timers.Cancel(c, TimerConn)
		}
		c.cdb.StateTransitions++
		c.markTerminal(SeECONNREFUSED)
	case StateRUN:
		c.transitionTerminal(StateDN, SeOK)
	case StateDI:
		c.transitionTerminal(StateDIC, SeOK)
	default:
		// no-op in states where a DI is not meaningful.
	}
}

// HandleDC applies a Disconnect-Confirm (spec §4.4).
func (c *Connection) HandleDC(reason ReasonCode) {
	switch c.State {
	case StateCI:
		c.State = StateNR
		c.cdb.StateTransitions++
		c.markTerminal(SeECONNREFUSED)
	case StateDR:
		if reason == ReasonNL {
			c.State = StateCN
		} else {
			c.State = StateDRC
		}
		c.cdb.StateTransitions++
		c.markTerminal(SeOK)
	case StateRUN:
		c.State = StateCN
		c.cdb.StateTransitions++
		c.markTerminal(SeOK)
	}
}

// HandleReturnedCI applies the "own CI returned to sender" transition
// (spec §4.4, §4.6 step 2).
func (c *Connection) HandleReturnedCI() {
	if c.State != StateCI {
		return
	}
	c.State = StateNC
	c.cdb.StateTransitions++
	c.markTerminal(SeEHOSTUNREACH)
}

// HandleLinkService applies an inbound Link-Service message (spec §4.4).
// Only meaningful in StateRUN. body is the 4-byte payload following the
// common header and any piggyback acks.
func (c *Connection) HandleLinkService(body []byte) {
	if c.State != StateRUN {
		return
	}
	if len(body) != 4 {
		return
	}
	segnum := binary.LittleEndian.Uint16(body[0:2])
	lsflags := body[2]
	fcval := int8(body[3])

	if lsflags&lsReservedMask != 0 {
		return
	}
	if !seqNext(c.NumOthRcv, segnum) {
		return
	}
	c.NumOthRcv = segnum

	if lsflags&lsInterrupt == 0 {
		switch lsflags & lsFcvalMask {
		case lsNoChange:
			if fcval < 0 && c.Fctype == FlowSegment && c.FlowremDat > int32(-fcval) {
				c.FlowremDat -= int32(-fcval)
			} else if fcval > 0 {
				c.FlowremDat += int32(fcval)
				if c.notifier != nil {
					c.notifier.StateChanged(c)
				}
			}
		case lsDontSend:
			c.FlowremSw = GateDontSend
		case lsSend:
			c.FlowremSw = GateSend
			if c.notifier != nil {
				c.notifier.StateChanged(c)
			}
		}
	} else {
		if fcval > 0 {
			c.FlowremOth += int32(fcval)
			if c.notifier != nil {
				c.notifier.StateChanged(c)
			}
		}
	}

	c.emitOtherAck()
}

// HandleOtherData applies an inbound Other-Data (interrupt) segment (spec
// §4.4). body is 2-byte segnum followed by payload.
func (c *Connection) HandleOtherData(body []byte) {
	if c.State != StateRUN {
		return
	}
	if len(body) < 2 {
		return
	}
	segnum := binary.LittleEndian.Uint16(body[0:2])
	payload := body[2:]

	if seqNext(c.NumOthRcv, segnum) {
		if c.OtherQueue.Enqueue(c, SubOther, payload) {
			c.NumOthRcv = segnum
			c.otherReport = false
			c.cdb.OtherAccepted++
		} else {
			c.cdb.OtherDropped++
		}
	} else {
		c.cdb.OtherDropped++
	}
	c.emitOtherAck()
}

// HandleData applies an inbound Data segment (spec §4.4). body is 2-byte
// segnum followed by payload.
func (c *Connection) HandleData(cfg *EngineConfig, body []byte) {
	if c.State != StateRUN {
		return
	}
	if len(body) < 2 {
		return
	}
	segnum := binary.LittleEndian.Uint16(body[0:2])
	payload := body[2:]

	if !seqNext(c.NumDataRcv, segnum) {
		c.cdb.DataDuplicate++
		c.emitDataAck()
		return
	}
	if !c.DataQueue.Enqueue(c, SubData, payload) {
		c.cdb.DataDropped++
		c.emitDataAck()
		return
	}
	c.NumDataRcv = segnum
	c.cdb.DataAccepted++

	if c.DataQueue.Congested() && c.FlowlocSw == GateSend {
		c.FlowlocSw = GateDontSend
		c.scheduleGatingLinkService()
	}

	// sendack(segnum)'s exact derivation is not reproduced here (spec §9
	// Open Question); every accepted data segment schedules a delayed
	// ack that a later immediate-ack policy hook can preempt.
	if c.timers != nil {
		c.AckDelayActive = true
		c.timers.Schedule(c, TimerAckDelay, cfg.AckDelay)
	}
}

// emitDataAck and emitOtherAck are the ack-emission call into the send
// path; the wire encoding of an outbound ack word is owned by the
// send-side collaborator (out of scope), so the core only records that
// one is due. A duplicate or dropped segment acks immediately here
// (dn_nsp_data's queued==0 branch); an accepted data segment instead
// goes through the delayed-ack path (AckDelayActive) and converges on
// the same emitter call once the timer fires externally.
func (c *Connection) emitDataAck() {
	if c.emitter != nil && c.RemoteAddr != 0 {
		_ = c.emitter.Emit(&OutSegment{DstAddr: c.RemoteAddr})
	}
}

func (c *Connection) emitOtherAck() {
	if c.emitter != nil && c.RemoteAddr != 0 {
		_ = c.emitter.Emit(&OutSegment{DstAddr: c.RemoteAddr})
	}
}

// scheduleGatingLinkService requests the send path emit a DONTSEND
// link-service to the peer once the connection has gone congested (spec
// §4.4 Data: "schedule a gating link-service to the peer").
func (c *Connection) scheduleGatingLinkService() {
	if c.emitter != nil && c.RemoteAddr != 0 {
		_ = c.emitter.Emit(&OutSegment{DstAddr: c.RemoteAddr})
	}
}

// touchOnInput resets the retransmit backoff and last-received stamp,
// called by TopDispatcher for every accepted segment (spec §4.6 step 7).
func (c *Connection) touchOnInput(now time.Time) {
	c.touch(now)
}

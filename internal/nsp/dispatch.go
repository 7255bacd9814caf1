// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"encoding/binary"
	"sync"
	"time"
)

// Dispatcher is the TopDispatcher entry point from routing (spec §4.6). It
// owns the connection table, the listener registry, and the martian/error
// responder pair; every inbound segment funnels through Receive.
type Dispatcher struct {
	cfg      *EngineConfig
	conns    *ConnTable
	listeners *ListenerReg
	responder *ErrorResponder
	ec       *EngineCounters
	timers   TimerScheduler
	emitter  Emitter
	notifier SocketNotifier
	filter   ReceiveFilter
	sendQ    SendQueue

	pendingMu sync.Mutex
	pendingBySrc map[uint16]*Connection // accept-side CI dedup, keyed by peer src_port (SPEC_FULL §4.4)
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(cfg *EngineConfig, conns *ConnTable, listeners *ListenerReg, responder *ErrorResponder, ec *EngineCounters, ts TimerScheduler, em Emitter, sn SocketNotifier, rf ReceiveFilter, sq SendQueue) *Dispatcher {
	return &Dispatcher{
		cfg: cfg, conns: conns, listeners: listeners, responder: responder, ec: ec,
		timers: ts, emitter: em, notifier: sn, filter: rf, sendQ: sq,
		pendingBySrc: make(map[uint16]*Connection),
	}
}

// Receive runs the full TopDispatcher algorithm over one inbound segment
// (spec §4.6). now is the receive timestamp used for timer resets and
// rate limiting.
func (d *Dispatcher) Receive(seg *InSegment, now time.Time) {
	defer seg.Release()

	if len(seg.Buf) < 1 {
		return
	}
	flags := seg.Buf[0]
	seg.Flags = flags

	kind, retransmit, err := Classify(flags)
	if err != nil {
		d.ec.ReservedBits++
		return
	}
	seg.Kind = kind
	seg.Retransmit = retransmit

	isCIClass := kind == KindCI

	if isCIClass && seg.RtFlags.has(RTFReturnedToSender) {
		d.handleReturnedCI(seg)
		return
	}
	if !isCIClass && seg.RtFlags.has(RTFReturnedToSender) {
		// "we only reflect CI" (spec §4.6 step 3).
		return
	}

	if isCIClass {
		d.handleConnectInitiate(seg, now)
		return
	}

	hdr, herr := DecodeCommonHeader(seg.Buf)
	if herr != nil {
		return
	}
	seg.DstPort = hdr.DstPort
	seg.SrcPort = hdr.SrcPort
	seg.HasSrc = hdr.HasSrc

	conn, found := d.conns.Lookup(hdr.DstPort)
	if !found {
		d.handleNoConnection(seg, kind, hdr, now)
		return
	}

	body := seg.Buf[hdr.HdrLen:]
	d.dispatchToConn(conn, kind, hdr, body, seg.RtFlags, now)
}

// handleReturnedCI implements spec §4.6 step 2: require both addresses to
// be present, resolve by the returned src_port, and apply the Returned-CI
// transition.
func (d *Dispatcher) handleReturnedCI(seg *InSegment) {
	if len(seg.Buf) < 5 {
		return
	}
	srcPort := binary.LittleEndian.Uint16(seg.Buf[1:3])
	conn, found := d.conns.LookupReturned(srcPort)
	if !found {
		d.ec.ReturnedCI++
		return
	}
	conn.Lock()
	conn.HandleReturnedCI()
	conn.Unlock(func(next *InSegment) {
		d.applyToConn(conn, next.Kind, next.Hdr, next.Body, next.RtFlags)
	})
	d.ec.ReturnedCI++
}

// handleConnectInitiate implements spec §4.6 step 2's non-returned branch:
// invoke ListenerMatcher and act on the outcome.
func (d *Dispatcher) handleConnectInitiate(seg *InSegment, now time.Time) {
	hdr, err := DecodeCIHeader(seg.Buf)
	if err != nil {
		return
	}
	// Retransmitted CI de-duplication (SPEC_FULL §4.4): a CI-retransmit
	// (or a plain CI arriving twice) for a source we already have a
	// pending, not yet running connection for is treated as a keepalive
	// of the existing attempt, not a fresh accept.
	d.pendingMu.Lock()
	if existing, dup := d.pendingBySrc[hdr.SrcPort]; dup {
		d.pendingMu.Unlock()
		existing.Lock()
		if existing.State == StateCD || existing.State == StateCC {
			existing.touch(now)
		}
		existing.Unlock(func(next *InSegment) { d.applyToConn(existing, next.Kind, next.Hdr, next.Body, next.RtFlags) })
		return
	}
	d.pendingMu.Unlock()

	res, listener, step, ok := MatchListener(hdr.Body, d.listeners)
	if !ok {
		d.responder.RespondToMalformedCI(now, step, hdr.SrcPort, hdr.DstPort, d.emitter)
		return
	}
	if listener == nil {
		d.responder.RespondNoListener(now, hdr.SrcPort, hdr.DstPort, d.emitter)
		return
	}

	conn := NewConnection(0, d.cfg, d.sendQ, d.notifier, d.timers, d.filter, d.emitter)
	conn.State = StateCC
	conn.RemoteAddr = hdr.SrcPort
	conn.ServicesRem = hdr.Services
	conn.InfoRem = hdr.Info
	conn.SegsizeRem = hdr.Segsize
	d.conns.Insert(conn)

	if !listener.Enqueue(conn, res) {
		d.conns.Remove(conn.LocalAddr)
		d.ec.AcceptQueueFull++
		return
	}

	d.pendingMu.Lock()
	d.pendingBySrc[hdr.SrcPort] = conn
	d.pendingMu.Unlock()
}

// handleNoConnection implements spec §4.6 step 5: no registered connection
// for dst_port. Only connect-class messages that expect a reply provoke a
// no-link response.
func (d *Dispatcher) handleNoConnection(seg *InSegment, kind MsgKind, hdr CommonHeader, now time.Time) {
	d.ec.UnknownConn++
	if kind != KindCC {
		return
	}
	if !hdr.HasSrc {
		return
	}
	d.responder.RespondNoListener(now, hdr.SrcPort, hdr.DstPort, d.emitter)
}

// dispatchToConn hands a decoded, connection-bound segment to the FSM/ack
// pipeline under the connection's per-connection mutex and backlog (spec
// §4.6 steps 6-9, §5).
func (d *Dispatcher) dispatchToConn(conn *Connection, kind MsgKind, hdr CommonHeader, body []byte, rt RoutingFlags, now time.Time) {
	seg := &InSegment{
		RtFlags: rt, Kind: kind, DstPort: hdr.DstPort, SrcPort: hdr.SrcPort, HasSrc: hdr.HasSrc,
		Hdr: hdr, Body: body,
	}
	if !conn.TryLock(seg) {
		return
	}
	conn.touchOnInput(now)
	d.applyToConn(conn, kind, hdr, body, rt)
	conn.Unlock(func(next *InSegment) {
		conn.touchOnInput(now)
		d.applyToConn(conn, next.Kind, next.Hdr, next.Body, next.RtFlags)
	})
}

// applyToConn is the ConnectionFSM/AckProcessor/ReceiveQueueing leg of
// dispatch, invoked with the connection already locked (or known-owned by
// the caller's execution context).
func (d *Dispatcher) applyToConn(conn *Connection, kind MsgKind, hdr CommonHeader, body []byte, rt RoutingFlags) {
	if conn.State.IsTerminal() {
		return
	}

	switch kind {
	case KindCA:
		conn.HandleCA(d.cfg)
	case KindCC:
		conn.HandleCC(d.cfg, hdr.SrcPort, body, rt)
	case KindDI:
		var reason uint16
		if len(body) >= 2 {
			reason = binary.LittleEndian.Uint16(body[0:2])
		}
		conn.HandleDI(reason)
	case KindDC:
		var reason ReasonCode
		if len(body) >= 2 {
			reason = ReasonCode(binary.LittleEndian.Uint16(body[0:2]))
		}
		conn.HandleDC(reason)
	case KindLinkService:
		body = d.stripAcks(conn, body, false)
		d.promoteFromCC(conn, rt)
		conn.HandleLinkService(body)
	case KindOtherData:
		body = d.stripAcks(conn, body, true)
		d.promoteFromCC(conn, rt)
		conn.HandleOtherData(body)
	case KindData:
		body = d.stripAcks(conn, body, false)
		d.promoteFromCC(conn, rt)
		conn.HandleData(d.cfg, body)
	case KindPureAck:
		d.stripAcks(conn, body, false)
		d.promoteFromCC(conn, rt)
	}
}

// promoteFromCC applies the CC->RUN "any data/ack frame" promotion (spec
// §4.4) and, once it takes effect, drops the accept-side CI dedup entry:
// a retransmitted CI for this peer is no longer a keepalive of a pending
// accept once the connection is running.
func (d *Dispatcher) promoteFromCC(conn *Connection, rt RoutingFlags) {
	if conn.State != StateCC {
		return
	}
	conn.PromoteOnFirstTraffic(d.cfg, rt)
	if conn.State == StateRUN {
		d.pendingMu.Lock()
		if d.pendingBySrc[conn.RemoteAddr] == conn {
			delete(d.pendingBySrc, conn.RemoteAddr)
		}
		d.pendingMu.Unlock()
	}
}

func (d *Dispatcher) stripAcks(conn *Connection, body []byte, carryingOther bool) []byte {
	n := conn.ProcessAcks(body, carryingOther)
	return body[n:]
}

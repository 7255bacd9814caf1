// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"encoding/binary"
	"testing"
	"time"
)

func newTestDispatcher() (*Dispatcher, *ConnTable, *ListenerReg, *fakeEmitter, *EngineCounters) {
	cfg := DefaultConfig()
	conns := NewConnTable()
	listeners := NewListenerReg()
	ec := NewEngineCounters()
	logger := NewMartianLogger(&cfg, ec)
	responder := NewErrorResponder(logger)
	em := &fakeEmitter{}
	n := &fakeNotifier{}
	d := NewDispatcher(&cfg, conns, listeners, responder, ec, nil, em, n, nil, nil)
	return d, conns, listeners, em, ec
}

// ciSegment builds a raw Connect-Initiate wire buffer: flags, src_port,
// dst_port(always 0 on a fresh accept), services, info, segsize, body.
func ciSegment(srcPort uint16, body []byte) []byte {
	buf := make([]byte, 9+len(body))
	buf[0] = 0x18 // KindCI: ctrl bit set, type CI
	binary.LittleEndian.PutUint16(buf[1:3], srcPort)
	binary.LittleEndian.PutUint16(buf[3:5], 0) // dst_port unknown on first send
	buf[5] = 0x01                              // services
	buf[6] = 0x02                              // info
	binary.LittleEndian.PutUint16(buf[7:9], 0x0100)
	copy(buf[9:], body)
	return buf
}

func TestDispatchCIAcceptPath(t *testing.T) {
	d, conns, listeners, _, _ := newTestDispatcher()
	listeners.Register(ObjectDescriptor{Type: 1, Name: "TASK=FOO"}, 4, nil)

	body := append(namedObject("TASK=FOO"), namedObject("USER")...)
	body = append(body, 0x00)
	seg := &InSegment{Buf: ciSegment(0x0005, body)}

	d.Receive(seg, time.Time{})

	if !seg.Released() {
		t.Error("expected segment to be released")
	}

	var found *Connection
	for _, c := range conns.load() {
		found = c
	}
	if found == nil {
		t.Fatal("expected a connection to be created")
	}
	if found.State != StateCC {
		t.Errorf("state = %v, want CC", found.State)
	}
	if found.RemoteAddr != 0x0005 {
		t.Errorf("RemoteAddr = %#x, want 0x0005", found.RemoteAddr)
	}
}

func TestDispatchCINoListener(t *testing.T) {
	d, conns, _, em, _ := newTestDispatcher()

	body := append(namedObject("NOBODY"), namedObject("USER")...)
	body = append(body, 0x00)
	seg := &InSegment{Buf: ciSegment(0x0007, body)}

	d.Receive(seg, time.Time{})

	if len(conns.load()) != 0 {
		t.Error("no listener match must not create a connection")
	}
	if len(em.emitted) != 1 {
		t.Fatalf("expected one reply, got %d", len(em.emitted))
	}
	if em.emitted[0].Reason != uint16(ReasonNL) {
		t.Errorf("Reason = %d, want ReasonNL", em.emitted[0].Reason)
	}
	if em.emitted[0].DstAddr != 0x0007 {
		t.Errorf("DstAddr = %#x, want the peer's src_port", em.emitted[0].DstAddr)
	}
}

func TestDispatchMalformedCIRepliesOnce(t *testing.T) {
	d, _, _, em, _ := newTestDispatcher()

	// nameType 2 on the destination: "destination name type > 1".
	body := []byte{2}
	body = append(body, namedObject("USER")...)
	body = append(body, 0x00)
	seg := &InSegment{Buf: ciSegment(0x0009, body)}

	d.Receive(seg, time.Time{})

	if len(em.emitted) != 1 {
		t.Fatalf("expected one Disconnect-Initiate reply, got %d", len(em.emitted))
	}
	if em.emitted[0].Reason != uint16(ReasonID) {
		t.Errorf("Reason = %d, want ReasonID", em.emitted[0].Reason)
	}
}

func TestDispatchReservedBitsDropped(t *testing.T) {
	d, conns, _, em, ec := newTestDispatcher()
	seg := &InSegment{Buf: []byte{0x81, 0x00, 0x00}}

	d.Receive(seg, time.Time{})

	if ec.ReservedBits != 1 {
		t.Errorf("ReservedBits = %d, want 1", ec.ReservedBits)
	}
	if len(conns.load()) != 0 || len(em.emitted) != 0 {
		t.Error("a reserved-bit segment must produce no side effects")
	}
	if !seg.Released() {
		t.Error("expected segment to be released even when dropped")
	}
}

func TestDispatchReturnedCI(t *testing.T) {
	d, conns, _, _, ec := newTestDispatcher()

	cfg := DefaultConfig()
	conn := NewConnection(0, &cfg, nil, nil, nil, nil, nil)
	conn.State = StateCI
	local := conns.Insert(conn)

	buf := make([]byte, 5)
	buf[0] = 0x18 // KindCI flags
	binary.LittleEndian.PutUint16(buf[1:3], local)
	seg := &InSegment{Buf: buf, RtFlags: RTFReturnedToSender}

	d.Receive(seg, time.Time{})

	if conn.State != StateNC {
		t.Fatalf("state = %v, want NC", conn.State)
	}
	if ec.ReturnedCI != 1 {
		t.Errorf("ReturnedCI = %d, want 1", ec.ReturnedCI)
	}
}

func TestDispatchReturnedCIUnknownPort(t *testing.T) {
	d, _, _, _, ec := newTestDispatcher()
	buf := make([]byte, 5)
	buf[0] = 0x18
	binary.LittleEndian.PutUint16(buf[1:3], 0xBEEF)
	seg := &InSegment{Buf: buf, RtFlags: RTFReturnedToSender}

	d.Receive(seg, time.Time{})

	if ec.ReturnedCI != 1 {
		t.Errorf("ReturnedCI = %d, want 1 (unresolved returns still count)", ec.ReturnedCI)
	}
}

func TestDispatchUnknownConnection(t *testing.T) {
	d, _, _, em, ec := newTestDispatcher()

	// A Connect-Confirm for a dst_port with no registered connection: the
	// only non-CI class that provokes a no-link reply (spec §4.6 step 5).
	buf := make([]byte, 5)
	buf[0] = 0x28 // KindCC
	binary.LittleEndian.PutUint16(buf[1:3], 0x0042) // dst_port
	binary.LittleEndian.PutUint16(buf[3:5], 0x0099) // src_port
	seg := &InSegment{Buf: buf}

	d.Receive(seg, time.Time{})

	if ec.UnknownConn != 1 {
		t.Errorf("UnknownConn = %d, want 1", ec.UnknownConn)
	}
	if len(em.emitted) != 1 || em.emitted[0].Reason != uint16(ReasonNL) {
		t.Errorf("expected a no-link reply, got %+v", em.emitted)
	}
}

func TestDispatchBacklogsBusyConnection(t *testing.T) {
	d, conns, _, _, _ := newTestDispatcher()

	cfg := DefaultConfig()
	conn := NewConnection(0, &cfg, &fakeSendQueue{}, &fakeNotifier{}, nil, nil, nil)
	conn.State = StateRUN
	conn.RemoteAddr = 0x0101
	local := conns.Insert(conn)

	conn.Lock() // simulate user context already owning the connection

	buf := make([]byte, 7)
	buf[0] = 0x00 // KindData
	binary.LittleEndian.PutUint16(buf[1:3], local)
	binary.LittleEndian.PutUint16(buf[3:5], 0x0101)
	binary.LittleEndian.PutUint16(buf[5:7], 1) // segnum
	seg := &InSegment{Buf: buf}

	d.Receive(seg, time.Time{})

	if len(conn.backlog) != 1 {
		t.Fatalf("expected the segment to be backlogged, got %d entries", len(conn.backlog))
	}

	conn.Unlock(func(next *InSegment) {
		d.applyToConn(conn, next.Kind, next.Hdr, next.Body, next.RtFlags)
	})

	if conn.NumDataRcv != 1 {
		t.Errorf("NumDataRcv = %d, want 1 after backlog drain", conn.NumDataRcv)
	}
}

func TestDispatchCIRetransmitDedup(t *testing.T) {
	d, conns, listeners, _, _ := newTestDispatcher()
	listeners.Register(ObjectDescriptor{Type: 1, Name: "TASK=FOO"}, 4, nil)

	body := append(namedObject("TASK=FOO"), namedObject("USER")...)
	body = append(body, 0x00)

	seg1 := &InSegment{Buf: ciSegment(0x0005, body)}
	d.Receive(seg1, time.Time{})
	if len(conns.load()) != 1 {
		t.Fatalf("expected exactly one connection after the first CI, got %d", len(conns.load()))
	}

	// A retransmitted CI from the same src_port must not create a second
	// connection or a second listener enqueue (SPEC_FULL §4.4).
	seg2 := &InSegment{Buf: ciSegment(0x0005, body)}
	d.Receive(seg2, time.Time{})
	if len(conns.load()) != 1 {
		t.Errorf("expected the retransmit to be de-duplicated, got %d connections", len(conns.load()))
	}
}

// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import "testing"

type fakeSendQueue struct {
	releasedSub []Subchannel
	releasedSeq []uint16
}

func (f *fakeSendQueue) ReleaseUpTo(sub Subchannel, seq uint16) bool {
	f.releasedSub = append(f.releasedSub, sub)
	f.releasedSeq = append(f.releasedSeq, seq)
	return true
}

type fakeNotifier struct {
	stateChanges int
	dataReady    []Subchannel
}

func (f *fakeNotifier) StateChanged(conn *Connection)               { f.stateChanges++ }
func (f *fakeNotifier) DataReady(conn *Connection, sub Subchannel) { f.dataReady = append(f.dataReady, sub) }

func newTestConnection() (*Connection, *fakeSendQueue, *fakeNotifier) {
	cfg := DefaultConfig()
	sq := &fakeSendQueue{}
	n := &fakeNotifier{}
	c := NewConnection(1, &cfg, sq, n, nil, nil, nil)
	return c, sq, n
}

func TestProcessAcksAdvancesWatermark(t *testing.T) {
	c, sq, _ := newTestConnection()
	c.AckrcvData = 9

	// Scenario 3: ack word 0x8010 = present, subchannel 0 (data), value 0x010.
	buf := []byte{0x10, 0x80, 0x06, 0x00, 'p', 'a', 'y'}
	n := c.ProcessAcks(buf, false)
	if n != 2 {
		t.Fatalf("expected 2 bytes consumed, got %d", n)
	}
	if c.AckrcvData != 0x010 {
		t.Errorf("AckrcvData = %#x, want 0x010", c.AckrcvData)
	}
	if len(sq.releasedSub) != 1 || sq.releasedSub[0] != SubData || sq.releasedSeq[0] != 0x010 {
		t.Errorf("send queue not released correctly: %+v %+v", sq.releasedSub, sq.releasedSeq)
	}
}

func TestProcessAcksStaleIsNoop(t *testing.T) {
	c, sq, _ := newTestConnection()
	c.AckrcvData = 0x100

	buf := []byte{0x50, 0x80} // value 0x050 < 0x100
	c.ProcessAcks(buf, false)
	if c.AckrcvData != 0x100 {
		t.Errorf("stale ack must not move the watermark, got %#x", c.AckrcvData)
	}
	if c.cdb.AckStale == 0 {
		t.Error("expected AckStale to increment")
	}
	if len(sq.releasedSub) != 0 {
		t.Error("stale ack must not release send-queue entries")
	}
}

func TestProcessAcksStopsAtFirstAbsent(t *testing.T) {
	c, _, _ := newTestConnection()
	buf := []byte{0x00, 0x00, 0xFF, 0xFF} // bit 15 clear
	n := c.ProcessAcks(buf, false)
	if n != 0 {
		t.Errorf("expected 0 bytes consumed, got %d", n)
	}
}

func TestProcessAcksTwoWords(t *testing.T) {
	c, _, _ := newTestConnection()
	c.AckrcvData = 0
	c.AckrcvOth = 0
	// data ack then other ack
	dataWord := []byte{0x05, 0x80}          // subchannel 0, value 5
	othWord := []byte{0x0A, 0xA0}           // subchannel bits 10 -> other, value 0x00A
	buf := append(append([]byte{}, dataWord...), othWord...)
	n := c.ProcessAcks(buf, false)
	if n != 4 {
		t.Fatalf("expected 4 bytes consumed, got %d", n)
	}
	if c.AckrcvData != 5 {
		t.Errorf("AckrcvData = %d, want 5", c.AckrcvData)
	}
	if c.AckrcvOth != 0x00A {
		t.Errorf("AckrcvOth = %#x, want 0x00A", c.AckrcvOth)
	}
}

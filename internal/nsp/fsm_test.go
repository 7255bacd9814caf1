// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"testing"
	"time"
)

type fakeTimers struct {
	scheduled []TimerField
	canceled  []TimerField
}

func (f *fakeTimers) Schedule(conn *Connection, field TimerField, delta time.Duration) {
	f.scheduled = append(f.scheduled, field)
}
func (f *fakeTimers) Cancel(conn *Connection, field TimerField) {
	f.canceled = append(f.canceled, field)
}

type fakeEmitter struct {
	emitted []*OutSegment
}

func (f *fakeEmitter) Emit(seg *OutSegment) error {
	f.emitted = append(f.emitted, seg)
	return nil
}

func newRunConnection() (*Connection, *fakeSendQueue, *fakeNotifier, *fakeTimers, *fakeEmitter) {
	cfg := DefaultConfig()
	sq := &fakeSendQueue{}
	n := &fakeNotifier{}
	ts := &fakeTimers{}
	em := &fakeEmitter{}
	c := NewConnection(1, &cfg, sq, n, ts, nil, em)
	c.State = StateRUN
	c.RemoteAddr = 0x0101
	return c, sq, n, ts, em
}

func TestHandleCAthenHandleCC(t *testing.T) {
	cfg := DefaultConfig()
	sq := &fakeSendQueue{}
	n := &fakeNotifier{}
	ts := &fakeTimers{}
	c := NewConnection(1, &cfg, sq, n, ts, nil, nil)
	c.State = StateCI

	c.HandleCA(&cfg)
	if c.State != StateCD {
		t.Fatalf("state = %v, want CD", c.State)
	}

	body := []byte{0x01, 0x02, 0x40, 0x02} // services, info, segsize=0x0240
	c.HandleCC(&cfg, 0x0101, body, RTFIntraEthernet)
	if c.State != StateRUN {
		t.Fatalf("state = %v, want RUN", c.State)
	}
	if c.RemoteAddr != 0x0101 {
		t.Errorf("RemoteAddr = %#x", c.RemoteAddr)
	}
	if c.SegsizeRem != 0x0240 {
		t.Errorf("SegsizeRem = %#x, want 0x0240 (intra-ethernet, no clamp)", c.SegsizeRem)
	}
}

func TestHandleCCClampsSegsizeOffEthernet(t *testing.T) {
	cfg := DefaultConfig()
	c := NewConnection(1, &cfg, nil, nil, nil, nil, nil)
	c.State = StateCI
	big := cfg.SegBufSize + 100
	body := []byte{0, 0, byte(big), byte(big >> 8)}
	c.HandleCC(&cfg, 0x0101, body, 0) // rt without Intra-Ethernet
	want := cfg.SegBufSize - (maxNspDataHeader + 6)
	if c.SegsizeRem != want {
		t.Errorf("SegsizeRem = %d, want clamp to %d", c.SegsizeRem, want)
	}
}

func TestHandleDataScenario3(t *testing.T) {
	// Scenario 3: RUN, num_data_rcv=5, ackrcv_data=9, inbound Data with
	// ack word 0x8010 (value 0x010) and segnum=6.
	c, sq, _, ts, _ := newRunConnection()
	c.NumDataRcv = 5
	c.AckrcvData = 9

	body := []byte{0x10, 0x80, 0x06, 0x00} // ack word, segnum=6, no payload
	stripped := body[c.ProcessAcks(body, false):]
	scenario3Cfg := c_cfgFor(c)
	c.HandleData(&scenario3Cfg, stripped)

	if c.AckrcvData != 0x010 {
		t.Errorf("AckrcvData = %#x, want 0x010", c.AckrcvData)
	}
	if len(sq.releasedSub) != 1 {
		t.Error("expected send-queue release on ack advance")
	}
	if c.NumDataRcv != 6 {
		t.Errorf("NumDataRcv = %d, want 6", c.NumDataRcv)
	}
	if c.DataQueue.Len() != 1 {
		t.Errorf("expected the (empty) payload queued, Len()=%d", c.DataQueue.Len())
	}
	if !c.AckDelayActive || len(ts.scheduled) == 0 {
		t.Error("expected a delayed ack to be scheduled")
	}
}

// c_cfgFor is a tiny helper so the ack+data test above can call HandleData
// without threading a *EngineConfig through every fake constructor.
func c_cfgFor(c *Connection) EngineConfig { return DefaultConfig() }

func TestHandleDataOutOfSequenceDropped(t *testing.T) {
	c, _, _, _, _ := newRunConnection()
	c.NumDataRcv = 5
	cfg := DefaultConfig()
	body := []byte{0x09, 0x00, 'x'} // segnum 9, not seqNext of 5
	c.HandleData(&cfg, body)
	if c.NumDataRcv != 5 {
		t.Error("out-of-sequence data must not advance num_data_rcv")
	}
	if c.cdb.DataDuplicate == 0 {
		t.Error("expected DataDuplicate counter to increment")
	}
}

func TestHandleReturnedCI(t *testing.T) {
	cfg := DefaultConfig()
	c := NewConnection(1, &cfg, nil, nil, nil, nil, nil)
	c.State = StateCI
	c.HandleReturnedCI()
	if c.State != StateNC {
		t.Fatalf("state = %v, want NC", c.State)
	}
	if c.LastErr != SeEHOSTUNREACH {
		t.Errorf("LastErr = %v, want SeEHOSTUNREACH", c.LastErr)
	}
}

func TestHandleLinkServiceDontSendThenSend(t *testing.T) {
	c, _, n, _, em := newRunConnection()
	c.NumOthRcv = 0

	// lsflags=0x01 -> DONTSEND
	body1 := []byte{0x01, 0x00, 0x01, 0x00}
	c.HandleLinkService(body1)
	if c.FlowremSw != GateDontSend {
		t.Fatalf("FlowremSw = %v, want DONTSEND", c.FlowremSw)
	}
	if len(em.emitted) != 1 {
		t.Error("expected an other-data ack to be emitted")
	}

	// lsflags=0x02 -> SEND
	body2 := []byte{0x02, 0x00, 0x02, 0x00}
	c.HandleLinkService(body2)
	if c.FlowremSw != GateSend {
		t.Fatalf("FlowremSw = %v, want SEND", c.FlowremSw)
	}
	if n.stateChanges == 0 {
		t.Error("expected a wakeup notification on SEND")
	}
}

func TestHandleDIfromCIisRefused(t *testing.T) {
	cfg := DefaultConfig()
	c := NewConnection(1, &cfg, nil, nil, nil, nil, nil)
	c.State = StateCI
	c.HandleDI(0)
	if c.State != StateRJ {
		t.Fatalf("state = %v, want RJ", c.State)
	}
	if c.LastErr != SeECONNREFUSED {
		t.Errorf("LastErr = %v, want SeECONNREFUSED", c.LastErr)
	}
}

func TestHandleDIfromRUNnotifiesUser(t *testing.T) {
	c, _, n, _, _ := newRunConnection()
	c.HandleDI(0)
	if c.State != StateDN {
		t.Fatalf("state = %v, want DN", c.State)
	}
	if n.stateChanges == 0 {
		t.Error("expected the user to be notified of the disconnect")
	}
}

func TestDuplicateDIdrivesDIonce(t *testing.T) {
	cfg := DefaultConfig()
	c := NewConnection(1, &cfg, nil, nil, nil, nil, nil)
	c.State = StateDI
	c.HandleDI(0)
	if c.State != StateDIC {
		t.Fatalf("state = %v, want DIC", c.State)
	}
}

func TestTerminalStateDropsFurtherInput(t *testing.T) {
	c, _, _, _, _ := newRunConnection()
	c.State = StateDN
	before := c.NumDataRcv
	c.HandleData(&EngineConfig{}, []byte{0x00, 0x00})
	if c.NumDataRcv != before {
		t.Error("a terminal connection must not process further data")
	}
}

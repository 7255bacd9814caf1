// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"sync"
	"time"
)

const (
	maxInlinePayload = 16 // connect/disconnect inline user-data ceiling
)

// inlineData is the small fixed buffer carried inline on Connect-Confirm
// and Disconnect messages (spec §3: "small inline byte buffers up to 16
// bytes with length").
type inlineData struct {
	buf [maxInlinePayload]byte
	len uint8
}

func (d *inlineData) set(b []byte) {
	n := copy(d.buf[:], b)
	d.len = uint8(n)
}

func (d *inlineData) bytes() []byte { return d.buf[:d.len] }

// Connection is one NSP association. It is owned by the connection table
// keyed by LocalAddr; every receive-side operation that touches it must
// hold Lock (or be the exclusive owner during construction).
type Connection struct {
	mu     sync.Mutex
	busy   bool          // held by user context; new input is backlogged
	backlog []*InSegment // segments queued while busy, drained on Unlock

	State ConnState

	LocalAddr  uint16
	RemoteAddr uint16 // 0 until learned from CC or CI

	// data subchannel
	NumDataSent uint16
	NumDataRcv  uint16
	AckrcvData  uint16

	// other-data (interrupt) subchannel
	NumOthSent uint16
	NumOthRcv  uint16
	AckrcvOth  uint16
	otherReport bool // "other report" latch, cleared once queued

	// flow control
	FlowremDat int32
	FlowremOth int32
	FlowremSw  FlowGate
	FlowlocSw  FlowGate
	Fctype     FlowControlType

	// peer capabilities, learned from CI/CC
	ServicesRem uint8
	InfoRem     uint8
	SegsizeRem  uint16

	connectData    inlineData
	disconnectData inlineData

	// timers: state only, expiry is driven by the external TimerScheduler
	PersistActive  bool
	ConnTimerActive bool
	AckDelayActive bool
	RxtShift       uint8
	Stamp          time.Time

	LastErr SockErr

	DataQueue  RecvQueue
	OtherQueue RecvQueue

	sendQueue SendQueue
	notifier  SocketNotifier
	timers    TimerScheduler
	filter    ReceiveFilter
	emitter   Emitter

	cdb *ConnCounters
}

// NewConnection allocates a fresh connection bound to the given
// collaborators. It starts in StateClosed; callers move it to StateCI (for
// an outbound attempt) or leave it for the listener path to promote from a
// pending accept.
func NewConnection(localAddr uint16, cfg *EngineConfig, sq SendQueue, n SocketNotifier, ts TimerScheduler, rf ReceiveFilter, em Emitter) *Connection {
	c := &Connection{
		LocalAddr: localAddr,
		State:     StateClosed,
		sendQueue: sq,
		notifier:  n,
		timers:    ts,
		filter:    rf,
		emitter:   em,
		cdb:       NewConnCounters(),
	}
	c.DataQueue.limit = cfg.RecvBufferLimit
	c.OtherQueue.limit = cfg.RecvBufferLimit
	return c
}

// Lock acquires the per-connection mutex and marks it busy so that a
// concurrent receive-side invocation backlogs instead of racing user
// context (spec §5).
func (c *Connection) Lock() {
	c.mu.Lock()
	c.busy = true
}

// Unlock releases the connection and drains anything that was appended to
// the backlog while it was held, processing each with fn.
func (c *Connection) Unlock(fn func(*InSegment)) {
	for {
		if len(c.backlog) == 0 {
			break
		}
		seg := c.backlog[0]
		c.backlog = c.backlog[1:]
		fn(seg)
	}
	c.busy = false
	c.mu.Unlock()
}

// TryLock is the backlog-eligible counterpart to Lock: it takes c.mu,
// and if the connection is not already held, marks it busy and returns
// true with c.mu still held (the caller must call Unlock exactly as it
// would after Lock). If the connection is already held, it appends seg
// to the backlog before releasing c.mu and returns false, so the
// busy-check and the backlog append are atomic under the same critical
// section (spec §4.6 step 9, §5) instead of racing a concurrent
// Unlock.
func (c *Connection) TryLock(seg *InSegment) bool {
	c.mu.Lock()
	if c.busy {
		c.backlog = append(c.backlog, seg)
		c.mu.Unlock()
		return false
	}
	c.busy = true
	return true
}

func (c *Connection) touch(now time.Time) {
	c.Stamp = now
	c.RxtShift = 0
}

func (c *Connection) markTerminal(reason SockErr) {
	c.LastErr = reason
	if c.notifier != nil {
		c.notifier.StateChanged(c)
	}
}

// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

// congestionNumerator/Denominator set the fraction of the receive-buffer
// limit above which a data connection is considered congested and gates
// its peer with DONTSEND (spec §4.4: "if after enqueue the connection is
// congested"). Mirrors the teacher's sb_hiwat high-water-mark idiom in
// socket.go, simplified to whole-message accounting since NSP delivers
// discrete segments rather than a byte stream.
const (
	congestionNumerator   = 3
	congestionDenominator = 4
)

// queuedMsg is one payload sitting in a receive queue, charged against the
// connection's receive-buffer budget at its full in-memory size (spec §9:
// "each queued buffer charges its full in-memory size, not just payload").
type queuedMsg struct {
	payload []byte
}

func (m queuedMsg) charge() uint32 { return uint32(cap(m.payload)) }

// RecvQueue is one subchannel's in-order user receive queue with
// receive-buffer accounting (spec §4.5 ReceiveQueueing, §3 invariant on
// total queued bytes).
type RecvQueue struct {
	msgs    []queuedMsg
	alloc   uint32
	limit   uint32
	dropped uint64
}

// Len reports the number of queued messages.
func (q *RecvQueue) Len() int { return len(q.msgs) }

// Congested reports whether the queue has crossed the gating threshold.
func (q *RecvQueue) Congested() bool {
	return uint64(q.alloc)*congestionDenominator > uint64(q.limit)*congestionNumerator
}

// Enqueue runs the receive-side pipeline for one payload: user filter,
// buffer-budget check, append, notify. It returns false if the filter
// rejects the payload or the receive buffer is exhausted; only the
// buffer-exhausted case increments the drop counter. The caller
// (ConnectionFSM) must not advance its sequence counter on a false return.
func (q *RecvQueue) Enqueue(conn *Connection, sub Subchannel, payload []byte) bool {
	if conn.filter != nil && !conn.filter.Accept(conn, sub, payload) {
		return false
	}
	msg := queuedMsg{payload: payload}
	charge := msg.charge()
	if uint64(q.alloc)+uint64(charge) > uint64(q.limit) {
		q.dropped++
		return false
	}
	q.alloc += charge
	q.msgs = append(q.msgs, msg)
	if conn.notifier != nil {
		conn.notifier.DataReady(conn, sub)
	}
	return true
}

// Pop removes and returns the oldest queued payload, releasing its charge.
func (q *RecvQueue) Pop() ([]byte, bool) {
	if len(q.msgs) == 0 {
		return nil, false
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	q.alloc -= m.charge()
	return m.payload, true
}

// Dropped reports the number of payloads dropped for buffer exhaustion.
// Payloads rejected by the receive filter are not counted here.
func (q *RecvQueue) Dropped() uint64 { return q.dropped }

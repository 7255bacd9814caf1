// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import "encoding/binary"

// ProcessAcks consumes up to two piggyback ack words from the head of buf
// (spec §4.3). carryingOther is true when the message the acks were pulled
// from is itself classed as other-data (Classify returned KindOtherData),
// used for the cross-subchannel XOR in decodeAckWord. It returns the
// number of bytes consumed so the caller can advance past the ack fields
// to the payload.
func (c *Connection) ProcessAcks(buf []byte, carryingOther bool) int {
	consumed := 0
	for i := 0; i < 2; i++ {
		if len(buf) < 2 {
			break
		}
		raw := binary.LittleEndian.Uint16(buf)
		if raw&ackPresentBit == 0 {
			break
		}
		buf = buf[2:]
		consumed += 2
		field := decodeAckWord(raw, carryingOther)
		if field.IsNak {
			continue
		}
		c.applyAck(field)
	}
	return consumed
}

// applyAck updates the watermark named by field.Subchannel if field.Value
// advances it under wrap-safe comparison, and releases send-queue entries
// up to the new watermark.
func (c *Connection) applyAck(field AckField) {
	var sub Subchannel
	var watermark *uint16
	switch field.Subchannel {
	case SubData:
		sub, watermark = SubData, &c.AckrcvData
	case SubOther:
		sub, watermark = SubOther, &c.AckrcvOth
	default:
		// SubDataNak/SubOtherNak already filtered by field.IsNak in the
		// common case, but a malformed peer could set subchannel bits
		// 1 or 3 without the NAK bit; treat as a no-op ack.
		return
	}

	if field.Value == *watermark || !seqAfter(field.Value, *watermark) {
		c.cdb.AckStale++
		return
	}

	*watermark = field.Value
	c.cdb.AckAdvances++

	if c.sendQueue != nil {
		c.sendQueue.ReleaseUpTo(sub, field.Value)
	}
	if c.notifier != nil {
		c.notifier.StateChanged(c)
	}
}

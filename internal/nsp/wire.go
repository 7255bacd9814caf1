// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import "encoding/binary"

// MsgKind classifies an inbound NSP segment by its flags byte. The
// classification table is wire flags[3.3, 1] DIGITAL Network Architecture
// NSP functional specification §6.2, reproduced in spec §4.1.
type MsgKind uint8

const (
	KindDrop MsgKind = iota
	KindNOP
	KindCI
	KindCC
	KindDI
	KindDC
	KindCA
	KindData
	KindLinkService
	KindOtherData
	KindPureAck
)

func (k MsgKind) String() string {
	switch k {
	case KindNOP:
		return "NOP"
	case KindCI:
		return "CI"
	case KindCC:
		return "CC"
	case KindDI:
		return "DI"
	case KindDC:
		return "DC"
	case KindCA:
		return "CA"
	case KindData:
		return "DATA"
	case KindLinkService:
		return "LS"
	case KindOtherData:
		return "OTHER-DATA"
	case KindPureAck:
		return "ACK"
	default:
		return "DROP"
	}
}

const (
	flagsReservedMask = 0x83
	flagsCtrlMask     = 0x0C
	flagsCtrlBit      = 0x08
	flagsAckOnlyBit   = 0x04
	flagsTypeMask     = 0x70

	typeNOP   = 0x00
	typeCI    = 0x10
	typeCC    = 0x20
	typeDI    = 0x30
	typeDC    = 0x40
	typeCIRxt = 0x60

	typeData = 0x00
	typeLS   = 0x10
	typeOth  = 0x30

	flagsBareConnAck = 0x24
)

// IsBareConnAck reports whether flags is the exact bare Connect-Ack byte
// (nsp_flags == 0x24), the one control message that carries no src_port.
func IsBareConnAck(flags uint8) bool { return flags == flagsBareConnAck }

// Classify maps the first byte of an inbound segment to a MsgKind and
// reports whether a CI/CI-class message is the 0x60 retransmit variant.
// A reserved bit set anywhere in flags is always rejected regardless of
// the rest of the classification, per spec §4.1.
func Classify(flags uint8) (kind MsgKind, retransmit bool, err error) {
	if flags&flagsReservedMask != 0 {
		return KindDrop, false, errReservedBits
	}
	if flags == flagsBareConnAck {
		return KindCA, false, nil
	}
	switch flags & flagsCtrlMask {
	case flagsCtrlBit:
		switch flags & flagsTypeMask {
		case typeNOP:
			return KindNOP, false, nil
		case typeCI:
			return KindCI, false, nil
		case typeCIRxt:
			return KindCI, true, nil
		case typeCC:
			return KindCC, false, nil
		case typeDI:
			return KindDI, false, nil
		case typeDC:
			return KindDC, false, nil
		default: // 0x50, 0x70: reserved / phase II init
			return KindDrop, false, nil
		}
	case flagsAckOnlyBit:
		return KindPureAck, false, nil
	case 0x00:
		switch flags & flagsTypeMask {
		case typeData:
			return KindData, false, nil
		case typeLS:
			return KindLinkService, false, nil
		case typeOth:
			return KindOtherData, false, nil
		default:
			return KindDrop, false, nil
		}
	default:
		return KindDrop, false, nil
	}
}

// CommonHeader is the decoded fixed prefix shared by every non-CI message:
// the flags byte plus destination and (usually) source link-addresses.
type CommonHeader struct {
	Flags   uint8
	DstPort uint16
	SrcPort uint16
	HasSrc  bool
	HdrLen  int
}

// DecodeCommonHeader pulls nsp_flags, dst_port, and (unless this is a bare
// connack) src_port from buf. CI messages carry their own header shape and
// must be decoded with DecodeCIHeader instead.
func DecodeCommonHeader(buf []byte) (CommonHeader, error) {
	if len(buf) < 1 {
		return CommonHeader{}, errShortHeader
	}
	h := CommonHeader{Flags: buf[0]}
	off := 1
	if len(buf) < off+2 {
		return CommonHeader{}, errTruncated
	}
	h.DstPort = binary.LittleEndian.Uint16(buf[off:])
	off += 2

	if !IsBareConnAck(h.Flags) {
		if len(buf) < off+2 {
			return CommonHeader{}, errTruncated
		}
		h.SrcPort = binary.LittleEndian.Uint16(buf[off:])
		h.HasSrc = true
		off += 2
	}
	h.HdrLen = off
	return h, nil
}

// CIHeader is the decoded fixed prefix of a Connect-Initiate message
// (spec §6): src_port/dst_port (both zero on a first send), services,
// info, segsize, followed by the object-descriptor/menuver/access/user
// body ListenerMatcher decodes separately.
type CIHeader struct {
	SrcPort uint16
	DstPort uint16
	Services uint8
	Info     uint8
	Segsize  uint16
	Body     []byte
}

// DecodeCIHeader pulls a Connect-Initiate's fixed 8-byte prefix (flags
// already consumed by the caller's Classify call, so buf still starts at
// byte 0 here matching the wire layout: flags is not part of the CI's own
// header shape per spec §6, only the common non-CI header carries it
// first). buf is the full segment starting at nsp_flags.
func DecodeCIHeader(buf []byte) (CIHeader, error) {
	if len(buf) < 1+8 {
		return CIHeader{}, errTruncated
	}
	off := 1 // skip nsp_flags
	h := CIHeader{}
	h.SrcPort = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	h.DstPort = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	h.Services = buf[off]
	off++
	h.Info = buf[off]
	off++
	h.Segsize = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	h.Body = buf[off:]
	return h, nil
}

// AckField is one decoded piggyback ack word (spec §4.3).
type AckField struct {
	Present    bool
	IsNak      bool
	Subchannel Subchannel
	Value      uint16
}

// Subchannel is the target sequence space an ack or link-service field
// refers to.
type Subchannel uint8

const (
	SubData     Subchannel = 0
	SubDataNak  Subchannel = 1
	SubOther    Subchannel = 2
	SubOtherNak Subchannel = 3
)

func (s Subchannel) IsNak() bool { return s == SubDataNak || s == SubOtherNak }

const (
	ackPresentBit = 0x8000
	ackNakBit     = 0x4000
	ackSubShift   = 12
	ackSubMask    = 0x3
	ackValueMask  = 0x0FFF
	ackCrossXor   = 0x2000
)

// decodeAckWord parses one 16-bit LE ack word. carryingOther is true when
// the message carrying this ack word is itself classed as other-data (the
// cross-subchannel disambiguation in spec §4.3 step 4).
func decodeAckWord(raw uint16, carryingOther bool) AckField {
	if raw&ackPresentBit == 0 {
		return AckField{}
	}
	if carryingOther {
		raw ^= ackCrossXor
	}
	return AckField{
		Present:    true,
		IsNak:      raw&ackNakBit != 0,
		Subchannel: Subchannel((raw >> ackSubShift) & ackSubMask),
		Value:      raw & ackValueMask,
	}
}

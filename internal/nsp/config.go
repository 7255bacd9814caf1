// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator"
)

// EngineConfig holds the engine's operator-facing tunables (spec §6
// Configuration, plus the two additions listed in SPEC_FULL.md §3).
// Validated with go-playground/validator the way the teacher validates
// runtime tunables in core/thread_ctx.go.
type EngineConfig struct {
	LogMartians   bool `json:"log_martians"`
	SegBufSize    uint16        `json:"segbufsize" validate:"gt=0"`
	OutgoingTimer time.Duration `json:"outgoing_timer" validate:"gt=0"`
	NoFCMaxCwnd   uint16        `json:"no_fc_max_cwnd" validate:"gt=0"`
	AckDelay      time.Duration `json:"ack_delay" validate:"gt=0"`

	RecvBufferLimit   uint32 `json:"recv_buffer_limit" validate:"gt=0"`
	AcceptQueueDepth  int    `json:"accept_queue_depth" validate:"gt=0"`
	MartianRateLimit  int    `json:"martian_rate_limit_per_sec" validate:"gte=0"`
}

// DefaultConfig returns the engine's built-in tunables, matching the
// magnitudes the original kernel core hard-codes as constants.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		LogMartians:      true,
		SegBufSize:       576,
		OutgoingTimer:    60 * time.Second,
		NoFCMaxCwnd:      20,
		AckDelay:         3 * time.Second,
		RecvBufferLimit:  64 * 1024,
		AcceptQueueDepth: 64,
		MartianRateLimit: 5,
	}
}

// LoadConfig reads a JSON-encoded EngineConfig, overlaying it on
// DefaultConfig, and validates the result.
func LoadConfig(r io.Reader) (EngineConfig, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return EngineConfig{}, fmt.Errorf("nsp: decode config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

var configValidator = validator.New()

func validateConfig(cfg *EngineConfig) error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("nsp: invalid config: %w", err)
	}
	return nil
}

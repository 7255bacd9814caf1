// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"fmt"
)

// CounterRec is one named counter and its backing value, mirroring the
// teacher's CCounterRec idiom (core/counters.go) so the admin surface can
// walk a heterogeneous set of counters uniformly.
type CounterRec struct {
	Name    string `json:"name"`
	Help    string `json:"help"`
	Counter *uint64
}

func (r *CounterRec) isZero() bool { return *r.Counter == 0 }

// CounterDb is a named group of counters, dumped as a whole through the
// admin surface.
type CounterDb struct {
	Name string
	recs []*CounterRec
}

// NewCounterDb creates an empty, named counter database.
func NewCounterDb(name string) *CounterDb {
	return &CounterDb{Name: name}
}

// Add registers one counter in the database.
func (d *CounterDb) Add(name, help string, v *uint64) {
	d.recs = append(d.recs, &CounterRec{Name: name, Help: help, Counter: v})
}

// Snapshot returns the counters as a name->value map, suitable for JSON
// encoding by the admin surface: every counter when includeZero is set,
// otherwise only the non-zero ones.
func (d *CounterDb) Snapshot(includeZero bool) map[string]uint64 {
	m := make(map[string]uint64, len(d.recs))
	for _, r := range d.recs {
		if includeZero || !r.isZero() {
			m[r.Name] = *r.Counter
		}
	}
	return m
}

// Dump writes the counter database to stdout, matching the teacher's
// plain-text CCounterDb.Dump().
func (d *CounterDb) Dump() {
	fmt.Println("counters " + d.Name)
	for _, r := range d.recs {
		if !r.isZero() {
			fmt.Printf("%-28s : %d\n", r.Name, *r.Counter)
		}
	}
}

// ConnCounters tracks per-connection receive-side statistics.
type ConnCounters struct {
	DataAccepted    uint64
	DataDropped     uint64 // in sequence, but rejected by filter or buffer budget
	DataDuplicate   uint64 // segnum not the next expected (duplicate or out-of-sequence)
	OtherAccepted   uint64
	OtherDropped    uint64
	AckAdvances     uint64
	AckStale        uint64
	StateTransitions uint64

	db *CounterDb
}

// NewConnCounters builds a connection's counter database.
func NewConnCounters() *ConnCounters {
	c := &ConnCounters{}
	c.db = NewCounterDb("nsp.conn")
	c.db.Add("data_accepted", "in-order data segments delivered", &c.DataAccepted)
	c.db.Add("data_dropped", "in-sequence data segments dropped (filter/no-buffer)", &c.DataDropped)
	c.db.Add("data_duplicate", "data segments not next in sequence (duplicate/oos)", &c.DataDuplicate)
	c.db.Add("other_accepted", "in-order other-data segments delivered", &c.OtherAccepted)
	c.db.Add("other_dropped", "other-data segments dropped", &c.OtherDropped)
	c.db.Add("ack_advances", "piggyback acks that advanced a watermark", &c.AckAdvances)
	c.db.Add("ack_stale", "piggyback acks at or behind the watermark", &c.AckStale)
	c.db.Add("state_transitions", "FSM transitions taken", &c.StateTransitions)
	return c
}

// Db exposes the counter database for the admin surface.
func (c *ConnCounters) Db() *CounterDb { return c.db }

// EngineCounters tracks dispatcher-wide statistics not attributable to a
// single connection: unknown-connection drops, accept-queue-full drops,
// returned-CI handling, and martian rate-limiting.
type EngineCounters struct {
	UnknownConn    uint64
	AcceptQueueFull uint64
	ReturnedCI     uint64
	MartianDropped uint64 // suppressed by the rate limiter
	ReservedBits   uint64

	db *CounterDb
}

// NewEngineCounters builds the dispatcher-wide counter database.
func NewEngineCounters() *EngineCounters {
	e := &EngineCounters{}
	e.db = NewCounterDb("nsp.engine")
	e.db.Add("unknown_conn", "segments for an unresolvable local_addr", &e.UnknownConn)
	e.db.Add("accept_queue_full", "CIs dropped: listener accept queue full", &e.AcceptQueueFull)
	e.db.Add("returned_ci", "own CI returned to sender", &e.ReturnedCI)
	e.db.Add("martian_dropped", "martians suppressed by rate limiting", &e.MartianDropped)
	e.db.Add("reserved_bits", "segments dropped for reserved flag bits", &e.ReservedBits)
	return e
}

// Db exposes the counter database for the admin surface.
func (e *EngineCounters) Db() *CounterDb { return e.db }

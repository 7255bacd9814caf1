// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

// ConnSummary is the read-only view of a Connection exposed to the admin
// surface (internal/nspadmin). It never carries a *Connection pointer so
// the admin package cannot mutate engine state.
type ConnSummary struct {
	LocalAddr  uint16 `json:"local_addr"`
	RemoteAddr uint16 `json:"remote_addr"`
	State      string `json:"state"`
	DataRcv    uint16 `json:"num_data_rcv"`
	OthRcv     uint16 `json:"num_oth_rcv"`
	AckrcvData uint16 `json:"ackrcv_data"`
	AckrcvOth  uint16 `json:"ackrcv_oth"`
}

// Summary snapshots a connection's admin-visible fields under its mutex.
func (c *Connection) Summary() ConnSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnSummary{
		LocalAddr:  c.LocalAddr,
		RemoteAddr: c.RemoteAddr,
		State:      c.State.String(),
		DataRcv:    c.NumDataRcv,
		OthRcv:     c.NumOthRcv,
		AckrcvData: c.AckrcvData,
		AckrcvOth:  c.AckrcvOth,
	}
}

// Counters exposes the connection's counter database for the admin
// surface's counters endpoint.
func (c *Connection) Counters() *CounterDb { return c.cdb.Db() }

// All returns every live connection, for callers that need more than the
// admin-safe ConnSummary view (e.g. aggregating per-connection counters).
func (t *ConnTable) All() []*Connection {
	m := t.load()
	out := make([]*Connection, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Snapshot returns a summary of every live connection, for the admin
// surface's connection-state dump endpoint. It is safe to call
// concurrently with table mutation (Insert/Remove): it walks a single
// RCU snapshot.
func (t *ConnTable) Snapshot() []ConnSummary {
	m := t.load()
	out := make([]ConnSummary, 0, len(m))
	for _, c := range m {
		out = append(out, c.Summary())
	}
	return out
}

// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"sync"
	"sync/atomic"
)

// ConnTable is the connection table keyed by local_addr, with RCU-style
// lock-free reads (spec §5: "Connection-table lookups are performed under
// RCU-style read-side protection so that a concurrent table mutator does
// not tear a pointer"). Readers load an immutable snapshot map; writers
// copy-on-write under a serializing mutex.
type ConnTable struct {
	snapshot atomic.Value // map[uint16]*Connection
	wmu      sync.Mutex   // serializes writers only
	nextAddr uint16
}

// NewConnTable builds an empty connection table.
func NewConnTable() *ConnTable {
	t := &ConnTable{}
	t.snapshot.Store(make(map[uint16]*Connection))
	t.nextAddr = 1
	return t
}

func (t *ConnTable) load() map[uint16]*Connection {
	return t.snapshot.Load().(map[uint16]*Connection)
}

// Lookup resolves a connection by its local link-address without taking
// any lock; the returned pointer is stable even if a concurrent Insert or
// Remove replaces the table's snapshot.
func (t *ConnTable) Lookup(localAddr uint16) (*Connection, bool) {
	c, ok := t.load()[localAddr]
	return c, ok
}

// LookupReturned resolves the connection identified by a returned-to-sender
// CI: the port the frame was originally sent from (spec §4.6 step 2).
func (t *ConnTable) LookupReturned(srcPort uint16) (*Connection, bool) {
	return t.Lookup(srcPort)
}

// Insert allocates a fresh local_addr and installs conn under it, copying
// the snapshot map (copy-on-write; write path is not on any hot loop).
func (t *ConnTable) Insert(conn *Connection) uint16 {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	old := t.load()
	next := make(map[uint16]*Connection, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	for {
		addr := t.nextAddr
		t.nextAddr++
		if t.nextAddr == 0 {
			t.nextAddr = 1
		}
		if _, taken := next[addr]; taken {
			continue
		}
		conn.LocalAddr = addr
		next[addr] = conn
		t.snapshot.Store(next)
		return addr
	}
}

// Remove drops localAddr from the table.
func (t *ConnTable) Remove(localAddr uint16) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	old := t.load()
	if _, ok := old[localAddr]; !ok {
		return
	}
	next := make(map[uint16]*Connection, len(old))
	for k, v := range old {
		if k != localAddr {
			next[k] = v
		}
	}
	t.snapshot.Store(next)
}

// pendingAccept is one Connect-Initiate sitting in a listener's accept
// queue, awaiting a user-context accept() call.
type pendingAccept struct {
	conn *Connection
	ci   ciDecodeResult
}

// objectListener is the concrete Listener implementation backing
// ListenerRegistry: a bounded accept queue for one destination object.
type objectListener struct {
	mu       sync.Mutex
	backlog  []pendingAccept
	depth    int
	notifier SocketNotifier
}

// Enqueue implements Listener.
func (l *objectListener) Enqueue(conn *Connection, ci ciDecodeResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.backlog) >= l.depth {
		return false
	}
	l.backlog = append(l.backlog, pendingAccept{conn: conn, ci: ci})
	if l.notifier != nil {
		l.notifier.DataReady(conn, SubData)
	}
	return true
}

// Accept pops the oldest pending connection, for the socket layer's
// accept() call.
func (l *objectListener) Accept() (*Connection, ciDecodeResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.backlog) == 0 {
		return nil, ciDecodeResult{}, false
	}
	p := l.backlog[0]
	l.backlog = l.backlog[1:]
	return p.conn, p.ci, true
}

// ListenerReg is the registry of listeners keyed by destination object
// descriptor, implementing ListenerRegistry for MatchListener.
type ListenerReg struct {
	mu    sync.RWMutex
	byNum map[uint16]*objectListener
	byName map[string]*objectListener
}

// NewListenerReg builds an empty listener registry.
func NewListenerReg() *ListenerReg {
	return &ListenerReg{
		byNum:  make(map[uint16]*objectListener),
		byName: make(map[string]*objectListener),
	}
}

// Register installs a listener for a numbered or named object.
func (r *ListenerReg) Register(desc ObjectDescriptor, acceptDepth int, notifier SocketNotifier) *objectListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := &objectListener{depth: acceptDepth, notifier: notifier}
	if desc.Type == 0 {
		r.byNum[desc.Number] = l
	} else {
		r.byName[desc.Name] = l
	}
	return l
}

// Lookup implements ListenerRegistry.
func (r *ListenerReg) Lookup(dst ObjectDescriptor) (Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dst.Type == 0 {
		l, ok := r.byNum[dst.Number]
		if !ok {
			return nil, false
		}
		return l, true
	}
	l, ok := r.byName[dst.Name]
	if !ok {
		return nil, false
	}
	return l, true
}

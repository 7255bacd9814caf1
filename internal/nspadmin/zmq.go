// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nspadmin

import (
	"fmt"
	"time"

	"github.com/intel-go/fastjson"
	zmq "github.com/pebbe/zmq4"

	"github.com/vaxnet/nspd/internal/nsp"
)

// EngineView is the read-only surface the admin server pulls snapshots
// from; internal/nsp's ConnTable and counter databases satisfy it via the
// small adapter cmd/nspd builds at startup.
type EngineView interface {
	Connections() []nsp.ConnSummary
	EngineCounters() map[string]uint64
	ConnCounters() map[string]uint64
}

// request is the decoded shape of a REP-socket introspection request,
// grounded on the teacher's JSON-RPC-ish request/response framing
// (plugin_transport.go) but simplified to a bare method name since this
// endpoint is read-only and needs no params.
type request struct {
	Method string `json:"method"`
}

type response struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// Server runs the REP request/response loop and a PUB ticker that
// publishes the engine counter snapshot, mirroring the teacher's paired rx/tx zmq sockets in
// core/veth_zmq.go (one context per direction) but over TCP with a REP/PUB
// pair instead of a PAIR/PAIR data-plane pair.
type Server struct {
	view       EngineView
	repAddr    string
	pubAddr    string
	pubPeriod  time.Duration
	repSocket  *zmq.Socket
	pubSocket  *zmq.Socket
	stop       chan struct{}
}

// NewServer builds an admin server bound to repAddr (request/response) and
// pubAddr (engine counter snapshots every pubPeriod), e.g.
// "tcp://127.0.0.1:5570".
func NewServer(view EngineView, repAddr, pubAddr string, pubPeriod time.Duration) *Server {
	return &Server{view: view, repAddr: repAddr, pubAddr: pubAddr, pubPeriod: pubPeriod, stop: make(chan struct{})}
}

// Start binds both sockets and launches the serve loops. It does not
// block; call Stop to shut down.
func (s *Server) Start() error {
	repCtx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("nspadmin: zmq context: %w", err)
	}
	rep, err := repCtx.NewSocket(zmq.REP)
	if err != nil {
		return fmt.Errorf("nspadmin: rep socket: %w", err)
	}
	if err := rep.Bind(s.repAddr); err != nil {
		return fmt.Errorf("nspadmin: rep bind %s: %w", s.repAddr, err)
	}
	s.repSocket = rep

	pubCtx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("nspadmin: zmq context: %w", err)
	}
	pub, err := pubCtx.NewSocket(zmq.PUB)
	if err != nil {
		return fmt.Errorf("nspadmin: pub socket: %w", err)
	}
	if err := pub.Bind(s.pubAddr); err != nil {
		return fmt.Errorf("nspadmin: pub bind %s: %w", s.pubAddr, err)
	}
	s.pubSocket = pub

	go s.serveRep()
	go s.servePub()
	return nil
}

// Stop closes both sockets and stops the publish ticker.
func (s *Server) Stop() {
	close(s.stop)
	if s.repSocket != nil {
		s.repSocket.Close()
	}
	if s.pubSocket != nil {
		s.pubSocket.Close()
	}
}

func (s *Server) serveRep() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		raw, err := s.repSocket.Recv(0)
		if err != nil {
			return
		}
		resp := s.handle([]byte(raw))
		out, _ := fastjson.Marshal(resp)
		_, _ = s.repSocket.Send(string(out), 0)
	}
}

func (s *Server) handle(raw []byte) response {
	var req request
	if err := fastjson.Unmarshal(raw, &req); err != nil {
		return response{OK: false, Error: err.Error()}
	}
	switch req.Method {
	case "connections":
		return response{OK: true, Result: s.view.Connections()}
	case "engine_counters":
		return response{OK: true, Result: s.view.EngineCounters()}
	case "conn_counters":
		return response{OK: true, Result: s.view.ConnCounters()}
	default:
		return response{OK: false, Error: "unknown method: " + req.Method}
	}
}

func (s *Server) servePub() {
	ticker := time.NewTicker(s.pubPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			payload, err := fastjson.Marshal(s.view.EngineCounters())
			if err != nil {
				continue
			}
			_, _ = s.pubSocket.Send("counters "+string(payload), 0)
		}
	}
}

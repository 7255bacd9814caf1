// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"

	"github.com/vaxnet/nspd/internal/nsp"
	"github.com/vaxnet/nspd/internal/nspadmin"
)

const version = "0.1"

type mainArgs struct {
	configPath *string
	listeners  *string
	repAddr    *string
	pubAddr    *string
	verbose    *bool
	showVer    *bool
}

func parseMainArgs() *mainArgs {
	var args mainArgs
	parser := argparse.NewParser("nspd", "DECnet NSP receive-side engine")

	args.configPath = parser.String("c", "config", &argparse.Options{Default: "", Help: "path to engine config JSON"})
	args.listeners = parser.String("L", "listeners", &argparse.Options{Default: "", Help: "path to listener registration JSON"})
	args.repAddr = parser.String("r", "admin-rep", &argparse.Options{Default: "tcp://127.0.0.1:5570", Help: "admin REP bind address"})
	args.pubAddr = parser.String("P", "admin-pub", &argparse.Options{Default: "tcp://127.0.0.1:5571", Help: "admin PUB bind address"})
	args.verbose = parser.Flag("v", "verbose", &argparse.Options{Default: false, Help: "run in verbose mode"})
	args.showVer = parser.Flag("V", "version", &argparse.Options{Default: false, Help: "show nspd version"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	return &args
}

// engineView adapts internal/nsp's connection table and counter databases
// to nspadmin.EngineView, aggregating per-connection counters into a
// single engine-wide snapshot for the admin surface's conn_counters call.
type engineView struct {
	conns *nsp.ConnTable
	ec    *nsp.EngineCounters
}

func (v *engineView) Connections() []nsp.ConnSummary { return v.conns.Snapshot() }
func (v *engineView) EngineCounters() map[string]uint64 {
	return v.ec.Db().Snapshot(false)
}
func (v *engineView) ConnCounters() map[string]uint64 {
	agg := make(map[string]uint64)
	for _, c := range v.conns.All() {
		for name, val := range c.Counters().Snapshot(true) {
			agg[name] += val
		}
	}
	return agg
}

// noopTimers is the timer-scheduler stand-in used when nspd runs without a
// wired timer wheel (standalone/simulation mode); a production deployment
// supplies a real TimerScheduler from the process embedding this engine.
type noopTimers struct{}

func (noopTimers) Schedule(*nsp.Connection, nsp.TimerField, time.Duration) {}
func (noopTimers) Cancel(*nsp.Connection, nsp.TimerField)                 {}

// stdoutEmitter logs outbound replies instead of handing them to a
// routing layer, for standalone testing (SPEC_FULL §2 item 11).
type stdoutEmitter struct{}

func (stdoutEmitter) Emit(seg *nsp.OutSegment) error {
	fmt.Printf("emit: dst=0x%04x reason=%d\n", seg.DstAddr, seg.Reason)
	return nil
}

// logNotifier discards socket-visible events instead of waking a real
// socket layer, for standalone testing; it neither logs nor records them.
type logNotifier struct{}

func (logNotifier) StateChanged(conn *nsp.Connection)                 {}
func (logNotifier) DataReady(conn *nsp.Connection, sub nsp.Subchannel) {}

func loadConfig(path string) nsp.EngineConfig {
	if path == "" {
		return nsp.DefaultConfig()
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nspd: %v, using defaults\n", err)
		return nsp.DefaultConfig()
	}
	defer f.Close()
	cfg, err := nsp.LoadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nspd: %v, using defaults\n", err)
		return nsp.DefaultConfig()
	}
	return cfg
}

func registerListeners(path string, cfg *nsp.EngineConfig, reg *nsp.ListenerReg, notifier nsp.SocketNotifier) {
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nspd: %v\n", err)
		return
	}
	specs, err := nsp.ParseListenerConfig(raw, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nspd: %v\n", err)
		return
	}
	for _, spec := range specs {
		reg.Register(spec.ToObjectDescriptor(), spec.AcceptQueueDepth, notifier)
	}
}

func main() {
	args := parseMainArgs()
	if *args.showVer {
		fmt.Printf("nspd version %s\n", version)
		os.Exit(0)
	}

	nsp.ConfigureLogging(*args.verbose)
	cfg := loadConfig(*args.configPath)

	conns := nsp.NewConnTable()
	listeners := nsp.NewListenerReg()
	ec := nsp.NewEngineCounters()
	logger := nsp.NewMartianLogger(&cfg, ec)
	responder := nsp.NewErrorResponder(logger)

	notifier := logNotifier{}
	registerListeners(*args.listeners, &cfg, listeners, notifier)

	dispatcher := nsp.NewDispatcher(&cfg, conns, listeners, responder, ec,
		noopTimers{}, stdoutEmitter{}, notifier, nil, nil)
	_ = dispatcher // wired for use by the routing collaborator embedding this process

	admin := nspadmin.NewServer(&engineView{conns: conns, ec: ec}, *args.repAddr, *args.pubAddr, 5*time.Second)
	if err := admin.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "nspd: admin surface: %v\n", err)
		os.Exit(1)
	}
	defer admin.Stop()

	fmt.Printf("nspd %s listening: admin rep=%s pub=%s\n", version, *args.repAddr, *args.pubAddr)
	select {}
}

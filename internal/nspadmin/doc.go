// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

// Package nspadmin exposes a read-only ZeroMQ introspection endpoint over
// the nsp engine: a REP socket answering counter/connection-state
// requests and a PUB socket publishing the engine counters periodically
// (the current non-zero values, not deltas). It is the
// operational analogue of the teacher's veth/RPC control plane
// (core/veth_zmq.go, core/rpc.go), scoped down to introspection only since
// the send path this repo does not implement owns every mutating RPC.
package nspadmin

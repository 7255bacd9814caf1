// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

// Package nsp implements the receive side of DECnet's Network Services
// Protocol: segment classification, per-connection state machine,
// piggyback ack processing and in-order delivery to receive queues.
//
// The send path, routing-layer delivery, buffer allocation and the timer
// wheel are external collaborators reached only through the interfaces in
// external.go.
package nsp

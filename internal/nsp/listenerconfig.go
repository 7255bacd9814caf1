// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// listenerSchema validates an operator-supplied listener-registration
// document before any object descriptor in it is trusted, the same way
// the teacher validates its appsim program documents (appsim_schema.go)
// before touching their contents.
const listenerSchema = `{
	"title": "nsp-listeners",
	"type": "object",
	"required": ["listeners"],
	"properties": {
		"listeners": {
			"type": "array",
			"items": { "$ref": "#/definitions/listener_t" }
		}
	},
	"definitions": {
		"listener_t": {
			"type": "object",
			"required": ["object_type"],
			"properties": {
				"object_type": { "type": "string", "enum": ["numbered", "named"] },
				"object_number": { "type": "integer", "minimum": 0, "maximum": 65535 },
				"object_name": { "type": "string", "maxLength": 16 },
				"accept_queue_depth": { "type": "integer", "minimum": 1 }
			}
		}
	}
}`

// ListenerSpec is one entry of a decoded listener-registration document.
type ListenerSpec struct {
	ObjectType       string `json:"object_type"`
	ObjectNumber     uint16 `json:"object_number"`
	ObjectName       string `json:"object_name"`
	AcceptQueueDepth int    `json:"accept_queue_depth"`
}

var listenerSchemaLoader gojsonschema.JSONLoader

// ParseListenerConfig validates raw against listenerSchema and decodes it
// into a slice of ListenerSpec, filling AcceptQueueDepth from cfg's
// default when a spec omits it.
func ParseListenerConfig(raw []byte, cfg *EngineConfig) ([]ListenerSpec, error) {
	if listenerSchemaLoader == nil {
		listenerSchemaLoader = gojsonschema.NewStringLoader(listenerSchema)
	}
	documentLoader := gojsonschema.NewStringLoader(string(raw))
	result, err := gojsonschema.Validate(listenerSchemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("nsp: listener config: %w", err)
	}
	if !result.Valid() {
		s := ""
		for _, desc := range result.Errors() {
			s += fmt.Sprintf("- %s\n", desc)
		}
		return nil, fmt.Errorf("nsp: listener config invalid:\n%s", s)
	}

	var doc struct {
		Listeners []ListenerSpec `json:"listeners"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("nsp: listener config decode: %w", err)
	}
	for i := range doc.Listeners {
		if doc.Listeners[i].AcceptQueueDepth == 0 {
			doc.Listeners[i].AcceptQueueDepth = cfg.AcceptQueueDepth
		}
	}
	return doc.Listeners, nil
}

// ToObjectDescriptor converts a validated ListenerSpec into the wire-shape
// ObjectDescriptor MatchListener keys against.
func (s ListenerSpec) ToObjectDescriptor() ObjectDescriptor {
	if s.ObjectType == "named" {
		return ObjectDescriptor{Type: 1, Name: s.ObjectName}
	}
	return ObjectDescriptor{Type: 0, Number: s.ObjectNumber}
}

// Package com implements the communication core of a Coaty agent: a
// distributed event bus layered over an MQTT broker.
//
// This package manages:
//   - The topic grammar binding semantic event descriptors to broker
//     topic strings (topic.go)
//   - Typed event envelopes with validated payloads (event*.go)
//   - A thin broker client adapter over Eclipse Paho (client.go)
//   - A reference-counted subscription registry (registry.go)
//   - The request/response correlation engine (correlation.go)
//   - The communication manager with its operating-state machine,
//     deferred publish queue, and public observe/publish API (manager.go)
//
// # Architecture
//
// Controllers talk only to the Manager. Outbound, the manager validates
// the envelope, derives the topic, registers interest with the registry,
// and hands bytes to the client. Inbound, the client delivers raw
// messages to a single dispatch loop which parses, version-checks,
// echo-filters, and routes them to observers; correlated responses are
// cross-linked to their originating request first.
//
//	Controller ↔ Manager ↔ Registry/Correlation ↔ Client ↔ MQTT Broker
//
// # Concurrency
//
// One goroutine per manager owns inbound dispatch. Observer callbacks for
// one subscription never interleave; each subscription delivers events on
// its own channel in broker arrival order.
package com

// Package routing decides which analytics events are forwarded and where.
//
// Two mutually exclusive configuration generations are supported:
//
//   - Include list: a comma-separated list of event names sharing one global
//     sink built from the top-level path, method and property allow-list.
//   - Sink mapping: a JSON object keyed by event name, each entry describing
//     its own sink path, method and property allow-list.
//
// Parse turns the raw string settings into a Config once, failing with a
// config error for contradictory or incomplete input. Config.Resolve is then
// a pure lookup used for every event.
package routing

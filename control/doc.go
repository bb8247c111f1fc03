// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime counters and debug introspection for the HTTP engine.
//
// Counters are kept as atomics for Stats and mirrored into OpenTelemetry
// instruments. Gauges owned by other components (work queue length, free
// credential handles) are registered as probes and evaluated on demand.
package control

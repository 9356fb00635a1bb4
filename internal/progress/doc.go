// Package progress owns the lifecycle of a clone run. A Tracker enforces the
// status graph and monotone progress, records the run log, and publishes every
// change as an Event. Events flow through a non-blocking Hub that batches them
// on a background goroutine and fans them out to pluggable sinks such as
// structured logs or Prometheus metrics.
package progress

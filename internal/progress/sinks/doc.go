// Package sinks implements concrete run-event consumers for structured logging
// and Prometheus metrics. Each sink satisfies the progress.Sink interface and
// is safe for repeated Consume/Close cycles.
package sinks

// Package otel publishes Engine metrics through an OpenTelemetry Meter.
//
// Counters become Int64ObservableCounter instruments. Each latency histogram
// becomes one Int64ObservableGauge per cumulative bucket plus a count gauge.
// A single callback reads the Engine snapshot on every collection. The caller
// owns the MeterProvider.
package otel

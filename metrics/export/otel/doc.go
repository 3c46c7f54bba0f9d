// Package otel publishes authcore metrics through an OpenTelemetry meter.
//
// Each counter becomes an Int64ObservableCounter with the same name the
// Prometheus exporter uses. The latency histogram is flattened into one
// gauge per cumulative bucket plus _count and _sum gauges. Callers own the
// MeterProvider.
package otel

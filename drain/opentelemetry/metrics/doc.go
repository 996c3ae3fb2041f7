// Package metrics provides a small OpenTelemetry instrument factory with
// cached instruments and label builders.
package metrics

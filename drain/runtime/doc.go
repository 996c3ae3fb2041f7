// Package runtime provides panic recovery for goroutines started by drain
// components, with structured logging, span events and a panic counter.
package runtime

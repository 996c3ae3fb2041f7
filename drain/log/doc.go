// Package log defines the logging interface and typed logging fields used by
// every drain component.
//
// Adapters (such as the zap package) implement Logger so that the shutdown
// orchestrator and host bindings stay independent from a concrete backend.
package log

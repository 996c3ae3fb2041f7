// Package shutdown drains the connections of a network server.
//
// An Orchestrator owns a connection registry and a Host, the capability the
// server framework provides to stop accepting and to abruptly close a single
// connection. The host reports lifecycle events to the orchestrator's Tracker.
//
// Two modes share one algorithm. Graceful shutdown closes idle connections
// only and waits, polling at a fixed interval up to a retry ceiling, for busy
// ones to finish; a connection that finishes its response while draining is
// closed right away. Forced shutdown closes every connection in a single pass.
// In both modes the listener is stopped concurrently with the drain loop and
// the call returns once both are done. Only a listener error is reported;
// hitting the retry ceiling is logged, not returned.
package shutdown

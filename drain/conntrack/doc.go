// Package conntrack keeps the lifecycle bookkeeping of accepted connections:
// which are open, and which of them are serving a request right now.
//
// The registry never performs I/O on a connection. It stores the host handle
// so that the shutdown orchestrator can hand it back to the host for closing.
//
// Every method is safe for concurrent use. Operations on an id that is no
// longer registered are silent no-ops: a close observed by the host and a
// destroy issued by the orchestrator race by nature, and whichever arrives
// second finds nothing to do.
package conntrack

// Package fiber binds a Fiber application to a shutdown orchestrator through
// the ConnState hook of its underlying fasthttp server.
package fiber

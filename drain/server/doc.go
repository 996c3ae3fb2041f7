// Package server runs HTTP, Fiber and gRPC servers and shuts them down on
// SIGINT/SIGTERM by draining their connections.
//
// Every HTTP server is bound to a shutdown orchestrator. On shutdown the
// manager drains them gracefully and escalates to a forced drain once the
// shutdown timeout is exceeded.
package server

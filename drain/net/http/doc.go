// Package http binds a net/http server to a shutdown orchestrator.
//
// Bind hooks the server's ConnState callback so every accepted connection,
// TLS ones included, is reported to the orchestrator's tracker. The returned
// Binding is the shutdown.Host for that server.
package http

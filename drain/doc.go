// Package drain holds process-level helpers shared by the drain packages:
// environment-driven configuration and local .env loading.
//
// The connection registry lives in drain/conntrack, the shutdown orchestrator
// in drain/shutdown and the host bindings in drain/net/http and
// drain/net/fiber.
package drain

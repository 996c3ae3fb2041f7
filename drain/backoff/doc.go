// Package backoff provides the wait primitives used between drain-loop
// passes: a context-aware sleep, an injectable Sleeper and delay policies.
package backoff

// Package errgroup runs a set of goroutines, recovers their panics and
// reports the first error once every goroutine has returned.
package errgroup

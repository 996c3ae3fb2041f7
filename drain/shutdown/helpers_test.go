//go:build unit

package shutdown_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-drain/drain/conntrack"
	"github.com/LerianStudio/lib-drain/drain/shutdown"
	drainzap "github.com/LerianStudio/lib-drain/drain/zap"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeConn is the handle the fake host hands to the tracker.
type fakeConn struct {
	name string
	id   conntrack.ID
}

// fakeHost records every call and, like a real server, reports a close event
// for each connection it destroys.
type fakeHost struct {
	mu         sync.Mutex
	tracker    *shutdown.Tracker
	destroyed  []string
	stopCalls  int
	stopErr    error
	destroyErr error
	// stopHook runs inside StopAccepting before it returns.
	stopHook func(ctx context.Context) error
	// onDestroy runs after a connection is recorded as destroyed.
	onDestroy func(name string)
}

func (h *fakeHost) StopAccepting(ctx context.Context) error {
	h.mu.Lock()
	h.stopCalls++
	hook := h.stopHook
	h.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	return h.stopErr
}

func (h *fakeHost) Destroy(handle any) error {
	conn := handle.(*fakeConn)

	h.mu.Lock()
	h.destroyed = append(h.destroyed, conn.name)
	onDestroy := h.onDestroy
	h.mu.Unlock()

	// The host observes the socket close and reports it.
	h.tracker.OnClose(conn.id)

	if onDestroy != nil {
		onDestroy(conn.name)
	}

	return h.destroyErr
}

func (h *fakeHost) destroyedNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.destroyed...)
}

func (h *fakeHost) stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stopCalls
}

// fakeSleeper returns immediately and runs hook with the 1-based retry number.
type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	hook   func(retry int)
	err    error
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	retry := len(s.sleeps)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(retry)
	}

	return s.err
}

func (s *fakeSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sleeps)
}

func newObserved() (*drainzap.Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.DebugLevel)

	return drainzap.NewFromZap(zap.New(core)), observed
}

// newTestOrchestrator wires a fake host and sleeper into an orchestrator.
func newTestOrchestrator(t *testing.T, opts ...shutdown.Option) (*shutdown.Orchestrator, *fakeHost, *fakeSleeper) {
	t.Helper()

	host := &fakeHost{}
	sleeper := &fakeSleeper{}

	orch, err := shutdown.NewOrchestrator(host, append([]shutdown.Option{shutdown.WithSleeper(sleeper)}, opts...)...)
	require.NoError(t, err)

	host.tracker = orch.Tracker()

	return orch, host, sleeper
}

// open registers a connection named name, optionally with a request in flight.
func open(orch *shutdown.Orchestrator, name string, busy bool) *fakeConn {
	conn := &fakeConn{name: name}
	conn.id = orch.Tracker().OnOpen(conn)

	if busy {
		orch.Tracker().OnRequestStart(conn.id)
	}

	return conn
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown to finish")

		return nil
	}
}

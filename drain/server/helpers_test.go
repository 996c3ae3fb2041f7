//go:build unit

package server_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-drain/drain/log"
	"github.com/LerianStudio/lib-drain/drain/server"
)

// recordingLogger is a Logger that records messages and can return a Sync error.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
	syncErr  error
}

func (l *recordingLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
}

func (l *recordingLogger) With(_ ...log.Field) log.Logger { return l }
func (l *recordingLogger) WithGroup(_ string) log.Logger  { return l }
func (l *recordingLogger) Enabled(_ log.Level) bool       { return true }
func (l *recordingLogger) Sync(_ context.Context) error   { return l.syncErr }
func (l *recordingLogger) getMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := make([]string, len(l.messages))
	copy(cp, l.messages)

	return cp
}

// runManager starts sm in the background and waits for its goroutines.
func runManager(t *testing.T, sm *server.ServerManager) <-chan error {
	t.Helper()

	done := make(chan error, 1)

	go func() {
		done <- sm.StartWithGracefulShutdownWithError()
	}()

	select {
	case <-sm.ServersStarted():
	case err := <-done:
		t.Fatalf("manager returned before starting servers: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out waiting for servers to start")
	}

	return done
}

func waitDone(t *testing.T, done <-chan error, timeout time.Duration) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("Test timed out waiting for StartWithGracefulShutdownWithError to complete")

		return nil
	}
}

//go:build unit

package runtime

import (
	"context"
	"sync"

	"github.com/LerianStudio/lib-drain/drain/log"
)

// testLogger captures log calls and signals when one arrives.
type testLogger struct {
	mu       sync.Mutex
	messages []string
	fields   [][]log.Field
	logged   chan struct{}
}

func newTestLogger() *testLogger {
	return &testLogger{logged: make(chan struct{}, 1)}
}

func (l *testLogger) Log(_ context.Context, _ log.Level, msg string, fields ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	l.fields = append(l.fields, fields)

	select {
	case l.logged <- struct{}{}:
	default:
	}
}

func (l *testLogger) With(_ ...log.Field) log.Logger { return l }
func (l *testLogger) WithGroup(_ string) log.Logger  { return l }
func (l *testLogger) Enabled(_ log.Level) bool       { return true }
func (l *testLogger) Sync(_ context.Context) error   { return nil }

func (l *testLogger) snapshot() ([]string, [][]log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.messages...), append([][]log.Field(nil), l.fields...)
}

func fieldValue(fields []log.Field, key string) any {
	for _, f := range fields {
		if f.Key == key {
			return f.Value
		}
	}

	return nil
}

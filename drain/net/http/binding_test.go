//go:build unit

package http_test

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	nethttp "net/http"
	"sync"
	"testing"

	drainhttp "github.com/LerianStudio/lib-drain/drain/net/http"
	"github.com/LerianStudio/lib-drain/drain/shutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (server, client net.Conn) {
	t.Helper()

	server, client = net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	return server, client
}

func closed(t *testing.T, client net.Conn) bool {
	t.Helper()

	_, err := client.Read(make([]byte, 1))

	return err == io.EOF
}

func TestBind_NilServer(t *testing.T) {
	b, err := drainhttp.Bind(nil)

	assert.Nil(t, b)
	assert.ErrorIs(t, err, drainhttp.ErrNilServer)
}

func TestBind_InvalidOptions(t *testing.T) {
	srv := &nethttp.Server{}

	_, err := drainhttp.Bind(srv, shutdown.WithConfig(shutdown.Config{}))
	assert.ErrorIs(t, err, shutdown.ErrInvalidConfig)
	assert.Nil(t, srv.ConnState, "a failed bind leaves the server untouched")
}

func TestBind_TracksConnState(t *testing.T) {
	srv := &nethttp.Server{}

	b, err := drainhttp.Bind(srv)
	require.NoError(t, err)

	orch := b.Orchestrator()
	conn, _ := pipe(t)

	srv.ConnState(conn, nethttp.StateNew)
	assert.Equal(t, 1, orch.Count())
	assert.Equal(t, 0, orch.BusyCount())

	srv.ConnState(conn, nethttp.StateActive)
	assert.Equal(t, 1, orch.BusyCount())

	srv.ConnState(conn, nethttp.StateIdle)
	assert.Equal(t, 0, orch.BusyCount())

	srv.ConnState(conn, nethttp.StateClosed)
	assert.Equal(t, 0, orch.Count())

	// Late states for a forgotten conn are ignored.
	srv.ConnState(conn, nethttp.StateActive)
	assert.Equal(t, 0, orch.Count())
}

func TestBind_HijackedConnectionIsForgotten(t *testing.T) {
	srv := &nethttp.Server{}

	b, err := drainhttp.Bind(srv)
	require.NoError(t, err)

	conn, _ := pipe(t)

	srv.ConnState(conn, nethttp.StateNew)
	srv.ConnState(conn, nethttp.StateActive)
	srv.ConnState(conn, nethttp.StateHijacked)

	assert.Zero(t, b.Orchestrator().Count())
}

func TestBind_ChainsExistingConnState(t *testing.T) {
	var (
		mu     sync.Mutex
		states []nethttp.ConnState
	)

	srv := &nethttp.Server{
		ConnState: func(_ net.Conn, state nethttp.ConnState) {
			mu.Lock()
			defer mu.Unlock()

			states = append(states, state)
		},
	}

	_, err := drainhttp.Bind(srv)
	require.NoError(t, err)

	conn, _ := pipe(t)

	srv.ConnState(conn, nethttp.StateNew)
	srv.ConnState(conn, nethttp.StateClosed)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []nethttp.ConnState{nethttp.StateNew, nethttp.StateClosed}, states)
}

func TestBinding_ShutdownClosesIdleConnections(t *testing.T) {
	srv := &nethttp.Server{}

	b, err := drainhttp.Bind(srv)
	require.NoError(t, err)

	conn, client := pipe(t)

	srv.ConnState(conn, nethttp.StateNew)

	require.NoError(t, b.Shutdown(context.Background()))
	assert.True(t, closed(t, client))
	assert.Zero(t, b.Orchestrator().Count())
	assert.Equal(t, shutdown.StateDraining, b.Orchestrator().State())
}

func TestBinding_ForceShutdownClosesBusyConnections(t *testing.T) {
	srv := &nethttp.Server{}

	b, err := drainhttp.Bind(srv)
	require.NoError(t, err)

	conn, client := pipe(t)

	srv.ConnState(conn, nethttp.StateNew)
	srv.ConnState(conn, nethttp.StateActive)

	require.NoError(t, b.ForceShutdown(context.Background()))
	assert.True(t, closed(t, client))
	assert.Zero(t, b.Orchestrator().Count())
}

func TestBinding_DestroyRejectsForeignHandles(t *testing.T) {
	b, err := drainhttp.Bind(&nethttp.Server{})
	require.NoError(t, err)

	assert.ErrorIs(t, b.Destroy("not a conn"), drainhttp.ErrNotConn)
}

func TestAbort_UnwrapsTLS(t *testing.T) {
	raw, client := pipe(t)

	require.NoError(t, drainhttp.Abort(tls.Server(raw, &tls.Config{})))
	assert.True(t, closed(t, client), "the transport conn is closed without a handshake")
}

package http

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	nethttp "net/http"
	"sync"

	"github.com/LerianStudio/lib-drain/drain/conntrack"
	"github.com/LerianStudio/lib-drain/drain/shutdown"
)

// ErrNilServer is returned by Bind when srv is nil.
var ErrNilServer = errors.New("http server cannot be nil")

// ErrNotConn is returned by Destroy for handles that are not a net.Conn.
var ErrNotConn = errors.New("connection handle is not a net.Conn")

// Binding tracks the connections of one *http.Server.
type Binding struct {
	server       *nethttp.Server
	orchestrator *shutdown.Orchestrator
	next         func(net.Conn, nethttp.ConnState)
	ids          sync.Map // net.Conn -> conntrack.ID
}

// Bind chains srv.ConnState and returns a binding whose orchestrator drains
// srv. It must be called before srv starts serving. A ConnState callback
// already set on srv keeps being called after the binding's own.
func Bind(srv *nethttp.Server, opts ...shutdown.Option) (*Binding, error) {
	if srv == nil {
		return nil, ErrNilServer
	}

	b := &Binding{server: srv, next: srv.ConnState}

	orch, err := shutdown.NewOrchestrator(b, opts...)
	if err != nil {
		return nil, err
	}

	b.orchestrator = orch
	srv.ConnState = b.connState

	return b, nil
}

// Orchestrator returns the orchestrator draining the bound server.
func (b *Binding) Orchestrator() *shutdown.Orchestrator {
	return b.orchestrator
}

// Shutdown gracefully drains the bound server.
func (b *Binding) Shutdown(ctx context.Context) error {
	return b.orchestrator.Shutdown(ctx)
}

// ForceShutdown closes the listener and every connection of the bound server.
func (b *Binding) ForceShutdown(ctx context.Context) error {
	return b.orchestrator.ForceShutdown(ctx)
}

// StopAccepting closes the server's listeners through srv.Shutdown. It
// returns once net/http considers every connection gone or ctx is done.
func (b *Binding) StopAccepting(ctx context.Context) error {
	return b.server.Shutdown(ctx)
}

// Destroy closes the connection behind handle.
func (b *Binding) Destroy(handle any) error {
	conn, ok := handle.(net.Conn)
	if !ok {
		return ErrNotConn
	}

	return Abort(conn)
}

func (b *Binding) connState(conn net.Conn, state nethttp.ConnState) {
	tracker := b.orchestrator.Tracker()

	switch state {
	case nethttp.StateNew:
		b.ids.Store(conn, tracker.OnOpen(conn))
	case nethttp.StateActive:
		if id, ok := b.lookup(conn); ok {
			tracker.OnRequestStart(id)
		}
	case nethttp.StateIdle:
		if id, ok := b.lookup(conn); ok {
			tracker.OnResponseFinish(id)
		}
	case nethttp.StateHijacked, nethttp.StateClosed:
		if v, ok := b.ids.LoadAndDelete(conn); ok {
			tracker.OnClose(v.(conntrack.ID))
		}
	}

	if b.next != nil {
		b.next(conn, state)
	}
}

func (b *Binding) lookup(conn net.Conn) (conntrack.ID, bool) {
	v, ok := b.ids.Load(conn)
	if !ok {
		return 0, false
	}

	return v.(conntrack.ID), true
}

// Abort closes conn without waiting on the request it may be serving. TLS
// connections are closed at the transport level, skipping the close_notify
// alert, which could block behind a pending write.
func Abort(conn net.Conn) error {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}

	return conn.Close()
}

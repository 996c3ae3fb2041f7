package fiber

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/LerianStudio/lib-drain/drain/conntrack"
	drainhttp "github.com/LerianStudio/lib-drain/drain/net/http"
	"github.com/LerianStudio/lib-drain/drain/shutdown"
	gofiber "github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// ErrNilApp is returned by Bind when app is nil.
var ErrNilApp = errors.New("fiber app cannot be nil")

// Binding tracks the connections of one Fiber application.
type Binding struct {
	app          *gofiber.App
	orchestrator *shutdown.Orchestrator
	next         func(net.Conn, fasthttp.ConnState)
	ids          sync.Map // net.Conn -> conntrack.ID
}

// Bind chains the ConnState hook of app's fasthttp server. It must be called
// before the app starts listening.
func Bind(app *gofiber.App, opts ...shutdown.Option) (*Binding, error) {
	if app == nil || app.Server() == nil {
		return nil, ErrNilApp
	}

	server := app.Server()
	b := &Binding{app: app, next: server.ConnState}

	orch, err := shutdown.NewOrchestrator(b, opts...)
	if err != nil {
		return nil, err
	}

	b.orchestrator = orch
	server.ConnState = b.connState

	return b, nil
}

// App returns the bound application.
func (b *Binding) App() *gofiber.App {
	return b.app
}

// Orchestrator returns the orchestrator draining the bound application.
func (b *Binding) Orchestrator() *shutdown.Orchestrator {
	return b.orchestrator
}

// Shutdown gracefully drains the bound application.
func (b *Binding) Shutdown(ctx context.Context) error {
	return b.orchestrator.Shutdown(ctx)
}

// ForceShutdown closes the listener and every connection of the application.
func (b *Binding) ForceShutdown(ctx context.Context) error {
	return b.orchestrator.ForceShutdown(ctx)
}

// StopAccepting closes the app's listeners with app.ShutdownWithContext.
func (b *Binding) StopAccepting(ctx context.Context) error {
	return b.app.ShutdownWithContext(ctx)
}

// Destroy closes the connection behind handle.
func (b *Binding) Destroy(handle any) error {
	conn, ok := handle.(net.Conn)
	if !ok {
		return drainhttp.ErrNotConn
	}

	return drainhttp.Abort(conn)
}

func (b *Binding) connState(conn net.Conn, state fasthttp.ConnState) {
	tracker := b.orchestrator.Tracker()

	switch state {
	case fasthttp.StateNew:
		b.ids.Store(conn, tracker.OnOpen(conn))
	case fasthttp.StateActive:
		if v, ok := b.ids.Load(conn); ok {
			tracker.OnRequestStart(v.(conntrack.ID))
		}
	case fasthttp.StateIdle:
		if v, ok := b.ids.Load(conn); ok {
			tracker.OnResponseFinish(v.(conntrack.ID))
		}
	case fasthttp.StateHijacked, fasthttp.StateClosed:
		if v, ok := b.ids.LoadAndDelete(conn); ok {
			tracker.OnClose(v.(conntrack.ID))
		}
	}

	if b.next != nil {
		b.next(conn, state)
	}
}

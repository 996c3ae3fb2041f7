package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LerianStudio/lib-drain/drain/errgroup"
	"github.com/LerianStudio/lib-drain/drain/log"
	drainfiber "github.com/LerianStudio/lib-drain/drain/net/fiber"
	drainhttp "github.com/LerianStudio/lib-drain/drain/net/http"
	"github.com/LerianStudio/lib-drain/drain/runtime"
	"github.com/LerianStudio/lib-drain/drain/shutdown"
	"github.com/gofiber/fiber/v2"
	"google.golang.org/grpc"
)

// ErrNoServersConfigured indicates no servers were configured for the manager
var ErrNoServersConfigured = errors.New("no servers configured: use WithHTTPServer(), WithFiberServer() or WithGRPCServer()")

// binding is what the manager needs from a host binding.
type binding interface {
	Shutdown(ctx context.Context) error
	ForceShutdown(ctx context.Context) error
	Orchestrator() *shutdown.Orchestrator
}

type drainedServer struct {
	kind    string
	address string
	binding binding
	serve   func() error
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// ServerManager starts servers and drains them on shutdown.
type ServerManager struct {
	servers            []drainedServer
	grpcServer         *grpc.Server
	grpcAddress        string
	hooks              []shutdownHook
	logger             log.Logger
	drainOptions       []shutdown.Option
	config             Config
	configErr          error
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	startupErrors      chan error
}

// NewServerManager creates a ServerManager. opts are applied to the
// orchestrator of every HTTP server it binds, after a WithLogger(logger).
// A nil logger is replaced by a no-op one.
func NewServerManager(logger log.Logger, opts ...shutdown.Option) *ServerManager {
	logger = log.OrNop(logger)

	return &ServerManager{
		logger:         logger,
		drainOptions:   append([]shutdown.Option{shutdown.WithLogger(logger)}, opts...),
		config:         DefaultConfig(),
		serversStarted: make(chan struct{}),
	}
}

// WithHTTPServer binds srv and serves it on address with ListenAndServe.
func (sm *ServerManager) WithHTTPServer(srv *nethttp.Server, address string) *ServerManager {
	if srv != nil {
		srv.Addr = address
	}

	return sm.withHTTP(srv, address, func() error { return srv.ListenAndServe() })
}

// WithHTTPListener binds srv and serves it on an already open listener.
func (sm *ServerManager) WithHTTPListener(srv *nethttp.Server, ln net.Listener) *ServerManager {
	address := ""
	if ln != nil {
		address = ln.Addr().String()
	}

	return sm.withHTTP(srv, address, func() error { return srv.Serve(ln) })
}

func (sm *ServerManager) withHTTP(srv *nethttp.Server, address string, serve func() error) *ServerManager {
	b, err := drainhttp.Bind(srv, sm.drainOptions...)
	if err != nil {
		sm.configErr = errors.Join(sm.configErr, fmt.Errorf("HTTP server %s: %w", address, err))

		return sm
	}

	sm.servers = append(sm.servers, drainedServer{kind: "HTTP", address: address, binding: b, serve: serve})

	return sm
}

// WithFiberServer binds app and serves it on address.
func (sm *ServerManager) WithFiberServer(app *fiber.App, address string) *ServerManager {
	b, err := drainfiber.Bind(app, sm.drainOptions...)
	if err != nil {
		sm.configErr = errors.Join(sm.configErr, fmt.Errorf("Fiber server %s: %w", address, err))

		return sm
	}

	sm.servers = append(sm.servers, drainedServer{
		kind:    "Fiber",
		address: address,
		binding: b,
		serve:   func() error { return app.Listen(address) },
	})

	return sm
}

// WithGRPCServer configures the gRPC server for the ServerManager.
func (sm *ServerManager) WithGRPCServer(server *grpc.Server, address string) *ServerManager {
	sm.grpcServer = server
	sm.grpcAddress = address

	return sm
}

// WithShutdownChannel configures a custom shutdown channel for the ServerManager.
// This allows tests to trigger shutdown deterministically instead of relying on OS signals.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout sets how long each server may drain gracefully before
// its remaining connections are forced closed. gRPC GracefulStop gets the
// same deadline before Stop.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	sm.config.ShutdownTimeout = d

	return sm
}

// WithConfig replaces the shutdown deadlines.
func (sm *ServerManager) WithConfig(cfg Config) *ServerManager {
	sm.config = cfg

	return sm
}

// WithShutdownHook registers fn to run once every HTTP server is drained and
// before gRPC stops, e.g. to flush telemetry providers.
func (sm *ServerManager) WithShutdownHook(name string, fn func(context.Context) error) *ServerManager {
	if fn != nil {
		sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
	}

	return sm
}

// ServersStarted returns a channel that is closed when server goroutines have been launched.
// Note: This signals that goroutines were spawned, not that sockets are bound and ready to accept connections.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

func (sm *ServerManager) validateConfiguration() error {
	if sm.configErr != nil {
		return sm.configErr
	}

	if err := sm.config.Validate(); err != nil {
		return err
	}

	if len(sm.servers) == 0 && sm.grpcServer == nil {
		return ErrNoServersConfigured
	}

	return nil
}

func (sm *ServerManager) initServers() error {
	if sm.serversStarted == nil {
		sm.serversStarted = make(chan struct{})
	}

	if err := sm.validateConfiguration(); err != nil {
		return err
	}

	sm.startServers()

	return nil
}

// StartWithGracefulShutdownWithError validates configuration, starts servers
// and blocks until a signal, the shutdown channel or a server startup error
// triggers the shutdown. The startup error, if any, is returned once every
// server is drained.
func (sm *ServerManager) StartWithGracefulShutdownWithError() error {
	if err := sm.initServers(); err != nil {
		return err
	}

	return sm.handleShutdown()
}

// StartWithGracefulShutdown is StartWithGracefulShutdownWithError for a
// process entry point: it exits with status 1 on configuration errors and on
// panics raised while waiting.
func (sm *ServerManager) StartWithGracefulShutdown() {
	if err := sm.initServers(); err != nil {
		sm.logFatal(err.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			runtime.HandlePanicValue(context.Background(), sm.logger, r, "server", "StartWithGracefulShutdown")

			sm.executeShutdown()

			os.Exit(1)
		}
	}()

	if err := sm.handleShutdown(); err != nil {
		os.Exit(1)
	}
}

func (sm *ServerManager) startServers() {
	sm.startupErrors = make(chan error, len(sm.servers)+1)

	for _, s := range sm.servers {
		runtime.SafeGo(context.Background(), sm.logger, "server", "start_"+s.kind+"_server", runtime.KeepRunning,
			func(_ context.Context) {
				sm.logInfof("Starting %s server on %s", s.kind, s.address)

				if err := s.serve(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					sm.logErrorf("%s server error: %v", s.kind, err)
					sm.reportStartupError(fmt.Errorf("%s server: %w", s.kind, err))
				}
			},
		)
	}

	if sm.grpcServer != nil {
		runtime.SafeGo(context.Background(), sm.logger, "server", "start_grpc_server", runtime.KeepRunning,
			func(_ context.Context) {
				sm.logInfof("Starting gRPC server on %s", sm.grpcAddress)

				listener, err := net.Listen("tcp", sm.grpcAddress)
				if err != nil {
					sm.logErrorf("Failed to listen on gRPC address: %v", err)
					sm.reportStartupError(fmt.Errorf("gRPC listen: %w", err))

					return
				}

				if err := sm.grpcServer.Serve(listener); err != nil {
					sm.logErrorf("gRPC server error: %v", err)
					sm.reportStartupError(fmt.Errorf("gRPC serve: %w", err))
				}
			},
		)
	}

	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

func (sm *ServerManager) reportStartupError(err error) {
	select {
	case sm.startupErrors <- err:
	default:
	}
}

// handleShutdown waits for a termination signal, the shutdown channel or a
// startup error, then runs the shutdown sequence.
func (sm *ServerManager) handleShutdown() error {
	var startupErr error

	signals := make(chan os.Signal, 1)

	if sm.shutdownChan == nil {
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
	}

	select {
	case <-sm.shutdownChan:
	case sig := <-signals:
		sm.logInfof("Received signal %s", sig)
	case startupErr = <-sm.startupErrors:
		sm.logErrorf("Server startup failed: %v", startupErr)
	}

	sm.logInfo("Gracefully shutting down all servers...")

	sm.executeShutdown()

	return startupErr
}

// executeShutdown drains every server once, whatever the number of callers.
func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		select {
		case <-sm.serversStarted:
		default:
			sm.logInfo("Shutdown initiated before servers were fully started.")
		}

		var group errgroup.Group
		group.SetLogger(sm.logger)
		group.SetName("server_shutdown")

		for _, s := range sm.servers {
			group.Go(func() error {
				return sm.drainServer(s)
			})
		}

		if err := group.Wait(); err != nil {
			sm.logErrorf("Error during server shutdown: %v", err)
		}

		sm.runHooks()
		sm.stopGRPC()

		sm.logInfo("Syncing logger...")

		if err := sm.logger.Sync(context.Background()); err != nil {
			sm.logErrorf("Failed to sync logger: %v", err)
		}

		sm.logInfo("Graceful shutdown completed")
	})
}

// drainServer runs the graceful drain of s and, when connections survive the
// shutdown timeout, a forced one.
func (sm *ServerManager) drainServer(s drainedServer) error {
	sm.logInfof("Shutting down %s server...", s.kind)

	ctx, cancel := context.WithTimeout(context.Background(), sm.config.ShutdownTimeout)
	defer cancel()

	err := s.binding.Shutdown(ctx)

	if remaining := s.binding.Orchestrator().Count(); remaining > 0 {
		sm.logger.Log(ctx, log.LevelWarn, "graceful drain timed out, forcing remaining connections closed",
			log.String("server", s.kind),
			log.String("address", s.address),
			log.Int("remaining", remaining),
			log.Duration("timeout", sm.config.ShutdownTimeout),
		)

		forceCtx, forceCancel := context.WithTimeout(context.Background(), sm.config.ForceTimeout)
		defer forceCancel()

		err = s.binding.ForceShutdown(forceCtx)
	}

	// net/http keeps waiting on handlers that ignore the closed connection;
	// that wait running out is expected after a forced drain.
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s server %s: %w", s.kind, s.address, err)
	}

	sm.logInfof("%s server stopped", s.kind)

	return nil
}

func (sm *ServerManager) runHooks() {
	for _, h := range sm.hooks {
		sm.logInfof("Running shutdown hook %s...", h.name)

		ctx, cancel := context.WithTimeout(context.Background(), sm.config.ShutdownTimeout)

		func() {
			defer runtime.RecoverAndLog(ctx, sm.logger, "server", "shutdown_hook_"+h.name)

			if err := h.fn(ctx); err != nil {
				sm.logErrorf("Shutdown hook %s failed: %v", h.name, err)
			}
		}()

		cancel()
	}
}

func (sm *ServerManager) stopGRPC() {
	if sm.grpcServer == nil {
		return
	}

	sm.logInfo("Shutting down gRPC server...")

	done := make(chan struct{})

	go func() {
		sm.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		sm.logInfo("gRPC server stopped gracefully")
	case <-time.After(sm.config.ShutdownTimeout):
		sm.logInfo("gRPC graceful stop timed out, forcing stop...")
		sm.grpcServer.Stop()
	}
}

func (sm *ServerManager) logInfo(msg string) {
	sm.logger.Log(context.Background(), log.LevelInfo, msg)
}

func (sm *ServerManager) logInfof(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelInfo, fmt.Sprintf(format, args...))
}

func (sm *ServerManager) logErrorf(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelError, fmt.Sprintf(format, args...))
}

// logFatal logs msg at error level and exits with status 1.
func (sm *ServerManager) logFatal(msg string) {
	sm.logger.Log(context.Background(), log.LevelError, msg)

	os.Exit(1)
}

// Command drain-example serves a gin router and drains its connections on
// SIGINT/SIGTERM.
//
//	DRAIN_ADDR=:8080 DRAIN_RETRY_INTERVAL=200ms SERVER_SHUTDOWN_TIMEOUT=30s drain-example
//
// GET /slow?d=5s holds a request open so the drain can be observed.
package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"time"

	"github.com/LerianStudio/lib-drain/drain"
	"github.com/LerianStudio/lib-drain/drain/log"
	"github.com/LerianStudio/lib-drain/drain/opentelemetry/metrics"
	"github.com/LerianStudio/lib-drain/drain/runtime"
	"github.com/LerianStudio/lib-drain/drain/server"
	"github.com/LerianStudio/lib-drain/drain/shutdown"
	drainzap "github.com/LerianStudio/lib-drain/drain/zap"
	"github.com/gin-gonic/gin"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const serviceName = "drain-example"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	drain.InitLocalEnvConfig()

	logger, err := drainzap.New(drainzap.Config{
		Environment:     drainzap.Environment(drain.GetenvOrDefault("ENV_NAME", string(drainzap.EnvironmentDevelopment))),
		Level:           drain.GetenvOrDefault("LOG_LEVEL", "info"),
		OTelLibraryName: serviceName,
	})
	if err != nil {
		return err
	}

	drainCfg, err := shutdown.ConfigFromEnv()
	if err != nil {
		return err
	}

	serverCfg, err := server.ConfigFromEnv()
	if err != nil {
		return err
	}

	meterProvider := sdkmetric.NewMeterProvider()

	factory, err := metrics.NewMetricsFactory(meterProvider.Meter(serviceName), logger)
	if err != nil {
		return err
	}

	runtime.InitPanicMetrics(factory, logger)

	srv := &nethttp.Server{
		Handler:           newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server.NewServerManager(logger,
		shutdown.WithConfig(drainCfg),
		shutdown.WithMetricsFactory(factory),
	).
		WithHTTPServer(srv, drain.GetenvOrDefault("DRAIN_ADDR", ":8080")).
		WithConfig(serverCfg).
		WithShutdownHook("meter_provider", func(ctx context.Context) error {
			logger.Log(ctx, log.LevelInfo, "flushing metrics")

			return meterProvider.Shutdown(ctx)
		}).
		StartWithGracefulShutdownWithError()
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(nethttp.StatusOK, "ok")
	})

	router.GET("/slow", func(c *gin.Context) {
		d, err := time.ParseDuration(c.DefaultQuery("d", "5s"))
		if err != nil {
			c.String(nethttp.StatusBadRequest, err.Error())

			return
		}

		select {
		case <-time.After(d):
			c.String(nethttp.StatusOK, "done after %s", d)
		case <-c.Request.Context().Done():
		}
	})

	return router
}

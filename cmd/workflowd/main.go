// Command workflowd serves the workflow engine over HTTP, fires cron
// schedules and exposes a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Ingenimax/workflow-engine/pkg/catalog"
	"github.com/Ingenimax/workflow-engine/pkg/config"
	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/engine"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/microservice"
	"github.com/Ingenimax/workflow-engine/pkg/schedule"
	"github.com/Ingenimax/workflow-engine/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("WORKFLOW_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "workflowd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(
		logging.WithLevel(cfg.Log.Level),
		logging.WithConsole(cfg.Log.Console),
		logging.WithService("workflowd"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		ServiceName: cfg.Tracing.ServiceName,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}

	svc, err := openServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn(context.Background(), "Failed to close services", map[string]interface{}{"error": err.Error()})
		}
	}()

	registry, err := connector.NewBuiltinRegistry(svc.host)
	if err != nil {
		return err
	}

	eng := engine.New(registry, svc.source,
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithRetryPolicy(retryPolicy(cfg.Engine.Retry)),
		engine.WithStrictBranches(cfg.Engine.StrictBranches),
		engine.WithRunStore(svc.runs),
	)

	scheduler := schedule.New(svc.source, eng, schedule.WithLogger(logger))
	if err := scheduler.Sync(ctx); err != nil {
		// invalid schedules are skipped; the rest still run
		logger.Warn(ctx, "Some schedules could not be registered", map[string]interface{}{"error": err.Error()})
	}
	scheduler.Start()

	httpServer := microservice.NewHTTPServer(eng, cfg.Server.HTTPPort,
		microservice.WithLogger(logger),
		microservice.WithRunLister(svc.lister),
	)
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	grpcServer, healthServer, err := startHealthServer(cfg.Server.GRPCPort, logger)
	if err != nil {
		return err
	}

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	logger.Info(ctx, "workflowd started", map[string]interface{}{
		"http_port": cfg.Server.HTTPPort,
		"grpc_port": cfg.Server.GRPCPort,
		"workers":   cfg.Engine.Workers,
		"schedules": len(scheduler.Entries()),
	})

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-httpErr:
			runErr = fmt.Errorf("http server failed: %w", err)
			break loop
		case <-reload:
			reloadCatalog(ctx, svc.source, scheduler, logger)
		}
	}

	logger.Info(context.Background(), "Shutting down", nil)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Failed to stop HTTP server", map[string]interface{}{"error": err.Error()})
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Runs still active at shutdown were cancelled", map[string]interface{}{"error": err.Error()})
	}
	grpcServer.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Failed to flush traces", map[string]interface{}{"error": err.Error()})
	}
	return runErr
}

func startHealthServer(port int, logger logging.Logger) (*grpc.Server, *health.Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on gRPC port %d: %w", port, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error(context.Background(), "gRPC health server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return grpcServer, healthServer, nil
}

// reloadCatalog rereads a directory catalog and resyncs schedules
func reloadCatalog(ctx context.Context, source catalog.Source, scheduler *schedule.Scheduler, logger logging.Logger) {
	if dir, ok := source.(*catalog.Dir); ok {
		if err := dir.Reload(); err != nil {
			logger.Error(ctx, "Failed to reload workflows", map[string]interface{}{"error": err.Error()})
			return
		}
	}
	if err := scheduler.Sync(ctx); err != nil {
		logger.Warn(ctx, "Some schedules could not be registered", map[string]interface{}{"error": err.Error()})
	}
}

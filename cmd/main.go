package main

import (
	"chat-broadcast/infrastructure/grpc/server"
	"chat-broadcast/infrastructure/storage"
	"chat-broadcast/infrastructure/ws"
	"chat-broadcast/internal"
	"chat-broadcast/observability"
	"chat-broadcast/runtime"
	"chat-broadcast/runtime/workers"
	"chat-broadcast/services"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns their lifecycle, so that all defers
// run before the process exits.
func run() error {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Message log and its backing store
	store, err := storage.OpenStore(config.StorageBackend, config.StoragePath(), log)
	if err != nil {
		return fmt.Errorf("message store opening failed: %w", err)
	}
	messageLog, err := storage.NewMessageLog(log, store, storage.Limits{
		Capacity:       config.LogCapacity,
		MaxBodyBytes:   config.MaxMessageBytes,
		MaxAuthorBytes: config.MaxAuthorBytes,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("message log: %w", err)
	}
	// Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing message store...", "backend", config.StorageBackend)
		_ = messageLog.Close()
	}()
	if err := messageLog.Restore(ctx); err != nil {
		return fmt.Errorf("message log restore failed: %w", err)
	}

	// 4. Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	// 5. Registry, dispatcher and supervision
	registry := runtime.NewRegistry(config.SubscriberQueueCapacity)
	dispatcher := workers.NewDispatcher(log, messageLog, registry, metrics, config.DispatchInterval)
	queueDepth := workers.NewQueueDepthWorker(log, registry, metrics, config.MetricInterval)
	reporter := workers.NewReporterWorker(log, messageLog, registry, config.ReportInterval)
	// gRPC health follows the dispatcher, across supervisor restarts.
	health := server.NewHealthServer(log)
	dispatcher.OnStatusChange(health.SetServing)
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(dispatcher, queueDepth, reporter)
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	gateway := services.NewGateway(log, messageLog, registry, dispatcher, metrics, services.GatewayConfig{
		SendRate:     config.SendRate,
		SendBurst:    config.SendBurst,
		MaxNameBytes: config.MaxAuthorBytes,
	})

	errChan := make(chan error, 2)

	// 6. gRPC health
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	go func() {
		if err := health.Serve(listener); err != nil {
			errChan <- err
		}
	}()

	// 7. WebSocket, health and metrics over HTTP
	wsServer := ws.NewServer(log, gateway, messageLog, promRegistry, ws.Config{
		AllowedOrigins: config.Origins(),
		WriteTimeout:   config.WriteTimeout,
		PingInterval:   config.PingInterval,
	})
	httpAddress := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              httpAddress,
		Handler:           wsServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Open connections end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Info("Starting HTTP server", "address", httpAddress, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case runErr = <-errChan:
		log.Error("Server failed, shutting down", "error", runErr)
	}

	// 9. Final Cleanup
	stop()
	health.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	health.Stop()
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly", "last_seq", messageLog.LastSeq())

	return runErr
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/ordertrack/internal/auditor"
	"github.com/joao-fontenele/ordertrack/internal/breaker"
	"github.com/joao-fontenele/ordertrack/internal/config"
	"github.com/joao-fontenele/ordertrack/internal/domain"
	"github.com/joao-fontenele/ordertrack/internal/logging"
	"github.com/joao-fontenele/ordertrack/internal/messaging"
	"github.com/joao-fontenele/ordertrack/internal/telemetry"
)

const serviceName = "order-auditor"

func main() {
	if err := run(); err != nil {
		slog.Error("auditor failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load[config.Auditor]()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry, serviceName)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	httpClient := &http.Client{
		Timeout:   cfg.FetchTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	client := auditor.NewOrdersClient(cfg.OrdersServiceURL, httpClient, breaker.New("orders", cfg.Breaker, logger))

	checker, err := auditor.New(client, cfg.TransitionPolicy, cfg.FetchTimeout, logger)
	if err != nil {
		return err
	}

	consumer := messaging.NewConsumer(cfg.Kafka.Brokers, domain.TopicOrderStatusChanged, cfg.GroupID)
	defer func() { _ = consumer.Close() }()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting order auditor",
		"brokers", cfg.Kafka.Brokers,
		"group_id", cfg.GroupID,
		"transition_policy", cfg.TransitionPolicy,
	)

	if err := consumer.Run(ctx, checker.Handle); err != nil {
		return err
	}

	logger.Info("consumer stopped")
	return nil
}

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/ordertrack/internal/config"
	"github.com/joao-fontenele/ordertrack/internal/logging"
	"github.com/joao-fontenele/ordertrack/internal/messaging"
	"github.com/joao-fontenele/ordertrack/internal/orders"
	"github.com/joao-fontenele/ordertrack/internal/storage"
	"github.com/joao-fontenele/ordertrack/internal/telemetry"
)

const serviceName = "orders"

func main() {
	if err := run(); err != nil {
		slog.Error("orders service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load[config.Orders]()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Amounts go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

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

	db, err := storage.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var publisher orders.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events are disabled")
	}

	svc, err := orders.NewService(orders.NewOrderRepository(db), publisher, cfg.TransitionPolicy, logger)
	if err != nil {
		return err
	}
	handler := orders.NewHandler(svc, db, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RouteAttribute)
	handler.Register(r)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting orders service", "port", cfg.Port, "transition_policy", cfg.TransitionPolicy)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

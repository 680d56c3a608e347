package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

type Postgres struct {
	URL             string        `env:"POSTGRES_URL" env-required:"true"`
	Schema          string        `env:"POSTGRES_SCHEMA" env-default:"orders"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" env-default:"30m"`
}

// Kafka publishing is disabled when Brokers is empty.
type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"json"`
}

func (l Log) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("LOG_FORMAT: unsupported format %q", l.Format)
	}
	return nil
}

// Telemetry exports traces only when OTLPEndpoint is set.
type Telemetry struct {
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceVersion string `env:"SERVICE_VERSION" env-default:"0.1.0"`
}

type Breaker struct {
	MaxRequests  uint32        `env:"BREAKER_MAX_REQUESTS" env-default:"3"`
	Interval     time.Duration `env:"BREAKER_INTERVAL" env-default:"5s"`
	Timeout      time.Duration `env:"BREAKER_TIMEOUT" env-default:"10s"`
	FailureRatio float64       `env:"BREAKER_FAILURE_RATIO" env-default:"0.6"`
	MinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" env-default:"5"`
}

type Orders struct {
	Port             string                  `env:"PORT" env-default:"8081"`
	TransitionPolicy domain.TransitionPolicy `env:"TRANSITION_POLICY" env-default:"permissive"`
	ShutdownTimeout  time.Duration           `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	Postgres         Postgres
	Kafka            Kafka
	Log              Log
	Telemetry        Telemetry
}

func (c *Orders) Validate() error {
	if _, err := domain.ParseTransitionPolicy(string(c.TransitionPolicy)); err != nil {
		return fmt.Errorf("TRANSITION_POLICY: %w", err)
	}
	return c.Log.Validate()
}

type Gateway struct {
	Port             string        `env:"PORT" env-default:"8080"`
	OrdersServiceURL string        `env:"ORDERS_SERVICE_URL" env-required:"true"`
	UpstreamTimeout  time.Duration `env:"UPSTREAM_TIMEOUT" env-default:"10s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	Breaker          Breaker
	Log              Log
	Telemetry        Telemetry
}

func (c *Gateway) Validate() error {
	return c.Log.Validate()
}

type Auditor struct {
	MetricsPort      string                  `env:"PORT" env-default:"9090"`
	OrdersServiceURL string                  `env:"ORDERS_SERVICE_URL" env-required:"true"`
	GroupID          string                  `env:"KAFKA_GROUP_ID" env-default:"order-auditor"`
	TransitionPolicy domain.TransitionPolicy `env:"TRANSITION_POLICY" env-default:"permissive"`
	FetchTimeout     time.Duration           `env:"FETCH_TIMEOUT" env-default:"5s"`
	Kafka            Kafka
	Breaker          Breaker
	Log              Log
	Telemetry        Telemetry
}

func (c *Auditor) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if _, err := domain.ParseTransitionPolicy(string(c.TransitionPolicy)); err != nil {
		return fmt.Errorf("TRANSITION_POLICY: %w", err)
	}
	return c.Log.Validate()
}

type Migrate struct {
	PostgresURL    string `env:"POSTGRES_URL" env-required:"true"`
	MigrationsPath string `env:"MIGRATIONS_PATH" env-default:"file://migrations"`
	Log            Log
}

func (c *Migrate) Validate() error {
	return c.Log.Validate()
}

type validatable interface {
	Validate() error
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then the
// process environment into a T. Variables already set in the environment win
// over the file.
func Load[T any]() (*T, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg T
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if v, ok := any(&cfg).(validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

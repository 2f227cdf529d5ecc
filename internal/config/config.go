package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Gateway   GatewayConfig
	Session   SessionConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Tracing   TracingConfig
	Auth      AuthConfig
	View      ViewConfig
}

type APIConfig struct {
	Addr              string        `validate:"required"`
	ReadHeaderTimeout time.Duration `validate:"gt=0"`
	ShutdownTimeout   time.Duration `validate:"gt=0"`
}

type GatewayConfig struct {
	BaseURL        string        `validate:"required,url"`
	Timeout        time.Duration `validate:"gt=0"`
	MaxAttempts    int           `validate:"gte=1,lte=10"`
	InitialBackoff time.Duration `validate:"gt=0"`
	MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`
}

type SessionConfig struct {
	IdleTimeout         time.Duration `validate:"gt=0"`
	SweepInterval       time.Duration `validate:"gt=0"`
	MaxConcurrentChecks int           `validate:"gte=1,lte=64"`
}

type QueueConfig struct {
	Enabled       bool
	RedisAddr     string `validate:"required_if=Enabled true"`
	RedisPassword string
	RedisDB       int    `validate:"gte=0"`
	Name          string `validate:"required"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int `validate:"gte=1"`
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int           `validate:"gte=1"`
	Window   time.Duration `validate:"gt=0"`
}

type StorageConfig struct {
	Enabled    bool
	Endpoint   string `validate:"required_if=Enabled true"`
	AccessKey  string
	SecretKey  string
	Bucket     string `validate:"required_if=Enabled true"`
	Region     string
	UseSSL     bool
	PresignTTL time.Duration `validate:"gt=0,lte=168h"`
}

// DatabaseConfig selects the mutation journal. An empty DSN keeps the
// journal in memory.
type DatabaseConfig struct {
	DSN string
}

type TracingConfig struct {
	ServiceName  string `validate:"required"`
	Exporter     string `validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `validate:"required_if=Exporter otlp"`
	OTLPInsecure bool
	SampleRatio  float64 `validate:"gte=0,lte=1"`
}

type AuthConfig struct {
	JWTSecret string `validate:"required,min=16"`
	Issuer    string
}

type ViewConfig struct {
	PageSize      int `validate:"gte=1,lte=100"`
	FetchPageSize int `validate:"gte=1,lte=500"`
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:              env("JOBSYNC_API_ADDR", ":8080"),
			ReadHeaderTimeout: envDuration("JOBSYNC_API_READ_HEADER_TIMEOUT", 5*time.Second),
			ShutdownTimeout:   envDuration("JOBSYNC_API_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL:        env("MARKETPLACE_API_URL", "http://localhost:5000/api"),
			Timeout:        envDuration("MARKETPLACE_API_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("MARKETPLACE_API_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("MARKETPLACE_API_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     envDuration("MARKETPLACE_API_MAX_BACKOFF", 2*time.Second),
		},
		Session: SessionConfig{
			IdleTimeout:         envDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			SweepInterval:       envDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			MaxConcurrentChecks: envInt("SESSION_MAX_CONCURRENT_CHECKS", 4),
		},
		Queue: QueueConfig{
			Enabled:       envBool("QUEUE_ENABLED", false),
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "sessions"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("RATE_LIMIT_ENABLED", false),
			Capacity: envInt("RATE_LIMIT_MUTATIONS", 30),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Storage: StorageConfig{
			Enabled:    envBool("MINIO_ENABLED", false),
			Endpoint:   env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:  env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:  env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:     env("MINIO_BUCKET", "jobsync-resumes"),
			Region:     env("MINIO_REGION", "us-east-1"),
			UseSSL:     envBool("MINIO_USE_SSL", false),
			PresignTTL: envDuration("MINIO_PRESIGN_TTL", 15*time.Minute),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "jobsync"),
			Exporter:     strings.ToLower(env("OTEL_TRACES_EXPORTER", "none")),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Auth: AuthConfig{
			JWTSecret: env("JWT_SECRET", ""),
			Issuer:    env("JWT_ISSUER", ""),
		},
		View: ViewConfig{
			PageSize:      envInt("VIEW_PAGE_SIZE", 9),
			FetchPageSize: envInt("VIEW_FETCH_PAGE_SIZE", 100),
		},
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

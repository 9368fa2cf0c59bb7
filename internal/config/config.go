package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
	"github.com/webinv/pixelshape/internal/raster"
)

const (
	GeometryStrict  = "strict"
	GeometryLenient = "lenient"
)

type Config struct {
	API      APIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Imaging  ImagingConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Webhook  WebhookConfig
	Tracing  TracingConfig
	Log      LogConfig
}

type APIConfig struct {
	Addr              string
	PresignTTL        time.Duration
	UserIDHeader      string
	RateLimitCapacity int
	RateLimitWindow   time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
}

type ImagingConfig struct {
	Filter         raster.Filter
	GeometryPolicy string
}

// Lenient reports whether rejected geometry should be a silent no-op.
func (c ImagingConfig) Lenient() bool {
	return c.GeometryPolicy == GeometryLenient
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	// DSN selects the Postgres store; empty keeps jobs in memory.
	DSN string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type LogConfig struct {
	Level string
	File  string
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	filter, err := raster.ParseFilter(v.GetString("IMAGE_FILTER"))
	if err != nil {
		return Config{}, fmt.Errorf("IMAGE_FILTER: %w", err)
	}

	policy := strings.ToLower(strings.TrimSpace(v.GetString("WORKER_GEOMETRY_POLICY")))
	if policy != GeometryStrict && policy != GeometryLenient {
		return Config{}, fmt.Errorf("WORKER_GEOMETRY_POLICY: unsupported value %q", policy)
	}

	cfg := Config{
		API: APIConfig{
			Addr:              v.GetString("PIXELSHAPE_API_ADDR"),
			PresignTTL:        v.GetDuration("PIXELSHAPE_PRESIGN_TTL"),
			UserIDHeader:      v.GetString("PIXELSHAPE_USER_ID_HEADER"),
			RateLimitCapacity: v.GetInt("PIXELSHAPE_RATE_LIMIT_CAPACITY"),
			RateLimitWindow:   v.GetDuration("PIXELSHAPE_RATE_LIMIT_WINDOW"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			Name:          v.GetString("ASYNC_QUEUE"),
		},
		Worker: WorkerConfig{
			Concurrency:    v.GetInt("WORKER_CONCURRENCY"),
			MaxActiveJobs:  v.GetInt("WORKER_MAX_ACTIVE_JOBS"),
			LocalOutputDir: v.GetString("WORKER_LOCAL_OUTPUT_DIR"),
			MetricsAddr:    v.GetString("WORKER_METRICS_ADDR"),
		},
		Imaging: ImagingConfig{
			Filter:         filter,
			GeometryPolicy: policy,
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  v.GetString("WEBHOOK_SIGNING_SECRET"),
			Timeout:        v.GetDuration("WEBHOOK_TIMEOUT"),
			MaxAttempts:    v.GetInt("WEBHOOK_MAX_ATTEMPTS"),
			InitialBackoff: v.GetDuration("WEBHOOK_INITIAL_BACKOFF"),
			MaxBackoff:     v.GetDuration("WEBHOOK_MAX_BACKOFF"),
		},
		Tracing: TracingConfig{
			Exporter:     v.GetString("OTEL_TRACES_EXPORTER"),
			OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			OTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}
	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.MaxActiveJobs < 1 {
		cfg.Worker.MaxActiveJobs = 1
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PIXELSHAPE_API_ADDR", ":8080")
	v.SetDefault("PIXELSHAPE_PRESIGN_TTL", 15*time.Minute)
	v.SetDefault("PIXELSHAPE_USER_ID_HEADER", "X-User-ID")
	v.SetDefault("PIXELSHAPE_RATE_LIMIT_CAPACITY", 60)
	v.SetDefault("PIXELSHAPE_RATE_LIMIT_WINDOW", time.Minute)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ASYNC_QUEUE", "default")

	v.SetDefault("WORKER_CONCURRENCY", max(2, runtime.NumCPU()))
	v.SetDefault("WORKER_MAX_ACTIVE_JOBS", max(1, runtime.NumCPU()/2))
	v.SetDefault("WORKER_LOCAL_OUTPUT_DIR", "./.pixelshape-output")
	v.SetDefault("WORKER_METRICS_ADDR", ":9091")
	v.SetDefault("WORKER_GEOMETRY_POLICY", GeometryStrict)
	v.SetDefault("IMAGE_FILTER", raster.FilterCatmullRom.String())

	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "pixelshape-jobs")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("POSTGRES_DSN", "")

	v.SetDefault("WEBHOOK_SIGNING_SECRET", "")
	v.SetDefault("WEBHOOK_TIMEOUT", 10*time.Second)
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)
	v.SetDefault("WEBHOOK_INITIAL_BACKOFF", time.Second)
	v.SetDefault("WEBHOOK_MAX_BACKOFF", 10*time.Second)

	v.SetDefault("OTEL_TRACES_EXPORTER", "none")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
}

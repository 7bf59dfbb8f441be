package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageBackendMinIO  = "minio"
	StorageBackendS3     = "s3"
	StorageBackendMemory = "memory"

	EnvConfigFile = "CRUX_CONFIG"
)

type Config struct {
	Port          int
	MetricsPort   int
	MaxUploadSize int64
	APIURL        string

	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	StorageBackend   string
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool
	StorageRegion    string
	StoragePublicURL string

	WorkerConcurrency int
	JobTimeout        time.Duration
	AnalysisTimeout   time.Duration
	Analyzer          string
	StubAnalysisDelay time.Duration
	FFprobePath       string

	LeaseDuration       time.Duration
	HeartbeatInterval   time.Duration
	SweepInterval       time.Duration
	MaxRecoveryAttempts int
	OrphanGrace         time.Duration

	EnqueueMaxAttempts    int
	EnqueueInitialBackoff time.Duration
	EnqueueMaxBackoff     time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// source resolves a key from the process environment first and the
// optional YAML file second.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present, and CRUX_CONFIG may point at a YAML
// file of KEY: value pairs used as defaults beneath the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	src, err := loadSource(os.Getenv(EnvConfigFile))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func loadSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return src, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &src.file); err != nil {
		return src, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return src, nil
}

func load(src source) (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = src.getInt("PORT", 8000)
	cfg.MetricsPort = src.getInt("METRICS_PORT", 9090)
	cfg.MaxUploadSize = src.getInt64("MAX_UPLOAD_SIZE", 500*1024*1024)
	cfg.APIURL = src.getString("CRUX_API_URL", "http://localhost:8000")

	cfg.Environment = src.getString("ENVIRONMENT", "development")
	cfg.LogLevel = src.getString("LOG_LEVEL", "info")

	cfg.DatabaseURL = src.get("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = src.get("REDIS_URL")
	if cfg.RedisURL == "" {
		host := src.getString("REDIS_HOST", "localhost")
		port := src.getString("REDIS_PORT", "6379")
		cfg.RedisURL = "redis://" + net.JoinHostPort(host, port)
	}

	cfg.StorageBackend = strings.ToLower(src.getString("STORAGE_BACKEND", StorageBackendMinIO))
	cfg.StorageEndpoint = src.get("AWS_ENDPOINT_URL")
	cfg.StorageAccessKey = src.get("AWS_ACCESS_KEY_ID")
	cfg.StorageSecretKey = src.get("AWS_SECRET_ACCESS_KEY")
	cfg.StorageBucket = src.getString("S3_BUCKET_NAME", "crux-videos")
	cfg.StorageUseSSL = src.getBool("S3_USE_SSL", false)
	cfg.StorageRegion = src.getString("AWS_REGION", "us-east-1")
	cfg.StoragePublicURL = src.get("S3_PUBLIC_URL")

	if cfg.StorageBackend == StorageBackendMinIO {
		if cfg.StorageEndpoint == "" {
			return nil, fmt.Errorf("AWS_ENDPOINT_URL is required")
		}
		if cfg.StorageAccessKey == "" {
			return nil, fmt.Errorf("AWS_ACCESS_KEY_ID is required")
		}
		if cfg.StorageSecretKey == "" {
			return nil, fmt.Errorf("AWS_SECRET_ACCESS_KEY is required")
		}
	}

	cfg.WorkerConcurrency = src.getInt("WORKER_CONCURRENCY", 4)
	if cfg.JobTimeout, err = src.getDuration("JOB_TIMEOUT", "10m"); err != nil {
		return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}
	if cfg.AnalysisTimeout, err = src.getDuration("ANALYSIS_TIMEOUT", "5m"); err != nil {
		return nil, fmt.Errorf("invalid ANALYSIS_TIMEOUT: %w", err)
	}
	cfg.Analyzer = src.getString("ANALYZER", "stub")
	if cfg.StubAnalysisDelay, err = src.getDuration("STUB_ANALYSIS_DELAY", "5s"); err != nil {
		return nil, fmt.Errorf("invalid STUB_ANALYSIS_DELAY: %w", err)
	}
	cfg.FFprobePath = src.getString("FFPROBE_PATH", "ffprobe")

	if cfg.LeaseDuration, err = src.getDuration("LEASE_DURATION", "2m"); err != nil {
		return nil, fmt.Errorf("invalid LEASE_DURATION: %w", err)
	}
	if cfg.HeartbeatInterval, err = src.getDuration("HEARTBEAT_INTERVAL", "30s"); err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}
	if cfg.SweepInterval, err = src.getDuration("SWEEP_INTERVAL", "1m"); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	cfg.MaxRecoveryAttempts = src.getInt("MAX_RECOVERY_ATTEMPTS", 3)
	if cfg.OrphanGrace, err = src.getDuration("ORPHAN_GRACE", "2m"); err != nil {
		return nil, fmt.Errorf("invalid ORPHAN_GRACE: %w", err)
	}

	cfg.EnqueueMaxAttempts = src.getInt("ENQUEUE_MAX_ATTEMPTS", 4)
	if cfg.EnqueueInitialBackoff, err = src.getDuration("ENQUEUE_INITIAL_BACKOFF", "100ms"); err != nil {
		return nil, fmt.Errorf("invalid ENQUEUE_INITIAL_BACKOFF: %w", err)
	}
	if cfg.EnqueueMaxBackoff, err = src.getDuration("ENQUEUE_MAX_BACKOFF", "2s"); err != nil {
		return nil, fmt.Errorf("invalid ENQUEUE_MAX_BACKOFF: %w", err)
	}

	cfg.NATSURL = src.get("NATS_URL")
	cfg.NATSSubjectPrefix = src.getString("NATS_SUBJECT_PREFIX", "crux.climbs")

	cfg.WebhookURL = src.get("WEBHOOK_URL")
	cfg.WebhookSecret = src.get("WEBHOOK_SECRET")
	if cfg.WebhookTimeout, err = src.getDuration("WEBHOOK_TIMEOUT", "5s"); err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	cfg.TracingEnabled = src.getBool("OTEL_ENABLED", false)
	cfg.TracingEndpoint = src.getString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	cfg.TracingSampleRate = src.getFloat("OTEL_SAMPLE_RATE", 1.0)

	return cfg, nil
}

func (s source) getString(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getInt(key string, defaultValue int) int {
	if value := s.get(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getInt64(key string, defaultValue int64) int64 {
	if value := s.get(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getFloat(key string, defaultValue float64) float64 {
	if value := s.get(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (s source) getBool(key string, defaultValue bool) bool {
	if value := s.get(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (s source) getDuration(key, defaultValue string) (time.Duration, error) {
	value := s.get(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxUploadSize < 1 {
		return fmt.Errorf("invalid max upload size: %d", c.MaxUploadSize)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("invalid worker concurrency: %d", c.WorkerConcurrency)
	}

	switch c.StorageBackend {
	case StorageBackendMinIO, StorageBackendS3, StorageBackendMemory:
	default:
		return fmt.Errorf("invalid storage backend: %q", c.StorageBackend)
	}

	if c.LeaseDuration <= 0 {
		return fmt.Errorf("invalid lease duration: %s", c.LeaseDuration)
	}

	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseDuration {
		return fmt.Errorf("heartbeat interval %s must be positive and shorter than lease duration %s", c.HeartbeatInterval, c.LeaseDuration)
	}

	if c.MaxRecoveryAttempts < 1 {
		return fmt.Errorf("invalid max recovery attempts: %d", c.MaxRecoveryAttempts)
	}

	if c.EnqueueMaxAttempts < 1 {
		return fmt.Errorf("invalid enqueue max attempts: %d", c.EnqueueMaxAttempts)
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %v", c.TracingSampleRate)
	}

	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// StoreConfig selects and configures the repository backend.
type StoreConfig struct {
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`

	DBDSN               string        `envconfig:"DB_DSN"`
	DBMaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns          int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	DBMaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	DBMaxConnIdleTime   time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	DBHealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"30s"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// IngestConfig controls how pixel fetches are judged.
type IngestConfig struct {
	GracePeriod    time.Duration `envconfig:"GRACE_PERIOD" default:"45s"`
	CountingPolicy string        `envconfig:"COUNTING_POLICY" default:"strict"`
}

type SQSConfig struct {
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSOpensQueueURL   string `envconfig:"SQS_OPENS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type APIConfig struct {
	Port        string `envconfig:"PORT" default:"3000"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreConfig
	IngestConfig
	SQSConfig

	MigrateOnStart bool `envconfig:"MIGRATE_ON_START" default:"false"`

	// Origin used in pixel URLs; empty means the request origin.
	PublicBaseURL     string `envconfig:"PUBLIC_BASE_URL"`
	TrustProxyHeaders bool   `envconfig:"TRUST_PROXY_HEADERS" default:"true"`

	// inline: in-process worker pool. sqs: hand off to cmd/worker.
	OpenPipeline    string `envconfig:"OPEN_PIPELINE" default:"inline"`
	PipelineWorkers int    `envconfig:"PIPELINE_WORKERS" default:"4"`
	PipelineBuffer  int    `envconfig:"PIPELINE_BUFFER" default:"1024"`

	RegisterRPS   float64 `envconfig:"REGISTER_RPS" default:"1"`
	RegisterBurst int     `envconfig:"REGISTER_BURST" default:"5"`
}

type WorkerConfig struct {
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreConfig
	IngestConfig
	SQSConfig

	SQSWaitTime   int32 `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs    int32 `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout int32 `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"20"`
	// Store writes per second per process; zero disables the limiter.
	StoreRPS   float64 `envconfig:"STORE_RPS" default:"0"`
	StoreBurst int     `envconfig:"STORE_BURST" default:"50"`
}

type MigrateConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

func (c StoreConfig) validate() error {
	switch strings.ToLower(c.StoreBackend) {
	case "memory", "redis":
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

func (c APIConfig) Validate() error {
	if err := c.StoreConfig.validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.OpenPipeline) {
	case "inline":
	case "sqs":
		if c.SQSOpensQueueURL == "" {
			return fmt.Errorf("SQS_OPENS_QUEUE_URL is required for OPEN_PIPELINE=sqs")
		}
	default:
		return fmt.Errorf("unknown OPEN_PIPELINE %q", c.OpenPipeline)
	}
	return nil
}

func (c WorkerConfig) Validate() error {
	if err := c.StoreConfig.validate(); err != nil {
		return err
	}
	if strings.ToLower(c.StoreBackend) == "memory" {
		return fmt.Errorf("STORE_BACKEND=memory is not shared with the api; use postgres or redis")
	}
	if c.SQSOpensQueueURL == "" {
		return fmt.Errorf("SQS_OPENS_QUEUE_URL is required")
	}
	return nil
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadMigrate() MigrateConfig {
	var cfg MigrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

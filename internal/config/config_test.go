package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPI_Defaults(t *testing.T) {
	cfg := LoadAPI()
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 45*time.Second, cfg.GracePeriod)
	assert.Equal(t, "strict", cfg.CountingPolicy)
	assert.Equal(t, "inline", cfg.OpenPipeline)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoadAPI_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/mailtrack")
	t.Setenv("GRACE_PERIOD", "2m")
	t.Setenv("COUNTING_POLICY", "loose")
	t.Setenv("DB_MAX_CONN_IDLE_TIME", "90s")

	cfg := LoadAPI()
	assert.Equal(t, "postgres://localhost/mailtrack", cfg.DBDSN)
	assert.Equal(t, 2*time.Minute, cfg.GracePeriod)
	assert.Equal(t, "loose", cfg.CountingPolicy)
	assert.Equal(t, 90*time.Second, cfg.DBMaxConnIdleTime)
}

func TestAPIConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		ok   bool
	}{
		{"postgres without dsn", map[string]string{"STORE_BACKEND": "postgres"}, false},
		{"unknown backend", map[string]string{"STORE_BACKEND": "mongo"}, false},
		{"sqs without queue", map[string]string{"OPEN_PIPELINE": "sqs"}, false},
		{"sqs with queue", map[string]string{"OPEN_PIPELINE": "sqs", "SQS_OPENS_QUEUE_URL": "http://q"}, true},
		{"unknown pipeline", map[string]string{"OPEN_PIPELINE": "kafka"}, false},
		{"redis", map[string]string{"STORE_BACKEND": "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.ok {
				assert.NotPanics(t, func() { LoadAPI() })
			} else {
				assert.Panics(t, func() { LoadAPI() })
			}
		})
	}
}

func TestWorkerConfig_Validate(t *testing.T) {
	cfg := WorkerConfig{StoreConfig: StoreConfig{StoreBackend: "memory"}, SQSConfig: SQSConfig{SQSOpensQueueURL: "http://q"}}
	require.Error(t, cfg.Validate(), "memory store is process local")

	cfg.StoreBackend = "redis"
	assert.NoError(t, cfg.Validate())

	cfg.SQSOpensQueueURL = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadMigrate_RequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "unused")
	require.NoError(t, os.Unsetenv("DB_DSN"))
	assert.Panics(t, func() { LoadMigrate() })
}

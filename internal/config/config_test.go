package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.AggregatorWithdrawal, cfg.AggregatorType)
	assert.Equal(t, 10, cfg.MinBatchSize)
	assert.Equal(t, 15, cfg.MinWaitMinutes)
	assert.Equal(t, 50, cfg.GroupSize)
	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, 5*time.Minute, cfg.RunLockTTL())
	assert.Equal(t, 30*time.Second, cfg.QueueStallTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AGGREGATOR_TYPE", "Claim")
	t.Setenv("WITHDRAWAL_MIN_BATCH_SIZE", "25")
	t.Setenv("WITHDRAWAL_MIN_WAIT_MINUTES", "5")
	t.Setenv("WITHDRAWAL_GROUP_SIZE", "8")
	t.Setenv("QUEUE_CONCURRENCY", "3")
	t.Setenv("QUEUE_STALL_TIMEOUT_SECONDS", "90")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.AggregatorClaim, cfg.AggregatorType)
	assert.Equal(t, 25, cfg.MinBatchSize)
	assert.Equal(t, 5, cfg.MinWaitMinutes)
	assert.Equal(t, 8, cfg.GroupSize)
	assert.Equal(t, 3, cfg.QueueConcurrency)
	assert.Equal(t, 90*time.Second, cfg.QueueStallTimeout())
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aggregator.yaml")
	body := []byte(`
aggregator_type: claim
min_batch_size: 40
group_size: 20
redis:
  addr: file-redis:6379
postgres:
  dsn: postgres://file/db
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("WITHDRAWAL_GROUP_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.AggregatorClaim, cfg.AggregatorType)
	assert.Equal(t, 40, cfg.MinBatchSize)
	assert.Equal(t, 7, cfg.GroupSize, "env wins over file")
	assert.Equal(t, "file-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres://file/db", cfg.Postgres.ConnString())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown type":        func(c *Config) { c.AggregatorType = "deposit" },
		"zero batch size":     func(c *Config) { c.MinBatchSize = 0 },
		"negative wait":       func(c *Config) { c.MinWaitMinutes = -1 },
		"zero group size":     func(c *Config) { c.GroupSize = 0 },
		"zero concurrency":    func(c *Config) { c.QueueConcurrency = 0 },
		"unknown backend":     func(c *Config) { c.QueueBackend = "sqs" },
		"temporal no address": func(c *Config) { c.QueueBackend = QueueBackendTemporal },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
		})
	}
}

func TestPostgresConnString_FromParts(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5433", User: "agg", Password: "pw", Name: "requests"}
	assert.Equal(t, "postgres://agg:pw@db:5433/requests?sslmode=disable", p.ConnString())
}

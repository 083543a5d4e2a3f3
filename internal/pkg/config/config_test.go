//go:build unit

package config_test

import (
	"testing"
	"time"

	"event-voucher/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "events")
	t.Setenv("JWT_SECRET", "jwt-secret")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Lease.TTL)
	assert.Equal(t, 60*time.Second, cfg.Lease.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Notify.Delay)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Notify.Backoff)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, config.StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, config.LeaseStrategyRecord, cfg.Lease.Strategy)
	assert.Equal(t, config.CommitModeAfterCommit, cfg.Notify.CommitMode)
	assert.Equal(t, config.TransportSMTP, cfg.Mail.Transport)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Mail.KafkaBrokers)
}

func TestLoadConfigRejectsUnknownModes(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "events")
	t.Setenv("JWT_SECRET", "jwt-secret")

	cases := map[string]string{
		"STORE_BACKEND":      "mongo",
		"LEASE_STRATEGY":     "optimistic",
		"NOTIFY_COMMIT_MODE": "sometimes",
		"NOTIFY_TRANSPORT":   "pigeon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := config.LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewTestConfigIsValid(t *testing.T) {
	assert.NoError(t, config.NewTestConfig().Validate())
}

func TestBuildDSN(t *testing.T) {
	c := config.DBConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable", TimeZone: "UTC"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable&timezone=UTC", c.BuildDSN())
}

package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FLOW_PRINCIPAL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()

	assert.Equal(t, "USD", cfg.Flow.Currency)
	assert.True(t, cfg.Flow.LenderFunding.Equal(decimal.NewFromInt(10000)))
	assert.True(t, cfg.Flow.VaultDeposit.Equal(decimal.NewFromInt(5000)))
	assert.True(t, cfg.Flow.Principal.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 500, cfg.Flow.InterestRateBPS)
	assert.Equal(t, 12, cfg.Flow.PaymentTotal)
	assert.Equal(t, 3600, cfg.Flow.PaymentInterval)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FLOW_PRINCIPAL", "250.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEDGER_SIMULATE", "yes")
	t.Setenv("LEDGER_SUBMIT_TIMEOUT", "3s")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("SCHEDULE_SCENARIOS", "loan-creation,loan-payment")
	t.Setenv("SCHEDULE_INTERVAL", "30m")
	t.Setenv("RUN_START_LIMIT", "3")

	cfg := Load()

	assert.True(t, cfg.Flow.Principal.Equal(decimal.RequireFromString("250.5")))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Ledger.Simulate)
	assert.Equal(t, 3*time.Second, cfg.Ledger.SubmitTimeout)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.Equal(t, []string{"loan-creation", "loan-payment"}, cfg.Schedule.Scenarios)
	assert.Equal(t, 30*time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, 3, cfg.Server.StartLimit)
}

func TestValidateCore(t *testing.T) {
	cfg := Load()
	cfg.JWT.Secret = "change-this-secret"
	err := cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.JWT.Secret = "s3cret"
	cfg.Ledger.Simulate = false
	cfg.Ledger.ServerURL = "https://not-a-websocket"
	err = cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_SERVER_URL")

	cfg.Ledger.Simulate = true
	assert.NoError(t, cfg.ValidateCore())
}

// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Ledger   LedgerConfig
	Kafka    KafkaConfig
	Flow     FlowConfig
	Schedule ScheduleConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// StartLimit caps run starts per operator per StartWindow when Redis is configured.
	StartLimit  int
	StartWindow time.Duration
}

// DatabaseConfig points at the run history archive. An empty URL disables it.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig points at the live snapshot cache. An empty URL keeps snapshots in memory.
type RedisConfig struct {
	URL         string
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

type JWTConfig struct {
	Secret string
}

type LedgerConfig struct {
	ServerURL     string
	FaucetURL     string
	Simulate      bool
	SubmitTimeout time.Duration
	PollInterval  time.Duration
	LedgerOffset  int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ScheduleConfig lists scenarios the server starts on its own every Interval.
// A zero interval disables scheduling.
type ScheduleConfig struct {
	Scenarios []string
	Interval  time.Duration
}

// FlowConfig carries the fixed per-step parameters of a run.
type FlowConfig struct {
	Currency           string
	LenderFunding      decimal.Decimal
	BrokerFunding      decimal.Decimal
	VaultDeposit       decimal.Decimal
	CoverDeposit       decimal.Decimal
	Principal          decimal.Decimal
	InterestRateBPS    int
	PaymentTotal       int
	PaymentInterval    int
	GracePeriod        int
	CoverRateMinimum   int
	BorrowerTopUp      decimal.Decimal
	EarlyRepayFallback decimal.Decimal
	DelegateRole       string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			StartLimit:   getIntEnv("RUN_START_LIMIT", 10),
			StartWindow:  getDurationEnv("RUN_START_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:         normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getIntEnv("REDIS_DB", 0),
			SnapshotTTL: getDurationEnv("REDIS_SNAPSHOT_TTL", 24*time.Hour),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Ledger: LedgerConfig{
			ServerURL:     getEnv("LEDGER_SERVER_URL", "wss://s.devnet.rippletest.net:51233"),
			FaucetURL:     getEnv("LEDGER_FAUCET_URL", "https://faucet.devnet.rippletest.net"),
			Simulate:      getBoolEnv("LEDGER_SIMULATE", false),
			SubmitTimeout: getDurationEnv("LEDGER_SUBMIT_TIMEOUT", 90*time.Second),
			PollInterval:  getDurationEnv("LEDGER_POLL_INTERVAL", time.Second),
			LedgerOffset:  getIntEnv("LEDGER_LAST_LEDGER_OFFSET", 20),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "lending.flow.events"),
		},
		Flow: FlowConfig{
			Currency:           getEnv("FLOW_CURRENCY", "USD"),
			LenderFunding:      getDecimalEnv("FLOW_LENDER_FUNDING", decimal.NewFromInt(10000)),
			BrokerFunding:      getDecimalEnv("FLOW_BROKER_FUNDING", decimal.NewFromInt(1000)),
			VaultDeposit:       getDecimalEnv("FLOW_VAULT_DEPOSIT", decimal.NewFromInt(5000)),
			CoverDeposit:       getDecimalEnv("FLOW_COVER_DEPOSIT", decimal.NewFromInt(200)),
			Principal:          getDecimalEnv("FLOW_PRINCIPAL", decimal.NewFromInt(1000)),
			InterestRateBPS:    getIntEnv("FLOW_INTEREST_RATE_BPS", 500),
			PaymentTotal:       getIntEnv("FLOW_PAYMENT_TOTAL", 12),
			PaymentInterval:    getIntEnv("FLOW_PAYMENT_INTERVAL", 3600),
			GracePeriod:        getIntEnv("FLOW_GRACE_PERIOD", 60),
			CoverRateMinimum:   getIntEnv("FLOW_COVER_RATE_MINIMUM", 10000),
			BorrowerTopUp:      getDecimalEnv("FLOW_BORROWER_TOP_UP", decimal.NewFromInt(100)),
			EarlyRepayFallback: getDecimalEnv("FLOW_EARLY_REPAY_FALLBACK", decimal.NewFromInt(1100)),
			DelegateRole:       getEnv("FLOW_DELEGATE_ROLE", "issuer"),
		},
		Schedule: ScheduleConfig{
			Scenarios: getListEnv("SCHEDULE_SCENARIOS"),
			Interval:  getDurationEnv("SCHEDULE_INTERVAL", 0),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

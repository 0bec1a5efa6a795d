package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StorePocketBase = "pocketbase"
	StoreRedis      = "redis"

	minSecretBytes = 32
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL string

	// Ticket store backend: pocketbase or redis
	TicketStore string

	// Credential signing secret, hex encoded
	CredentialSecret string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUUID         string
	PurchaseChannel    string
	GateChannelPrefix  string

	// Gate device configuration
	GateID              string
	ScanCooldown        time.Duration
	ScanDisplayInterval time.Duration
	CaptureMaxWait      time.Duration
	CaptureRate         float64
	RedeemRetries       int
	RedeemRetryBackoff  time.Duration
	RecentRedemptionTTL time.Duration

	// Abuse and audit
	GateRateLimit int
	AuditLogSize  int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// Tickets
		TicketStore:      getEnv("TICKET_STORE", StorePocketBase),
		CredentialSecret: getEnv("CREDENTIAL_SECRET", ""),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUUID:         getEnv("PUBNUB_UUID", "ticket-gate-"+hostname),
		PurchaseChannel:    getEnv("PURCHASE_CHANNEL", "ticket-purchases"),
		GateChannelPrefix:  getEnv("GATE_CHANNEL_PREFIX", "gate."),

		// Gate device
		GateID:              getEnv("GATE_ID", hostname),
		ScanCooldown:        getEnvAsDuration("SCAN_COOLDOWN", "750ms"),
		ScanDisplayInterval: getEnvAsDuration("SCAN_DISPLAY_INTERVAL", "1500ms"),
		CaptureMaxWait:      getEnvAsDuration("CAPTURE_MAX_WAIT", "2m"),
		CaptureRate:         getEnvAsFloat("CAPTURE_RATE", 10),
		RedeemRetries:       getEnvAsInt("REDEEM_RETRIES", 3),
		RedeemRetryBackoff:  getEnvAsDuration("REDEEM_RETRY_BACKOFF", "200ms"),
		RecentRedemptionTTL: getEnvAsDuration("RECENT_REDEMPTION_TTL", "6h"),

		// Abuse and audit
		GateRateLimit: getEnvAsInt("GATE_RATE_LIMIT", 120),
		AuditLogSize:  getEnvAsInt("AUDIT_LOG_SIZE", 10000),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// Validate reports the first setting the service cannot start with.
func (c *Config) Validate() error {
	if _, err := c.Secret(); err != nil {
		return err
	}

	switch c.TicketStore {
	case StorePocketBase, StoreRedis:
	default:
		return fmt.Errorf("config: TICKET_STORE must be %q or %q, got %q", StorePocketBase, StoreRedis, c.TicketStore)
	}

	if c.RedeemRetries < 0 {
		return errors.New("config: REDEEM_RETRIES must not be negative")
	}
	if c.GateRateLimit <= 0 {
		return errors.New("config: GATE_RATE_LIMIT must be positive")
	}
	if c.AuditLogSize <= 0 {
		return errors.New("config: AUDIT_LOG_SIZE must be positive")
	}
	return nil
}

// ValidateScan checks a gate device configuration. Gates must share one
// ticket store, so a device-local PocketBase database is refused.
func (c *Config) ValidateScan() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.TicketStore != StoreRedis {
		return fmt.Errorf("config: scan requires TICKET_STORE=%q shared by all gates, got %q", StoreRedis, c.TicketStore)
	}
	return nil
}

// Secret decodes CREDENTIAL_SECRET.
func (c *Config) Secret() ([]byte, error) {
	if c.CredentialSecret == "" {
		return nil, errors.New("config: CREDENTIAL_SECRET is required")
	}
	secret, err := hex.DecodeString(c.CredentialSecret)
	if err != nil {
		return nil, fmt.Errorf("config: CREDENTIAL_SECRET must be hex: %w", err)
	}
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("config: CREDENTIAL_SECRET must decode to at least %d bytes, got %d", minSecretBytes, len(secret))
	}
	return secret, nil
}

// PubNubEnabled reports whether gate broadcasts and purchase intake can run.
func (c *Config) PubNubEnabled() bool {
	return c.PubNubSubscribeKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

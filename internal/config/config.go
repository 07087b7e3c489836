package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitEnabled bool
	SubmitRate       float64
	SubmitBurst      int
	WebhookRate      float64
	WebhookBurst     int

	ProcessorBaseURL string
	ProcessorToken   string
	ProcessorTimeout time.Duration

	PaymentWebhookSecret string

	SeedDemoData bool

	HoldSweepEnabled  bool
	HoldSweepInterval time.Duration
	HoldSweepTimeout  time.Duration
	HoldSweepBatch    int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "creditcore"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimitEnabled: getenvBool("RATE_LIMIT_ENABLED", true),
		SubmitRate:       getenvFloat("RATE_LIMIT_SUBMIT_RATE", 5),
		SubmitBurst:      getenvInt("RATE_LIMIT_SUBMIT_BURST", 20),
		WebhookRate:      getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
		WebhookBurst:     getenvInt("RATE_LIMIT_WEBHOOK_BURST", 50),

		ProcessorBaseURL: strings.TrimSpace(getenv("PROCESSOR_BASE_URL", "")),
		ProcessorToken:   strings.TrimSpace(getenv("PROCESSOR_TOKEN", "")),
		ProcessorTimeout: getenvDuration("PROCESSOR_TIMEOUT", 30*time.Second),

		PaymentWebhookSecret: strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),

		SeedDemoData: getenvBool("SEED_DEMO_DATA", false),

		HoldSweepEnabled:  getenvBool("HOLD_SWEEP_ENABLED", true),
		HoldSweepInterval: getenvDuration("HOLD_SWEEP_INTERVAL", 10*time.Minute),
		HoldSweepTimeout:  getenvDuration("HOLD_SWEEP_TIMEOUT", 24*time.Hour),
		HoldSweepBatch:    getenvInt("HOLD_SWEEP_BATCH", 100),
	}
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

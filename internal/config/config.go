package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

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
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EServer EServerConfig
	Gateway GatewayConfig
	Sweep   SweepConfig
	SMTP    SMTPConfig

	// TxTimeout bounds every serializable application transaction.
	TxTimeout time.Duration
}

// EServerConfig points at the external birth registration registry.
type EServerConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// GatewayConfig holds payment gateway credentials and callback wiring.
type GatewayConfig struct {
	Endpoint        string
	UserID          string
	Key             string
	Currency        string
	MerchantPrefix  string
	CallbackBaseURL string
	Expiry          time.Duration
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
}

// SweepConfig controls the orphaned-application sweep.
type SweepConfig struct {
	InstanceID    string
	Interval      time.Duration
	Threshold     time.Duration
	RetryWindow   time.Duration
	MaxConcurrent int
	RatePerSecond int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "smartstart"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "smartstart"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		EServer: EServerConfig{
			BaseURL:    strings.TrimSpace(getenv("ESERVER_URL", "")),
			Timeout:    getenvDuration("ESERVER_TIMEOUT", 30*time.Second),
			MaxRetries: getenvInt("ESERVER_MAX_RETRIES", 2),
			RetryDelay: getenvDuration("ESERVER_RETRY_DELAY", 2*time.Second),
		},
		Gateway: GatewayConfig{
			Endpoint:        strings.TrimSpace(getenv("PAYMENT_GATEWAY_URL", "")),
			UserID:          strings.TrimSpace(getenv("PAYMENT_GATEWAY_USER", "")),
			Key:             strings.TrimSpace(getenv("PAYMENT_GATEWAY_KEY", "")),
			Currency:        getenv("PAYMENT_CURRENCY", "NZD"),
			MerchantPrefix:  merchantPrefix(environment),
			CallbackBaseURL: strings.TrimSpace(getenv("PAYMENT_CALLBACK_BASE_URL", "")),
			Expiry:          getenvDuration("PAYMENT_EXPIRY", 20*time.Minute),
			Timeout:         getenvDuration("PAYMENT_GATEWAY_TIMEOUT", 30*time.Second),
			MaxRetries:      getenvInt("PAYMENT_GATEWAY_MAX_RETRIES", 2),
			RetryDelay:      getenvDuration("PAYMENT_GATEWAY_RETRY_DELAY", 2*time.Second),
		},
		Sweep: SweepConfig{
			InstanceID:    strings.TrimSpace(getenv("SWEEP_INSTANCE_ID", "")),
			Interval:      getenvDuration("SWEEP_INTERVAL", 30*time.Minute),
			Threshold:     getenvDuration("SWEEP_THRESHOLD", 30*time.Minute),
			RetryWindow:   getenvDuration("SWEEP_RETRY_WINDOW", 30*time.Minute),
			MaxConcurrent: getenvInt("SWEEP_MAX_CONCURRENT", 4),
			RatePerSecond: getenvInt("SWEEP_RATE_PER_SECOND", 5),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "noreply@smartstart.govt.nz"),
		},

		TxTimeout: getenvDuration("TX_TIMEOUT", 15*time.Second),
	}

	return cfg
}

// merchantPrefix keeps merchant references distinguishable across
// environments without spending scarce bytes of the 16-byte field.
func merchantPrefix(environment string) string {
	if prefix := strings.TrimSpace(os.Getenv("PAYMENT_MERCHANT_PREFIX")); prefix != "" {
		return prefix
	}
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "production":
		return "P"
	case "staging":
		return "S"
	default:
		return "D"
	}
}

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

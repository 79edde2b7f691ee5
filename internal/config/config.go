package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime setting of the service.
type Config struct {
	AppEnv         string
	LogLevel       string
	LogFormat      string
	HTTPListenAddr string
	PublicBasePath string

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	FirmwareDir       string
	FirmwarePublicURL string
	FirmwareMaxBytes  int64

	GeocoderBaseURL   string
	GeocoderTimeout   time.Duration
	GeocoderUserAgent string
	GeocodeCacheTTL   time.Duration

	WhatsAppEnabled   bool
	WhatsAppStorePath string
	WhatsAppLogLevel  string

	MetricsNamespace   string
	TopUpDefaultAmount int64
	TopUpMaxAmount     int64
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:         getenv("APP_ENV", "development"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", "text"),
		HTTPListenAddr: getenv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath: getenv("PUBLIC_BASE_PATH", ""),

		DatabaseDriver: strings.ToLower(getenv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		DatabaseSchema: getenv("DATABASE_SCHEMA", "public"),
		SQLitePath:     getenv("SQLITE_PATH", "data/kiosk.db"),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),
		RedisTLS:      getenvBool("REDIS_TLS", false),

		JWTSecret:      getenv("JWT_SECRET", ""),
		JWTIssuer:      getenv("JWT_ISSUER", "kiosk-fleet"),
		AccessTokenTTL: getenvDuration("ACCESS_TOKEN_TTL", 12*time.Hour),

		BootstrapAdminEmail:    getenv("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),

		FirmwareDir:       getenv("FIRMWARE_DIR", "data/firmware"),
		FirmwarePublicURL: getenv("FIRMWARE_PUBLIC_URL", "/ota-firmware"),
		FirmwareMaxBytes:  int64(getenvInt("FIRMWARE_MAX_BYTES", 16<<20)),

		GeocoderBaseURL:   getenv("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeocoderTimeout:   getenvDuration("GEOCODER_TIMEOUT", 10*time.Second),
		GeocoderUserAgent: getenv("GEOCODER_USER_AGENT", "kiosk-fleet/geocoder"),
		GeocodeCacheTTL:   getenvDuration("GEOCODE_CACHE_TTL", 24*time.Hour),

		WhatsAppEnabled:   getenvBool("WHATSAPP_ENABLED", false),
		WhatsAppStorePath: getenv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:  getenv("WHATSAPP_LOG_LEVEL", "WARN"),

		MetricsNamespace:   getenv("METRICS_NAMESPACE", "kiosk"),
		TopUpDefaultAmount: int64(getenvInt("TOPUP_DEFAULT_AMOUNT", 100)),
		TopUpMaxAmount:     int64(getenvInt("TOPUP_MAX_AMOUNT", 1000)),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return errors.New("JWT_SECRET is required outside development")
		}
		c.JWTSecret = "dev-secret"
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.TopUpDefaultAmount <= 0 {
		return errors.New("TOPUP_DEFAULT_AMOUNT must be positive")
	}
	if c.TopUpMaxAmount < c.TopUpDefaultAmount {
		return errors.New("TOPUP_MAX_AMOUNT must not be below TOPUP_DEFAULT_AMOUNT")
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		return errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := strings.TrimSpace(os.Getenv(key + "_SECONDS")); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

package config

import (
	"testing"
	"time"
)

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_LISTEN_ADDR", ":18080")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/kiosk-test.db")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("GEOCODER_TIMEOUT_SECONDS", "3")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("WHATSAPP_ENABLED", "true")
	t.Setenv("TOPUP_DEFAULT_AMOUNT", "250")
	t.Setenv("TOPUP_MAX_AMOUNT", "5000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.HTTPListenAddr != ":18080" {
		t.Fatalf("expected HTTP_LISTEN_ADDR override, got %s", cfg.HTTPListenAddr)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.SQLitePath != "/tmp/kiosk-test.db" {
		t.Fatalf("unexpected database settings: %s %s", cfg.DatabaseDriver, cfg.SQLitePath)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("expected ACCESS_TOKEN_TTL 30m, got %s", cfg.AccessTokenTTL)
	}
	if cfg.GeocoderTimeout != 3*time.Second {
		t.Fatalf("expected GEOCODER_TIMEOUT 3s, got %s", cfg.GeocoderTimeout)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected REDIS_DB 2, got %d", cfg.RedisDB)
	}
	if !cfg.WhatsAppEnabled {
		t.Fatalf("expected WHATSAPP_ENABLED true")
	}
	if cfg.TopUpDefaultAmount != 250 {
		t.Fatalf("expected TOPUP_DEFAULT_AMOUNT 250, got %d", cfg.TopUpDefaultAmount)
	}
	if cfg.TopUpMaxAmount != 5000 {
		t.Fatalf("expected TOPUP_MAX_AMOUNT 5000, got %d", cfg.TopUpMaxAmount)
	}
}

func TestLoadRejectsTopUpLimitBelowDefault(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("TOPUP_DEFAULT_AMOUNT", "500")
	t.Setenv("TOPUP_MAX_AMOUNT", "100")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when TOPUP_MAX_AMOUNT is below the default amount")
	}
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing JWT_SECRET to error")
	}
}

func TestLoadDevelopmentDefaultsSecret(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.JWTSecret == "" {
		t.Fatalf("expected development secret fallback")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unsupported driver to error")
	}
}

func TestLoadPostgresNeedsURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to error")
	}
}

func TestBootstrapAdminPair(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("BOOTSTRAP_ADMIN_EMAIL", "ops@example.com")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected half-configured bootstrap admin to error")
	}
}

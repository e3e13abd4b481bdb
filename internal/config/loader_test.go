package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"HTTP_PORT", "STORE", "SQLITE_DSN", "POSTGRES_DSN", "MONGO_URI", "MONGO_DATABASE",
	"HOLD_WINDOW", "SWEEP_INTERVAL", "MAX_RESERVE_ATTEMPTS", "STRICT_CONFLICTS",
	"REPORT_CACHE_TTL", "WAITLIST_OFFER_WINDOW", "TIMEZONE", "PAYMENT_PROVIDER", "MIDTRANS_SERVER_KEY",
	"MIDTRANS_PRODUCTION", "CHECKOUT_BASE_URL", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allKeys {
		t.Setenv(key(name), "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := LoadFrom("")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.Store != StoreSQLite || cfg.SQLiteDSN != "file:booking.db" {
			t.Fatalf("unexpected default store: %q %q", cfg.Store, cfg.SQLiteDSN)
		}
		if cfg.HoldWindow != 30*time.Minute || cfg.SweepInterval != time.Minute || cfg.WaitlistOfferWindow != 24*time.Hour {
			t.Fatalf("unexpected default durations: %v %v %v", cfg.HoldWindow, cfg.SweepInterval, cfg.WaitlistOfferWindow)
		}
		if cfg.PaymentProvider != ProviderFake || cfg.LogLevel != slog.LevelInfo {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		if cfg.Location == nil || cfg.Location.String() != "Asia/Tokyo" {
			t.Fatalf("expected Asia/Tokyo, got %v", cfg.Location)
		}
	})

	t.Run("reads overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BOOKING_HTTP_PORT", "9090")
		t.Setenv("BOOKING_STORE", "Postgres")
		t.Setenv("BOOKING_POSTGRES_DSN", "postgres://localhost/booking")
		t.Setenv("BOOKING_HOLD_WINDOW", "10m")
		t.Setenv("BOOKING_WAITLIST_OFFER_WINDOW", "2h")
		t.Setenv("BOOKING_STRICT_CONFLICTS", "true")
		t.Setenv("BOOKING_TIMEZONE", "UTC")
		t.Setenv("BOOKING_PAYMENT_PROVIDER", "midtrans")
		t.Setenv("BOOKING_MIDTRANS_SERVER_KEY", "SB-Mid-server-xyz")
		t.Setenv("BOOKING_LOG_LEVEL", "debug")

		cfg, err := LoadFrom("")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 9090 || cfg.Store != StorePostgres || cfg.PostgresDSN != "postgres://localhost/booking" {
			t.Fatalf("unexpected config %+v", cfg)
		}
		if cfg.HoldWindow != 10*time.Minute || cfg.WaitlistOfferWindow != 2*time.Hour || !cfg.StrictConflicts || cfg.Location != time.UTC {
			t.Fatalf("unexpected config %+v", cfg)
		}
		if cfg.PaymentProvider != ProviderMidtrans || cfg.MidtransServerKey != "SB-Mid-server-xyz" || cfg.LogLevel != slog.LevelDebug {
			t.Fatalf("unexpected config %+v", cfg)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BOOKING_STORE", "mongo")
		t.Setenv("BOOKING_PAYMENT_PROVIDER", "midtrans")

		_, err := LoadFrom("")
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "必須の環境変数が設定されていません: BOOKING_MONGO_URI, BOOKING_MIDTRANS_SERVER_KEY"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("errors when values are invalid", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BOOKING_HTTP_PORT", "-1")
		t.Setenv("BOOKING_HOLD_WINDOW", "soon")
		t.Setenv("BOOKING_SWEEP_INTERVAL", "100ms")
		t.Setenv("BOOKING_STORE", "redis")

		_, err := LoadFrom("")
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		expected := "環境変数の値が不正です: BOOKING_HTTP_PORT, BOOKING_STORE, BOOKING_HOLD_WINDOW, BOOKING_SWEEP_INTERVAL"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})
}

func TestLoader_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BOOKING_HTTP_PORT=7070\nBOOKING_STORE=memory\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv does not override variables that are already present.
	t.Setenv("BOOKING_STORE", "sqlite")
	os.Unsetenv("BOOKING_HTTP_PORT")
	t.Cleanup(func() { os.Unsetenv("BOOKING_HTTP_PORT") })

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg.HTTPPort != 7070 {
		t.Fatalf("expected port from env file, got %d", cfg.HTTPPort)
	}
	if cfg.Store != StoreSQLite {
		t.Fatalf("environment should win over the file, got %q", cfg.Store)
	}

	if _, err := LoadFrom(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("a missing env file should be ignored, got %v", err)
	}
}

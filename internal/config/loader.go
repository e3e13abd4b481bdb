package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/example/training-booking/internal/logging"
)

// Store backends selectable through BOOKING_STORE.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Payment providers selectable through BOOKING_PAYMENT_PROVIDER.
const (
	ProviderFake     = "fake"
	ProviderMidtrans = "midtrans"
)

// Config captures environment driven configuration values for the booking service.
type Config struct {
	HTTPPort int

	Store         string
	SQLiteDSN     string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string

	HoldWindow          time.Duration
	SweepInterval       time.Duration
	MaxReserveAttempts  int
	StrictConflicts     bool
	ReportCacheTTL      time.Duration
	WaitlistOfferWindow time.Duration
	Location            *time.Location

	PaymentProvider    string
	MidtransServerKey  string
	MidtransProduction bool
	CheckoutBaseURL    string

	LogLevel slog.Level
}

// Load reads an optional .env file from the working directory and then parses
// the process environment. Variables already set in the environment win over
// the file.
func Load() (Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit env file path. A missing file is ignored.
func LoadFrom(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("環境ファイルを読み込めません: %s: %w", envFile, err)
		}
	}
	return parse()
}

func parse() (Config, error) {
	cfg := Config{
		HTTPPort:            8080,
		Store:               StoreSQLite,
		SQLiteDSN:           "file:booking.db",
		MongoDatabase:       "booking",
		HoldWindow:          30 * time.Minute,
		SweepInterval:       time.Minute,
		MaxReserveAttempts:  5,
		ReportCacheTTL:      30 * time.Second,
		WaitlistOfferWindow: 24 * time.Hour,
		PaymentProvider:     ProviderFake,
		CheckoutBaseURL:     "http://localhost:8080/checkout",
		LogLevel:            slog.LevelInfo,
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	if value := env("HTTP_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, key("HTTP_PORT"))
		} else {
			cfg.HTTPPort = port
		}
	}

	if value := strings.ToLower(env("STORE")); value != "" {
		switch value {
		case StoreMemory, StoreSQLite, StorePostgres, StoreMongo:
			cfg.Store = value
		default:
			invalid = append(invalid, key("STORE"))
		}
	}
	if dsn := env("SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}
	cfg.PostgresDSN = env("POSTGRES_DSN")
	cfg.MongoURI = env("MONGO_URI")
	if db := env("MONGO_DATABASE"); db != "" {
		cfg.MongoDatabase = db
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			missing = append(missing, key("POSTGRES_DSN"))
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, key("MONGO_URI"))
		}
	}

	durations := []struct {
		name   string
		target *time.Duration
	}{
		{"HOLD_WINDOW", &cfg.HoldWindow},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
		{"REPORT_CACHE_TTL", &cfg.ReportCacheTTL},
		{"WAITLIST_OFFER_WINDOW", &cfg.WaitlistOfferWindow},
	}
	for _, d := range durations {
		value := env(d.name)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, key(d.name))
			continue
		}
		*d.target = parsed
	}
	if cfg.SweepInterval < time.Second {
		invalid = append(invalid, key("SWEEP_INTERVAL"))
	}

	if value := env("MAX_RESERVE_ATTEMPTS"); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil || attempts <= 0 {
			invalid = append(invalid, key("MAX_RESERVE_ATTEMPTS"))
		} else {
			cfg.MaxReserveAttempts = attempts
		}
	}

	if value := env("STRICT_CONFLICTS"); value != "" {
		strict, err := strconv.ParseBool(value)
		if err != nil {
			invalid = append(invalid, key("STRICT_CONFLICTS"))
		} else {
			cfg.StrictConflicts = strict
		}
	}

	tz := env("TIMEZONE")
	if tz == "" {
		tz = "Asia/Tokyo"
	}
	if loc, err := time.LoadLocation(tz); err != nil {
		invalid = append(invalid, key("TIMEZONE"))
	} else {
		cfg.Location = loc
	}

	if value := strings.ToLower(env("PAYMENT_PROVIDER")); value != "" {
		switch value {
		case ProviderFake, ProviderMidtrans:
			cfg.PaymentProvider = value
		default:
			invalid = append(invalid, key("PAYMENT_PROVIDER"))
		}
	}
	cfg.MidtransServerKey = env("MIDTRANS_SERVER_KEY")
	if cfg.PaymentProvider == ProviderMidtrans && cfg.MidtransServerKey == "" {
		missing = append(missing, key("MIDTRANS_SERVER_KEY"))
	}
	if value := env("MIDTRANS_PRODUCTION"); value != "" {
		production, err := strconv.ParseBool(value)
		if err != nil {
			invalid = append(invalid, key("MIDTRANS_PRODUCTION"))
		} else {
			cfg.MidtransProduction = production
		}
	}
	if value := env("CHECKOUT_BASE_URL"); value != "" {
		cfg.CheckoutBaseURL = value
	}

	level, err := logging.ParseLevel(env("LOG_LEVEL"))
	if err != nil {
		invalid = append(invalid, key("LOG_LEVEL"))
	} else {
		cfg.LogLevel = level
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func key(name string) string {
	return "BOOKING_" + name
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(key(name)))
}

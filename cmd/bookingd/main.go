package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/training-booking/internal/application"
	"github.com/example/training-booking/internal/config"
	"github.com/example/training-booking/internal/events"
	"github.com/example/training-booking/internal/expiry"
	httptransport "github.com/example/training-booking/internal/http"
	"github.com/example/training-booking/internal/logging"
	"github.com/example/training-booking/internal/payment"
	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/persistence/memory"
	"github.com/example/training-booking/internal/persistence/mongostore"
	"github.com/example/training-booking/internal/persistence/postgres"
	"github.com/example/training-booking/internal/persistence/sqlite"
	"github.com/example/training-booking/internal/persistence/sqlite/migration"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("booking service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.sweeper.Start(); err != nil {
		return fmt.Errorf("start expiry sweeper: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking API listening",
		"addr", server.Addr,
		"store", cfg.Store,
		"payment_provider", cfg.PaymentProvider,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// app holds everything the process owns between startup and shutdown.
type app struct {
	handler  http.Handler
	services *application.Services
	store    persistence.Store
	hub      *events.Hub
	sweeper  *expiry.Sweeper
	stopHub  context.CancelFunc
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	gateway, serverKey, err := newGateway(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := events.NewHub(logger)
	go hub.Run(hubCtx)

	services := application.NewServices(application.Dependencies{
		Store:       store,
		Gateway:     gateway,
		Events:      events.NewBroadcaster(hub, logger),
		Logger:      logger,
		IDGenerator: uuid.NewString,
		Now:         time.Now,
	}, application.Config{
		HoldWindow:          cfg.HoldWindow,
		MaxReserveAttempts:  cfg.MaxReserveAttempts,
		StrictConflicts:     cfg.StrictConflicts,
		ReportCacheTTL:      cfg.ReportCacheTTL,
		WaitlistOfferWindow: cfg.WaitlistOfferWindow,
		Location:            cfg.Location,
	})

	sweeper := expiry.NewSweeper(services.Reconciliation, services.Schedules, cfg.SweepInterval, logger).
		WithOffers(services.Bookings)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Courses:   httptransport.NewCourseHandler(services.Catalog, logger),
		Schedules: httptransport.NewScheduleHandler(services.Schedules, logger),
		Bookings:  httptransport.NewBookingHandler(services.Bookings, services.Reconciliation, logger),
		Waitlist:  httptransport.NewWaitlistHandler(services.Bookings, logger),
		Payments:  httptransport.NewPaymentHandler(services.Reconciliation, serverKey, logger),
		Health:    httptransport.NewHealthHandler(store, hub.ClientCount, logger),
		Events:    httptransport.NewEventsHandler(hub, logger),
		Logger:    logger,
		Middleware: []mux.MiddlewareFunc{
			httptransport.RequestLogger(logger),
			httptransport.Recovery(logger),
		},
	})

	return &app{
		handler:  router,
		services: services,
		store:    store,
		hub:      hub,
		sweeper:  sweeper,
		stopHub:  stopHub,
		logger:   logger,
	}, nil
}

// Close stops background work and releases the store.
func (a *app) Close() {
	a.sweeper.Stop()
	a.stopHub()
	<-a.hub.Done()
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		store, err := sqlite.Open(migration.DefaultSQLiteConfig(cfg.SQLiteDSN), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StorePostgres:
		store, err := postgres.Open(postgres.Config{DSN: cfg.PostgresDSN}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.StoreMongo:
		store, err := mongostore.Open(ctx, mongostore.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}, logger)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// newGateway returns the checkout gateway and the key used to verify
// provider notifications. The fake provider has no notification key.
func newGateway(cfg config.Config) (application.PaymentGateway, string, error) {
	switch cfg.PaymentProvider {
	case config.ProviderMidtrans:
		gateway, err := payment.NewMidtransGateway(cfg.MidtransServerKey, cfg.MidtransProduction)
		if err != nil {
			return nil, "", fmt.Errorf("configure midtrans: %w", err)
		}
		return gateway, gateway.ServerKey(), nil
	case config.ProviderFake, "":
		return payment.NewFakeGateway(cfg.CheckoutBaseURL), "", nil
	default:
		return nil, "", fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}

package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/config"
	httpapi "github.com/example/roadside-dispatch/internal/http"
	"github.com/example/roadside-dispatch/internal/identity"
	"github.com/example/roadside-dispatch/internal/ingest"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/otp"
	"github.com/example/roadside-dispatch/internal/payments"
	"github.com/example/roadside-dispatch/internal/storage"
	"github.com/example/roadside-dispatch/internal/tracker"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.RequestStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN, cfg.MigrationsDir); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "dir", cfg.MigrationsDir)
		}
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("using postgres request store")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN not set, using in-memory request store")
	}

	var gate identity.Gate = identity.AllowAll{}
	var otpStore otp.Store = otp.NewMemoryStore(cfg.OTPTTL)
	if cfg.RedisAddr != "" {
		gate = identity.NewRedisGate(cfg.RedisAddr, cfg.RedisPassword)
		otpStore = otp.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.OTPTTL)
		logger.Info("using redis for eligibility and otp", "addr", cfg.RedisAddr)
	}

	wsReg := notify.NewWSRegistry(logger)

	trk := tracker.New(store, logger)
	trk.Watchers = wsReg
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		trk.Publisher = producer
		logger.Info("publishing location reports", "topic", cfg.KafkaTopic)
	}

	engine := lifecycle.NewEngine(store, logger)
	srv := httpapi.NewServer(engine, trk, store, gate, otpStore, wsReg, logger)
	if cfg.WebhookEndpoint != "" {
		srv.Webhook = notify.NewWebhookNotifier(cfg.WebhookEndpoint, logger)
	}
	if cfg.StripeEnabled {
		srv.Payments = payments.NewStripeClient()
		srv.CalloutFeeCents = cfg.CalloutFeeCents
		srv.FeeCurrency = cfg.FeeCurrency
		logger.Info("callout fee holds enabled", "amount_cents", cfg.CalloutFeeCents, "currency", cfg.FeeCurrency)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("roadside-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn, dir string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

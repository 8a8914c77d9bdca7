package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/geo"
	httpapi "github.com/example/delivery-dispatch/internal/http"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/ledger"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/presence"
	"github.com/example/delivery-dispatch/internal/registry"
	"github.com/example/delivery-dispatch/internal/router"
	"github.com/example/delivery-dispatch/internal/storage"
	"github.com/example/delivery-dispatch/internal/synth"
)

func main() {
	cfg, err := config.LoadServerConfig()
	log := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && strings.EqualFold(os.Getenv("MIGRATE"), "true") {
		runMigrations(cfg.PGDSN, log)
	}

	var mirror geo.Mirror
	if cfg.RedisAddr != "" {
		mirror = geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	}

	var store storage.DeliveryStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Warn("postgres unavailable, falling back to memory store", "error", err)
		} else {
			store = ps
			defer ps.Close()
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var events router.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		events = kp
	}

	reg := registry.New(logging.Component(log, "registry"))
	tracker := presence.NewTracker(logging.Component(log, "presence"), mirror)
	led := ledger.New(logging.Component(log, "ledger"), httpapi.RegistrySink{Reg: reg}, store, ledger.Config{
		MaxOfferStagger:  cfg.MaxOfferStagger,
		ProgressInterval: cfg.ProgressInterval,
	})
	defer led.Close()

	rt := router.New(reg, tracker, led, events, logging.Component(log, "router"))
	gen := synth.NewGenerator(int64(os.Getpid()))
	srv := httpapi.NewServer(cfg, log, reg, tracker, led, rt, gen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("dispatch server listening", "addr", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// runMigrations applies migrations/001_create_deliveries.sql when requested.
func runMigrations(dsn string, log *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_deliveries.sql"))
	if err != nil {
		log.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Error("migration exec error", "error", err)
		return
	}
	log.Info("migration applied", "file", "001_create_deliveries.sql")
}

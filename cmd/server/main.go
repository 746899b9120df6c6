package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	httpadapter "secmap/internal/adapters/http"
	pg "secmap/internal/adapters/postgres"
	"secmap/internal/cache"
	"secmap/internal/config"
	"secmap/internal/services/orgreport"
	rebuildsvc "secmap/internal/services/rebuild"
	"secmap/internal/services/urlreport"
	"secmap/internal/workers/rebuildrunner"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Warn("config", zap.Error(err))
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required for Postgres adapters")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	clock := clockwork.NewRealClock()
	flags := cache.NewFlags(db, cfg.FlagCacheTTL, clock)

	urlRollup := urlreport.New(db, db, db, flags, clock, log)
	orgSnaps := pg.OrgSnapshotStore{DB: db}
	orgRollup := orgreport.New(db, db, orgSnaps, log)
	rebuilder := rebuildsvc.New(db, db, db)

	processor := rebuildrunner.OrgProcessor{
		Orgs:      db,
		URLRollup: urlRollup,
		OrgRollup: orgRollup,
		Clock:     clock,
		Log:       log,
	}

	if cfg.RebuildWorkers > 0 {
		rebuildrunner.Run(ctx, db, processor, cfg.RebuildWorkers, 500*time.Millisecond, log)
		log.Info("rebuild workers started", zap.Int("count", cfg.RebuildWorkers))
	}

	srv := httpadapter.New(rebuilder, db, orgSnaps, db, processor, clock, log)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	errCh := make(chan error, 1)
	go func() { errCh <- http.ListenAndServe(cfg.ListenAddr, r) }()
	log.Info("listening", zap.String("addr", cfg.ListenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.Stringer("signal", sig))
		cancel()
		time.Sleep(300 * time.Millisecond)
	case err := <-errCh:
		log.Fatal("server error", zap.Error(err))
	}
}

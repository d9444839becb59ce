package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/PortNumber53/lexgo-payments/backend/internal/claims"
	"github.com/PortNumber53/lexgo-payments/backend/internal/config"
	"github.com/PortNumber53/lexgo-payments/backend/internal/entitlements"
	"github.com/PortNumber53/lexgo-payments/backend/internal/httpserver"
	"github.com/PortNumber53/lexgo-payments/backend/internal/metrics"
	"github.com/PortNumber53/lexgo-payments/backend/internal/migrations"
	"github.com/PortNumber53/lexgo-payments/backend/internal/payments"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
	"github.com/PortNumber53/lexgo-payments/backend/internal/simplepay"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
	"github.com/PortNumber53/lexgo-payments/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logDBTarget("primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatalf("failed to apply database migrations: %v", err)
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		log.Fatalf("failed to create job store: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	manager, err := entitlements.NewManager(st, m)
	if err != nil {
		log.Fatalf("failed to create entitlement manager: %v", err)
	}

	if !cfg.SimplePay.Configured() {
		log.Printf("[simplepay] merchant credentials missing; payment calls will be rejected")
	}
	svc, err := payments.NewService(payments.Deps{
		Catalog:      plans.Default(),
		Gateway:      simplepay.NewClient(cfg.SimplePay),
		Payments:     st,
		Users:        st,
		Entitlements: manager,
		Config:       cfg,
		Metrics:      m,
	})
	if err != nil {
		log.Fatalf("failed to create payment service: %v", err)
	}

	jobWorker := worker.New(worker.DefaultConfig(), jobStore, nil)
	jobWorker.SetInstrumentation(worker.RecorderInstrumentation(m))
	worker.RegisterEntitlementJobs(jobWorker, st, manager, jobStore, time.Now)
	scheduler := worker.NewScheduler(jobWorker, jobStore,
		worker.Schedule{JobType: worker.JobExpirySweep, Every: cfg.ExpirySweepInterval},
		worker.Schedule{JobType: worker.JobCleanup, Every: 24 * time.Hour, Priority: "low"},
	)

	deps := httpserver.Deps{
		Payments:  svc,
		Jobs:      jobStore,
		Worker:    jobWorker,
		Scheduler: scheduler,
		Observer:  m,
		Gatherer:  reg,
	}
	if cfg.JWTSecret != "" {
		issuer, err := claims.NewIssuer(cfg.JWTSecret, cfg.ClaimTokenTTL)
		if err != nil {
			log.Fatalf("failed to create claims issuer: %v", err)
		}
		deps.Issuer = issuer
		deps.Claims = st
		deps.Admin = manager
	}

	srv := httpserver.New(cfg, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("backend starting on %s (simplepay env=%s)", cfg.ServerAddress, cfg.SimplePay.Env)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server exited with error: %v", err)
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	if err := migrations.Up(db); err != nil {
		log.Printf("migrations(%s): error detected: %v (type: %T)", name, err, err)
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Printf("migrations(%s): dirty database detected, attempting to fix...", name)
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Printf("migrations(%s): failed to fix dirty database: %v", name, fixErr)
				return err
			}
			return migrations.Up(db)
		}
		return err
	}
	return nil
}

func logDBTarget(name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Printf("db(%s): configured (dsn parse error: %v)", name, err)
		return
	}
	log.Printf("db(%s): host=%s db=%s", name, u.Hostname(), strings.TrimPrefix(u.Path, "/"))
}

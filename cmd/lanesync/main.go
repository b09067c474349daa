package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/LaneSync/internal/adapter/cache"
	lshttp "github.com/Strob0t/LaneSync/internal/adapter/http"
	lsnats "github.com/Strob0t/LaneSync/internal/adapter/nats"
	"github.com/Strob0t/LaneSync/internal/adapter/otel"
	"github.com/Strob0t/LaneSync/internal/adapter/postgres"
	"github.com/Strob0t/LaneSync/internal/config"
	"github.com/Strob0t/LaneSync/internal/logger"
	"github.com/Strob0t/LaneSync/internal/middleware"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
	"github.com/Strob0t/LaneSync/internal/resilience"
	"github.com/Strob0t/LaneSync/internal/secrets"
	"github.com/Strob0t/LaneSync/internal/service"
)

// Imports and syncs run inside the request, so the timeout is generous.
const requestTimeout = 5 * time.Minute

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return serve()
	case "migrate":
		return runMigrate(args)
	case "admin":
		return runAdmin(args)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: lanesync [command]

Commands:
  serve                    Run the HTTP API (default)
  migrate [up|down|version]
                           Apply, roll back or show schema migrations
  admin <command>          Operator commands, see "lanesync admin help"
`)
}

// keyLoader reads the sealing keys from the environment on every call so a
// SIGHUP picks up rotated keys.
func keyLoader(cfg *config.Config) secrets.Loader {
	return func() (string, []string, error) {
		c := config.ReloadCrypto(cfg)
		return c.EncryptionKey, c.PreviousKeys, nil
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"max_parallel_runs", cfg.Sync.MaxParallelRuns,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	bus, err := lsnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := bus.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}()

	cacheKV, err := bus.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("cache bucket: %w", err)
	}
	idemKV, err := bus.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	l1, err := cache.NewMemory(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	keyring, err := secrets.NewKeyring(keyLoader(cfg))
	if err != nil {
		return fmt.Errorf("keyring: %w", err)
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	breakers := resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, tracker.IsClientError)
	wip := service.NewWIPCache(cache.NewTiered(l1, cache.NewBucket(cacheKV), cfg.Cache.TTL), cfg.Cache.TTL)

	boardSvc := service.NewBoardService(store, bus, wip, metrics)
	connSvc := service.NewConnectionService(store, keyring, cfg.Sync, breakers)
	syncSvc := service.NewSyncService(store, store, connSvc, bus, wip, metrics, cfg.Sync)
	webhookSvc := service.NewWebhookService(store, store, boardSvc, bus, metrics)

	if _, err := syncSvc.AbandonStale(ctx); err != nil {
		slog.Warn("abandon stale runs failed", "error", err)
	}
	syncSvc.StartStaleSweep(ctx, service.StaleSweepInterval(cfg.Sync.StaleRunAfter))

	// Invalidate cached WIP reports on board events from any replica.
	cancelWIP, err := wip.Subscribe(ctx, bus)
	if err != nil {
		return fmt.Errorf("wip subscriber: %w", err)
	}
	defer cancelWIP()

	go reloadKeysOnHUP(ctx, keyring)

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Webhook.RateLimit, cfg.Webhook.Burst, lshttp.WebhookRateKey)
	limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)

	handlers := &lshttp.Handlers{
		Boards:      boardSvc,
		Connections: connSvc,
		Sync:        syncSvc,
		Webhooks:    webhookSvc,
		BodyLimit:   cfg.Server.BodyLimit,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(lshttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(lshttp.SecurityHeaders)
	r.Use(lshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/health", healthHandler(pool, bus))

	lshttp.MountRoutes(r, handlers, lshttp.RouteMiddleware{
		Idempotency: middleware.Idempotency(idemKV),
		WebhookRate: limiter.Handler,
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      requestTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// reloadKeysOnHUP re-reads the sealing keys on SIGHUP. A failed reload keeps
// the current keys.
func reloadKeysOnHUP(ctx context.Context, keyring *secrets.Keyring) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := keyring.Reload(); err != nil {
				slog.Error("sealing key reload failed", "error", err)
				continue
			}
			slog.Info("sealing keys reloaded")
		}
	}
}

// healthHandler reports whether Postgres and NATS are reachable.
func healthHandler(pool *pgxpool.Pool, bus *lsnats.Bus) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok"}
		code := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			status.Status, status.Postgres, code = "degraded", "unreachable", http.StatusServiceUnavailable
		}
		if !bus.IsConnected() {
			status.Status, status.NATS, code = "degraded", "disconnected", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// runMigrate handles "lanesync migrate [up|down|version]".
func runMigrate(args []string) error {
	action := "up"
	if len(args) > 0 {
		action, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := context.Background()

	switch action {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "migrations applied")
	case "down":
		fs := flag.NewFlagSet("migrate down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "rolled back %d migration(s)\n", *steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		return fmt.Errorf("unknown migrate action: %s", action)
	}
	return nil
}

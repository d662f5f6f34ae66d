package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/warden/internal/api"
	"github.com/MGallo-Code/warden/internal/auth"
	"github.com/MGallo-Code/warden/internal/config"
	"github.com/MGallo-Code/warden/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// sweepInterval is how often expired KV rows and idle throttle buckets are dropped.
const sweepInterval = time.Minute

func main() {
	// .env is optional; real env vars always win.
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// sweeper is a KV backend that needs expired rows removed periodically.
// Redis expires keys itself and does not implement it.
type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Postgres backs the user store, the KV store, or both.
	var ps *store.PostgresStore
	if cfg.UserStore == config.UserStorePostgres || cfg.StorageBackend == config.BackendPostgres {
		var err error
		ps, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to set up postgres store: %w", err)
		}
		defer ps.Close()

		migrationsFS, err := fs.Sub(migrationsDir, "migrations")
		if err != nil {
			return fmt.Errorf("failed to access embedded migrations: %w", err)
		}
		n, err := ps.Migrate(ctx, migrationsFS)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("migrations complete", "applied", n)
	}

	var users api.UserStore
	if cfg.UserStore == config.UserStorePostgres {
		users = ps
	} else {
		slog.Warn("using in-memory user store; users are lost on restart")
		users = store.NewMemoryUsers(nil)
	}

	kv, closeKV, err := openKV(ctx, cfg, ps)
	if err != nil {
		return err
	}
	defer closeKV()

	logger := slog.Default()
	coord := &auth.Coordinator{
		Hasher: auth.NewHasher(cfg.PBKDF2Iterations, auth.WithLogger(logger)),
		Attempts: auth.NewAttemptTracker(kv, auth.LockoutPolicy{
			MaxAttempts: cfg.LockoutMaxAttempts,
			Duration:    cfg.LockoutDuration,
		}, auth.WithLogger(logger)),
		Sessions: auth.NewSessionManager(kv, auth.SessionPolicy{
			AbsoluteTimeout:   cfg.SessionAbsoluteTTL,
			InactivityTimeout: cfg.SessionInactivityTTL,
		}, auth.WithLogger(logger)),
		Updater: api.NewCredentialUpdater(users),
		Log:     logger,
	}

	if cfg.BootstrapAdminEmail != "" {
		if err := bootstrapAdmin(ctx, users, coord.Hasher, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
	}

	h := &api.Handler{Users: users, KV: kv, Auth: coord, CookieSecure: cfg.CookieSecure}
	limiter := api.NewIPLimiter(cfg.RateLoginPerSecond, cfg.RateLoginBurst, nil)

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h, limiter, cfg.TrustProxyHeaders)}

	// Cleanup goroutine; drops expired KV rows and idle throttle buckets.
	// Cancelled via cleanupCtx when run() returns.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go func() {
		sw, _ := kv.(sweeper)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if sw != nil {
					n, err := sw.Sweep(cleanupCtx)
					if err != nil {
						slog.Warn("kv sweep failed", "error", err)
					} else if n > 0 {
						slog.Debug("kv sweep complete", "deleted", n)
					}
				}
				limiter.Sweep(10 * time.Minute)
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("warden listening",
			"addr", ln.Addr().String(),
			"storage", cfg.StorageBackend,
			"users", cfg.UserStore)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting, then waits for in-flight requests until the timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// openKV builds the session and lockout store named by cfg.StorageBackend.
// The returned close func is always safe to call.
func openKV(ctx context.Context, cfg *config.Config, ps *store.PostgresStore) (store.KV, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up redis client: %w", err)
		}
		return store.NewRedisKV(rdb, "warden:"), func() { rdb.Close() }, nil
	case config.BackendPostgres:
		return ps.KV(nil), func() {}, nil
	case config.BackendSQLite:
		s, err := store.OpenSQLiteKV(ctx, cfg.SQLitePath, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		slog.Warn("using in-memory session storage; sessions and lockouts are lost on restart")
		return store.NewMemoryKV(nil), func() {}, nil
	}
}

// bootstrapAdmin creates an admin account for email unless one already exists.
func bootstrapAdmin(ctx context.Context, users api.UserStore, hasher *auth.Hasher, email, password string) error {
	email = auth.NormalizeIdentifier(email)
	_, err := users.GetUserByIdentifier(ctx, email)
	if err == nil {
		slog.Info("bootstrap admin already exists")
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if report := auth.ValidateStrength(password); !report.Valid {
		return fmt.Errorf("bootstrap admin password rejected: %v", report.Violations)
	}
	hc, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	u := &store.User{
		ID:         id,
		Email:      email,
		Role:       store.RoleAdmin,
		Credential: hc.Encode(),
		Active:     true,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return err
	}
	slog.Info("bootstrap admin created", "user_id", id)
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and smoke tests.
// trustProxy lets X-Forwarded-For / X-Real-IP replace RemoteAddr; only set it
// when a proxy in front strips client-supplied copies of those headers.
func buildRouter(h *api.Handler, limiter *api.IPLimiter, trustProxy bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h.Mount(r, limiter)
	return r
}

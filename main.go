package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/taskauth/internal/auth"
	cfg "github.com/example/taskauth/internal/config"
	applog "github.com/example/taskauth/internal/logger"
	"github.com/example/taskauth/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const serviceName = "taskauth"

type App struct {
	Auth        *auth.Manager
	Store       auth.Store
	Logger      *slog.Logger
	CORSOrigins []string
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("write json", "error", err)
	}
}

// newRouter builds the full handler tree. CORS wraps the router so
// preflight requests are answered for any path.
func newRouter(app *App) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	r.Use(app.Recovery)
	r.Use(app.RequestID)
	r.Use(SecurityHeaders)
	r.Use(app.Logging)
	r.Use(Metrics)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.Store.Ping(ctx); err != nil {
			app.Logger.WarnContext(ctx, "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	requireAdmin := func(h http.HandlerFunc) http.Handler {
		return app.RequireAuth(RequireRole(auth.RoleAdmin)(h))
	}

	// Auth routes are registered on r directly for each prefix. Subrouters
	// sharing a prefix matcher lose mux's 405 on a method mismatch.
	for _, prefix := range []string{"/api/auth", "/api/v1/auth"} {
		r.HandleFunc(prefix+"/register", app.HandleRegister).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/login", app.HandleLogin).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/refresh", app.HandleRefresh).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/logout", app.HandleLogout).Methods(http.MethodPost)
		r.Handle(prefix+"/me", app.RequireAuth(http.HandlerFunc(app.HandleMe))).Methods(http.MethodGet)
		r.Handle(prefix+"/verify", app.RequireAuth(http.HandlerFunc(app.HandleVerify))).Methods(http.MethodGet)
		r.Handle(prefix+"/revoke", requireAdmin(app.HandleRevokeToken)).Methods(http.MethodPost)
		r.Handle(prefix+"/introspect", requireAdmin(app.HandleTokenIntrospect)).Methods(http.MethodPost)
	}

	r.Handle("/api/users/{id:[0-9]+}/status", requireAdmin(app.HandleSetUserStatus)).Methods(http.MethodPatch)
	r.Handle("/api/admin/blacklist/cleanup", requireAdmin(app.HandleBlacklistCleanup)).Methods(http.MethodPost)

	return app.CORS(r)
}

func openStore(ctx context.Context, c *cfg.Config, logger *slog.Logger) (auth.Store, error) {
	var st auth.Store
	switch c.DBAdapter {
	case "sqlite":
		s, err := store.NewSQLiteDB(c.SQLiteFile, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		st = s
		logger.Info("using sqlite store", "path", c.SQLiteFile)
	case "postgres":
		p, err := store.NewPostgresDB(ctx, c.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		st = p
		logger.Info("connected to PostgreSQL database")
	case "memory":
		logger.Warn("using in-memory store (not recommended for production)")
		st = store.NewMemoryDB()
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s", c.DBAdapter)
	}

	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = st.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st = store.NewLayered(st, store.NewRedisBlacklist(client))
		logger.Info("token blacklist backed by redis", "addr", c.RedisAddr)
	}
	return st, nil
}

func main() {
	c, err := cfg.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := applog.New(serviceName, c.LogLevel)
	slog.SetDefault(logger)

	if err := run(c, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(c *cfg.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, c, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	codec, err := auth.NewCodec(auth.TokenConfig{
		Secret:     c.JwtSecret,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
		Issuer:     c.JwtIssuer,
		Audience:   c.JwtAudience,
	})
	if err != nil {
		return err
	}
	manager, err := auth.NewManager(st, codec, auth.WithLogger(logger), auth.WithBcryptCost(c.BcryptCost))
	if err != nil {
		return err
	}
	if !c.IsProduction() && c.JwtSecret == cfg.DefaultJWTSecret {
		logger.Warn("JWT_SECRET is the development default; set it before deploying")
	}

	app := &App{Auth: manager, Store: st, Logger: logger, CORSOrigins: c.CORSAllowedOrigins}
	srv := &http.Server{
		Handler:      newRouter(app),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go runBlacklistSweeper(ctx, manager, c.BlacklistSweepEvery, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", c.Port, "environment", c.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("server exited properly")
	return nil
}

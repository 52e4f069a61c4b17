package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/plecsi/reactom/internal/auth/service"
	"github.com/plecsi/reactom/internal/auth/store/lockout"
	refreshtoken "github.com/plecsi/reactom/internal/auth/store/refresh-token"
	userstore "github.com/plecsi/reactom/internal/auth/store/user"
	"github.com/plecsi/reactom/internal/auth/totp"
	jwttoken "github.com/plecsi/reactom/internal/jwt_token"
	"github.com/plecsi/reactom/internal/platform/config"
	"github.com/plecsi/reactom/internal/platform/httpserver"
	"github.com/plecsi/reactom/internal/platform/logger"
	"github.com/plecsi/reactom/internal/platform/metrics"
	"github.com/plecsi/reactom/internal/platform/redis"
	httptransport "github.com/plecsi/reactom/internal/transport/http"
	domainerrors "github.com/plecsi/reactom/pkg/domain-errors"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	users, err := buildUserStore(cfg, log)
	if err != nil {
		log.Error("user store init failed", "error", err)
		os.Exit(1)
	}
	refresh, closeRefresh, err := buildRefreshStore(cfg, log)
	if err != nil {
		log.Error("refresh store init failed", "error", err)
		os.Exit(1)
	}
	defer closeRefresh()

	tokens := jwttoken.NewService(
		cfg.Token.AccessSigningKey,
		cfg.Token.RefreshSigningKey,
		cfg.Token.AccessTTL,
		cfg.Token.RefreshTTL,
		cfg.Token.Issuer,
	)

	svc := service.New(
		users,
		refresh,
		tokens,
		totp.NewManager(cfg.TOTP.Issuer),
		lockout.New(cfg.Lockout.MaxFailures, cfg.Lockout.Cooldown),
		log,
		cfg.TOTP.Skew,
	)

	if cfg.Server.SeedDevUser {
		seedDevUser(svc, log)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	handler := httptransport.NewAuthHandler(svc, tokens, tokens, refresh, httptransport.CookiePolicy{
		Secure:     cfg.Cookie.Secure,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
	}, log, m)

	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, log, m))

	log.Info("starting reactom gateway", "addr", cfg.Server.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// buildUserStore picks Postgres when a DSN is configured, otherwise the
// in-memory store.
func buildUserStore(cfg config.Config, log *slog.Logger) (service.UserStore, error) {
	if cfg.Postgres.DSN == "" {
		log.Info("user store: in-memory")
		return userstore.NewMemory(), nil
	}
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	log.Info("user store: postgres")
	return userstore.NewPostgres(db), nil
}

// buildRefreshStore picks Redis when a URL is configured, otherwise the
// in-memory store. The returned closer releases the Redis connection.
func buildRefreshStore(cfg config.Config, log *slog.Logger) (service.RefreshTokenStore, func(), error) {
	client, err := redis.New(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.Info("refresh store: in-memory")
		return refreshtoken.NewMemory(), func() {}, nil
	}
	log.Info("refresh store: redis")
	return refreshtoken.NewRedis(client.Client), func() { _ = client.Close() }, nil
}

// seedDevUser creates the development account unless it already exists.
func seedDevUser(svc *service.Service, log *slog.Logger) {
	_, err := svc.Register(context.Background(), "plecsi", "Plecsi", "kecske")
	switch {
	case err == nil:
		log.Info("seeded dev user", "username", "plecsi")
	case domainerrors.CodeOf(err) == domainerrors.CodeConflict:
		log.Info("dev user already present", "username", "plecsi")
	default:
		log.Info("dev user seed failed", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"boutique/terminal/internal/backend"
	"boutique/terminal/internal/cache"
	"boutique/terminal/internal/catalog"
	"boutique/terminal/internal/config"
	"boutique/terminal/internal/httpapi"
	"boutique/terminal/internal/logger"
	"boutique/terminal/internal/pricing"
	"boutique/terminal/internal/service"
	"boutique/terminal/internal/store"
	"boutique/terminal/internal/store/memory"
	pgstore "boutique/terminal/internal/store/postgres"
	sqlitestore "boutique/terminal/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	root := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel})
	log := logger.Component(root, "main")
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("repository unavailable")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var drafts store.DraftStorage
	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DraftTTL)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, drafts stay in the repository")
			_ = redisCache.Close()
		} else {
			drafts = redisCache
			catalogCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}

	client := backend.New(cfg.BackendURL, cfg.DeviceSerial, cfg.BackendTimeout, root)
	loader := catalog.NewLoader(client, catalogCache, repo, cfg.CatalogTTL, root)
	svc := service.New(repo, drafts, client, loader, service.Options{
		DeviceSerial: cfg.DeviceSerial,
		HistoryLimit: cfg.HistoryLimit,
		Calculator:   pricing.New(cfg.BaseCurrency, cfg.DefaultExchangeRate),
		Logger:       root,
	})
	api := httpapi.New(svc, cfg.AllowedOrigin, root)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.BackendTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("backend", cfg.BackendURL).Msg("terminal listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	svc.CloseDrafts(shutdownCtx)

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("terminal stopped")
}

// openRepository picks postgres when DATABASE_URL is set and the device-local
// sqlite file otherwise. SQLITE_PATH=":memory:" selects the seeded in-memory
// store.
func openRepository(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		log.Info().Msg("repository: postgres")
		return pg, pg.Close, nil
	}

	if cfg.SQLitePath == ":memory:" {
		log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	local, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
	}
	log.Info().Str("path", cfg.SQLitePath).Msg("repository: sqlite")
	return local, local.Close, nil
}

func validateConfig(cfg config.Config) error {
	u, err := url.Parse(cfg.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", cfg.BackendURL)
	}
	if strings.ToLower(cfg.Env) == "production" {
		if cfg.DeviceSerial == "" {
			return errors.New("DEVICE_SERIAL must be set in production")
		}
		if cfg.AllowedOrigin == "*" {
			return errors.New("ALLOWED_ORIGIN must not be * in production")
		}
	}
	if cfg.BaseCurrency == "" {
		return errors.New("BASE_CURRENCY must be set")
	}
	return nil
}

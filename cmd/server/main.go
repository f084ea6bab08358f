package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/lunch_list/internal/audit"
	"github.com/Skotchmaster/lunch_list/internal/config"
	"github.com/Skotchmaster/lunch_list/internal/hash"
	"github.com/Skotchmaster/lunch_list/internal/httpserver"
	"github.com/Skotchmaster/lunch_list/internal/logging"
	"github.com/Skotchmaster/lunch_list/internal/mykafka"
	"github.com/Skotchmaster/lunch_list/internal/obs"
	"github.com/Skotchmaster/lunch_list/internal/repo"
	"github.com/Skotchmaster/lunch_list/internal/service"
	"github.com/Skotchmaster/lunch_list/internal/tokens"
)

type eventSink interface {
	service.EventPublisher
	Close() error
}

func main() {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelRT, err := obs.SetupOTel(ctx, cfg.OTEL)
	if err != nil {
		return err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis},
		PoolSize: cfg.RedisPoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return errors.Join(errors.New("redis unreachable"), err)
	}

	store := repo.New(rdb, cfg.RefreshTTL)
	tm := tokens.NewManager([]byte(cfg.Secret), cfg.AccessTTL, cfg.RefreshTTL)

	svc := &service.AuthService{
		Users:         store,
		Sessions:      store,
		Hasher:        hash.New(hash.DefaultParams),
		Tokens:        tm,
		SignupSecret:  cfg.SignupSecret,
		MaxFailures:   cfg.LoginMaxFailures,
		FailureWindow: cfg.LoginFailureWindow,
	}

	var events eventSink = mykafka.Nop{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		events = mykafka.NewProducer(brokers, cfg.KafkaTopic, log)
		log.Info("auth events enabled", "brokers", brokers, "topic", cfg.KafkaTopic)
	}
	svc.Events = events

	var attempts *audit.Store
	if cfg.DatabaseURL != "" {
		db, err := audit.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		attempts = audit.NewStore(db)
		if err := attempts.Migrate(ctx); err != nil {
			return err
		}
		svc.Attempts = attempts
		log.Info("login audit enabled", "max_failures", cfg.LoginMaxFailures, "window", cfg.LoginFailureWindow)
	}

	e := httpserver.New(log, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: svc, CookieSecure: cfg.CookieSecure},
		Verifier:    tm,
		Ready:       store.Ping,
		StaticDir:   cfg.StaticDir,
		TrustProxy:  cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      obs.WrapHandler(e, "lunch-list"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := events.Close(); err != nil {
		log.Error("kafka close error", "error", err)
	}
	if attempts != nil {
		if err := audit.Close(attempts.DB); err != nil {
			log.Error("db close error", "error", err)
		}
	}
	if err := rdb.Close(); err != nil {
		log.Error("redis close error", "error", err)
	}
	if err := otelRT.Shutdown(shutdownCtx); err != nil {
		log.Error("otel shutdown error", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}

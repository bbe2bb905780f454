package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"keyward/internal/identity"
	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/internal/keyring/store"
	"keyward/internal/notify"
	"keyward/internal/platform/config"
	"keyward/internal/platform/httpserver"
	"keyward/internal/platform/logger"
	platformredis "keyward/internal/platform/redis"
	"keyward/internal/prefstore"
	"keyward/internal/registry"
	"keyward/internal/search"
	"keyward/internal/searchlist"
	httptransport "keyward/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	provider, cleanup, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("backend %q: %w", cfg.Backend, err)
	}
	defer cleanup()

	storage, err := searchlist.NewFileStorage(cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("search list storage: %w", err)
	}
	prefs, err := prefstore.NewFileStore(cfg.PrefsDir)
	if err != nil {
		return fmt.Errorf("preference storage: %w", err)
	}

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	privileged := os.Geteuid() == 0

	reg := registry.New(log, registry.NewMetrics(), provider)
	manager := search.NewManager(log, search.NewMetrics(), reg, storage, notifier, search.Config{
		Domain:           startingDomain(privileged),
		LoginStore:       models.Identifier{Provider: provider.Tag(), Path: cfg.LoginStorePath},
		LegacyLoginStore: models.Identifier{Provider: provider.Tag(), Path: cfg.LegacyLoginStorePath},
	})
	resolver := identity.NewResolver(log, manager, notifier, nil)
	system := identity.NewSystemIdentities(log, prefs, reg,
		models.Identifier{Provider: provider.Tag(), Path: cfg.SystemStorePath},
		func(context.Context) bool { return privileged })

	handler := httptransport.New(manager, resolver, system, log, httptransport.NewMetrics())
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, log))

	log.Info("starting keyward", "addr", cfg.Addr, "backend", cfg.Backend)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// startingDomain picks the initial search domain: privileged processes
// operate on the system domain, everyone else on the user domain.
func startingDomain(privileged bool) searchlist.Domain {
	if privileged {
		return searchlist.DomainSystem
	}
	return searchlist.DomainUser
}

// buildProvider selects the keyring backend. The returned cleanup closes any
// underlying connection and is safe to call once.
func buildProvider(cfg config.Server) (keyring.Provider, func(), error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryProvider(), func() {}, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store.NewPostgresProvider(db), func() { db.Close() }, nil
	case "redis":
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, fmt.Errorf("redis backend selected but REDIS_URL is empty")
		}
		return store.NewRedisProvider(client.Client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend")
	}
}

// buildNotifier fans change events out to in-process subscribers and, when
// brokers are configured, to Kafka.
func buildNotifier(cfg config.Server, log *slog.Logger) (notify.Notifier, error) {
	inproc := notify.NewInProcess()
	if len(cfg.Kafka.Brokers) == 0 {
		return inproc, nil
	}
	kafka, err := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, notify.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return notify.Multi{inproc, kafka}, nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"makercalc/internal/config"
	"makercalc/internal/db"
	"makercalc/internal/db/mock"
	applog "makercalc/internal/log"
	"makercalc/internal/metrics"
	"makercalc/internal/plans"
	"makercalc/internal/quota"
	"makercalc/internal/scheduler"
	"makercalc/internal/server"
	"makercalc/internal/service"
	"makercalc/internal/storage"
)

const shutdownTimeout = 15 * time.Second

type serverLifecycle interface {
	Start() error
	Stop() error
}

var (
	loadConfigFunc      = config.Load
	setLogLevelFunc     = applog.SetLevel
	newMockDatabaseFunc = mock.New
	configureDatabase   = db.Configure
	newServerFunc       = func(cfg server.Config) (serverLifecycle, error) {
		return server.New(cfg)
	}
	subscribeShutdownSig = func() (<-chan os.Signal, func()) {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		return ch, func() { signal.Stop(ch) }
	}
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	cfg, err := loadConfigFunc()
	if err != nil {
		applog.Error(ctx, "failed to load configuration", "error", err)
		return 1
	}

	if err := setLogLevelFunc(cfg.Logging.Level); err != nil {
		applog.Error(ctx, "invalid log level", "level", cfg.Logging.Level, "error", err)
		return 1
	}

	var database *gorm.DB
	if cfg.Database.UseMock {
		applog.Info(ctx, "using in-memory mock database")
		database, err = newMockDatabaseFunc(ctx)
	} else {
		database, err = configureDatabase(cfg.Database)
	}
	if err != nil {
		applog.Error(ctx, "failed to configure database", "error", err)
		return 1
	}

	catalog, err := plans.Load(cfg.Plans.File)
	if err != nil {
		applog.Error(ctx, "failed to load plan limits", "file", cfg.Plans.File, "error", err)
		return 1
	}

	locker, closeLocker := newLocker(ctx, cfg.Redis)
	defer closeLocker()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		applog.Error(ctx, "failed to open attachment storage", "driver", cfg.Storage.Driver, "error", err)
		return 1
	}

	m := metrics.New()
	svc := service.New(database, service.Options{
		Plans:   catalog,
		Locker:  locker,
		Storage: store,
		Metrics: m,
	})

	var jobs *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		jobs, err = scheduler.New(svc, cfg.Scheduler)
		if err != nil {
			applog.Error(ctx, "failed to configure scheduler", "error", err)
			return 1
		}
		jobs.Start()
	}
	stopJobs := func() {
		if jobs == nil {
			return
		}
		stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := jobs.Stop(stopCtx); err != nil {
			applog.Warn(ctx, "scheduler did not stop cleanly", "error", err)
		}
	}
	defer stopJobs()

	srv, err := newServerFunc(server.Config{
		Addr: cfg.Server.Addr,
		Session: server.SessionConfig{
			Lifetime:     cfg.Auth.Session.Lifetime,
			CookieName:   cfg.Auth.Session.CookieName,
			CookieDomain: cfg.Auth.Session.CookieDomain,
			CookieSecure: cfg.Auth.Session.CookieSecure,
		},
		Database:        database,
		Service:         svc,
		Metrics:         m,
		MaxUploadBytes:  cfg.Storage.MaxUploadBytes,
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		applog.Error(ctx, "failed to build server", "error", err)
		return 1
	}

	sigCh, unsubscribe := subscribeShutdownSig()
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() {
		applog.Info(ctx, "starting http server", "addr", cfg.Server.Addr)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Error(ctx, "server encountered an error", "error", err)
			return 1
		}
		return 0
	case sig := <-sigCh:
		applog.Info(ctx, "shutting down http server", "signal", sig.String())
	}

	if err := srv.Stop(); err != nil {
		applog.Error(ctx, "graceful shutdown failed", "error", err)
		return 1
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Error(ctx, "server encountered an error", "error", err)
		return 1
	}
	return 0
}

// newLocker serializes quota checked creates through redis when an address
// is configured so several replicas share one view of the limits.
func newLocker(ctx context.Context, cfg config.RedisConfig) (quota.Locker, func()) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return quota.NewLocalLocker(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	applog.Info(ctx, "using redis creation locks", "addr", cfg.Addr)
	return quota.NewRedisLocker(client), func() {
		if err := client.Close(); err != nil {
			applog.Warn(ctx, "failed to close redis client", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if strings.TrimSpace(cfg.Driver) == "" && strings.TrimSpace(cfg.Dir) == "" {
		applog.Warn(ctx, "attachment storage not configured, uploads disabled")
		return nil, nil
	}
	return storage.Open(ctx, cfg)
}

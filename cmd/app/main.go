// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"premium-access/internal/config"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/api"
	pg "premium-access/internal/infra/db/postgres"
	"premium-access/internal/infra/i18n"
	"premium-access/internal/infra/logging"
	"premium-access/internal/infra/memory"
	"premium-access/internal/infra/metrics"
	red "premium-access/internal/infra/redis"
	"premium-access/internal/infra/sched"
	"premium-access/internal/infra/security"
	"premium-access/internal/usecase"
)

// Set via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// storage bundles the repositories of one driver.
type storage struct {
	codes     repository.CodeRepository
	cache     repository.EntitlementCacheRepository
	snapshots repository.SnapshotRepository
	sessions  repository.SessionRepository
	tm        repository.TransactionManager
	locker    repository.KeyLocker
	close     func()
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Config ----
	cfg, err := config.LoadConfigFromFlags()
	if err != nil {
		// logger is not configured yet
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Redis (optional) ----
	var redisClient red.RedisClient
	if cfg.Redis.Enabled {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer rc.Close()
		redisClient = rc
	}

	// ---- Encryption ----
	cipher, err := security.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}
	if cfg.Security.EncryptionKey == "" {
		logger.Warn().Msg("security.encryption_key not set; device metadata is stored in clear")
	}

	// ---- Storage ----
	st, err := openStorage(ctx, cfg, redisClient, cipher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}
	defer st.close()

	// ---- Use cases ----
	registry := usecase.NewCodeRegistryUseCase(st.codes, st.cache, st.tm, st.locker, logger)
	entitlements := usecase.NewEntitlementUseCase(st.codes, st.cache, st.snapshots, st.tm, st.locker, logger)
	ledger := usecase.NewDeviceSessionUseCase(st.sessions, st.tm, st.locker, usecase.SessionWindows{
		Active: cfg.Sessions.ActiveWindow,
		Stale:  cfg.Sessions.StaleWindow,
	}, logger)
	admission := usecase.NewAdmissionUseCase(entitlements, ledger, st.sessions, st.tm, st.locker, logger)

	tokens, err := security.NewDeviceTokens(cfg.Security.DeviceTokenSecret, cfg.Security.DeviceTokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("device tokens")
	}

	// ---- Workers ----
	var jobLocker red.Locker = red.NewLocalLocker()
	var redeemLimiter *red.RateLimiter
	if redisClient != nil {
		jobLocker = red.NewLocker(redisClient)
		redeemLimiter = red.NewRateLimiter(redisClient)
	}
	sweeper := sched.NewSweepWorker(cfg.Sessions.SweepInterval, ledger, jobLocker, logger)
	reconciler := sched.NewReconcileWorker(cfg.Reconcile.Interval, cfg.Reconcile.LockTTL, entitlements, jobLocker, logger)
	go func() { _ = sweeper.Run(ctx) }()
	go func() { _ = reconciler.Run(ctx) }()

	// ---- HTTP ----
	msgs, err := i18n.Default()
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}
	srv := api.NewServer(*cfg, api.Deps{
		Codes:         registry,
		Entitlements:  entitlements,
		Sessions:      ledger,
		Admission:     admission,
		Tokens:        tokens,
		RedeemLimiter: redeemLimiter,
		Messages:      msgs,
	}, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func openStorage(ctx context.Context, cfg *config.Config, redisClient red.RedisClient, cipher security.Cipher, logger *zerolog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		tm := memory.NewTxManager()
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		return &storage{
			codes:     memory.NewCodeRepo(),
			cache:     memory.NewEntitlementRepo(),
			snapshots: memory.NewSnapshotRepo(),
			sessions:  memory.NewSessionRepo(),
			tm:        tm,
			locker:    tm,
			close:     func() {},
		}, nil
	default:
		if cfg.Database.MigrateOnStart {
			if err := pg.RunMigrations(cfg.Database.URL); err != nil {
				return nil, err
			}
			logger.Info().Msg("database migrations applied")
		}
		pool, err := pg.NewPgxPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		go pg.ReportPoolStats(ctx, pool, 15*time.Second)

		var cache repository.EntitlementCacheRepository = pg.NewEntitlementRepo(pool)
		if redisClient != nil {
			cache = pg.NewEntitlementRepoCacheDecorator(cache, redisClient, cfg.Redis.TTL)
		}
		tm := pg.NewTxManager(pool)
		return &storage{
			codes:     pg.NewPremiumCodeRepo(pool),
			cache:     cache,
			snapshots: pg.NewSnapshotRepo(pool),
			sessions:  pg.NewSessionRepo(pool, cipher),
			tm:        tm,
			locker:    tm,
			close:     pool.Close,
		}, nil
	}
}

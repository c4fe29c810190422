package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"identity-ledger/api"
	"identity-ledger/config"
	"identity-ledger/encryption"
	"identity-ledger/logger"
	"identity-ledger/models"
	"identity-ledger/otp"
	"identity-ledger/ratelimit"
	"identity-ledger/registry"
	"identity-ledger/service"
	"identity-ledger/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init("identity-ledger", cfg.Debug)

	provider, err := encryption.NewProvider(cfg.Ledger.SignatureScheme)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create crypto provider")
	}

	steps := make([]models.VerificationStep, 0, len(cfg.Verification.RequiredSteps))
	for _, s := range cfg.Verification.RequiredSteps {
		steps = append(steps, models.VerificationStep(s))
	}
	reg, err := registry.New(steps, registry.WithConfig(registry.Config{
		FilePath: filepath.Join(cfg.Storage.Dir, "verifications.json"),
		AutoSave: cfg.Storage.Driver != storage.DriverMemory,
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create verification registry")
	}
	if err := reg.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load verification records")
	}

	store, err := storage.NewChainStore(storage.Options{
		Driver:     cfg.Storage.Driver,
		Dir:        cfg.Storage.Dir,
		SQLitePath: cfg.Storage.SQLitePath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open chain store")
	}

	var snapshots *storage.SnapshotStore
	if cfg.Storage.Snapshots > 0 {
		snapshots, err = storage.NewSnapshotStore(cfg.Storage.Dir, cfg.Storage.Snapshots)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create snapshot store")
		}
	}

	codeStore, closeCodes := openCodeStore(ctx, cfg)
	defer closeCodes()
	codes := otp.NewService(codeStore, otp.LogNotifier{},
		otp.WithTTL(cfg.OTP.TTL),
		otp.WithMaxAttempts(cfg.OTP.MaxAttempts),
		otp.WithLength(cfg.OTP.Length),
	)

	svc, err := service.NewIdentityService(service.Dependencies{
		Provider:        provider,
		Limiter:         ratelimit.New(cfg.Ledger.RateLimitWindow, cfg.Ledger.RateLimitThreshold),
		Registry:        reg,
		Store:           store,
		OTP:             codes,
		Snapshots:       snapshots,
		BadgeTTL:        cfg.Verification.BadgeTTL,
		PhoneSessionTTL: cfg.OTP.TTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start identity service")
	}
	defer svc.Close()

	queue := service.NewQueueProcessor(svc, cfg.Queue.Size, cfg.Queue.Workers)
	queue.Start()
	defer queue.Stop()

	server := api.NewServer(svc, queue, api.Options{
		Debug:  cfg.Debug,
		Port:   cfg.Server.Port,
		Origin: cfg.Server.Origin,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if snapshots != nil {
		if path, err := svc.Snapshot(); err != nil {
			log.Error().Err(err).Msg("Final snapshot failed")
		} else {
			log.Info().Str("path", path).Msg("Final snapshot written")
		}
	}
	log.Info().Msg("Server stopped")
}

// openCodeStore uses Redis when REDIS_ADDR is set, otherwise codes live in
// process memory.
func openCodeStore(ctx context.Context, cfg *config.Config) (otp.Store, func()) {
	if cfg.Redis.Addr == "" {
		log.Warn().Msg("REDIS_ADDR not set, verification codes are kept in memory")
		return otp.NewMemoryStore(time.Now), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to redis")
	return otp.NewRedisStore(client), func() { _ = client.Close() }
}

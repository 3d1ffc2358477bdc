// The sweeper re-polls jobs stuck in processing and runs the credit expiry
// sweep on a fixed interval. It shares the reconciler with the API server, so
// a poll resolves a job exactly the way a webhook would have.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/materialize"
	"server/internal/provider"
	"server/internal/reconcile"
	"server/internal/storage"
)

const sweepBatchSize = 100

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: db connection failed")
	}
	defer pool.Close()

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: object storage init failed")
	}

	jobs := repo.NewJobRepository(pool)
	creditSvc := credits.NewService(repo.NewCreditRepository(pool), logger)
	reconciler := reconcile.New(jobs, buildRegistry(cfg), materialize.New(store, nil, logger), logger)

	logger.Info().
		Dur("interval", cfg.SweepInterval).
		Dur("min_age", cfg.SweepMinAge).
		Msg("sweeper started")

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			runSweep(ctx, reconciler, creditSvc, cfg, logger)
		}
	}
}

func runSweep(ctx context.Context, reconciler *reconcile.Reconciler, creditSvc *credits.Service, cfg *infra.Config, logger infra.Logger) {
	n, err := reconciler.SweepProcessing(ctx, cfg.SweepMinAge, sweepBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("sweeper: job sweep failed")
	} else if n > 0 {
		logger.Info().Int("examined", n).Msg("sweeper: re-polled stale jobs")
	}

	if _, err := creditSvc.ExpireStale(ctx); err != nil {
		logger.Error().Err(err).Msg("sweeper: credit expiry failed")
	}
}

func buildRegistry(cfg *infra.Config) *provider.Registry {
	kie := provider.NewKieAdapter(provider.KieOptions{
		BaseURL:     cfg.KieBaseURL,
		APIKey:      cfg.KieAPIKey,
		Model:       cfg.KieModel,
		CallbackURL: cfg.PublicBaseURL + "/v1/webhooks/kie",
		Timeout:     cfg.ProviderTimeout,
	})
	replicate := provider.NewReplicateAdapter(provider.ReplicateOptions{
		BaseURL:     cfg.ReplicateBaseURL,
		APIKey:      cfg.ReplicateAPIKey,
		Model:       cfg.ReplicateModel,
		CallbackURL: cfg.PublicBaseURL + "/v1/webhooks/replicate",
		Timeout:     cfg.ProviderTimeout,
	})
	fashn := provider.NewFashnAdapter(provider.FashnOptions{
		BaseURL:     cfg.FashnBaseURL,
		APIKey:      cfg.FashnAPIKey,
		Model:       cfg.FashnModel,
		CallbackURL: cfg.PublicBaseURL + "/v1/webhooks/fashn",
		Timeout:     cfg.ProviderTimeout,
	})

	registry := provider.NewRegistry()
	registry.Register(domain.JobTypeVirtualTryOn, kie, fashn)
	registry.Register(domain.JobTypeModelSwap, kie, replicate)
	registry.Register(domain.JobTypeProductMarketing, kie, nil)
	return registry
}

func newObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/materialize"
	"server/internal/payment"
	"server/internal/provider"
	"server/internal/reconcile"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object storage")
	}

	jobs := repo.NewJobRepository(dbpool)
	creditSvc := credits.NewService(repo.NewCreditRepository(dbpool), logger)
	paymentSvc := payment.NewService(repo.NewPaymentRepository(dbpool), creditSvc, cfg.MidtransServerKey, logger)
	materializer := materialize.New(store, nil, logger)
	registry := buildRegistry(cfg)
	reconciler := reconcile.New(jobs, registry, materializer, logger)

	app := &handlers.App{
		Cfg:        cfg,
		Logger:     logger,
		Jobs:       jobs,
		Credits:    creditSvc,
		Payments:   paymentSvc,
		Registry:   registry,
		Reconciler: reconciler,
		Editor: provider.NewGeminiEditor(provider.GeminiOptions{
			BaseURL: cfg.GeminiBaseURL,
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.ProviderTimeout,
		}),
		Materializer: materializer,
	}

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// buildRegistry wires each job type to its primary provider and, for the
// try-on family, the fallback used after the first failure.
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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/seobohdanov/maxagainst-sub001/internal/adapter/repo"
	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
	"github.com/seobohdanov/maxagainst-sub001/internal/http/handlers"
	"github.com/seobohdanov/maxagainst-sub001/internal/http/httpapi"
	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
	"github.com/seobohdanov/maxagainst-sub001/internal/maintenance"
	"github.com/seobohdanov/maxagainst-sub001/internal/notify"
	"github.com/seobohdanov/maxagainst-sub001/internal/orchestrator"
	"github.com/seobohdanov/maxagainst-sub001/internal/providers/songgen"
	"github.com/seobohdanov/maxagainst-sub001/internal/reconcile"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store domain.JobStore
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		store = repo.NewJobStore(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory job store")
		store = repo.NewMemoryJobStore()
	}

	provider, err := songgen.NewClient(songgen.Options{
		APIKey:      cfg.SongGenAPIKey,
		BaseURL:     cfg.SongGenBaseURL,
		Model:       cfg.SongGenModel,
		CallbackURL: callbackURL(cfg),
		Logger:      &logger,
		PollSpacing: cfg.PollSpacingFloor,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure provider client")
	}

	fanout := notify.New(store, logger)
	reconciler := reconcile.New(store, fanout, logger)
	orch := orchestrator.New(store, provider, reconciler, fanout, logger, orchestrator.Config{
		InitialInterval: cfg.PollInitialInterval,
		MaxInterval:     cfg.PollMaxInterval,
		BackoffFactor:   cfg.PollBackoffFactor,
		Budget:          cfg.PollBudget,
		MaxConcurrent:   int64(cfg.ProviderConcurrency),
	})
	defer orch.Close()

	if err := orch.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to resume unfinished jobs")
	}

	purger := maintenance.NewPurger(store, logger, cfg.RetentionWindow)
	if err := purger.Start(cfg.PurgeSchedule); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule purge")
	}
	defer purger.Stop()

	app := handlers.NewApp(orch, logger)
	router := httpapi.NewRouter(app, logger, cfg.RateLimitPerMin, cfg.AllowedOrigins)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// callbackURL is what the provider will POST completion reports to. Empty
// when no public base URL is configured; polling then carries the job alone.
func callbackURL(cfg *infra.Config) string {
	if cfg.PublicBaseURL == "" {
		return ""
	}
	return cfg.PublicBaseURL + "/v1/callbacks/songgen"
}

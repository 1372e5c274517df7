package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/musicstream/backend/internal/config"
	"github.com/musicstream/backend/internal/download"
	"github.com/musicstream/backend/internal/handlers"
	"github.com/musicstream/backend/internal/metrics"
	"github.com/musicstream/backend/internal/middleware"
	"github.com/musicstream/backend/internal/repositories"
	"github.com/musicstream/backend/internal/retry"
	"github.com/musicstream/backend/internal/search"
	"github.com/musicstream/backend/internal/storage"
	"github.com/musicstream/backend/internal/stream"
	"github.com/musicstream/backend/internal/videos"
)

const rateLimiterTTL = 10 * time.Minute

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		Attempts:  cfg.Attempts,
		BaseDelay: cfg.BaseDelay.Duration,
		MaxDelay:  cfg.MaxDelay.Duration,
	}
}

func newResolver(cfg config.Config, logger *slog.Logger, rec *metrics.Recorder) *videos.Resolver {
	return videos.NewResolver(videos.ResolverOptions{
		Binary:      cfg.YTDLP.Path,
		Timeout:     cfg.YTDLP.Timeout.Duration,
		CookiesPath: cfg.YTDLP.Cookies,
		UserAgent:   cfg.YTDLP.UserAgent,
		Policy:      retryPolicy(cfg.Retry),
		Metrics:     rec,
		Logger:      logger,
	})
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup drains background work and must be called
// after the server stops accepting requests.
func buildDependencies(ctx context.Context, database *sqlx.DB, cfg config.Config, logger *slog.Logger, rec *metrics.Recorder) (handlers.Dependencies, func(context.Context) error, error) {
	resolver := newResolver(cfg, logger, rec)
	catalog := repositories.NewCatalog(database)

	deps := handlers.Dependencies{
		Logger:      logger,
		Metrics:     rec,
		RateLimiter: middleware.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration, cfg.RateLimit.Burst, rateLimiterTTL),
		DB:          catalog,
		Songs:       catalog,
		Playlists:   catalog,
		Search:      search.NewYouTubeClient(cfg.YouTube.BaseURL, cfg.YouTube.APIKey, nil),
		Resolver:    resolver,
		Metadata:    videos.NewMetadataCache(resolver, cfg.MetadataCacheTTL.Duration),
		Streamer: stream.NewProxy(resolver, stream.Options{
			TempDir:   cfg.Paths.StreamTemp,
			UserAgent: cfg.YTDLP.UserAgent,
			Metrics:   rec,
		}),
		Downloader: download.New(resolver, download.Options{
			LocalDir: cfg.Paths.LocalMusic,
			CloudDir: cfg.Paths.CloudStaging,
			Policy:   retryPolicy(cfg.Retry),
			Metrics:  rec,
		}),
		LocalDir: cfg.Paths.LocalMusic,
	}
	cleanup := func(context.Context) error { return nil }

	if !cfg.ObjectStore.Enabled() {
		logger.Warn("object storage is not configured, cloud endpoints are disabled")
		return deps, cleanup, nil
	}

	store, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return handlers.Dependencies{}, nil, fmt.Errorf("object storage: %w", err)
	}
	promoter := videos.NewCloudPromoter(store, catalog, videos.CloudPromoterConfig{
		QueueSize: cfg.Promoter.Queue,
		Workers:   cfg.Promoter.Workers,
	}, logger, rec)

	deps.Objects = store
	deps.Promoter = promoter
	return deps, promoter.Shutdown, nil
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/musicstream/backend/internal/metrics"
	"github.com/musicstream/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers. Optional
// collaborators may be nil; their endpoints answer 503.
type Dependencies struct {
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	RateLimiter middleware.RateLimiter

	DB         Pinger
	Songs      SongStore
	Playlists  PlaylistStore
	Search     Searcher
	Resolver   StreamResolver
	Metadata   MetadataFetcher
	Streamer   Streamer
	Downloader AudioDownloader
	Objects    ObjectStore
	Promoter   Promoter
	LocalDir   string
}

// NewRouter wires HTTP handlers into a chi router.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	health := HealthHandler{DB: deps.DB}
	searchHandler := SearchHandler{Search: deps.Search}
	streams := StreamHandler{Resolver: deps.Resolver, Metadata: deps.Metadata, Proxy: deps.Streamer}
	songs := SongHandler{
		Songs:      deps.Songs,
		Downloader: deps.Downloader,
		Objects:    deps.Objects,
		Promoter:   deps.Promoter,
		Metadata:   deps.Metadata,
		LocalDir:   deps.LocalDir,
	}
	playlists := PlaylistHandler{Playlists: deps.Playlists}
	cloud := CloudHandler{Objects: deps.Objects}
	limited := middleware.RateLimit(deps.RateLimiter, "download")

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS)
	r.Use(deps.Metrics.Middleware)

	r.Get("/healthz", health.Handle)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", searchHandler.Handle)
		r.Get("/test_audio", streams.TestAudio)
		r.Get("/stream_url/{videoId}", streams.StreamURL)
		r.Get("/stream/{videoId}", streams.Stream)

		r.With(limited).Post("/download", songs.Download)
		r.With(limited).Post("/download_local", songs.DownloadLocal)
		r.Post("/add_streaming_song", songs.AddStreaming)
		r.Get("/play_local/{songId}", songs.PlayLocal)
		r.Delete("/delete_song/{songId}", songs.Delete)

		r.Get("/songs", songs.List)
		r.Post("/songs/{songId}/upload", songs.Upload)
		r.With(limited).Post("/songs/{songId}/download_from_cloud", songs.DownloadFromCloud)

		r.Get("/cloud/files", cloud.Files)

		r.Get("/playlists", playlists.List)
		r.Post("/playlists", playlists.Create)
		r.Post("/playlists/{id}/songs", playlists.AddSong)
		r.Delete("/playlists/{id}/songs/{songId}", playlists.RemoveSong)
		r.Delete("/playlists/{id}", playlists.Delete)
	})

	return r
}

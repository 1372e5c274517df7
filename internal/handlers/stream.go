package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/stream"
	"github.com/musicstream/backend/internal/videos"
)

// StreamHandler serves stream URLs and proxied audio.
type StreamHandler struct {
	Resolver StreamResolver
	Metadata MetadataFetcher
	Proxy    Streamer
}

type streamURLResponse struct {
	StreamURL string `json:"stream_url"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Channel   string `json:"channel"`
}

// StreamURL implements GET /api/stream_url/{videoId}. Resolution falls back
// to sample audio, so only an invalid id fails.
func (h StreamHandler) StreamURL(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")
	ctx := logging.With(r.Context(), "video_id", videoID)

	ref, err := h.Resolver.ResolveStream(ctx, videoID)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	meta := videos.PlaceholderMetadata(videoID)
	if h.Metadata != nil {
		meta = h.Metadata.FetchMetadata(ctx, videoID)
	}

	respondJSON(ctx, w, http.StatusOK, streamURLResponse{
		StreamURL: ref.URL,
		Title:     meta.Title,
		Thumbnail: meta.Thumbnail,
		Channel:   meta.Channel,
	})
}

// Stream implements GET /api/stream/{videoId}.
func (h StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")
	ctx := logging.With(r.Context(), "video_id", videoID)

	err := h.Proxy.Serve(w, r.WithContext(ctx), videoID)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrRelayInterrupted):
		logging.FromContext(ctx).Warn("stream ended early", "error", err)
	default:
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
	}
}

// TestAudio implements GET /api/test_audio.
func (StreamHandler) TestAudio(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{
		"success":    true,
		"stream_url": videos.TestAudioURL,
		"title":      "Test Audio",
		"thumbnail":  "https://via.placeholder.com/480x360.png?text=Test+Audio",
		"channel":    "Test Channel",
	})
}

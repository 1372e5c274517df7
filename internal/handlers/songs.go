package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/musicstream/backend/internal/download"
	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/models"
	"github.com/musicstream/backend/internal/repositories"
	"github.com/musicstream/backend/internal/storage"
	"github.com/musicstream/backend/internal/videos"
)

// SongHandler implements the catalog, download and local playback endpoints.
type SongHandler struct {
	Songs      SongStore
	Downloader AudioDownloader
	Objects    ObjectStore
	Promoter   Promoter
	Metadata   MetadataFetcher
	LocalDir   string
}

type downloadRequest struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
}

type streamingSongRequest struct {
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Channel   string `json:"channel"`
}

const errCloudUnavailable = "cloud storage is not configured"

// List implements GET /api/songs.
func (h SongHandler) List(w http.ResponseWriter, r *http.Request) {
	songs, err := h.Songs.ListSongs(r.Context())
	if err != nil {
		respondError(r.Context(), w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, songs)
}

// Download implements POST /api/download: fetch, upload to object storage,
// record the cloud URL and drop the staging file.
func (h SongHandler) Download(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDownload(w, r)
	if !ok {
		return
	}
	ctx := logging.With(r.Context(), "video_id", req.VideoID)
	logger := logging.FromContext(ctx)

	if h.Objects == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, errCloudUnavailable)
		return
	}

	title, metadata := h.describe(ctx, req)
	path, err := h.Downloader.Download(ctx, download.Request{VideoID: req.VideoID, Title: title, PersistRemote: true})
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove staged download", "path", path, "error", err)
		}
	}()

	cloudURL, err := h.Objects.UploadFile(ctx, req.VideoID, path)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	songID, err := h.Songs.UpsertSong(ctx, models.SongUpsert{
		VideoID:  req.VideoID,
		Title:    title,
		CloudURL: models.StringPtr(cloudURL),
		Metadata: metadata,
	})
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"success":   true,
		"song_id":   songID,
		"title":     title,
		"cloud_url": cloudURL,
	})
}

// DownloadLocal implements POST /api/download_local.
func (h SongHandler) DownloadLocal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDownload(w, r)
	if !ok {
		return
	}
	ctx := logging.With(r.Context(), "video_id", req.VideoID)

	title, metadata := h.describe(ctx, req)
	path, err := h.Downloader.Download(ctx, download.Request{VideoID: req.VideoID, Title: title})
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	songID, err := h.Songs.UpsertSong(ctx, models.SongUpsert{
		VideoID:   req.VideoID,
		Title:     title,
		LocalPath: models.StringPtr(path),
		Metadata:  metadata,
	})
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"success":    true,
		"song_id":    songID,
		"title":      title,
		"local_path": path,
	})
}

func (h SongHandler) decodeDownload(w http.ResponseWriter, r *http.Request) (downloadRequest, bool) {
	var req downloadRequest
	if !decodeBody(w, r, &req) {
		return req, false
	}
	req.VideoID = strings.TrimSpace(req.VideoID)
	req.Title = strings.TrimSpace(req.Title)
	if req.VideoID == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "Video ID is required")
		return req, false
	}
	if err := videos.ValidateVideoID(req.VideoID); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// describe fills a missing title from video metadata and collects the
// thumbnail and channel when metadata was fetched.
func (h SongHandler) describe(ctx context.Context, req downloadRequest) (string, models.Metadata) {
	if req.Title != "" || h.Metadata == nil {
		return req.Title, nil
	}
	meta := h.Metadata.FetchMetadata(ctx, req.VideoID)
	if meta.Placeholder {
		return meta.Title, nil
	}
	return meta.Title, models.Metadata{
		models.MetadataThumbnail: meta.Thumbnail,
		models.MetadataChannel:   meta.Channel,
	}.Compact()
}

// PlayLocal implements GET /api/play_local/{songId}.
func (h SongHandler) PlayLocal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "songId")
	if !ok {
		return
	}
	ctx := r.Context()

	song, err := h.Songs.GetSong(ctx, id)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil || !song.HasLocalCopy() {
		respondError(ctx, w, http.StatusNotFound, "Local file not found")
		return
	}

	info, err := os.Stat(*song.LocalPath)
	if err != nil || info.IsDir() {
		respondError(ctx, w, http.StatusNotFound, "File not found on disk")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, *song.LocalPath)
}

// Delete implements DELETE /api/delete_song/{songId}. The cloud object and
// local file are removed before the row.
func (h SongHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "songId")
	if !ok {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	song, err := h.Songs.GetSong(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		respondError(ctx, w, http.StatusNotFound, "Song not found")
		return
	}
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	if song.HasCloudCopy() {
		if h.Objects == nil {
			respondError(ctx, w, http.StatusInternalServerError, errCloudUnavailable)
			return
		}
		if err := h.Objects.Delete(ctx, h.Objects.KeyFromURL(*song.CloudURL)); err != nil {
			respondError(ctx, w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if song.HasLocalCopy() {
		if err := os.Remove(*song.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove local file", "path", *song.LocalPath, "error", err)
		}
	}

	if err := h.Songs.DeleteSong(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "Song not found")
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// AddStreaming implements POST /api/add_streaming_song.
func (h SongHandler) AddStreaming(w http.ResponseWriter, r *http.Request) {
	var req streamingSongRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	req.VideoID = strings.TrimSpace(req.VideoID)
	req.Title = strings.TrimSpace(req.Title)
	if req.VideoID == "" || req.Title == "" {
		respondError(ctx, w, http.StatusBadRequest, "Video ID and title are required")
		return
	}

	songID, err := h.Songs.UpsertSong(ctx, models.SongUpsert{
		VideoID: req.VideoID,
		Title:   req.Title,
		Metadata: models.Metadata{
			models.MetadataThumbnail: req.Thumbnail,
			models.MetadataChannel:   req.Channel,
		}.Compact(),
	})
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	streamingOnly := true
	if song, err := h.Songs.GetSong(ctx, songID); err == nil {
		streamingOnly = song.IsStreamingOnly
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"success":           true,
		"song_id":           songID,
		"title":             req.Title,
		"thumbnail":         req.Thumbnail,
		"channel":           req.Channel,
		"is_streaming_only": streamingOnly,
	})
}

// Upload implements POST /api/songs/{songId}/upload by queueing the local
// file for promotion to object storage.
func (h SongHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "songId")
	if !ok {
		return
	}
	ctx := r.Context()

	song, ok := h.lookup(w, r, id)
	if !ok {
		return
	}
	if !song.HasLocalCopy() {
		respondError(ctx, w, http.StatusConflict, "Song has no local file")
		return
	}
	if h.Promoter == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, errCloudUnavailable)
		return
	}

	if err := h.Promoter.Enqueue(ctx, song); err != nil {
		if errors.Is(err, videos.ErrPromoterClosed) {
			respondError(ctx, w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusAccepted, map[string]bool{"success": true, "queued": true})
}

// DownloadFromCloud implements POST /api/songs/{songId}/download_from_cloud.
func (h SongHandler) DownloadFromCloud(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "songId")
	if !ok {
		return
	}
	ctx := r.Context()

	song, ok := h.lookup(w, r, id)
	if !ok {
		return
	}
	if !song.HasCloudCopy() {
		respondError(ctx, w, http.StatusConflict, "Song has no cloud copy")
		return
	}
	if h.Objects == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, errCloudUnavailable)
		return
	}

	if err := download.EnsureWritableDir(h.LocalDir); err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	key := h.Objects.KeyFromURL(*song.CloudURL)
	ext := filepath.Ext(key)
	if ext == "" {
		ext = ".mp3"
	}
	dest := download.UniquePath(h.LocalDir, download.FileStem(song.Title), ext, nil)

	if _, err := h.Objects.Download(ctx, key, dest); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			respondError(ctx, w, http.StatusNotFound, "Cloud object not found")
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := h.Songs.UpsertSong(ctx, models.SongUpsert{VideoID: song.VideoID, LocalPath: models.StringPtr(dest)}); err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"success":    true,
		"song_id":    song.ID,
		"local_path": dest,
	})
}

func (h SongHandler) lookup(w http.ResponseWriter, r *http.Request, id int64) (models.Song, bool) {
	song, err := h.Songs.GetSong(r.Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		respondError(r.Context(), w, http.StatusNotFound, "Song not found")
		return models.Song{}, false
	}
	if err != nil {
		respondError(r.Context(), w, http.StatusInternalServerError, err.Error())
		return models.Song{}, false
	}
	return song, true
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/musicstream/backend/internal/repositories"
)

// PlaylistHandler implements playlist management.
type PlaylistHandler struct {
	Playlists PlaylistStore
}

type createPlaylistRequest struct {
	Name string `json:"name"`
}

type addSongRequest struct {
	SongID int64 `json:"song_id"`
}

// List implements GET /api/playlists.
func (h PlaylistHandler) List(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.Playlists.ListPlaylists(r.Context())
	if err != nil {
		respondError(r.Context(), w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, playlists)
}

// Create implements POST /api/playlists.
func (h PlaylistHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(ctx, w, http.StatusBadRequest, "Playlist name is required")
		return
	}

	playlist, err := h.Playlists.CreatePlaylist(ctx, name)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"id": playlist.ID, "name": playlist.Name})
}

// AddSong implements POST /api/playlists/{id}/songs.
func (h PlaylistHandler) AddSong(w http.ResponseWriter, r *http.Request) {
	playlistID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req addSongRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	if req.SongID <= 0 {
		respondError(ctx, w, http.StatusBadRequest, "Song ID is required")
		return
	}

	if err := h.Playlists.AddSongToPlaylist(ctx, playlistID, req.SongID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "Playlist or song not found")
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// RemoveSong implements DELETE /api/playlists/{id}/songs/{songId}.
func (h PlaylistHandler) RemoveSong(w http.ResponseWriter, r *http.Request) {
	playlistID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	songID, ok := pathID(w, r, "songId")
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.Playlists.RemoveSongFromPlaylist(ctx, playlistID, songID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "Song not in playlist")
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// Delete implements DELETE /api/playlists/{id}.
func (h PlaylistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.Playlists.DeletePlaylist(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "Playlist not found")
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

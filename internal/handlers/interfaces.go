package handlers

import (
	"context"
	"net/http"

	"github.com/musicstream/backend/internal/download"
	"github.com/musicstream/backend/internal/models"
)

// SongStore captures the catalog operations used by the song handlers.
type SongStore interface {
	UpsertSong(ctx context.Context, song models.SongUpsert) (int64, error)
	GetSong(ctx context.Context, id int64) (models.Song, error)
	ListSongs(ctx context.Context) ([]models.Song, error)
	DeleteSong(ctx context.Context, id int64) error
}

// PlaylistStore captures playlist persistence.
type PlaylistStore interface {
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)
	CreatePlaylist(ctx context.Context, name string) (models.Playlist, error)
	AddSongToPlaylist(ctx context.Context, playlistID, songID int64) error
	RemoveSongFromPlaylist(ctx context.Context, playlistID, songID int64) error
	DeletePlaylist(ctx context.Context, id int64) error
}

// Searcher finds videos matching a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// StreamResolver resolves a playable URL for a video.
type StreamResolver interface {
	ResolveStream(ctx context.Context, videoID string) (models.MediaReference, error)
}

// MetadataFetcher returns best-effort metadata; it never fails.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, videoID string) models.VideoMetadata
}

// Streamer writes a video's audio to the response.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, videoID string) error
}

// AudioDownloader fetches audio to a local file and returns its path.
type AudioDownloader interface {
	Download(ctx context.Context, req download.Request) (string, error)
}

// ObjectStore is the durable storage holding uploaded songs.
type ObjectStore interface {
	UploadFile(ctx context.Context, videoID, path string) (string, error)
	Download(ctx context.Context, key, destPath string) (int64, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]models.CloudObject, error)
	KeyFromURL(raw string) string
}

// Promoter schedules background uploads of local-only songs.
type Promoter interface {
	Enqueue(ctx context.Context, song models.Song) error
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

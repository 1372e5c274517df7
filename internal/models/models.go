package models

import "time"

// Song is a catalog entry for a single video. Exactly one storage class applies:
// cloud-backed, local-only or streaming-only.
type Song struct {
	ID              int64     `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	VideoID         string    `json:"video_id" db:"video_id"`
	CloudURL        *string   `json:"cloud_url" db:"cloud_url"`
	LocalPath       *string   `json:"local_path" db:"local_path"`
	IsLocalOnly     bool      `json:"is_local_only" db:"is_local_only"`
	IsStreamingOnly bool      `json:"is_streaming_only" db:"is_streaming_only"`
	Metadata        Metadata  `json:"metadata" db:"metadata"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// HasCloudCopy reports whether the song is backed by durable storage.
func (s Song) HasCloudCopy() bool {
	return s.CloudURL != nil && *s.CloudURL != ""
}

// HasLocalCopy reports whether a local file path has been recorded.
func (s Song) HasLocalCopy() bool {
	return s.LocalPath != nil && *s.LocalPath != ""
}

// SongUpsert carries the fields written by an upsert keyed on VideoID. Nil
// pointers leave the stored value untouched.
type SongUpsert struct {
	VideoID   string
	Title     string
	CloudURL  *string
	LocalPath *string
	Metadata  Metadata
}

// Playlist owns an ordered list of songs.
type Playlist struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Songs     []Song    `json:"songs"`
}

// PlaylistMembership places a song at a dense, zero-based position.
type PlaylistMembership struct {
	PlaylistID int64 `db:"playlist_id"`
	SongID     int64 `db:"song_id"`
	Position   int   `db:"position"`
}

// MediaReference is a short-lived direct URL to remote media. It is never persisted.
type MediaReference struct {
	VideoID     string
	URL         string
	Fallback    bool
	ExpiresHint string
}

// VideoMetadata is best-effort descriptive data for a video.
type VideoMetadata struct {
	Title           string `json:"title"`
	Thumbnail       string `json:"thumbnail"`
	Channel         string `json:"channel"`
	DurationSeconds int    `json:"duration"`
	Placeholder     bool   `json:"-"`
}

// SearchResult is a single candidate returned by the search API.
type SearchResult struct {
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Channel   string `json:"channel"`
}

// CloudObject describes an object held in durable storage.
type CloudObject struct {
	Key          string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"time_created"`
	URL          string    `json:"url"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/musicstream/backend/internal/models"
)

// Catalog persists songs, playlists and playlist memberships in SQLite or
// PostgreSQL-compatible databases.
type Catalog struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewCatalog constructs a catalog on an open, migrated database.
func NewCatalog(database *sqlx.DB) *Catalog {
	return &Catalog{db: database, now: time.Now}
}

// Ping checks the database connection.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

const songColumns = `id, title, video_id, cloud_url, local_path, is_local_only, is_streaming_only, metadata, created_at`

// The storage class flags are derived from the merged pointers so that they
// can never disagree with cloud_url and local_path.
const upsertSongSQL = `
INSERT INTO songs (video_id, title, cloud_url, local_path, metadata, is_local_only, is_streaming_only, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (video_id) DO UPDATE SET
    title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE songs.title END,
    cloud_url = COALESCE(excluded.cloud_url, songs.cloud_url),
    local_path = COALESCE(excluded.local_path, songs.local_path),
    metadata = COALESCE(excluded.metadata, songs.metadata),
    is_local_only = (COALESCE(excluded.cloud_url, songs.cloud_url) IS NULL
        AND COALESCE(excluded.local_path, songs.local_path) IS NOT NULL),
    is_streaming_only = (COALESCE(excluded.cloud_url, songs.cloud_url) IS NULL
        AND COALESCE(excluded.local_path, songs.local_path) IS NULL),
    updated_at = excluded.updated_at
RETURNING id`

// UpsertSong inserts or merges the song keyed by VideoID and returns its id.
// Nil locations and metadata keep the stored values; an empty title keeps the
// stored title.
func (c *Catalog) UpsertSong(ctx context.Context, in models.SongUpsert) (int64, error) {
	videoID := strings.TrimSpace(in.VideoID)
	if videoID == "" {
		return 0, fmt.Errorf("upsert song: video id is required")
	}

	cloudURL := nonEmpty(in.CloudURL)
	localPath := nonEmpty(in.LocalPath)
	now := c.now().UTC()

	var id int64
	err := c.db.QueryRowxContext(ctx, c.db.Rebind(upsertSongSQL),
		videoID,
		strings.TrimSpace(in.Title),
		cloudURL,
		localPath,
		in.Metadata.Compact(),
		cloudURL == nil && localPath != nil,
		cloudURL == nil && localPath == nil,
		now,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert song %s: %w", videoID, mapError(err))
	}
	return id, nil
}

// GetSong returns the song with id or ErrNotFound.
func (c *Catalog) GetSong(ctx context.Context, id int64) (models.Song, error) {
	var song models.Song
	err := c.db.GetContext(ctx, &song, c.db.Rebind(`SELECT `+songColumns+` FROM songs WHERE id = ?`), id)
	if err != nil {
		return models.Song{}, mapError(err)
	}
	return song, nil
}

// GetSongByVideoID returns the song for videoID or ErrNotFound.
func (c *Catalog) GetSongByVideoID(ctx context.Context, videoID string) (models.Song, error) {
	var song models.Song
	err := c.db.GetContext(ctx, &song, c.db.Rebind(`SELECT `+songColumns+` FROM songs WHERE video_id = ?`), videoID)
	if err != nil {
		return models.Song{}, mapError(err)
	}
	return song, nil
}

// ListSongs returns every song, newest first.
func (c *Catalog) ListSongs(ctx context.Context) ([]models.Song, error) {
	songs := make([]models.Song, 0)
	if err := c.db.SelectContext(ctx, &songs, `SELECT `+songColumns+` FROM songs ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	return songs, nil
}

// DeleteSong removes the song and its memberships, closing the gaps it leaves
// in each playlist. Files and objects are left to the caller.
func (c *Catalog) DeleteSong(ctx context.Context, id int64) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		var memberships []models.PlaylistMembership
		if err := tx.SelectContext(ctx, &memberships, tx.Rebind(
			`SELECT playlist_id, song_id, position FROM playlist_songs WHERE song_id = ?`), id); err != nil {
			return fmt.Errorf("select memberships: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM playlist_songs WHERE song_id = ?`), id); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		for _, m := range memberships {
			if err := compactPositions(ctx, tx, m.PlaylistID, m.Position); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM songs WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete song: %w", err)
		}
		return requireAffected(res)
	})
}

func (c *Catalog) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// lockSuffix serialises concurrent membership changes on PostgreSQL. SQLite
// already serialises writers.
func (c *Catalog) lockSuffix() string {
	if c.db.DriverName() == "pgx" {
		return " FOR UPDATE"
	}
	return ""
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffecter) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/musicstream/backend/internal/models"
)

type playlistSongRow struct {
	PlaylistID int64 `db:"playlist_id"`
	models.Song
}

const playlistSongsSQL = `
SELECT ps.playlist_id, s.id, s.title, s.video_id, s.cloud_url, s.local_path,
       s.is_local_only, s.is_streaming_only, s.metadata, s.created_at
FROM playlist_songs ps
JOIN songs s ON s.id = ps.song_id`

// ListPlaylists returns every playlist, newest first, each with its songs in
// position order.
func (c *Catalog) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	playlists := make([]models.Playlist, 0)
	if err := c.db.SelectContext(ctx, &playlists,
		`SELECT id, name, created_at FROM playlists ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}

	var rows []playlistSongRow
	if err := c.db.SelectContext(ctx, &rows, playlistSongsSQL+` ORDER BY ps.playlist_id, ps.position`); err != nil {
		return nil, fmt.Errorf("list playlist songs: %w", err)
	}

	byID := make(map[int64][]models.Song, len(playlists))
	for _, row := range rows {
		byID[row.PlaylistID] = append(byID[row.PlaylistID], row.Song)
	}
	for i := range playlists {
		playlists[i].Songs = byID[playlists[i].ID]
		if playlists[i].Songs == nil {
			playlists[i].Songs = []models.Song{}
		}
	}
	return playlists, nil
}

// GetPlaylist returns a single playlist with its songs or ErrNotFound.
func (c *Catalog) GetPlaylist(ctx context.Context, id int64) (models.Playlist, error) {
	var playlist models.Playlist
	if err := c.db.GetContext(ctx, &playlist, c.db.Rebind(
		`SELECT id, name, created_at FROM playlists WHERE id = ?`), id); err != nil {
		return models.Playlist{}, mapError(err)
	}

	var rows []playlistSongRow
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(playlistSongsSQL+` WHERE ps.playlist_id = ? ORDER BY ps.position`), id); err != nil {
		return models.Playlist{}, fmt.Errorf("list playlist songs: %w", err)
	}
	playlist.Songs = make([]models.Song, 0, len(rows))
	for _, row := range rows {
		playlist.Songs = append(playlist.Songs, row.Song)
	}
	return playlist, nil
}

// CreatePlaylist stores an empty playlist named name.
func (c *Catalog) CreatePlaylist(ctx context.Context, name string) (models.Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Playlist{}, fmt.Errorf("create playlist: name is required")
	}

	playlist := models.Playlist{Name: name, CreatedAt: c.now().UTC(), Songs: []models.Song{}}
	err := c.db.QueryRowxContext(ctx, c.db.Rebind(
		`INSERT INTO playlists (name, created_at) VALUES (?, ?) RETURNING id`),
		playlist.Name, playlist.CreatedAt,
	).Scan(&playlist.ID)
	if err != nil {
		return models.Playlist{}, fmt.Errorf("create playlist: %w", mapError(err))
	}
	return playlist, nil
}

// AddSongToPlaylist appends songID at the end of the playlist. Adding a song
// that is already a member changes nothing.
func (c *Catalog) AddSongToPlaylist(ctx context.Context, playlistID, songID int64) error {
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.lockPlaylist(ctx, tx, playlistID); err != nil {
			return err
		}

		var songs int
		if err := tx.GetContext(ctx, &songs, tx.Rebind(`SELECT COUNT(*) FROM songs WHERE id = ?`), songID); err != nil {
			return fmt.Errorf("check song: %w", err)
		}
		if songs == 0 {
			return ErrNotFound
		}

		var existing int
		if err := tx.GetContext(ctx, &existing, tx.Rebind(
			`SELECT COUNT(*) FROM playlist_songs WHERE playlist_id = ? AND song_id = ?`), playlistID, songID); err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if existing > 0 {
			return nil
		}

		var position int
		if err := tx.GetContext(ctx, &position, tx.Rebind(
			`SELECT COALESCE(MAX(position), -1) + 1 FROM playlist_songs WHERE playlist_id = ?`), playlistID); err != nil {
			return fmt.Errorf("next position: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO playlist_songs (playlist_id, song_id, position) VALUES (?, ?, ?)`),
			playlistID, songID, position); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add song %d to playlist %d: %w", songID, playlistID, err)
	}
	return nil
}

// RemoveSongFromPlaylist deletes the membership and shifts later songs up
// one position.
func (c *Catalog) RemoveSongFromPlaylist(ctx context.Context, playlistID, songID int64) error {
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.lockPlaylist(ctx, tx, playlistID); err != nil {
			return err
		}

		var position int
		if err := tx.GetContext(ctx, &position, tx.Rebind(
			`SELECT position FROM playlist_songs WHERE playlist_id = ? AND song_id = ?`), playlistID, songID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM playlist_songs WHERE playlist_id = ? AND song_id = ?`), playlistID, songID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		return compactPositions(ctx, tx, playlistID, position)
	})
	if err != nil {
		return fmt.Errorf("remove song %d from playlist %d: %w", songID, playlistID, err)
	}
	return nil
}

// DeletePlaylist removes the playlist and its memberships. Songs are kept.
func (c *Catalog) DeletePlaylist(ctx context.Context, id int64) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM playlist_songs WHERE playlist_id = ?`), id); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM playlists WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete playlist: %w", err)
		}
		return requireAffected(res)
	})
}

func (c *Catalog) lockPlaylist(ctx context.Context, tx *sqlx.Tx, playlistID int64) error {
	var id int64
	err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM playlists WHERE id = ?`+c.lockSuffix()), playlistID)
	if err != nil {
		return err
	}
	return nil
}

func compactPositions(ctx context.Context, tx *sqlx.Tx, playlistID int64, removed int) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE playlist_songs SET position = position - 1 WHERE playlist_id = ? AND position > ?`),
		playlistID, removed); err != nil {
		return fmt.Errorf("compact positions: %w", err)
	}
	return nil
}

package videos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/musicstream/backend/internal/models"
)

type uploaderStub struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (u *uploaderStub) UploadFile(_ context.Context, videoID, path string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.paths = append(u.paths, path)
	return "https://cdn.example.com/" + videoID + "/" + filepath.Base(path), nil
}

type upserterStub struct {
	mu      sync.Mutex
	upserts []models.SongUpsert
}

func (s *upserterStub) UpsertSong(_ context.Context, song models.SongUpsert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, song)
	return 1, nil
}

func (s *upserterStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCloudPromoterUploadsAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Around_the_World.mp3")
	if err := os.WriteFile(path, []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	uploader := &uploaderStub{}
	songs := &upserterStub{}
	promoter := NewCloudPromoter(uploader, songs, CloudPromoterConfig{QueueSize: 1, Workers: 1}, quietLogger(), nil)

	song := models.Song{ID: 7, VideoID: "abc123", Title: "Around the World", LocalPath: &path, IsLocalOnly: true}
	if err := promoter.Enqueue(context.Background(), song); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := promoter.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if songs.count() != 1 {
		t.Fatalf("expected one upsert, got %d", songs.count())
	}
	got := songs.upserts[0]
	if got.VideoID != "abc123" || got.CloudURL == nil || *got.CloudURL != "https://cdn.example.com/abc123/Around_the_World.mp3" {
		t.Fatalf("unexpected upsert %+v", got)
	}
}

func TestCloudPromoterUploadFailureSkipsUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	songs := &upserterStub{}
	promoter := NewCloudPromoter(&uploaderStub{err: errors.New("bucket unreachable")}, songs, CloudPromoterConfig{}, quietLogger(), nil)

	if err := promoter.Enqueue(context.Background(), models.Song{ID: 1, VideoID: "v1", LocalPath: &path}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := promoter.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if songs.count() != 0 {
		t.Fatalf("expected no upsert after failed upload, got %d", songs.count())
	}
}

func TestCloudPromoterRejectsAfterShutdown(t *testing.T) {
	promoter := NewCloudPromoter(&uploaderStub{}, &upserterStub{}, CloudPromoterConfig{}, quietLogger(), nil)
	if err := promoter.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	path := "/tmp/x.mp3"
	if err := promoter.Enqueue(context.Background(), models.Song{LocalPath: &path}); !errors.Is(err, ErrPromoterClosed) {
		t.Fatalf("expected ErrPromoterClosed, got %v", err)
	}
	if err := promoter.Enqueue(context.Background(), models.Song{}); err == nil {
		t.Fatal("expected error for song without local file")
	}
}

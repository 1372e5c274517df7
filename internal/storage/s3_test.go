package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/musicstream/backend/internal/config"
)

// fakeS3 implements the handful of path-style S3 calls the storage uses.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == f.bucket || path == f.bucket+"/" {
		if r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
			f.list(w)
			return
		}
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	key, ok := strings.CutPrefix(path, f.bucket+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		http.ServeContent(w, r, key, time.Time{}, bytes.NewReader(body))
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakeS3) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeS3) list(w http.ResponseWriter) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>", f.bucket, len(f.objects))
	for key, body := range f.objects {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-02T03:04:05.000Z</LastModified></Contents>", key, len(body))
	}
	b.WriteString("</ListBucketResult>")
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, b.String())
}

func newTestStorage(t *testing.T) (*S3Storage, *fakeS3, string) {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	fake := &fakeS3{bucket: "songs", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{
		Bucket:          "songs",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return store, fake, srv.URL
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestUploadListDownloadDelete(t *testing.T) {
	store, fake, endpoint := newTestStorage(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "track.mp3")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	url, err := store.UploadFile(ctx, "abc123", src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if want := endpoint + "/songs/abc123/track.mp3"; url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
	if got := string(fake.object("abc123/track.mp3")); got != "audio" {
		t.Fatalf("stored body = %q", got)
	}

	objects, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objects) != 1 || objects[0].Key != "abc123/track.mp3" || objects[0].Size != 5 || objects[0].URL != url {
		t.Fatalf("unexpected listing %+v", objects)
	}

	dest := filepath.Join(t.TempDir(), "out", "track.mp3")
	n, err := store.Download(ctx, store.KeyFromURL(url), dest)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || n != 5 || string(data) != "audio" {
		t.Fatalf("unexpected download n=%d data=%q err=%v", n, data, err)
	}

	if err := store.Delete(ctx, "abc123/track.mp3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := fake.count(); n != 0 {
		t.Fatalf("expected bucket empty, got %d objects", n)
	}
}

func TestDownloadMissingObject(t *testing.T) {
	store, _, _ := newTestStorage(t)
	dest := filepath.Join(t.TempDir(), "missing.mp3")

	_, err := store.Download(context.Background(), "nope/missing.mp3", dest)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial file removed, stat err=%v", statErr)
	}
}

func TestKeyFromURL(t *testing.T) {
	store := &S3Storage{bucket: "songs", baseURL: "https://cdn.example.com/music"}

	tests := []struct {
		raw  string
		want string
	}{
		{store.URL("abc/My_Song.mp3"), "abc/My_Song.mp3"},
		{"https://cdn.example.com/music/abc/a%20b.mp3", "abc/a b.mp3"},
		{"http://minio.local:9000/songs/abc/x.mp3", "abc/x.mp3"},
		{"abc/plain.mp3", "abc/plain.mp3"},
	}
	for _, tt := range tests {
		if got := store.KeyFromURL(tt.raw); got != tt.want {
			t.Fatalf("KeyFromURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestPublicBase(t *testing.T) {
	tests := []struct {
		cfg      config.ObjectStoreConfig
		endpoint string
		want     string
	}{
		{config.ObjectStoreConfig{Bucket: "b", PublicBaseURL: "https://cdn/x/"}, "", "https://cdn/x"},
		{config.ObjectStoreConfig{Bucket: "b"}, "http://minio:9000", "http://minio:9000/b"},
		{config.ObjectStoreConfig{Bucket: "b", Region: "eu-west-1"}, "", "https://b.s3.eu-west-1.amazonaws.com"},
	}
	for _, tt := range tests {
		if got := publicBase(tt.cfg, tt.endpoint); got != tt.want {
			t.Fatalf("publicBase(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("abc", "/music/dir/Song.mp3"); got != "abc/Song.mp3" {
		t.Fatalf("ObjectKey = %q", got)
	}
}

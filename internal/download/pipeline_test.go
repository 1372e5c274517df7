package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/musicstream/backend/internal/retry"
)

type fakeFetcher struct {
	calls int
	write func(base string, call int) error
}

func (f *fakeFetcher) DownloadAudio(_ context.Context, _ string, outputBase string) error {
	f.calls++
	if f.write == nil {
		return nil
	}
	return f.write(outputBase, f.calls)
}

func noSleepPolicy(waits *[]time.Duration) retry.Policy {
	return retry.Policy{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		MaxDelay:  8 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			if waits != nil {
				*waits = append(*waits, d)
			}
			return nil
		},
	}
}

func writeExt(ext string) func(string, int) error {
	return func(base string, _ int) error {
		return os.WriteFile(base+ext, []byte("audio"), 0o644)
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Song / Live!", "My_Song__Live"},
		{"  spaced  out  ", "spaced__out"},
		{"a-b_c.d", "a-b_c.d"},
		{"Café del Mar", "Café_del_Mar"},
		{"???", ""},
		{"..", ""},
		{strings.Repeat("x", 60), strings.Repeat("x", 40)},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Fatalf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileStemFallsBackToRandomID(t *testing.T) {
	stem := FileStem("***")
	if stem == "" || strings.ContainsAny(stem, "*/") {
		t.Fatalf("unexpected stem %q", stem)
	}
}

func TestUniquePathSkipsExistingAndReserved(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "song.mp3"), nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reserved := filepath.Join(dir, "song_1.mp3")

	got := UniquePath(dir, "song", ".mp3", func(p string) bool { return p == reserved })
	if want := filepath.Join(dir, "song_2.mp3"); got != want {
		t.Fatalf("UniquePath = %q, want %q", got, want)
	}
}

func TestDownloadWritesUniqueFiles(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{write: writeExt(".mp3")}
	p := New(fetcher, Options{LocalDir: dir, Policy: noSleepPolicy(nil)})

	first, err := p.Download(context.Background(), Request{VideoID: "abc123", Title: "Same Title"})
	if err != nil {
		t.Fatalf("first download: %v", err)
	}
	second, err := p.Download(context.Background(), Request{VideoID: "abc123", Title: "Same Title"})
	if err != nil {
		t.Fatalf("second download: %v", err)
	}

	if first != filepath.Join(dir, "Same_Title.mp3") {
		t.Fatalf("unexpected first path %q", first)
	}
	if second != filepath.Join(dir, "Same_Title_1.mp3") {
		t.Fatalf("unexpected second path %q", second)
	}
}

func TestDownloadAcceptsOtherExtension(t *testing.T) {
	dir := t.TempDir()
	p := New(&fakeFetcher{write: writeExt(".m4a")}, Options{LocalDir: dir, Policy: noSleepPolicy(nil)})

	got, err := p.Download(context.Background(), Request{VideoID: "abc123", Title: "track"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if got != filepath.Join(dir, "track.m4a") {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestDownloadAcceptsPrefixMatch(t *testing.T) {
	dir := t.TempDir()
	p := New(&fakeFetcher{write: writeExt(".f140.webm")}, Options{LocalDir: dir, Policy: noSleepPolicy(nil)})

	got, err := p.Download(context.Background(), Request{VideoID: "abc123", Title: "track"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if got != filepath.Join(dir, "track.f140.webm") {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestDownloadIgnoresPreexistingPrefixFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "track-old.mp3"), nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var waits []time.Duration
	fetcher := &fakeFetcher{}
	p := New(fetcher, Options{LocalDir: dir, Policy: noSleepPolicy(&waits)})

	_, err := p.Download(context.Background(), Request{VideoID: "abc123", Title: "track"})
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fetcher.calls)
	}
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 4*time.Second {
		t.Fatalf("unexpected waits %v", waits)
	}
}

func TestDownloadRetriesFetcherErrors(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{write: func(base string, call int) error {
		if call < 2 {
			return errors.New("HTTP Error 403")
		}
		return os.WriteFile(base+".mp3", []byte("audio"), 0o644)
	}}
	p := New(fetcher, Options{LocalDir: dir, Policy: noSleepPolicy(nil)})

	got, err := p.Download(context.Background(), Request{VideoID: "abc123", Title: "retry me"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if fetcher.calls != 2 || filepath.Base(got) != "retry_me.mp3" {
		t.Fatalf("unexpected result calls=%d path=%q", fetcher.calls, got)
	}
}

func TestDownloadDirectorySelection(t *testing.T) {
	local := t.TempDir()
	cloud := t.TempDir()
	folder := filepath.Join(t.TempDir(), "nested", "folder")
	p := New(&fakeFetcher{write: writeExt(".mp3")}, Options{LocalDir: local, CloudDir: cloud, Policy: noSleepPolicy(nil)})

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"local", Request{VideoID: "abc123", Title: "a"}, local},
		{"cloud", Request{VideoID: "abc123", Title: "b", PersistRemote: true}, cloud},
		{"explicit folder", Request{VideoID: "abc123", Title: "c", Folder: folder, PersistRemote: true}, folder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Download(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("download: %v", err)
			}
			if filepath.Dir(got) != tt.want {
				t.Fatalf("expected file in %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDownloadFallsBackToTempDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tmp := t.TempDir()

	p := New(&fakeFetcher{write: writeExt(".mp3")}, Options{LocalDir: filepath.Join(blocker, "sub"), Policy: noSleepPolicy(nil)})
	p.tempDir = func() string { return tmp }

	got, err := p.Download(context.Background(), Request{VideoID: "abc123", Title: "fallback"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if filepath.Dir(got) != tmp {
		t.Fatalf("expected temp dir output, got %q", got)
	}
}

func TestDownloadRejectsInvalidVideoID(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := New(fetcher, Options{LocalDir: t.TempDir(), Policy: noSleepPolicy(nil)})

	if _, err := p.Download(context.Background(), Request{VideoID: "../etc"}); err == nil {
		t.Fatal("expected error for invalid id")
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetcher should not be called, got %d calls", fetcher.calls)
	}
}

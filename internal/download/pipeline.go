// Package download fetches audio for a video into a uniquely named local file.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/metrics"
	"github.com/musicstream/backend/internal/retry"
	"github.com/musicstream/backend/internal/videos"
)

// ErrDownloadFailed is returned once every attempt has failed.
var ErrDownloadFailed = errors.New("download failed")

var errOutputMissing = errors.New("download reported success but no output file was found")

// AudioFetcher performs one download of videoID's audio to outputBase plus
// an extension of its choosing.
type AudioFetcher interface {
	DownloadAudio(ctx context.Context, videoID, outputBase string) error
}

// Request describes a single download. Folder overrides the configured
// directories when set.
type Request struct {
	VideoID       string
	Title         string
	Folder        string
	PersistRemote bool
}

type Options struct {
	LocalDir string
	CloudDir string
	Policy   retry.Policy
	Metrics  *metrics.Recorder
}

// Pipeline downloads audio with retry, collision-safe naming and output
// verification.
type Pipeline struct {
	fetcher  AudioFetcher
	localDir string
	cloudDir string
	policy   retry.Policy
	metrics  *metrics.Recorder
	tempDir  func() string

	mu       sync.Mutex
	reserved map[string]struct{}
}

func New(fetcher AudioFetcher, opts Options) *Pipeline {
	cloudDir := opts.CloudDir
	if cloudDir == "" {
		cloudDir = filepath.Join(os.TempDir(), "musicstream")
	}
	return &Pipeline{
		fetcher:  fetcher,
		localDir: opts.LocalDir,
		cloudDir: cloudDir,
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		tempDir:  os.TempDir,
		reserved: make(map[string]struct{}),
	}
}

// Download fetches the audio for req and returns the path of the file on disk.
func (p *Pipeline) Download(ctx context.Context, req Request) (string, error) {
	if err := videos.ValidateVideoID(req.VideoID); err != nil {
		return "", err
	}

	target := "local"
	if req.PersistRemote {
		target = "cloud"
	}

	ctx, span := logging.StartSpan(ctx, "download_audio", "video_id", req.VideoID, "target", target)
	logger := logging.FromContext(ctx)

	dir := p.outputDir(logger, req)
	path, release := p.reserve(dir, FileStem(req.Title))
	defer release()

	base := strings.TrimSuffix(path, filepath.Ext(path))
	before := listNames(dir)

	outcome := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) (string, error) {
		logger.Info("downloading audio", "attempt", attempt, "output", path)
		if err := p.fetcher.DownloadAudio(ctx, req.VideoID, base); err != nil {
			return "", err
		}
		found, ok := locateOutput(dir, base, before)
		if !ok {
			return "", fmt.Errorf("%w: %s", errOutputMissing, path)
		}
		return found, nil
	}, func(state retry.State, attempt int, err error) {
		switch state {
		case retry.Attempting:
			if videos.IsBotCheck(err) {
				logger.Warn("bot check detected during download, verify the cookie file", "attempt", attempt)
			}
			logger.Warn("download attempt failed", "attempt", attempt, "error", err)
		case retry.Exhausted:
			logger.Error("download attempts exhausted", "attempts", attempt, "error", err)
		}
	})

	if outcome.State != retry.Succeeded {
		p.metrics.Download(target, "failure")
		err := fmt.Errorf("%w: %s after %d attempts: %w", ErrDownloadFailed, req.VideoID, outcome.Attempts, outcome.Err)
		span.EndErr(err)
		return "", err
	}

	p.metrics.Download(target, "success")
	span.End()
	return outcome.Value, nil
}

func (p *Pipeline) outputDir(logger *slog.Logger, req Request) string {
	dir := req.Folder
	if dir == "" {
		if req.PersistRemote {
			dir = p.cloudDir
		} else {
			dir = p.localDir
		}
	}
	if dir != "" {
		err := EnsureWritableDir(dir)
		if err == nil {
			return dir
		}
		logger.Warn("output directory not writable, using temp dir", "dir", dir, "error", err)
	}
	return p.tempDir()
}

// reserve picks a free path and holds it until release so concurrent
// downloads with the same title never share a name.
func (p *Pipeline) reserve(dir, stem string) (string, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := UniquePath(dir, stem, ".mp3", func(candidate string) bool {
		_, taken := p.reserved[candidate]
		return taken
	})
	p.reserved[path] = struct{}{}

	return path, func() {
		p.mu.Lock()
		delete(p.reserved, path)
		p.mu.Unlock()
	}
}

// locateOutput checks, in order: the exact mp3 path, the same base with any
// other extension, then any new file sharing the base name prefix.
func locateOutput(dir, base string, before map[string]struct{}) (string, bool) {
	expected := base + ".mp3"
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	stem := filepath.Base(base)

	var prefixed string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || isPartial(name) {
			continue
		}
		if _, old := before[name]; old {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == stem {
			return filepath.Join(dir, name), true
		}
		if prefixed == "" && strings.HasPrefix(name, stem) {
			prefixed = filepath.Join(dir, name)
		}
	}
	if prefixed != "" {
		return prefixed, true
	}
	return "", false
}

func listNames(dir string) map[string]struct{} {
	names := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		return names
	}
	for _, entry := range entries {
		names[entry.Name()] = struct{}{}
	}
	return names
}

func isPartial(name string) bool {
	return strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.HasPrefix(name, ".write-probe-")
}

package videos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/metrics"
	"github.com/musicstream/backend/internal/models"
	"github.com/musicstream/backend/internal/retry"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Binary      string
	Timeout     time.Duration
	CookiesPath string
	UserAgent   string
	Policy      retry.Policy
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

// Resolver resolves direct media URLs, metadata and audio downloads using the
// yt-dlp CLI.
type Resolver struct {
	Binary    string
	Run       CommandRunner
	Timeout   time.Duration
	UserAgent string
	Cookies   string
	Policy    retry.Policy
	Fallbacks []string

	metrics *metrics.Recorder
	pick    func(n int) int
}

// NewResolver constructs a Resolver that shells out to yt-dlp.
func NewResolver(opts ResolverOptions) *Resolver {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cookies := ResolveCookiePath(opts.CookiesPath)
	if cookies == "" {
		logger.Warn("cookie file not found, yt-dlp will run without cookies", "configured", opts.CookiesPath)
	}

	return &Resolver{
		Binary:    binary,
		Run:       defaultCommandRunner,
		Timeout:   timeout,
		UserAgent: opts.UserAgent,
		Cookies:   cookies,
		Policy:    opts.Policy,
		Fallbacks: FallbackURLs,
		metrics:   opts.Metrics,
		pick:      rand.IntN,
	}
}

// ResolveCookiePath returns configured when it exists, else cookies.txt next
// to the executable when that exists, else "".
func ResolveCookiePath(configured string) string {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured
		}
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	local := filepath.Join(filepath.Dir(exe), "cookies.txt")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return ""
}

type ytdlpFormat struct {
	FormatID string `json:"format_id"`
	URL      string `json:"url"`
	Acodec   string `json:"acodec"`
	Vcodec   string `json:"vcodec"`
}

type ytdlpInfo struct {
	Title     string        `json:"title"`
	Thumbnail string        `json:"thumbnail"`
	Channel   string        `json:"channel"`
	Uploader  string        `json:"uploader"`
	Duration  float64       `json:"duration"`
	URL       string        `json:"url"`
	Formats   []ytdlpFormat `json:"formats"`
}

// ResolveStream returns a direct audio URL for videoID. When every attempt
// fails it returns a URL from the fallback pool instead of an error; the only
// error is an invalid id.
func (r *Resolver) ResolveStream(ctx context.Context, videoID string) (models.MediaReference, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return models.MediaReference{}, err
	}

	ctx, span := logging.StartSpan(ctx, "resolve_stream", "video_id", videoID)
	defer span.End()

	outcome := retry.Do(ctx, r.Policy, func(ctx context.Context, _ int) (string, error) {
		info, err := r.extract(ctx, videoID, "-f", "bestaudio/best")
		if err != nil {
			return "", err
		}
		return selectStreamFormat(info.Formats)
	}, r.observer(ctx, "stream"))

	streamURL, fellBack := retry.WithFallback(outcome, r.pickFallback)
	if fellBack {
		r.metrics.ResolverFallback("stream")
		logging.FromContext(ctx).Error("stream resolution exhausted, serving fallback audio",
			"attempts", outcome.Attempts, "fallback_url", streamURL, "error", outcome.Err)
	}

	return models.MediaReference{
		VideoID:     videoID,
		URL:         streamURL,
		Fallback:    fellBack,
		ExpiresHint: expiresHint(streamURL),
	}, nil
}

// ResolveDownloadTarget resolves the URL yt-dlp would download for videoID.
// It does not fall back: persisting a sample track would be wrong.
func (r *Resolver) ResolveDownloadTarget(ctx context.Context, videoID string) (models.MediaReference, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return models.MediaReference{}, err
	}

	ctx, span := logging.StartSpan(ctx, "resolve_download_target", "video_id", videoID)

	outcome := retry.Do(ctx, r.Policy, func(ctx context.Context, _ int) (string, error) {
		info, err := r.extract(ctx, videoID, "-f", "bestaudio/best")
		if err != nil {
			return "", err
		}
		if info.URL != "" {
			return info.URL, nil
		}
		if len(info.Formats) == 0 {
			return "", ErrNoFormats
		}
		return info.Formats[0].URL, nil
	}, r.observer(ctx, "download_target"))

	if outcome.State != retry.Succeeded {
		err := fmt.Errorf("resolve download target for %s: %w", videoID, outcome.Err)
		span.EndErr(err)
		return models.MediaReference{}, err
	}
	span.End()

	return models.MediaReference{VideoID: videoID, URL: outcome.Value, ExpiresHint: expiresHint(outcome.Value)}, nil
}

// FetchMetadata returns title, thumbnail, channel and duration for videoID,
// or a placeholder record when every attempt fails.
func (r *Resolver) FetchMetadata(ctx context.Context, videoID string) models.VideoMetadata {
	if err := ValidateVideoID(videoID); err != nil {
		return PlaceholderMetadata(videoID)
	}

	ctx, span := logging.StartSpan(ctx, "fetch_metadata", "video_id", videoID)
	defer span.End()

	outcome := retry.Do(ctx, r.Policy, func(ctx context.Context, _ int) (models.VideoMetadata, error) {
		info, err := r.extract(ctx, videoID)
		if err != nil {
			return models.VideoMetadata{}, err
		}
		if strings.TrimSpace(info.Title) == "" {
			return models.VideoMetadata{}, ErrEmptyMetadata
		}
		channel := info.Channel
		if channel == "" {
			channel = info.Uploader
		}
		return models.VideoMetadata{
			Title:           info.Title,
			Thumbnail:       info.Thumbnail,
			Channel:         channel,
			DurationSeconds: int(info.Duration),
		}, nil
	}, r.observer(ctx, "metadata"))

	meta, fellBack := retry.WithFallback(outcome, func() models.VideoMetadata { return PlaceholderMetadata(videoID) })
	if fellBack {
		r.metrics.ResolverFallback("metadata")
	}
	return meta
}

// DownloadAudio runs a single yt-dlp download that extracts mp3 audio to
// outputBase with the extension yt-dlp chooses. Callers own retries.
func (r *Resolver) DownloadAudio(ctx context.Context, videoID, outputBase string) error {
	if err := ValidateVideoID(videoID); err != nil {
		return err
	}

	args := r.baseArgs()
	args = append(args,
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3", "--audio-quality", "192K",
		"-o", outputBase+".%(ext)s",
		WatchURL(videoID),
	)

	execCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	if _, err := r.runner()(execCtx, r.Binary, args...); err != nil {
		return fmt.Errorf("yt-dlp download: %w", err)
	}
	return nil
}

func (r *Resolver) extract(ctx context.Context, videoID string, extra ...string) (ytdlpInfo, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := r.baseArgs()
	args = append(args, "--dump-single-json", "--skip-download")
	args = append(args, extra...)
	args = append(args, WatchURL(videoID))

	out, err := r.runner()(execCtx, r.Binary, args...)
	if err != nil {
		return ytdlpInfo{}, fmt.Errorf("yt-dlp fetch: %w", err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return ytdlpInfo{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}
	return info, nil
}

func (r *Resolver) baseArgs() []string {
	args := []string{
		"--no-warnings", "--no-playlist",
		"--socket-timeout", "30",
		"--retries", "5",
		"--extractor-retries", "3",
	}
	if r.UserAgent != "" {
		args = append(args, "--user-agent", r.UserAgent)
	}
	if r.Cookies != "" {
		args = append(args, "--cookies", r.Cookies)
	}
	return args
}

func (r *Resolver) runner() CommandRunner {
	if r.Run == nil {
		return defaultCommandRunner
	}
	return r.Run
}

func (r *Resolver) observer(ctx context.Context, operation string) retry.Observer {
	logger := logging.FromContext(ctx)
	policy := r.Policy
	if policy.Attempts <= 0 {
		policy.Attempts = retry.DefaultAttempts
	}
	return func(state retry.State, attempt int, err error) {
		switch state {
		case retry.Succeeded:
			r.metrics.ResolverAttempt(operation, "success")
		case retry.Attempting:
			r.metrics.ResolverAttempt(operation, "failure")
			if IsBotCheck(err) {
				logger.Warn("bot check detected, verify the cookie file",
					"operation", operation, "attempt", attempt, "cookies", r.Cookies)
			}
			logger.Warn("yt-dlp attempt failed",
				"operation", operation, "attempt", attempt, "max_attempts", policy.Attempts, "error", err)
		case retry.Exhausted:
			logger.Error("yt-dlp attempts exhausted", "operation", operation, "attempts", attempt, "error", err)
		}
	}
}

func (r *Resolver) pickFallback() string {
	pool := r.Fallbacks
	if len(pool) == 0 {
		pool = FallbackURLs
	}
	pick := r.pick
	if pick == nil {
		pick = rand.IntN
	}
	return pool[pick(len(pool))]
}

// selectStreamFormat prefers the first audio-only format, then any format.
func selectStreamFormat(formats []ytdlpFormat) (string, error) {
	if len(formats) == 0 {
		return "", ErrNoFormats
	}
	for _, f := range formats {
		if f.Acodec != "none" && f.Vcodec == "none" && f.URL != "" {
			return f.URL, nil
		}
	}
	if formats[0].URL == "" {
		return "", ErrNoFormats
	}
	return formats[0].URL, nil
}

func expiresHint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("expire")
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := lastLine(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return out, err
	}
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// Package stream relays resolved audio to HTTP clients, either as a ranged
// passthrough or as a fully buffered file with validators.
package stream

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/metrics"
	"github.com/musicstream/backend/internal/models"
)

const (
	relayChunkSize     = 4096
	bufferChunkSize    = 8192
	cacheControl       = "public, max-age=1800"
	defaultContentType = "audio/mpeg"
)

var (
	// ErrRelayInterrupted wraps failures that happen after response headers
	// were sent. Callers must not write an error body for these.
	ErrRelayInterrupted = errors.New("stream relay interrupted")
	// ErrUpstreamStatus reports a non-2xx answer from the media host.
	ErrUpstreamStatus = errors.New("upstream returned unexpected status")
)

// Resolver turns a video id into a direct media URL.
type Resolver interface {
	ResolveStream(ctx context.Context, videoID string) (models.MediaReference, error)
}

type Options struct {
	Client    *http.Client
	TempDir   string
	UserAgent string
	Metrics   *metrics.Recorder
}

// Proxy serves audio for a video id from its resolved upstream URL.
type Proxy struct {
	resolver  Resolver
	client    *http.Client
	tempDir   string
	userAgent string
	metrics   *metrics.Recorder
}

func NewProxy(resolver Resolver, opts Options) *Proxy {
	client := opts.Client
	if client == nil {
		// No overall timeout: a relay lasts as long as the track.
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &Proxy{
		resolver:  resolver,
		client:    client,
		tempDir:   opts.TempDir,
		userAgent: opts.UserAgent,
		metrics:   opts.Metrics,
	}
}

// Serve writes the audio for videoID to w. The Range header of r selects
// passthrough mode; without it the body is buffered to disk and served with
// an ETag. An error wrapping ErrRelayInterrupted means headers already went
// out; any other error means nothing was written.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, videoID string) error {
	ctx, span := logging.StartSpan(r.Context(), "stream_audio", "video_id", videoID)
	logger := logging.FromContext(ctx)

	ref, err := p.resolver.ResolveStream(ctx, videoID)
	if err != nil {
		err = fmt.Errorf("resolve stream: %w", err)
		span.EndErr(err)
		return err
	}
	if ref.Fallback {
		logger.Warn("streaming fallback audio", "url", ref.URL)
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		err = p.serveRange(ctx, w, ref.URL, rangeHeader)
	} else {
		err = p.serveBuffered(ctx, w, r, ref.URL, videoID)
	}
	span.EndErr(err)
	return err
}

type probeResult struct {
	contentType   string
	contentLength int64
}

// probe issues a HEAD request. Failures are logged and reported as !ok.
func (p *Proxy) probe(ctx context.Context, url string) (probeResult, bool) {
	logger := logging.FromContext(ctx)

	req, err := p.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		logger.Warn("build probe request", "error", err)
		return probeResult{}, false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logger.Warn("upstream probe failed", "error", err)
		return probeResult{}, false
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("upstream probe returned non-success status", "status", resp.StatusCode)
		return probeResult{}, false
	}
	return probeResult{
		contentType:   resp.Header.Get("Content-Type"),
		contentLength: resp.ContentLength,
	}, true
}

func (p *Proxy) serveRange(ctx context.Context, w http.ResponseWriter, url, rangeHeader string) error {
	logger := logging.FromContext(ctx)
	probed, probeOK := p.probe(ctx, url)

	resp, err := p.fetch(ctx, url, rangeHeader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	h := w.Header()
	h.Set("Content-Type", firstNonEmpty(probed.contentType, resp.Header.Get("Content-Type"), defaultContentType))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", cacheControl)
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		h.Set("Content-Range", cr)
	}
	switch {
	case resp.ContentLength >= 0:
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	case resp.StatusCode == http.StatusOK && probeOK && probed.contentLength >= 0:
		h.Set("Content-Length", strconv.FormatInt(probed.contentLength, 10))
	}
	w.WriteHeader(resp.StatusCode)

	n, err := relay(w, chunks(resp.Body, relayChunkSize))
	p.metrics.StreamBytes("range", n)
	if err != nil {
		logger.Warn("range relay stopped", "bytes", n, "error", err)
		return fmt.Errorf("%w: %w", ErrRelayInterrupted, err)
	}
	logger.Info("range relay finished", "status", resp.StatusCode, "bytes", n)
	return nil
}

func (p *Proxy) serveBuffered(ctx context.Context, w http.ResponseWriter, r *http.Request, url, videoID string) error {
	logger := logging.FromContext(ctx)

	resp, err := p.fetch(ctx, url, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(p.tempDir, "stream-*.mp3")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove temp file", "path", tmp.Name(), "error", err)
		}
	}()

	hash := sha256.New()
	var size int64
	for chunk, err := range chunks(resp.Body, bufferChunkSize) {
		if err != nil {
			return fmt.Errorf("read upstream: %w", err)
		}
		if _, err := tmp.Write(chunk); err != nil {
			return fmt.Errorf("write temp file: %w", err)
		}
		hash.Write(chunk)
		size += int64(len(chunk))
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}

	h := w.Header()
	h.Set("Content-Type", defaultContentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", cacheControl)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", videoID+".mp3"))
	h.Set("ETag", fmt.Sprintf(`"%x"`, hash.Sum(nil)))

	http.ServeContent(w, r, videoID+".mp3", info.ModTime(), tmp)
	p.metrics.StreamBytes("buffered", size)
	logger.Info("buffered stream served", "bytes", size)
	return nil
}

func (p *Proxy) fetch(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	req, err := p.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch upstream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}
	return resp, nil
}

func (p *Proxy) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	return req, nil
}

// chunks yields successive reads of up to size bytes from r. The yielded
// slice is reused between iterations.
func chunks(r io.Reader, size int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, size)
		for {
			n, err := r.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// relay writes and flushes each chunk, stopping at the first failure.
func relay(w http.ResponseWriter, seq iter.Seq2[[]byte, error]) (int64, error) {
	rc := http.NewResponseController(w)
	var total int64
	for chunk, err := range seq {
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return total, err
		}
	}
	return total, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

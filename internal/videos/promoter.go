package videos

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/musicstream/backend/internal/metrics"
	"github.com/musicstream/backend/internal/models"
)

// SongUpserter persists the cloud location once an upload finishes.
type SongUpserter interface {
	UpsertSong(ctx context.Context, song models.SongUpsert) (int64, error)
}

// FileUploader copies a local file into durable storage and returns its URL.
type FileUploader interface {
	UploadFile(ctx context.Context, videoID, path string) (string, error)
}

// CloudPromoterConfig controls the concurrency characteristics of the promoter.
type CloudPromoterConfig struct {
	QueueSize     int
	Workers       int
	UploadTimeout time.Duration
}

// CloudPromoter asynchronously uploads local-only songs to object storage and
// marks them cloud-backed.
type CloudPromoter struct {
	uploader FileUploader
	songs    SongUpserter
	logger   *slog.Logger
	metrics  *metrics.Recorder
	timeout  time.Duration

	jobs   chan promoteJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

type promoteJob struct {
	song models.Song
}

// NewCloudPromoter starts the worker pool.
func NewCloudPromoter(uploader FileUploader, songs SongUpserter, cfg CloudPromoterConfig, logger *slog.Logger, rec *metrics.Recorder) *CloudPromoter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &CloudPromoter{
		uploader: uploader,
		songs:    songs,
		logger:   logger,
		metrics:  rec,
		timeout:  cfg.UploadTimeout,
		jobs:     make(chan promoteJob, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

// Enqueue schedules an upload for song, which must have a local file.
func (p *CloudPromoter) Enqueue(ctx context.Context, song models.Song) error {
	if !song.HasLocalCopy() {
		return fmt.Errorf("promote song %d: no local file", song.ID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPromoterClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- promoteJob{song: song}:
		return nil
	}
}

// Shutdown stops accepting jobs and waits for queued uploads to finish, or
// for ctx to expire, in which case in-flight uploads are canceled.
func (p *CloudPromoter) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	case <-done:
		p.cancel()
		return nil
	}
}

func (p *CloudPromoter) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.handleJob(job)
	}
}

func (p *CloudPromoter) handleJob(job promoteJob) {
	song := job.song
	logger := p.logger.With("song_id", song.ID, "video_id", song.VideoID)

	if p.uploader == nil || p.songs == nil {
		logger.Error("cloud promoter missing dependencies", "hasUploader", p.uploader != nil, "hasSongs", p.songs != nil)
		p.metrics.Promotion("failure")
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	path := *song.LocalPath
	if _, err := os.Stat(path); err != nil {
		logger.Error("local file missing, skipping promotion", "path", path, "error", err)
		p.metrics.Promotion("failure")
		return
	}

	cloudURL, err := p.uploader.UploadFile(ctx, song.VideoID, path)
	if err != nil {
		logger.Error("promotion upload failed", "path", path, "error", err)
		p.metrics.Promotion("failure")
		return
	}

	if _, err := p.songs.UpsertSong(ctx, models.SongUpsert{
		VideoID:  song.VideoID,
		Title:    song.Title,
		CloudURL: &cloudURL,
	}); err != nil {
		logger.Error("record promoted song", "cloud_url", cloudURL, "error", err)
		p.metrics.Promotion("failure")
		return
	}

	logger.Info("song promoted to cloud storage", "cloud_url", cloudURL)
	p.metrics.Promotion("success")
}

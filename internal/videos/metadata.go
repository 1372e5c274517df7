package videos

import (
	"context"
	"fmt"
	"regexp"

	"github.com/musicstream/backend/internal/models"
)

// StreamResolver turns a video id into a playable direct URL.
type StreamResolver interface {
	ResolveStream(ctx context.Context, videoID string) (models.MediaReference, error)
}

// MetadataFetcher returns best-effort descriptive data for a video.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, videoID string) models.VideoMetadata
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateVideoID rejects ids that could not have come from the platform.
func ValidateVideoID(videoID string) error {
	if !videoIDPattern.MatchString(videoID) {
		return fmt.Errorf("%w: %q", ErrInvalidVideoID, videoID)
	}
	return nil
}

// WatchURL is the canonical page URL handed to yt-dlp.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// PlaceholderMetadata is returned when metadata cannot be fetched at all.
func PlaceholderMetadata(videoID string) models.VideoMetadata {
	return models.VideoMetadata{
		Title:       "Video " + videoID,
		Channel:     "Unknown",
		Placeholder: true,
	}
}

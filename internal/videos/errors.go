package videos

import "errors"

var (
	// ErrInvalidVideoID indicates an empty or malformed video identifier.
	ErrInvalidVideoID = errors.New("invalid video id")
	// ErrNoFormats is returned when yt-dlp reports no playable formats.
	ErrNoFormats = errors.New("no audio formats available")
	// ErrEmptyMetadata is returned when yt-dlp answers without a title.
	ErrEmptyMetadata = errors.New("yt-dlp returned empty metadata")
	// ErrPromoterClosed is returned by Enqueue after Shutdown.
	ErrPromoterClosed = errors.New("cloud promoter closed")
)

package videos

import (
	"context"
	"testing"
	"time"

	"github.com/musicstream/backend/internal/models"
)

type stubFetcher struct {
	metadata models.VideoMetadata
	calls    int
}

func (s *stubFetcher) FetchMetadata(context.Context, string) models.VideoMetadata {
	s.calls++
	return s.metadata
}

func TestMetadataCacheServesFreshEntries(t *testing.T) {
	base := &stubFetcher{metadata: models.VideoMetadata{Title: "One More Time"}}
	cache := NewMetadataCache(base, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	if meta := cache.FetchMetadata(ctx, "abc"); meta.Title != "One More Time" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	cache.FetchMetadata(ctx, "abc")
	if base.calls != 1 {
		t.Fatalf("expected cached result, got %d calls", base.calls)
	}

	now = now.Add(2 * time.Minute)
	cache.FetchMetadata(ctx, "abc")
	if base.calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", base.calls)
	}
}

func TestMetadataCacheSkipsPlaceholders(t *testing.T) {
	base := &stubFetcher{metadata: PlaceholderMetadata("abc")}
	cache := NewMetadataCache(base, time.Hour)

	cache.FetchMetadata(context.Background(), "abc")
	cache.FetchMetadata(context.Background(), "abc")
	if base.calls != 2 {
		t.Fatalf("expected placeholders not to be cached, got %d calls", base.calls)
	}
}

func TestMetadataCacheNil(t *testing.T) {
	var cache *MetadataCache
	if meta := cache.FetchMetadata(context.Background(), "abc"); !meta.Placeholder {
		t.Fatalf("expected placeholder from nil cache, got %+v", meta)
	}
}

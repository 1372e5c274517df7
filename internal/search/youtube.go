// Package search queries the YouTube Data API for videos.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/models"
)

// ErrNotConfigured is returned when no API key is configured.
var ErrNotConfigured = errors.New("youtube search is not configured")

const (
	defaultBaseURL = "https://www.googleapis.com/youtube/v3"
	maxResults     = 10
)

// YouTubeClient calls the search endpoint of the YouTube Data API v3.
type YouTubeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewYouTubeClient creates a client; a nil client gets a 10 second timeout.
func NewYouTubeClient(baseURL, apiKey string, client *http.Client) *YouTubeClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &YouTubeClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
	}
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search returns up to ten videos matching query.
func (c *YouTubeClient) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}

	params := url.Values{}
	params.Set("part", "id,snippet")
	params.Set("type", "video")
	params.Set("maxResults", fmt.Sprint(maxResults))
	params.Set("q", query)
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("youtube api: %d %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("youtube api: unexpected status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]models.SearchResult, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		if item.ID.VideoID == "" {
			continue
		}
		thumbs := item.Snippet.Thumbnails
		results = append(results, models.SearchResult{
			VideoID:   item.ID.VideoID,
			Title:     item.Snippet.Title,
			Thumbnail: firstNonEmpty(thumbs["high"].URL, thumbs["medium"].URL, thumbs["default"].URL),
			Channel:   item.Snippet.ChannelTitle,
		})
	}

	logging.FromContext(ctx).Debug("search completed", "query", query, "results", len(results))
	return results, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

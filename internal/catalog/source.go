package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/prerender/internal/apperr"
	"github.com/starford/prerender/internal/models"
)

// Source lists the posts published by the content API.
type Source interface {
	Posts(ctx context.Context) ([]models.Post, error)
}

// HTTPSource reads posts from the remote JSON API.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source for apiURL+postsPath. A zero timeout leaves
// the request unbounded.
func NewHTTPSource(apiURL, postsPath string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		endpoint: strings.TrimRight(apiURL, "/") + "/" + strings.TrimLeft(postsPath, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Posts issues one GET and decodes the post list. Any failure wraps
// apperr.ErrSourceFetch.
func (s *HTTPSource) Posts(ctx context.Context) ([]models.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w: build request: %v", apperr.ErrSourceFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w: GET %s: %v", apperr.ErrSourceFetch, s.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog: %w: GET %s: status %d: %s",
			apperr.ErrSourceFetch, s.endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var posts []models.Post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("catalog: %w: decode %s: %v", apperr.ErrSourceFetch, s.endpoint, err)
	}
	return posts, nil
}

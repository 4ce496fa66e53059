// Package fetcher queries news search sources and turns their results into Articles.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"esg_news/internal/model"
)

const (
	userAgent    = "ESGNewsEngine/1.0"
	maxBodyBytes = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Searcher runs one query against a news source.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]model.Article, error)
}

// fetch performs a GET and returns the body of a 200 response.
// 429 maps to model.ErrRateLimited; every other failure maps to
// model.ErrSourceUnavailable.
func fetch(ctx context.Context, client HTTPClient, limiter *rate.Limiter, req *http.Request) ([]byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// The wait would run past the deadline.
				return nil, fmt.Errorf("rate limit wait: %w: %v", context.DeadlineExceeded, err)
			}
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("http get: %w", err)
		}
		return nil, fmt.Errorf("http get: %w: %w", model.ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, model.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, model.ErrSourceUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w: %w", model.ErrSourceUnavailable, err)
	}
	return body, nil
}

var strict = bluemonday.StrictPolicy()

// cleanText strips markup and entities from a search snippet.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

// NewLimiter spaces requests to a source at least interval apart.
// A non-positive interval disables limiting.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

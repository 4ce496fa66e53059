package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"esg_news/internal/article"
	"esg_news/internal/model"
)

const (
	naverSearchPath = "/v1/search/news.json"
	naverMaxDisplay = 100
)

// NaverSource searches the Naver news search API.
type NaverSource struct {
	client       HTTPClient
	limiter      *rate.Limiter
	baseURL      string
	clientID     string
	clientSecret string
}

// NewNaverSource creates a NaverSource. limiter may be nil.
func NewNaverSource(client HTTPClient, limiter *rate.Limiter, baseURL, clientID, clientSecret string) *NaverSource {
	return &NaverSource{
		client:       client,
		limiter:      limiter,
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Name implements Searcher.
func (s *NaverSource) Name() string { return "naver" }

type naverResponse struct {
	Items []naverItem `json:"items"`
}

type naverItem struct {
	Title        string `json:"title"`
	OriginalLink string `json:"originallink"`
	Link         string `json:"link"`
	Description  string `json:"description"`
	PubDate      string `json:"pubDate"`
}

// Search returns up to limit of the most recent articles for query.
func (s *NaverSource) Search(ctx context.Context, query string, limit int) ([]model.Article, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("display", strconv.Itoa(clampLimit(limit, naverMaxDisplay)))
	params.Set("start", "1")
	params.Set("sort", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+naverSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Naver-Client-Id", s.clientID)
	req.Header.Set("X-Naver-Client-Secret", s.clientSecret)

	body, err := fetch(ctx, s.client, s.limiter, req)
	if err != nil {
		return nil, fmt.Errorf("naver search %q: %w", query, err)
	}

	var resp naverResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("naver search %q: decode: %w: %w", query, model.ErrSourceUnavailable, err)
	}

	articles := make([]model.Article, 0, len(resp.Items))
	for _, it := range resp.Items {
		link := it.OriginalLink
		if link == "" {
			link = it.Link
		}
		a := article.New(cleanText(it.Title), cleanText(it.Description), link, s.Name(), parsePubDate(it.PubDate))
		a.Query = query
		articles = append(articles, a)
	}
	return articles, nil
}

func parsePubDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

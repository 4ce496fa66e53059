package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"esg_news/internal/article"
	"esg_news/internal/model"
)

// RSSSource searches a news provider that answers queries with an RSS feed.
// The URL template must contain a single %s for the escaped query.
type RSSSource struct {
	client   HTTPClient
	limiter  *rate.Limiter
	template string
}

// NewRSSSource creates an RSSSource. limiter may be nil.
func NewRSSSource(client HTTPClient, limiter *rate.Limiter, template string) (*RSSSource, error) {
	if strings.Count(template, "%s") != 1 {
		return nil, fmt.Errorf("rss search url %q must contain exactly one %%s", template)
	}
	return &RSSSource{
		client:   client,
		limiter:  limiter,
		template: template,
	}, nil
}

// Name implements Searcher.
func (s *RSSSource) Name() string { return "rss" }

// Search returns up to limit feed items for query.
func (s *RSSSource) Search(ctx context.Context, query string, limit int) ([]model.Article, error) {
	u := fmt.Sprintf(s.template, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, err := fetch(ctx, s.client, s.limiter, req)
	if err != nil {
		return nil, fmt.Errorf("rss search %q: %w", query, err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("rss search %q: parse feed: %w: %w", query, model.ErrSourceUnavailable, err)
	}

	limit = clampLimit(limit, len(feed.Items))
	articles := make([]model.Article, 0, limit)
	for _, it := range feed.Items[:limit] {
		a := article.New(cleanText(it.Title), cleanText(it.Description), it.Link, s.Name(), it.PublishedParsed)
		a.Query = query
		articles = append(articles, a)
	}
	return articles, nil
}

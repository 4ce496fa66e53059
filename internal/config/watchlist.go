package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"esg_news/internal/filter"
	"esg_news/internal/model"
)

//go:embed default_watchlist.yaml
var defaultWatchlist []byte

type watchlistFile struct {
	TermGroups map[string][]string `yaml:"term_groups"`
	Subjects   []subjectEntry      `yaml:"subjects"`
}

type subjectEntry struct {
	ID          string   `yaml:"id"`
	Subject     string   `yaml:"subject"`
	DomainGroup string   `yaml:"domain_group"`
	DomainTerms []string `yaml:"domain_terms"`
	IssueGroup  string   `yaml:"issue_group"`
	IssueTerms  []string `yaml:"issue_terms"`
	Interval    string   `yaml:"interval"`
	Offset      string   `yaml:"offset"`
	MaxQueries  int      `yaml:"max_queries"`
	MaxResults  int      `yaml:"max_results"`
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
}

// LoadWatchlist reads the watch list at path, or the embedded default when
// path is empty.
func LoadWatchlist(path string) ([]model.WatchedSubject, error) {
	if path == "" {
		return ParseWatchlist(defaultWatchlist)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	subjects, err := ParseWatchlist(data)
	if err != nil {
		return nil, fmt.Errorf("watchlist %s: %w", path, err)
	}
	return subjects, nil
}

// ParseWatchlist decodes and validates a YAML watch list.
func ParseWatchlist(data []byte) ([]model.WatchedSubject, error) {
	var f watchlistFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse watchlist: %w", err)
	}
	if len(f.Subjects) == 0 {
		return nil, fmt.Errorf("watchlist has no subjects")
	}

	seen := make(map[string]bool, len(f.Subjects))
	out := make([]model.WatchedSubject, 0, len(f.Subjects))
	for i, e := range f.Subjects {
		ws, err := e.resolve(f.TermGroups)
		if err != nil {
			if e.ID == "" {
				return nil, fmt.Errorf("subject %d: %w", i, err)
			}
			return nil, fmt.Errorf("subject %q: %w", e.ID, err)
		}
		if seen[ws.ID] {
			return nil, fmt.Errorf("duplicate subject id %q", ws.ID)
		}
		seen[ws.ID] = true
		out = append(out, ws)
	}
	return out, nil
}

func (e subjectEntry) resolve(groups map[string][]string) (model.WatchedSubject, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return model.WatchedSubject{}, fmt.Errorf("id is required")
	}

	domain, err := terms("domain", e.DomainGroup, e.DomainTerms, groups)
	if err != nil {
		return model.WatchedSubject{}, err
	}
	issue, err := terms("issue", e.IssueGroup, e.IssueTerms, groups)
	if err != nil {
		return model.WatchedSubject{}, err
	}

	interval, err := time.ParseDuration(e.Interval)
	if err != nil {
		return model.WatchedSubject{}, fmt.Errorf("invalid interval %q: %w", e.Interval, err)
	}
	if interval <= 0 {
		return model.WatchedSubject{}, fmt.Errorf("interval must be positive, got %s", interval)
	}
	var offset time.Duration
	if e.Offset != "" {
		if offset, err = time.ParseDuration(e.Offset); err != nil {
			return model.WatchedSubject{}, fmt.Errorf("invalid offset %q: %w", e.Offset, err)
		}
	}
	if offset < 0 || offset >= interval {
		return model.WatchedSubject{}, fmt.Errorf("offset %s must be in [0, %s)", offset, interval)
	}
	if e.MaxQueries < 0 || e.MaxResults < 0 {
		return model.WatchedSubject{}, fmt.Errorf("max_queries and max_results must not be negative")
	}

	var rules []model.Filter
	for _, v := range e.Include {
		rules = append(rules, model.Filter{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: v})
	}
	for _, v := range e.Exclude {
		rules = append(rules, model.Filter{Kind: model.FilterExclude, Scope: model.ScopeAll, Value: v})
	}
	for _, r := range rules {
		if err := filter.Validate(r); err != nil {
			return model.WatchedSubject{}, err
		}
	}

	return model.WatchedSubject{
		ID:          id,
		Subject:     strings.TrimSpace(e.Subject),
		DomainTerms: domain,
		IssueTerms:  issue,
		MaxQueries:  e.MaxQueries,
		MaxResults:  e.MaxResults,
		Rules:       rules,
		Interval:    interval,
		Offset:      offset,
	}, nil
}

// terms returns the inline terms, or the named group when none are inline.
func terms(kind, group string, inline []string, groups map[string][]string) ([]string, error) {
	var out []string
	if len(inline) > 0 {
		if group != "" {
			return nil, fmt.Errorf("both %s_group and %s_terms set", kind, kind)
		}
		out = inline
	} else if group != "" {
		g, ok := groups[group]
		if !ok {
			return nil, fmt.Errorf("unknown %s group %q", kind, group)
		}
		out = g
	}

	cleaned := make([]string, 0, len(out))
	for _, t := range out {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("no %s terms", kind)
	}
	return cleaned, nil
}

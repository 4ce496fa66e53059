// Package model defines the domain types used across the application.
package model

import "time"

// Article is a single search result item returned by a news source.
type Article struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	NormTitle   string     `json:"-"`
	NormBody    string     `json:"-"`
	Link        string     `json:"link"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Query       string     `json:"query,omitempty"`
}

// NewerThan reports whether a was published after b. Unknown timestamps sort last.
func (a Article) NewerThan(b Article) bool {
	switch {
	case a.PublishedAt == nil:
		return false
	case b.PublishedAt == nil:
		return true
	default:
		return a.PublishedAt.After(*b.PublishedAt)
	}
}

// Sentiment labels produced by a scorer.
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// Score is the classification attached to a cluster representative.
type Score struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ArticleCluster groups near-duplicate articles behind one representative.
type ArticleCluster struct {
	Representative Article  `json:"representative"`
	MentionCount   int      `json:"mention_count"`
	MemberIDs      []string `json:"member_ids"`
	Score          *Score   `json:"score"`
}

// Tier identifies which layer produced an AnalysisResult.
type Tier string

// Supported tiers. Only TierScheduler and TierOnDemand are stored.
const (
	TierScheduler Tier = "scheduler"
	TierOnDemand  Tier = "on_demand"
	TierLive      Tier = "live"
)

// ResultStatus distinguishes a populated result from an empty one.
type ResultStatus string

// Supported result statuses.
const (
	StatusOK        ResultStatus = "ok"
	StatusNoResults ResultStatus = "no_results"
)

// Diagnostics reports partial degradation of a computation.
type Diagnostics struct {
	Queries         int  `json:"queries"`
	FailedQueries   int  `json:"failed_queries"`
	TimedOutQueries int  `json:"timed_out_queries"`
	RateLimited     int  `json:"rate_limited_queries"`
	RawArticles     int  `json:"raw_articles"`
	Filtered        int  `json:"filtered"`
	Dropped         int  `json:"dropped"`
	DuplicateIDs    int  `json:"duplicate_ids"`
	Truncated       int  `json:"truncated"`
	Unscored        int  `json:"unscored"`
	Partial         bool `json:"partial"`
}

// AnalysisResult is the cached and returned payload for one subject key.
type AnalysisResult struct {
	SubjectKey  string           `json:"subject_key"`
	Status      ResultStatus     `json:"status"`
	Clusters    []ArticleCluster `json:"clusters"`
	Queries     []string         `json:"queries"`
	ComputedAt  time.Time        `json:"computed_at"`
	SourceTier  Tier             `json:"source_tier"`
	Diagnostics Diagnostics      `json:"diagnostics"`
}

// NoResults reports whether the result is the "nothing to report" sentinel.
func (r AnalysisResult) NoResults() bool {
	return r.Status == StatusNoResults
}

// CacheEntry wraps a result with tier-specific expiry metadata.
type CacheEntry struct {
	Tier      Tier           `json:"tier"`
	ExpiresAt time.Time      `json:"expires_at"`
	Result    AnalysisResult `json:"result"`
}

// Fresh reports whether the entry may still be served at now.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// CacheInfo summarizes the contents of a cache store.
type CacheInfo struct {
	Tier1Count   int   `json:"tier1_count"`
	Tier2Count   int   `json:"tier2_count"`
	ApproxMemory int64 `json:"approx_memory"`
}

// WatchedSubject is a statically configured entity refreshed by the scheduler.
type WatchedSubject struct {
	ID          string
	Key         string
	Subject     string
	DomainTerms []string
	IssueTerms  []string
	MaxQueries  int
	MaxResults  int
	Rules       []Filter
	Interval    time.Duration
	Offset      time.Duration
}

// RunOutcome is the terminal state of one scheduled refresh.
type RunOutcome string

// Supported run outcomes.
const (
	OutcomeSuccess   RunOutcome = "success"
	OutcomeNoResults RunOutcome = "no_results"
	OutcomeFailure   RunOutcome = "failure"
)

// RefreshRun records one execution of a scheduled refresh.
type RefreshRun struct {
	ID         string
	SubjectID  string
	SubjectKey string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    RunOutcome
	Clusters   int
	ErrorKind  ErrorKind
	Error      string
}

// FilterKind defines the type of relevance rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of an article a rule matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter is a single relevance rule attached to a watched subject or request.
type Filter struct {
	Kind  FilterKind
	Scope FilterScope
	Value string
}

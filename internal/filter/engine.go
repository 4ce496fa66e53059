// Package filter applies relevance rules to fetched articles.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"esg_news/internal/model"
)

// Match checks whether an article passes the given set of rules.
// If no rules are provided, the article always passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func Match(a model.Article, rules []model.Filter) bool {
	return compile(rules).match(a)
}

// Apply keeps the articles that pass rules and reports how many were removed.
func Apply(articles []model.Article, rules []model.Filter) ([]model.Article, int) {
	if len(rules) == 0 {
		return articles, 0
	}
	set := compile(rules)
	kept := make([]model.Article, 0, len(articles))
	for _, a := range articles {
		if set.match(a) {
			kept = append(kept, a)
		}
	}
	return kept, len(articles) - len(kept)
}

type rule struct {
	model.Filter
	re *regexp.Regexp
}

type ruleSet []rule

// compile prepares regex rules once per set. A rule whose pattern does not
// compile never matches.
func compile(rules []model.Filter) ruleSet {
	set := make(ruleSet, 0, len(rules))
	for _, f := range rules {
		r := rule{Filter: f}
		if f.Kind == model.FilterIncludeRe || f.Kind == model.FilterExcludeRe {
			r.re, _ = regexp.Compile("(?i)" + f.Value)
		}
		set = append(set, r)
	}
	return set
}

func (s ruleSet) match(a model.Article) bool {
	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range s {
		switch r.Kind {
		case model.FilterInclude, model.FilterIncludeRe:
			hasIncludes = true
			if !anyIncludeMatched && r.matches(a) {
				anyIncludeMatched = true
			}
		case model.FilterExclude, model.FilterExcludeRe:
			if r.matches(a) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

func (r rule) matches(a model.Article) bool {
	text := textForScope(a, r.Scope)
	switch r.Kind {
	case model.FilterInclude, model.FilterExclude:
		return strings.Contains(text, strings.ToLower(r.Value))
	case model.FilterIncludeRe, model.FilterExcludeRe:
		if r.re == nil {
			return false
		}
		return r.re.MatchString(text)
	}
	return false
}

func textForScope(a model.Article, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(a.Title)
	case model.ScopeContent:
		return strings.ToLower(a.Body)
	default:
		return strings.ToLower(a.Title + " " + a.Body)
	}
}

// Validate checks that a rule is well formed.
func Validate(f model.Filter) error {
	switch f.Kind {
	case model.FilterInclude, model.FilterExclude:
		if strings.TrimSpace(f.Value) == "" {
			return fmt.Errorf("empty %s rule", f.Kind)
		}
	case model.FilterIncludeRe, model.FilterExcludeRe:
		if err := ValidateRegex(f.Value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown rule kind %q", f.Kind)
	}
	switch f.Scope {
	case model.ScopeTitle, model.ScopeContent, model.ScopeAll, "":
		return nil
	}
	return fmt.Errorf("unknown rule scope %q", f.Scope)
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}

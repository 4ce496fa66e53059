// Package query builds bounded keyword-combination search queries.
package query

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Query conjoins exactly one domain term and one issue term, optionally
// prefixed with a subject.
type Query struct {
	Subject string
	Domain  string
	Issue   string
}

// String renders the query in the form accepted by the search API.
func (q Query) String() string {
	if q.Subject == "" {
		return q.Domain + " " + q.Issue
	}
	return q.Subject + " " + q.Domain + " " + q.Issue
}

// Build returns the ordered query sequence for the given term groups.
//
// Terms are trimmed, de-duplicated and sorted, so equal inputs always yield
// the same sequence. Pairs are enumerated diagonally: the first
// min(len(domain), len(issue)) queries each use a distinct domain and issue
// term. maxQueries <= 0 caps the output at that diagonal.
func Build(domain, issue []string, subject string, maxQueries int) []Query {
	d := cleanTerms(domain)
	is := cleanTerms(issue)
	if len(d) == 0 || len(is) == 0 {
		return nil
	}
	subject = strings.Join(strings.Fields(subject), " ")

	limit := maxQueries
	if limit <= 0 {
		limit = min(len(d), len(is))
	}
	limit = min(limit, len(d)*len(is))

	queries := make([]Query, 0, limit)
	for k := 0; k < len(is) && len(queries) < limit; k++ {
		for i := 0; i < len(d) && len(queries) < limit; i++ {
			queries = append(queries, Query{
				Subject: subject,
				Domain:  d[i],
				Issue:   is[(i+k)%len(is)],
			})
		}
	}
	return queries
}

// Strings renders each query.
func Strings(queries []Query) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = q.String()
	}
	return out
}

// Signature hashes the ordered query sequence.
func Signature(queries []Query) string {
	h := sha256.Sum256([]byte(strings.Join(Strings(queries), "\n")))
	return fmt.Sprintf("%x", h[:8])
}

// SubjectKey derives the cache key for a subject and its query sequence.
func SubjectKey(subject string, queries []Query) string {
	subject = strings.Join(strings.Fields(subject), " ")
	if subject == "" {
		subject = "*"
	}
	return subject + ":" + Signature(queries)
}

func cleanTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Package article normalizes search results into comparable Articles.
package article

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"esg_news/internal/model"
)

// trackingParams are query parameters dropped from links before fingerprinting.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
	"spm":     true,
}

// Normalize lowercases text, replaces punctuation with spaces and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// CanonicalLink strips tracking parameters and fragments from a link.
// Links that do not parse are returned trimmed but otherwise unchanged.
func CanonicalLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] || strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Fingerprint derives a stable article id from the normalized title and canonical link.
func Fingerprint(title, link string) string {
	h := sha256.Sum256([]byte(Normalize(title) + "|" + CanonicalLink(link)))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// New builds an Article from raw display fields.
func New(title, body, link, source string, published *time.Time) model.Article {
	title = strings.Join(strings.Fields(title), " ")
	body = strings.Join(strings.Fields(body), " ")
	return model.Article{
		ID:          Fingerprint(title, link),
		Title:       title,
		Body:        body,
		NormTitle:   Normalize(title),
		NormBody:    Normalize(body),
		Link:        strings.TrimSpace(link),
		Source:      source,
		PublishedAt: published,
	}
}

// Renormalize fills the comparison fields of an article decoded from storage.
func Renormalize(a model.Article) model.Article {
	a.NormTitle = Normalize(a.Title)
	a.NormBody = Normalize(a.Body)
	return a
}

// RenormalizeResult fills the comparison fields of every representative in a
// result decoded from storage.
func RenormalizeResult(res *model.AnalysisResult) {
	for i := range res.Clusters {
		res.Clusters[i].Representative = Renormalize(res.Clusters[i].Representative)
	}
}

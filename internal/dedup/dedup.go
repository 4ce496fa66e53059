// Package dedup clusters near-duplicate articles by title similarity.
package dedup

import (
	"sort"
	"strings"
	"unicode/utf8"

	"esg_news/internal/model"
)

const (
	// DefaultThreshold is the title similarity at which two articles are duplicates.
	DefaultThreshold = 0.78

	// bodyMargin is how far below the threshold the body snippet may still decide.
	bodyMargin = 0.10
)

// Result holds the clusters and the diagnostics of one clustering pass.
type Result struct {
	Clusters     []model.ArticleCluster
	Dropped      int
	DuplicateIDs int
}

// Representatives returns the representative of each cluster in order.
func (r Result) Representatives() []model.Article {
	out := make([]model.Article, len(r.Clusters))
	for i, c := range r.Clusters {
		out[i] = c.Representative
	}
	return out
}

type group struct {
	rep     model.Article
	members []model.Article
	tokens  map[string]struct{}
	body    map[string]struct{}
	first   int
}

// Cluster groups articles whose normalized titles are at least threshold
// similar. Articles are visited in input order and join the first cluster
// whose current representative matches; otherwise they open a new cluster.
// Articles with an empty normalized title are dropped and counted.
// A threshold outside (0, 1] falls back to DefaultThreshold.
func Cluster(articles []model.Article, threshold float64) Result {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	var res Result
	seen := make(map[string]bool, len(articles))
	groups := make([]*group, 0, len(articles))

	for i, a := range articles {
		if strings.TrimSpace(a.NormTitle) == "" {
			res.Dropped++
			continue
		}
		if seen[a.ID] {
			res.DuplicateIDs++
			continue
		}
		seen[a.ID] = true

		tokens := tokenSet(a.NormTitle)
		body := tokenSet(a.NormBody)
		joined := false
		for _, g := range groups {
			if duplicate(tokens, body, g.tokens, g.body, threshold) {
				g.add(a)
				joined = true
				break
			}
		}
		if !joined {
			groups = append(groups, &group{
				rep:     a,
				members: []model.Article{a},
				tokens:  tokens,
				body:    body,
				first:   i,
			})
		}
	}

	groups = mergeRepresentatives(groups, threshold)

	res.Clusters = make([]model.ArticleCluster, len(groups))
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if len(a.members) != len(b.members) {
			return len(a.members) > len(b.members)
		}
		if a.rep.NewerThan(b.rep) != b.rep.NewerThan(a.rep) {
			return a.rep.NewerThan(b.rep)
		}
		return a.first < b.first
	})
	for i, g := range groups {
		ids := make([]string, len(g.members))
		for j, m := range g.members {
			ids[j] = m.ID
		}
		res.Clusters[i] = model.ArticleCluster{
			Representative: g.rep,
			MentionCount:   len(g.members),
			MemberIDs:      ids,
		}
	}
	return res
}

// mergeRepresentatives folds clusters together while any two representatives
// are still duplicates. A representative can change as members join, so the
// greedy pass alone may leave similar representatives in separate clusters.
func mergeRepresentatives(groups []*group, threshold float64) []*group {
	for {
		merged := false
		for i := 0; i < len(groups) && !merged; i++ {
			for j := i + 1; j < len(groups); j++ {
				if duplicate(groups[i].tokens, groups[i].body, groups[j].tokens, groups[j].body, threshold) {
					for _, m := range groups[j].members {
						groups[i].add(m)
					}
					groups = append(groups[:j], groups[j+1:]...)
					merged = true
					break
				}
			}
		}
		if !merged {
			return groups
		}
	}
}

func (g *group) add(a model.Article) {
	g.members = append(g.members, a)
	if better(a, g.rep) {
		g.rep = a
		g.tokens = tokenSet(a.NormTitle)
		g.body = tokenSet(a.NormBody)
	}
}

// better reports whether candidate should replace the current representative:
// longer body first, then more recent publication. Ties keep the current one.
func better(candidate, current model.Article) bool {
	cl, rl := utf8.RuneCountInString(candidate.Body), utf8.RuneCountInString(current.Body)
	if cl != rl {
		return cl > rl
	}
	return candidate.NewerThan(current)
}

func duplicate(titleA, bodyA, titleB, bodyB map[string]struct{}, threshold float64) bool {
	s := similarity(titleA, titleB)
	if s >= threshold {
		return true
	}
	if s < threshold-bodyMargin || len(bodyA) == 0 || len(bodyB) == 0 {
		return false
	}
	return similarity(bodyA, bodyB) >= threshold
}

// Similarity scores two normalized strings in [0, 1].
func Similarity(a, b string) float64 {
	return similarity(tokenSet(a), tokenSet(b))
}

// similarity combines Jaccard overlap, overlap against the smaller set and
// the set size ratio, weighted 0.5 / 0.4 / 0.1.
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	small, large := len(a), len(b)
	if small > large {
		small, large = large, small
	}
	union := len(a) + len(b) - inter
	jaccard := float64(inter) / float64(union)
	overlap := float64(inter) / float64(small)
	ratio := float64(small) / float64(large)
	return jaccard*0.5 + overlap*0.4 + ratio*0.1
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

package bot

import (
	"fmt"
	"strings"
	"time"

	"esg_news/internal/model"
	"esg_news/internal/scheduler"
)

const (
	timeFormat    = "2006-01-02 15:04 UTC"
	resultPreview = 10
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// FormatSubjects formats the watch list for display.
func FormatSubjects(subjects []model.WatchedSubject) string {
	if len(subjects) == 0 {
		return "No watched subjects configured."
	}
	var b strings.Builder
	b.WriteString("Watched subjects:\n")
	for _, s := range subjects {
		label := s.Subject
		if label == "" {
			label = "(keywords only)"
		}
		fmt.Fprintf(&b, "\n%s  %s\n", s.ID, label)
		fmt.Fprintf(&b, "   every %s at +%s, %d domain x %d issue terms\n", s.Interval, s.Offset, len(s.DomainTerms), len(s.IssueTerms))
		fmt.Fprintf(&b, "   key: %s\n", s.Key)
	}
	return b.String()
}

// FormatStatus formats the scheduler state of every subject.
func FormatStatus(statuses []scheduler.Status, now time.Time) string {
	if len(statuses) == 0 {
		return "No watched subjects configured."
	}
	var b strings.Builder
	b.WriteString("Scheduler status:\n")
	for _, st := range statuses {
		fmt.Fprintf(&b, "\n%s [%s]\n", st.SubjectID, st.State)
		if st.LastRun == nil {
			b.WriteString("   last: never\n")
		} else {
			fmt.Fprintf(&b, "   last: %s at %s\n", outcomeLabel(*st.LastRun), formatTime(st.LastRun.FinishedAt))
		}
		if st.NextFire.IsZero() {
			b.WriteString("   next: not scheduled\n")
		} else {
			fmt.Fprintf(&b, "   next: %s (in %s)\n", formatTime(st.NextFire), st.NextFire.Sub(now).Round(time.Second))
		}
	}
	return b.String()
}

// FormatRuns formats a list of refresh runs, newest first.
func FormatRuns(subjectID string, runs []model.RefreshRun) string {
	if len(runs) == 0 {
		if subjectID == "" {
			return "No runs recorded yet."
		}
		return fmt.Sprintf("No runs recorded for %s.", subjectID)
	}
	var b strings.Builder
	if subjectID == "" {
		b.WriteString("Recent runs:\n")
	} else {
		fmt.Fprintf(&b, "Recent runs for %s:\n", subjectID)
	}
	for _, r := range runs {
		fmt.Fprintf(&b, "\n%s %s %s in %s\n", formatTime(r.StartedAt), r.SubjectID, outcomeLabel(r), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		if r.Outcome == model.OutcomeFailure {
			fmt.Fprintf(&b, "   %s\n", r.Error)
		}
	}
	return b.String()
}

// FormatRun formats the result of a forced refresh.
func FormatRun(r model.RefreshRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Refresh of %s: %s\n", r.SubjectID, outcomeLabel(r))
	fmt.Fprintf(&b, "Took %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Outcome == model.OutcomeFailure {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
		b.WriteString("The previous scheduled result is kept.")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatAlert formats a failed scheduled run for the alert chats.
func FormatAlert(r model.RefreshRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled refresh failed: %s\n", r.SubjectID)
	fmt.Fprintf(&b, "Key: %s\n", r.SubjectKey)
	fmt.Fprintf(&b, "Kind: %s\n", r.ErrorKind)
	fmt.Fprintf(&b, "Error: %s\n", r.Error)
	fmt.Fprintf(&b, "At: %s", formatTime(r.FinishedAt))
	return b.String()
}

// FormatCacheInfo formats the cache tier counts.
func FormatCacheInfo(info model.CacheInfo) string {
	return fmt.Sprintf("Cache:\nscheduler tier: %d entries\non-demand tier: %d entries\napprox memory: %s",
		info.Tier1Count, info.Tier2Count, humanBytes(info.ApproxMemory))
}

// FormatResult formats the top clusters of an analysis result.
func FormatResult(subjectID string, res model.AnalysisResult, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s from %s tier, computed %s\n", subjectID, tierLabel(res.SourceTier), formatTime(res.ComputedAt))

	if res.NoResults() {
		b.WriteString("\nNo matching news.")
		return b.String()
	}

	for i, c := range res.Clusters {
		if i == limit {
			fmt.Fprintf(&b, "\n... %d more clusters\n", len(res.Clusters)-limit)
			break
		}
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, c.Representative.Title)
		fmt.Fprintf(&b, "   %d mentions, %s\n", c.MentionCount, scoreLabel(c.Score))
		if c.Representative.Link != "" {
			fmt.Fprintf(&b, "   %s\n", c.Representative.Link)
		}
	}

	d := res.Diagnostics
	if d.Partial {
		fmt.Fprintf(&b, "\nPartial result: %d of %d queries failed, %d clusters unscored", d.FailedQueries, d.Queries, d.Unscored)
	}
	return strings.TrimRight(b.String(), "\n")
}

func outcomeLabel(r model.RefreshRun) string {
	switch r.Outcome {
	case model.OutcomeSuccess:
		return fmt.Sprintf("success (%d clusters)", r.Clusters)
	case model.OutcomeNoResults:
		return "no results"
	case model.OutcomeFailure:
		return fmt.Sprintf("failure [%s]", r.ErrorKind)
	default:
		return string(r.Outcome)
	}
}

func tierLabel(t model.Tier) string {
	switch t {
	case model.TierScheduler:
		return "scheduler"
	case model.TierOnDemand:
		return "on-demand"
	default:
		return "live"
	}
}

func scoreLabel(s *model.Score) string {
	if s == nil {
		return "unscored"
	}
	return fmt.Sprintf("%s %.2f", s.Label, s.Confidence)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

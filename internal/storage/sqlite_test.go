package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"esg_news/internal/article"
	"esg_news/internal/model"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var ignoreRunID = cmpopts.IgnoreFields(model.RefreshRun{}, "ID")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(subjectID string, startOffset time.Duration, outcome model.RunOutcome) model.RefreshRun {
	r := model.RefreshRun{
		SubjectID:  subjectID,
		SubjectKey: subjectID + ":key",
		StartedAt:  baseTime.Add(startOffset),
		FinishedAt: baseTime.Add(startOffset + 3*time.Second),
		Outcome:    outcome,
	}
	switch outcome {
	case model.OutcomeSuccess:
		r.Clusters = 4
	case model.OutcomeFailure:
		r.ErrorKind = model.KindAllQueriesFailed
		r.Error = "all queries failed"
	}
	return r
}

func TestRecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	runs := []model.RefreshRun{
		run("doosan-fuelcell", 0, model.OutcomeSuccess),
		run("ls-electric", time.Minute, model.OutcomeNoResults),
		run("doosan-fuelcell", 10*time.Minute, model.OutcomeFailure),
	}
	for i := range runs {
		if err := s.RecordRun(ctx, &runs[i]); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
		if runs[i].ID == "" {
			t.Fatal("expected generated ID")
		}
	}

	tests := []struct {
		name      string
		subjectID string
		limit     int
		want      []model.RefreshRun
	}{
		{
			name:      "one subject newest first",
			subjectID: "doosan-fuelcell",
			want:      []model.RefreshRun{runs[2], runs[0]},
		},
		{
			name: "all subjects",
			want: []model.RefreshRun{runs[2], runs[1], runs[0]},
		},
		{
			name:  "limit",
			limit: 1,
			want:  []model.RefreshRun{runs[2]},
		},
		{
			name:      "unknown subject",
			subjectID: "initech",
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRuns(ctx, tt.subjectID, tt.limit)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("runs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecordRunKeepsGivenID(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	r := run("doosan-fuelcell", 0, model.OutcomeSuccess)
	r.ID = "fixed"
	if err := s.RecordRun(ctx, &r); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	dup := r
	if err := s.RecordRun(ctx, &dup); err == nil {
		t.Error("expected error for duplicate run ID")
	}

	got, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if diff := cmp.Diff([]model.RefreshRun{r}, got); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
}

func TestListRunsDefaultLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for i := 0; i < DefaultRunLimit+5; i++ {
		r := run("ls-electric", time.Duration(i)*time.Minute, model.OutcomeSuccess)
		if err := s.RecordRun(ctx, &r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	got, err := s.ListRuns(ctx, "ls-electric", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if diff := cmp.Diff(DefaultRunLimit, len(got)); diff != "" {
		t.Errorf("run count mismatch (-want +got):\n%s", diff)
	}
	want := run("ls-electric", time.Duration(DefaultRunLimit+4)*time.Minute, model.OutcomeSuccess)
	if diff := cmp.Diff(want, got[0], ignoreRunID); diff != "" {
		t.Errorf("newest run mismatch (-want +got):\n%s", diff)
	}
}

func snapshotEntry(key, title string, expires time.Duration) model.CacheEntry {
	return model.CacheEntry{
		Tier:      model.TierScheduler,
		ExpiresAt: baseTime.Add(expires),
		Result: model.AnalysisResult{
			SubjectKey: key,
			Status:     model.StatusOK,
			Clusters: []model.ArticleCluster{{
				Representative: article.Renormalize(model.Article{ID: "a1", Title: title, Link: "https://news.example.com/1", Source: "naver"}),
				MentionCount:   2,
				MemberIDs:      []string{"a1", "a2"},
				Score:          &model.Score{Label: model.LabelNegative, Confidence: 0.9},
			}},
			Queries:    []string{"두산퓨얼셀 화재"},
			ComputedAt: baseTime,
			SourceTier: model.TierScheduler,
		},
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	fresh := snapshotEntry("doosan:abc", "수소 연료전지 화재", time.Hour)
	stale := snapshotEntry("ls:def", "변압기 공장 사고", time.Minute)
	if err := s.SaveSnapshot(ctx, "doosan-fuelcell", fresh); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(ctx, "ls-electric", stale); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := s.LoadSnapshots(ctx, baseTime.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	want := []Snapshot{{SubjectID: "doosan-fuelcell", Entry: fresh}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("수소 연료전지 화재", got[0].Entry.Result.Clusters[0].Representative.NormTitle); diff != "" {
		t.Errorf("normalized title not restored (-want +got):\n%s", diff)
	}

	// Saving again replaces the previous snapshot for the key.
	updated := snapshotEntry("doosan:abc", "연료전지 공장 증설", 2*time.Hour)
	if err := s.SaveSnapshot(ctx, "doosan-fuelcell", updated); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err = s.LoadSnapshots(ctx, baseTime)
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	want = []Snapshot{
		{SubjectID: "doosan-fuelcell", Entry: updated},
		{SubjectID: "ls-electric", Entry: stale},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshots after upsert mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteSnapshot(ctx, "doosan:abc"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if err := s.DeleteSnapshot(ctx, "missing"); err != nil {
		t.Fatalf("DeleteSnapshot missing: %v", err)
	}
	got, err = s.LoadSnapshots(ctx, baseTime)
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	if diff := cmp.Diff(1, len(got)); diff != "" {
		t.Errorf("snapshot count mismatch (-want +got):\n%s", diff)
	}
}

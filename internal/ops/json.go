package ops

import (
	"time"

	"esg_news/internal/engine"
	"esg_news/internal/model"
	"esg_news/internal/scheduler"
)

type ruleJSON struct {
	Kind  model.FilterKind  `json:"kind"`
	Scope model.FilterScope `json:"scope,omitempty"`
	Value string            `json:"value"`
}

type resolveRequest struct {
	SubjectKey  string     `json:"subject_key,omitempty"`
	Subject     string     `json:"subject,omitempty"`
	DomainTerms []string   `json:"domain_terms"`
	IssueTerms  []string   `json:"issue_terms"`
	MaxResults  int        `json:"max_results,omitempty"`
	Rules       []ruleJSON `json:"rules,omitempty"`
}

func (r resolveRequest) toRequest() engine.Request {
	req := engine.Request{
		SubjectKey:  r.SubjectKey,
		Subject:     r.Subject,
		DomainTerms: r.DomainTerms,
		IssueTerms:  r.IssueTerms,
		MaxResults:  r.MaxResults,
	}
	for _, rule := range r.Rules {
		scope := rule.Scope
		if scope == "" {
			scope = model.ScopeAll
		}
		req.Rules = append(req.Rules, model.Filter{Kind: rule.Kind, Scope: scope, Value: rule.Value})
	}
	return req
}

type errorJSON struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

type subjectJSON struct {
	ID          string   `json:"id"`
	Key         string   `json:"subject_key"`
	Subject     string   `json:"subject,omitempty"`
	DomainTerms []string `json:"domain_terms"`
	IssueTerms  []string `json:"issue_terms"`
	Interval    string   `json:"interval"`
	Offset      string   `json:"offset"`
}

func toSubjectJSON(s model.WatchedSubject) subjectJSON {
	return subjectJSON{
		ID:          s.ID,
		Key:         s.Key,
		Subject:     s.Subject,
		DomainTerms: s.DomainTerms,
		IssueTerms:  s.IssueTerms,
		Interval:    s.Interval.String(),
		Offset:      s.Offset.String(),
	}
}

type runJSON struct {
	ID         string           `json:"id"`
	SubjectID  string           `json:"subject_id"`
	SubjectKey string           `json:"subject_key"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Outcome    model.RunOutcome `json:"outcome"`
	Clusters   int              `json:"clusters"`
	ErrorKind  model.ErrorKind  `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func toRunJSON(r model.RefreshRun) runJSON {
	return runJSON(r)
}

type statusJSON struct {
	SubjectID  string     `json:"subject_id"`
	SubjectKey string     `json:"subject_key"`
	State      string     `json:"state"`
	LastRun    *runJSON   `json:"last_run"`
	NextFire   *time.Time `json:"next_fire"`
}

func toStatusJSON(st scheduler.Status) statusJSON {
	out := statusJSON{
		SubjectID:  st.SubjectID,
		SubjectKey: st.SubjectKey,
		State:      st.State,
	}
	if st.LastRun != nil {
		run := toRunJSON(*st.LastRun)
		out.LastRun = &run
	}
	if !st.NextFire.IsZero() {
		next := st.NextFire
		out.NextFire = &next
	}
	return out
}

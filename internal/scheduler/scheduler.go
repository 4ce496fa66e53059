// Package scheduler keeps the scheduler cache tier warm for the watch list.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"esg_news/internal/cache"
	"esg_news/internal/metrics"
	"esg_news/internal/model"
	"esg_news/internal/pipeline"
	"esg_news/internal/storage"
)

// Subject states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
)

const (
	defaultWorkers    = 2
	defaultRunTimeout = 2 * time.Minute
)

// Computer runs the shared fetch pipeline.
type Computer interface {
	Key(p pipeline.Params) string
	Run(ctx context.Context, p pipeline.Params, tier model.Tier) (model.AnalysisResult, error)
}

// Store is the persistence the scheduler needs.
type Store interface {
	RecordRun(ctx context.Context, run *model.RefreshRun) error
	SaveSnapshot(ctx context.Context, subjectID string, entry model.CacheEntry) error
	LoadSnapshots(ctx context.Context, now time.Time) ([]storage.Snapshot, error)
}

// Notifier is told about failed runs.
type Notifier interface {
	NotifyFailure(run model.RefreshRun)
}

// Config tunes a Scheduler.
type Config struct {
	Workers    int
	RunTimeout time.Duration
}

// Status is a snapshot of one subject's scheduling state.
type Status struct {
	SubjectID  string
	SubjectKey string
	State      string
	LastRun    *model.RefreshRun
	NextFire   time.Time
}

type subjectState struct {
	running  bool
	lastRun  *model.RefreshRun
	nextFire time.Time
}

// Scheduler fires each watched subject on its own phase-offset cadence and
// writes the results into the scheduler tier.
type Scheduler struct {
	subjects []model.WatchedSubject
	index    map[string]int
	compute  Computer
	tier1    *cache.TierWriter
	store    Store
	notifier Notifier
	log      *slog.Logger

	workers    int
	runTimeout time.Duration
	now        func() time.Time

	mu     sync.Mutex
	states map[string]*subjectState
}

// New creates a Scheduler. tier1 must own the scheduler tier. notifier may be nil.
func New(subjects []model.WatchedSubject, compute Computer, tier1 *cache.TierWriter, store Store, notifier Notifier, cfg Config, log *slog.Logger) (*Scheduler, error) {
	if tier1.Tier() != model.TierScheduler {
		return nil, fmt.Errorf("new scheduler: writer owns tier %q, want %q", tier1.Tier(), model.TierScheduler)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}

	s := &Scheduler{
		subjects:   make([]model.WatchedSubject, len(subjects)),
		index:      make(map[string]int, len(subjects)),
		compute:    compute,
		tier1:      tier1,
		store:      store,
		notifier:   notifier,
		log:        log,
		workers:    cfg.Workers,
		runTimeout: cfg.RunTimeout,
		now:        time.Now,
		states:     make(map[string]*subjectState, len(subjects)),
	}
	for i, subj := range subjects {
		if subj.Interval <= 0 {
			return nil, fmt.Errorf("new scheduler: subject %q has no interval", subj.ID)
		}
		if _, dup := s.index[subj.ID]; dup {
			return nil, fmt.Errorf("new scheduler: duplicate subject %q", subj.ID)
		}
		if subj.Key == "" {
			subj.Key = compute.Key(pipeline.FromSubject(subj))
		}
		s.subjects[i] = subj
		s.index[subj.ID] = i
		s.states[subj.ID] = &subjectState{}
	}
	return s, nil
}

// Subjects returns the watched subjects with their resolved cache keys.
func (s *Scheduler) Subjects() []model.WatchedSubject {
	out := make([]model.WatchedSubject, len(s.subjects))
	copy(out, s.subjects)
	return out
}

// Subject looks up a watched subject by ID.
func (s *Scheduler) Subject(id string) (model.WatchedSubject, bool) {
	i, ok := s.index[id]
	if !ok {
		return model.WatchedSubject{}, false
	}
	return s.subjects[i], true
}

// Warm installs unexpired snapshots into the scheduler tier and returns how
// many were installed. Snapshots whose key no longer matches the configured
// subject are skipped.
func (s *Scheduler) Warm(ctx context.Context) (int, error) {
	snaps, err := s.store.LoadSnapshots(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("warm: %w", err)
	}
	n := 0
	for _, snap := range snaps {
		subj, ok := s.Subject(snap.SubjectID)
		if !ok || subj.Key != snap.Entry.Result.SubjectKey {
			s.log.Debug("skipping stale snapshot", "subject_id", snap.SubjectID, "subject_key", snap.Entry.Result.SubjectKey)
			continue
		}
		if err := s.tier1.PutEntry(ctx, snap.Entry); err != nil {
			s.log.Warn("failed to install snapshot", "subject_id", snap.SubjectID, "error", err)
			continue
		}
		n++
	}
	s.log.Info("warmed scheduler tier", "snapshots", n)
	return n, nil
}

type job struct {
	subject model.WatchedSubject
}

// Run starts the per-subject timers and the worker pool, blocking until ctx
// is cancelled and every in-flight run has finished.
func (s *Scheduler) Run(ctx context.Context) {
	jobs := make(chan job)

	var workers sync.WaitGroup
	for range s.workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for j := range jobs {
				if _, err := s.execute(ctx, j.subject); err != nil && model.KindOf(err) == model.KindAlreadyRunning {
					s.log.Warn("skipping fire, previous run still in progress", "subject_id", j.subject.ID)
				}
			}
		}()
	}

	var timers sync.WaitGroup
	for _, subj := range s.subjects {
		timers.Add(1)
		go func() {
			defer timers.Done()
			s.loop(ctx, subj, jobs)
		}()
	}

	s.log.Info("scheduler started", "subjects", len(s.subjects), "workers", s.workers)
	timers.Wait()
	close(jobs)
	workers.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, subj model.WatchedSubject, jobs chan<- job) {
	for {
		next := nextFire(s.now(), subj.Interval, subj.Offset)
		s.setNextFire(subj.ID, next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		select {
		case jobs <- job{subject: subj}:
		case <-ctx.Done():
			return
		}
	}
}

// nextFire returns the first instant after now that lies offset into a
// window of length interval. Windows are aligned to the zero time, so a
// 10 minute interval with a 1 minute offset fires at :01, :11, :21 and so on.
func nextFire(now time.Time, interval, offset time.Duration) time.Time {
	next := now.Truncate(interval).Add(offset)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// RefreshNow runs the subject's scheduled job immediately and returns the
// recorded run.
func (s *Scheduler) RefreshNow(ctx context.Context, subjectID string) (model.RefreshRun, error) {
	subj, ok := s.Subject(subjectID)
	if !ok {
		return model.RefreshRun{}, &model.Error{
			Kind: model.KindUnknownSubject,
			Err:  fmt.Errorf("refresh %q: no such watched subject", subjectID),
		}
	}
	return s.execute(ctx, subj)
}

// Status reports every subject's state in watch-list order.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.subjects))
	for _, subj := range s.subjects {
		st := s.states[subj.ID]
		status := Status{
			SubjectID:  subj.ID,
			SubjectKey: subj.Key,
			State:      StateIdle,
			NextFire:   st.nextFire,
		}
		if st.running {
			status.State = StateRunning
		}
		if st.lastRun != nil {
			run := *st.lastRun
			status.LastRun = &run
		}
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) setNextFire(id string, t time.Time) {
	s.mu.Lock()
	s.states[id].nextFire = t
	s.mu.Unlock()
}

func (s *Scheduler) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[id]
	if st.running {
		return false
	}
	st.running = true
	return true
}

func (s *Scheduler) finish(id string, run model.RefreshRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[id]
	st.running = false
	st.lastRun = &run
}

// execute runs one refresh. A failure leaves the scheduler tier untouched.
func (s *Scheduler) execute(ctx context.Context, subj model.WatchedSubject) (model.RefreshRun, error) {
	if !s.begin(subj.ID) {
		return model.RefreshRun{}, &model.Error{
			Kind:       model.KindAlreadyRunning,
			SubjectKey: subj.Key,
			Err:        fmt.Errorf("refresh %q: already running", subj.ID),
		}
	}

	run := model.RefreshRun{
		SubjectID:  subj.ID,
		SubjectKey: subj.Key,
		StartedAt:  s.now(),
	}
	s.log.Info("refresh started", "subject_id", subj.ID, "subject_key", subj.Key)

	err := s.refresh(ctx, subj, &run)
	run.FinishedAt = s.now()
	if err != nil {
		run.Outcome = model.OutcomeFailure
		run.ErrorKind = model.KindOf(err)
		run.Error = err.Error()
	}

	// The run is recorded even when the caller's context is already gone.
	rctx := context.WithoutCancel(ctx)
	if rerr := s.store.RecordRun(rctx, &run); rerr != nil {
		s.log.Error("failed to record run", "subject_id", subj.ID, "error", rerr)
	}
	s.finish(subj.ID, run)
	metrics.RecordSchedulerRun(subj.ID, string(run.Outcome), run.FinishedAt.Sub(run.StartedAt).Seconds())

	if err != nil {
		s.log.Error("refresh failed", "subject_id", subj.ID, "subject_key", subj.Key, "error", err)
		if s.notifier != nil {
			s.notifier.NotifyFailure(run)
		}
		return run, err
	}
	s.log.Info("refresh finished", "subject_id", subj.ID, "outcome", run.Outcome, "clusters", run.Clusters)
	return run, nil
}

func (s *Scheduler) refresh(ctx context.Context, subj model.WatchedSubject, run *model.RefreshRun) error {
	cctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	res, err := s.compute.Run(cctx, pipeline.FromSubject(subj), model.TierScheduler)
	if err != nil {
		return err
	}

	entry, err := s.tier1.Put(ctx, res)
	if err != nil {
		return &model.Error{Kind: model.KindInternal, SubjectKey: subj.Key, Err: err}
	}

	run.Outcome = model.OutcomeSuccess
	if res.NoResults() {
		run.Outcome = model.OutcomeNoResults
	}
	run.Clusters = len(res.Clusters)

	if err := s.store.SaveSnapshot(ctx, subj.ID, entry); err != nil {
		s.log.Warn("failed to save snapshot", "subject_id", subj.ID, "error", err)
	}
	return nil
}

package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"esg_news/internal/config"
	"esg_news/internal/model"
	"esg_news/internal/scheduler"
)

// --- mocks ---

type sentMsg struct {
	ChatID   int64
	Text     string
	Keyboard bool
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		_, keyboard := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Keyboard: keyboard})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

func (m *mockAPI) all() []sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMsg, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type runsCall struct {
	SubjectID string
	Limit     int
}

type mockEngine struct {
	subjects   []model.WatchedSubject
	status     []scheduler.Status
	runs       []model.RefreshRun
	refreshRun model.RefreshRun
	refreshErr error
	purgeErr   error
	info       model.CacheInfo
	result     model.AnalysisResult

	mu        sync.Mutex
	runsCalls []runsCall
	refreshed []string
	purged    []string
}

func (m *mockEngine) Subjects() []model.WatchedSubject { return m.subjects }

func (m *mockEngine) Status() []scheduler.Status { return m.status }

func (m *mockEngine) known(id string) bool {
	for _, s := range m.subjects {
		if s.ID == id {
			return true
		}
	}
	return false
}

func unknown(id string) error {
	return &model.Error{Kind: model.KindUnknownSubject, Err: fmt.Errorf("no watched subject %q", id)}
}

func (m *mockEngine) Runs(_ context.Context, subjectID string, limit int) ([]model.RefreshRun, error) {
	m.mu.Lock()
	m.runsCalls = append(m.runsCalls, runsCall{subjectID, limit})
	m.mu.Unlock()
	if subjectID != "" && !m.known(subjectID) {
		return nil, unknown(subjectID)
	}
	return m.runs, nil
}

func (m *mockEngine) RefreshNow(_ context.Context, subjectID string) (model.RefreshRun, error) {
	if !m.known(subjectID) {
		return model.RefreshRun{}, unknown(subjectID)
	}
	m.mu.Lock()
	m.refreshed = append(m.refreshed, subjectID)
	m.mu.Unlock()
	return m.refreshRun, m.refreshErr
}

func (m *mockEngine) Purge(_ context.Context, key string) error {
	if m.purgeErr != nil {
		return m.purgeErr
	}
	m.mu.Lock()
	m.purged = append(m.purged, key)
	m.mu.Unlock()
	return nil
}

func (m *mockEngine) CacheInfo(context.Context) (model.CacheInfo, error) { return m.info, nil }

func (m *mockEngine) ResolveSubject(_ context.Context, subjectID string) (model.AnalysisResult, error) {
	if !m.known(subjectID) {
		return model.AnalysisResult{}, unknown(subjectID)
	}
	return m.result, nil
}

// --- helpers ---

var (
	baseTime = time.Date(2026, 3, 2, 9, 3, 0, 0, time.UTC)

	doosan = model.WatchedSubject{
		ID:          "doosan-fuelcell",
		Key:         "두산퓨얼셀:0123456789abcdef",
		Subject:     "두산퓨얼셀",
		DomainTerms: []string{"연료전지", "수소"},
		IssueTerms:  []string{"화재"},
		Interval:    10 * time.Minute,
		Offset:      3 * time.Minute,
	}
	combined = model.WatchedSubject{
		ID:          "renewable-combined",
		Key:         "*:fedcba9876543210",
		DomainTerms: []string{"태양광"},
		IssueTerms:  []string{"탄소중립"},
		Interval:    10 * time.Minute,
		Offset:      time.Minute,
	}
)

func successRun() model.RefreshRun {
	return model.RefreshRun{
		ID:         "run-1",
		SubjectID:  doosan.ID,
		SubjectKey: doosan.Key,
		StartedAt:  baseTime,
		FinishedAt: baseTime.Add(1500 * time.Millisecond),
		Outcome:    model.OutcomeSuccess,
		Clusters:   7,
	}
}

func failedRun() model.RefreshRun {
	return model.RefreshRun{
		ID:         "run-2",
		SubjectID:  doosan.ID,
		SubjectKey: doosan.Key,
		StartedAt:  baseTime,
		FinishedAt: baseTime.Add(2 * time.Second),
		Outcome:    model.OutcomeFailure,
		ErrorKind:  model.KindAllQueriesFailed,
		Error:      "all_queries_failed: every query failed",
	}
}

func newTestBot(t *testing.T) (*Bot, *mockAPI, *mockEngine) {
	t.Helper()
	api := &mockAPI{}
	eng := &mockEngine{subjects: []model.WatchedSubject{combined, doosan}}
	b := &Bot{
		api:    api,
		engine: eng,
		cfg:    &config.Config{},
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, api, eng
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func makeMsg(userID int64, cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 100},
		From: &tgbotapi.User{ID: userID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "ESG news engine console")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleHelp(100)
	requireContains(t, api.lastText(), "/refresh <id>")
	requireContains(t, api.lastText(), "/purge -k")
}

func TestHandleSubjects(t *testing.T) {
	b, api, eng := newTestBot(t)
	b.handleSubjects(100)
	requireContains(t, api.lastText(), "doosan-fuelcell  두산퓨얼셀")
	requireContains(t, api.lastText(), "renewable-combined  (keywords only)")
	requireContains(t, api.lastText(), "every 10m0s at +3m0s, 2 domain x 1 issue terms")

	eng.subjects = nil
	b.handleSubjects(100)
	requireContains(t, api.lastText(), "No watched subjects")
}

func TestHandleStatus(t *testing.T) {
	b, api, eng := newTestBot(t)
	run := successRun()
	eng.status = []scheduler.Status{
		{SubjectID: doosan.ID, SubjectKey: doosan.Key, State: scheduler.StateIdle, LastRun: &run, NextFire: time.Now().Add(time.Hour)},
		{SubjectID: combined.ID, SubjectKey: combined.Key, State: scheduler.StateRunning},
	}

	b.handleStatus(100)
	got := api.last()
	requireContains(t, got.Text, "doosan-fuelcell [idle]")
	requireContains(t, got.Text, "last: success (7 clusters)")
	requireContains(t, got.Text, "renewable-combined [running]")
	requireContains(t, got.Text, "last: never")
	requireContains(t, got.Text, "next: not scheduled")
	if !got.Keyboard {
		t.Error("expected inline keyboard on status")
	}
}

func TestHandleRuns(t *testing.T) {
	ctx := context.Background()

	t.Run("all subjects", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.runs = []model.RefreshRun{failedRun(), successRun()}
		b.handleRuns(ctx, 100, "")
		requireContains(t, api.lastText(), "Recent runs:")
		requireContains(t, api.lastText(), "failure [all_queries_failed]")
		requireContains(t, api.lastText(), "every query failed")
		if diff := cmp.Diff([]runsCall{{"", 0}}, eng.runsCalls); diff != "" {
			t.Errorf("runs call mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("subject and limit", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.handleRuns(ctx, 100, "doosan-fuelcell 5")
		requireContains(t, api.lastText(), "No runs recorded for doosan-fuelcell")
		if diff := cmp.Diff([]runsCall{{"doosan-fuelcell", 5}}, eng.runsCalls); diff != "" {
			t.Errorf("runs call mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown subject", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRuns(ctx, 100, "initech")
		requireContains(t, api.lastText(), `Subject "initech" not found`)
	})

	t.Run("bad limit", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.handleRuns(ctx, 100, "doosan-fuelcell many")
		requireContains(t, api.lastText(), "invalid limit")
		if len(eng.runsCalls) != 0 {
			t.Error("engine called with invalid arguments")
		}
	})
}

func TestHandleRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("missing id", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRefresh(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /refresh")
	})

	t.Run("success", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.refreshRun = successRun()
		b.handleRefresh(ctx, 100, "doosan-fuelcell")
		requireContains(t, api.lastText(), "Refresh of doosan-fuelcell: success (7 clusters)")
		requireContains(t, api.lastText(), "Took 1.5s")
		if diff := cmp.Diff([]string{"doosan-fuelcell"}, eng.refreshed); diff != "" {
			t.Errorf("refreshed mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("failed run", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.refreshRun = failedRun()
		eng.refreshErr = &model.Error{Kind: model.KindAllQueriesFailed, Err: fmt.Errorf("every query failed")}
		b.handleRefresh(ctx, 100, "doosan-fuelcell")
		requireContains(t, api.lastText(), "failure [all_queries_failed]")
		requireContains(t, api.lastText(), "previous scheduled result is kept")
	})

	t.Run("already running", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.refreshErr = &model.Error{Kind: model.KindAlreadyRunning, Err: fmt.Errorf("busy")}
		b.handleRefresh(ctx, 100, "doosan-fuelcell")
		requireContains(t, api.lastText(), "already running")
	})

	t.Run("unknown subject", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRefresh(ctx, 100, "initech")
		requireContains(t, api.lastText(), `Subject "initech" not found`)
	})
}

func TestHandlePurge(t *testing.T) {
	ctx := context.Background()

	t.Run("asks for confirmation", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.handlePurgeConfirm(ctx, 100, "doosan-fuelcell")
		got := api.last()
		requireContains(t, got.Text, "Purge doosan-fuelcell")
		if !got.Keyboard {
			t.Error("expected confirmation keyboard")
		}
		if len(eng.purged) != 0 {
			t.Error("purged before confirmation")
		}
	})

	t.Run("confirmed purge uses the subject key", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.handlePurge(ctx, 100, "doosan-fuelcell")
		requireContains(t, api.lastText(), "Purged doosan-fuelcell.")
		if diff := cmp.Diff([]string{doosan.Key}, eng.purged); diff != "" {
			t.Errorf("purged mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("raw key", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.handlePurgeConfirm(ctx, 100, "-k LS ELECTRIC:0011223344556677")
		requireContains(t, api.lastText(), "Purged LS ELECTRIC:0011223344556677.")
		if diff := cmp.Diff([]string{"LS ELECTRIC:0011223344556677"}, eng.purged); diff != "" {
			t.Errorf("purged mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown subject", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handlePurgeConfirm(ctx, 100, "initech")
		requireContains(t, api.lastText(), `Subject "initech" not found`)
	})

	t.Run("engine error", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.purgeErr = fmt.Errorf("redis down")
		b.handlePurge(ctx, 100, "doosan-fuelcell")
		requireContains(t, api.lastText(), "Error: redis down")
	})
}

func TestHandleCacheInfo(t *testing.T) {
	b, api, eng := newTestBot(t)
	eng.info = model.CacheInfo{Tier1Count: 3, Tier2Count: 12, ApproxMemory: 5 << 20}
	b.handleCacheInfo(context.Background(), 100)
	requireContains(t, api.lastText(), "scheduler tier: 3 entries")
	requireContains(t, api.lastText(), "on-demand tier: 12 entries")
	requireContains(t, api.lastText(), "approx memory: 5.0 MiB")
}

func TestHandleResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("clusters", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.result = model.AnalysisResult{
			SubjectKey: doosan.Key,
			Status:     model.StatusOK,
			SourceTier: model.TierScheduler,
			ComputedAt: baseTime,
			Clusters: []model.ArticleCluster{
				{
					Representative: model.Article{Title: "두산퓨얼셀 연료전지 공장 화재", Link: "https://news.example.com/1"},
					MentionCount:   3,
					Score:          &model.Score{Label: model.LabelNegative, Confidence: 0.91},
				},
				{Representative: model.Article{Title: "수소 발전 확대"}, MentionCount: 1},
			},
		}
		b.handleResolve(ctx, 100, "doosan-fuelcell")
		got := api.lastText()
		requireContains(t, got, "doosan-fuelcell from scheduler tier, computed 2026-03-02 09:03 UTC")
		requireContains(t, got, "1. 두산퓨얼셀 연료전지 공장 화재\n   3 mentions, negative 0.91")
		requireContains(t, got, "2. 수소 발전 확대\n   1 mentions, unscored")
	})

	t.Run("no results", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.result = model.AnalysisResult{Status: model.StatusNoResults, SourceTier: model.TierLive, ComputedAt: baseTime}
		b.handleResolve(ctx, 100, "doosan-fuelcell")
		requireContains(t, api.lastText(), "No matching news.")
	})

	t.Run("unknown subject", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleResolve(ctx, 100, "initech")
		requireContains(t, api.lastText(), `Subject "initech" not found`)
	})
}

func TestHandleUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches known commands", func(t *testing.T) {
		b, api, _ := newTestBot(t)

		cmds := []struct {
			cmd      string
			contains string
		}{
			{"start", "ESG news engine console"},
			{"help", "/cacheinfo"},
			{"subjects", "Watched subjects"},
			{"cacheinfo", "Cache:"},
			{"unknown_cmd", "Unknown command"},
		}

		for _, tc := range cmds {
			api.reset()
			b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(1, tc.cmd, "")})
			requireContains(t, api.lastText(), tc.contains)
		}
	})

	t.Run("denies users outside the allow list", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.cfg = &config.Config{AllowedUsers: []int64{1}}
		b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(2, "refresh", "doosan-fuelcell")})
		requireContains(t, api.lastText(), "Access denied.")
		if len(eng.refreshed) != 0 {
			t.Error("denied user triggered a refresh")
		}

		cb := &tgbotapi.CallbackQuery{
			ID:      "cb1",
			Data:    "purge_do:doosan-fuelcell",
			From:    &tgbotapi.User{ID: 2},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
		b.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: cb})
		if len(eng.purged) != 0 {
			t.Error("denied user triggered a purge")
		}
	})

	t.Run("ignores plain text", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}, From: &tgbotapi.User{ID: 1}, Text: "hello"}})
		if diff := cmp.Diff(0, len(api.all())); diff != "" {
			t.Errorf("expected no messages (-want +got):\n%s", diff)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	callback := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    data,
			From:    &tgbotapi.User{ID: 1, UserName: "operator"},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCallback(ctx, callback("nocolon"))
		b.handleCallback(ctx, callback("runs:"))
		if diff := cmp.Diff(0, len(api.all())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("runs callback", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCallback(ctx, callback("runs:doosan-fuelcell"))
		requireContains(t, api.lastText(), "No runs recorded for doosan-fuelcell")
	})

	t.Run("refresh callback", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		eng.refreshRun = successRun()
		b.handleCallback(ctx, callback("refresh:doosan-fuelcell"))
		requireContains(t, api.lastText(), "Refresh of doosan-fuelcell")
	})

	t.Run("purge confirm then purge", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.handleCallback(ctx, callback("purge_confirm:renewable-combined"))
		if !api.last().Keyboard {
			t.Error("expected confirmation keyboard")
		}
		b.handleCallback(ctx, callback("purge_do:renewable-combined"))
		requireContains(t, api.lastText(), "Purged renewable-combined.")
		if diff := cmp.Diff([]string{combined.Key}, eng.purged); diff != "" {
			t.Errorf("purged mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		b, api, eng := newTestBot(t)
		b.handleCallback(ctx, callback("noop:0"))
		if len(api.all()) != 0 || len(eng.purged) != 0 {
			t.Error("cancel must not act")
		}
	})
}

func TestNotifyFailure(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.NotifyFailure(failedRun())
	if len(api.all()) != 0 {
		t.Fatal("alerts sent without alert chats")
	}

	b.cfg = &config.Config{AlertChatIDs: []int64{-1001, 42}}
	b.NotifyFailure(failedRun())
	sent := api.all()
	chats := make([]int64, 0, len(sent))
	for _, m := range sent {
		chats = append(chats, m.ChatID)
		requireContains(t, m.Text, "Scheduled refresh failed: doosan-fuelcell")
		requireContains(t, m.Text, "Kind: all_queries_failed")
	}
	if diff := cmp.Diff([]int64{-1001, 42}, chats); diff != "" {
		t.Errorf("alert chats mismatch (-want +got):\n%s", diff)
	}
}

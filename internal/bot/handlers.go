package bot

import (
	"context"
	"fmt"
	"time"

	"esg_news/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `ESG news engine console.

Watch the scheduled refreshes, inspect the cache and force refreshes.

Quick start:
1. /status — scheduler state of every subject
2. /refresh <id> — run a subject's refresh now
3. /resolve <id> — show the current result

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Subjects:
/subjects — list watched subjects
/status — scheduler state, last run, next fire
/runs [id] [limit] — recent refresh runs
/refresh <id> — run a subject's refresh now
/resolve <id> — show the current result for a subject

Cache:
/cacheinfo — entry counts per tier
/purge <id> — drop a subject from both tiers
/purge -k <subject_key> — drop a raw cache key`)
}

func (b *Bot) handleSubjects(chatID int64) {
	b.reply(chatID, FormatSubjects(b.engine.Subjects()))
}

func (b *Bot) handleStatus(chatID int64) {
	statuses := b.engine.Status()
	text := FormatStatus(statuses, time.Now())
	if len(statuses) == 0 {
		b.reply(chatID, text)
		return
	}
	b.sendWithKeyboard(chatID, text, statusKeyboard(statuses))
}

func (b *Bot) handleRuns(ctx context.Context, chatID int64, args string) {
	subjectID, limit, err := ParseRunsArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	runs, err := b.engine.Runs(ctx, subjectID, limit)
	if err != nil {
		b.replyError(chatID, subjectID, err)
		return
	}
	b.reply(chatID, FormatRuns(subjectID, runs))
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64, args string) {
	id, err := ParseSubjectArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /refresh <id>")
		return
	}

	b.log.Info("forced refresh", "subject_id", id, "chat_id", chatID)
	run, err := b.engine.RefreshNow(ctx, id)
	if err != nil && run.StartedAt.IsZero() {
		b.replyError(chatID, id, err)
		return
	}
	b.reply(chatID, FormatRun(run))
}

func (b *Bot) handlePurgeConfirm(ctx context.Context, chatID int64, args string) {
	target, err := ParsePurgeArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if target.RawKey {
		b.purge(ctx, chatID, target.Value, target.Value)
		return
	}

	subj, ok := b.subject(target.Value)
	if !ok {
		b.reply(chatID, fmt.Sprintf("Subject %q not found.", target.Value))
		return
	}
	b.sendWithKeyboard(chatID,
		fmt.Sprintf("Purge %s (%s) from both cache tiers? The next read will recompute it.", subj.ID, subj.Key),
		confirmKeyboard(cbPurge, subj.ID, "Yes, purge"),
	)
}

func (b *Bot) handlePurge(ctx context.Context, chatID int64, subjectID string) {
	subj, ok := b.subject(subjectID)
	if !ok {
		b.reply(chatID, fmt.Sprintf("Subject %q not found.", subjectID))
		return
	}
	b.purge(ctx, chatID, subj.ID, subj.Key)
}

func (b *Bot) purge(ctx context.Context, chatID int64, label, key string) {
	if err := b.engine.Purge(ctx, key); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("purged", "subject_key", key, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Purged %s.", label))
}

func (b *Bot) handleCacheInfo(ctx context.Context, chatID int64) {
	info, err := b.engine.CacheInfo(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatCacheInfo(info))
}

func (b *Bot) handleResolve(ctx context.Context, chatID int64, args string) {
	id, err := ParseSubjectArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /resolve <id>")
		return
	}

	res, err := b.engine.ResolveSubject(ctx, id)
	if err != nil {
		b.replyError(chatID, id, err)
		return
	}
	b.reply(chatID, FormatResult(id, res, resultPreview))
}

func (b *Bot) subject(id string) (model.WatchedSubject, bool) {
	for _, s := range b.engine.Subjects() {
		if s.ID == id {
			return s, true
		}
	}
	return model.WatchedSubject{}, false
}

func (b *Bot) replyError(chatID int64, subjectID string, err error) {
	switch model.KindOf(err) {
	case model.KindUnknownSubject:
		b.reply(chatID, fmt.Sprintf("Subject %q not found.", subjectID))
	case model.KindAlreadyRunning:
		b.reply(chatID, fmt.Sprintf("A refresh of %s is already running.", subjectID))
	default:
		b.reply(chatID, fmt.Sprintf("Error [%s]: %v", model.KindOf(err), err))
	}
}

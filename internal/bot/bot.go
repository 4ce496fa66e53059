// Package bot implements the Telegram operator console.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"esg_news/internal/config"
	"esg_news/internal/model"
	"esg_news/internal/scheduler"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Engine is the set of operations the console exposes.
type Engine interface {
	Subjects() []model.WatchedSubject
	Status() []scheduler.Status
	Runs(ctx context.Context, subjectID string, limit int) ([]model.RefreshRun, error)
	RefreshNow(ctx context.Context, subjectID string) (model.RefreshRun, error)
	Purge(ctx context.Context, key string) error
	CacheInfo(ctx context.Context) (model.CacheInfo, error)
	ResolveSubject(ctx context.Context, subjectID string) (model.AnalysisResult, error)
}

// Bot is the Telegram bot that serves operator commands and sends failure alerts.
type Bot struct {
	api    telegramAPI
	engine Engine
	cfg    *config.Config
	log    *slog.Logger
}

// New creates a Bot with the given Telegram token and config.
func New(token string, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api: api,
		cfg: cfg,
		log: log,
	}, nil
}

// Run starts the bot's long-polling loop serving commands against eng,
// blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, eng Engine) {
	b.engine = eng

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// NotifyFailure sends a failed run to every alert chat.
func (b *Bot) NotifyFailure(run model.RefreshRun) {
	if len(b.cfg.AlertChatIDs) == 0 {
		return
	}
	text := FormatAlert(run)
	for _, chatID := range b.cfg.AlertChatIDs {
		b.SendMessage(chatID, text)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "subjects":
		b.handleSubjects(chatID)
	case cmdStatus:
		b.handleStatus(chatID)
	case cmdRuns:
		b.handleRuns(ctx, chatID, args)
	case cmdRefresh:
		b.handleRefresh(ctx, chatID, args)
	case cmdPurge:
		b.handlePurgeConfirm(ctx, chatID, args)
	case "cacheinfo":
		b.handleCacheInfo(ctx, chatID)
	case cmdResolve:
		b.handleResolve(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"esg_news/internal/scheduler"
)

const (
	cmdStatus  = "status"
	cmdRuns    = "runs"
	cmdRefresh = "refresh"
	cmdPurge   = "purge"
	cmdResolve = "resolve"

	cbPurgeConfirm = "purge_confirm"
	cbPurge        = "purge_do"
	cbNoop         = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, id, ok := strings.Cut(data, ":")
	if !ok || id == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"subject_id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdRuns:
		b.handleRuns(ctx, chatID, id)
	case cmdRefresh:
		b.handleRefresh(ctx, chatID, id)
	case cmdResolve:
		b.handleResolve(ctx, chatID, id)
	case cbPurgeConfirm:
		b.handlePurgeConfirm(ctx, chatID, id)
	case cbPurge:
		b.handlePurge(ctx, chatID, id)
	}
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func statusKeyboard(statuses []scheduler.Status) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Runs "+st.SubjectID, cmdRuns+":"+st.SubjectID),
			tgbotapi.NewInlineKeyboardButtonData("Refresh", cmdRefresh+":"+st.SubjectID),
			tgbotapi.NewInlineKeyboardButtonData("Purge", cbPurgeConfirm+":"+st.SubjectID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func confirmKeyboard(action, id, label string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, action+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
		),
	)
}

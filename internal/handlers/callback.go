package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpmgr-tgbot-go/internal/i18n"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// ButtonResolver maps callback data back to a note reference
type ButtonResolver interface {
	Resolve(ctx context.Context, id string) (*models.NoteButton, bool, error)
}

// CallbackHandler handles clicks on note buttons
type CallbackHandler struct {
	bot       BotAPI
	buttons   ButtonResolver
	notes     NoteService
	settings  *SettingsResolver
	sender    *Sender
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(
	bot BotAPI,
	buttons ButtonResolver,
	notes NoteService,
	settings *SettingsResolver,
	sender *Sender,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CallbackHandler {
	return &CallbackHandler{
		bot:       bot,
		buttons:   buttons,
		notes:     notes,
		settings:  settings,
		sender:    sender,
		localizer: localizer,
		logger:    logger,
	}
}

// Handle renders the note behind a clicked button for the clicking user
func (h *CallbackHandler) Handle(ctx context.Context, callback *tgbotapi.CallbackQuery, ev *models.Event) error {
	lang := h.settings.language(ctx, ev.ChatID)

	ref, found, err := h.buttons.Resolve(ctx, callback.Data)
	if err != nil {
		h.logger.WithError(err).WithField("data", callback.Data).Error("Failed to resolve button")
		h.answer(callback.ID, h.localizer.Get(lang, i18n.MsgError, nil), true)
		return err
	}
	if !found {
		h.answer(callback.ID, h.localizer.Get(lang, i18n.MsgButtonExpired, nil), true)
		return nil
	}

	source, found, err := h.notes.Lookup(ctx, ref.ChatID, ref.NoteKey)
	if err != nil {
		h.logger.WithError(err).WithField("note", ref.NoteKey).Error("Failed to look up note")
		h.answer(callback.ID, h.localizer.Get(lang, i18n.MsgError, nil), true)
		return err
	}
	if !found {
		h.answer(callback.ID, h.localizer.Get(lang, i18n.MsgNoteNotFound, map[string]interface{}{
			"Name": codeText(ref.NoteKey),
		}), true)
		return nil
	}

	h.answer(callback.ID, "", false)
	return h.sender.SendFormatted(ctx, ev.ChatID, 0, source, RenderContext(ev))
}

// answer acknowledges a click. Alerts cannot carry formatting, so localized
// Markdown is reduced to its text.
func (h *CallbackHandler) answer(id, text string, alert bool) {
	if text != "" {
		text = markdown.ToMessage(text).Text
	}
	cfg := tgbotapi.NewCallback(id, text)
	cfg.ShowAlert = alert
	if _, err := h.bot.Request(cfg); err != nil {
		h.logger.WithError(err).Warn("Failed to answer callback query")
	}
}

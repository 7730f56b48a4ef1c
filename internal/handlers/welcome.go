package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpmgr-tgbot-go/internal/i18n"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

type greetKind int

const (
	greetWelcome greetKind = iota
	greetGoodbye
)

// handleMembership greets members joining or leaving the chat
func (h *CommandHandler) handleMembership(ctx context.Context, message *tgbotapi.Message, ev *models.Event) error {
	greeting := h.settings.greeting(ctx, ev.ChatID)
	if !greeting.Enabled {
		return nil
	}
	lang := h.settings.language(ctx, ev.ChatID)

	var firstErr error
	greet := func(u *tgbotapi.User, kind greetKind) {
		if u == nil || u.IsBot {
			return
		}
		member := *ev
		setUser(&member, u)
		source := h.greetingSource(greeting, kind, lang)
		if err := h.sender.SendFormatted(ctx, ev.ChatID, message.MessageID, source, RenderContext(&member)); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"chat_id": ev.ChatID,
				"user_id": u.ID,
			}).Error("Failed to send greeting")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for i := range message.NewChatMembers {
		greet(&message.NewChatMembers[i], greetWelcome)
	}
	greet(message.LeftChatMember, greetGoodbye)
	return firstErr
}

func (h *CommandHandler) greetingSource(g models.Greeting, kind greetKind, lang string) string {
	switch kind {
	case greetGoodbye:
		if g.Goodbye != "" {
			return g.Goodbye
		}
		return h.localizer.Get(lang, i18n.MsgDefaultGoodbye, nil)
	default:
		if g.Welcome != "" {
			return g.Welcome
		}
		return h.localizer.Get(lang, i18n.MsgDefaultWelcome, nil)
	}
}

// handleWelcome handles /welcome [on|off]
func (h *CommandHandler) handleWelcome(ctx context.Context, message *tgbotapi.Message, ev *models.Event, args, lang string) error {
	arg := strings.ToLower(strings.TrimSpace(args))
	if arg == "" {
		return h.reply(ctx, message, lang, i18n.MsgWelcomeStatus, greetingData(h.settings.greeting(ctx, ev.ChatID).Enabled))
	}
	if arg != "on" && arg != "off" {
		return h.reply(ctx, message, lang, i18n.MsgUsageWelcome, nil)
	}
	if !h.isAdmin(ctx, message) {
		return h.reply(ctx, message, lang, i18n.MsgAdminOnly, nil)
	}

	enabled := arg == "on"
	err := h.settings.saveGreeting(ctx, ev.ChatID, func(g *models.Greeting) {
		g.Enabled = enabled
	})
	if err != nil {
		return h.greetingSaveFailed(ctx, message, ev, lang, err)
	}
	return h.reply(ctx, message, lang, i18n.MsgWelcomeStatus, greetingData(enabled))
}

// handleSetGreeting handles /setwelcome and /setgoodbye. The text may also
// come from the replied message. Setting a greeting turns greetings on.
func (h *CommandHandler) handleSetGreeting(ctx context.Context, message *tgbotapi.Message, ev *models.Event, args, lang string, kind greetKind) error {
	if !h.isAdmin(ctx, message) {
		return h.reply(ctx, message, lang, i18n.MsgAdminOnly, nil)
	}

	usage, saved := i18n.MsgUsageSetWelcome, i18n.MsgWelcomeSaved
	if kind == greetGoodbye {
		usage, saved = i18n.MsgUsageSetGoodbye, i18n.MsgGoodbyeSaved
	}

	text := strings.TrimSpace(args)
	if text == "" {
		text = repliedText(message)
	}
	if text == "" {
		return h.reply(ctx, message, lang, usage, nil)
	}

	err := h.settings.saveGreeting(ctx, ev.ChatID, func(g *models.Greeting) {
		g.Enabled = true
		if kind == greetGoodbye {
			g.Goodbye = text
		} else {
			g.Welcome = text
		}
	})
	if err != nil {
		return h.greetingSaveFailed(ctx, message, ev, lang, err)
	}
	return h.reply(ctx, message, lang, saved, nil)
}

// handleResetWelcome handles /resetwelcome
func (h *CommandHandler) handleResetWelcome(ctx context.Context, message *tgbotapi.Message, ev *models.Event, lang string) error {
	if !h.isAdmin(ctx, message) {
		return h.reply(ctx, message, lang, i18n.MsgAdminOnly, nil)
	}

	err := h.settings.saveGreeting(ctx, ev.ChatID, func(g *models.Greeting) {
		*g = models.Greeting{}
	})
	if err != nil {
		return h.greetingSaveFailed(ctx, message, ev, lang, err)
	}
	return h.reply(ctx, message, lang, i18n.MsgWelcomeReset, nil)
}

func (h *CommandHandler) greetingSaveFailed(ctx context.Context, message *tgbotapi.Message, ev *models.Event, lang string, err error) error {
	h.logger.WithError(err).WithField("chat_id", ev.ChatID).Error("Failed to save greeting settings")
	h.reply(ctx, message, lang, i18n.MsgError, nil)
	return err
}

func greetingData(enabled bool) map[string]interface{} {
	state := "off"
	if enabled {
		state = "on"
	}
	return map[string]interface{}{"State": state}
}

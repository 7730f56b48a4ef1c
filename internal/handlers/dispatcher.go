package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpmgr-tgbot-go/internal/middleware"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/pkg/logger"
	"github.com/grpmgr-tgbot-go/pkg/markup"
	"github.com/sirupsen/logrus"
)

// Admitter decides whether an event may be dispatched
type Admitter interface {
	Admit(ctx context.Context, chatID, userID int64, settings models.FloodSettings) middleware.Decision
}

// SettingsStore persists per-chat settings
type SettingsStore interface {
	GetSettings(ctx context.Context, chatID int64) (*models.ChatSettings, error)
	SaveSettings(ctx context.Context, settings *models.ChatSettings) error
}

// DispatchMetrics receives update statistics
type DispatchMetrics interface {
	RecordUpdateReceived(kind string)
	RecordCommandExecuted(command string)
}

// Dispatcher runs every update through flood admission before handing it
// to the command or callback handler
type Dispatcher struct {
	selfID    int64
	admission Admitter
	settings  *SettingsResolver
	commands  *CommandHandler
	callbacks *CallbackHandler
	metrics   DispatchMetrics
	logger    *logrus.Logger
}

// NewDispatcher creates a dispatcher. admission may be nil to disable flood
// control.
func NewDispatcher(
	selfID int64,
	admission Admitter,
	settings *SettingsResolver,
	commands *CommandHandler,
	callbacks *CallbackHandler,
	metrics DispatchMetrics,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		selfID:    selfID,
		admission: admission,
		settings:  settings,
		commands:  commands,
		callbacks: callbacks,
		metrics:   metrics,
		logger:    logger,
	}
}

// EventFromMessage extracts the admission view of a message
func EventFromMessage(m *tgbotapi.Message) *models.Event {
	ev := &models.Event{
		ChatID:    m.Chat.ID,
		ChatName:  chatName(m.Chat),
		Text:      m.Text,
		Timestamp: m.Time(),
	}
	if m.Text == "" {
		ev.Text = m.Caption
	}
	setUser(ev, m.From)
	return ev
}

// EventFromCallback extracts the admission view of a button click
func EventFromCallback(cb *tgbotapi.CallbackQuery) *models.Event {
	ev := &models.Event{Text: cb.Data}
	if cb.Message != nil {
		ev.ChatID = cb.Message.Chat.ID
		ev.ChatName = chatName(cb.Message.Chat)
		ev.Timestamp = cb.Message.Time()
	}
	setUser(ev, cb.From)
	return ev
}

func setUser(ev *models.Event, u *tgbotapi.User) {
	if u == nil {
		return
	}
	ev.UserID = u.ID
	ev.UserHandle = u.UserName
	ev.FirstName = u.FirstName
	ev.LastName = u.LastName
}

func chatName(c *tgbotapi.Chat) string {
	if c == nil {
		return ""
	}
	if c.Title != "" {
		return c.Title
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// RenderContext builds the placeholder context for an event
func RenderContext(ev *models.Event) markup.RenderContext {
	return markup.RenderContext{
		ChatID:     ev.ChatID,
		ChatName:   ev.ChatName,
		UserID:     ev.UserID,
		UserHandle: ev.UserHandle,
		FirstName:  ev.FirstName,
		LastName:   ev.LastName,
	}
}

// HandleUpdate processes one update
func (d *Dispatcher) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil || cb.From == nil {
			return nil
		}
		d.record("callback")

		ev := EventFromCallback(cb)
		if !d.admit(ctx, ev) {
			return nil
		}
		return d.callbacks.Handle(ctx, cb, ev)

	case update.Message != nil:
		msg := update.Message
		// Ignore channel posts and the bot's own messages
		if msg.From == nil || msg.From.ID == d.selfID {
			return nil
		}
		d.record("message")

		ev := EventFromMessage(msg)
		if !d.admit(ctx, ev) {
			return nil
		}
		if msg.IsCommand() && d.metrics != nil {
			d.metrics.RecordCommandExecuted(msg.Command())
		}
		return d.commands.Handle(ctx, msg, ev)
	}

	return nil
}

func (d *Dispatcher) record(kind string) {
	if d.metrics != nil {
		d.metrics.RecordUpdateReceived(kind)
	}
}

func (d *Dispatcher) admit(ctx context.Context, ev *models.Event) bool {
	if d.admission == nil {
		return true
	}

	settings := d.settings.floodSettings(ctx, ev.ChatID)
	if d.admission.Admit(ctx, ev.ChatID, ev.UserID, settings) == middleware.Rejected {
		logger.WithEvent(d.logger, ev).Debug("Event rejected by flood control")
		return false
	}
	return true
}

// SettingsResolver resolves per-chat settings, falling back to configured
// defaults when a chat has none or storage fails
type SettingsResolver struct {
	store       SettingsStore
	defaultLang string
	defaults    models.FloodSettings
	logger      *logrus.Logger
}

// NewSettingsResolver creates the settings resolver shared by the handlers
func NewSettingsResolver(store SettingsStore, defaults models.FloodSettings, defaultLang string, logger *logrus.Logger) *SettingsResolver {
	return &SettingsResolver{
		store:       store,
		defaultLang: defaultLang,
		defaults:    defaults,
		logger:      logger,
	}
}

func (c *SettingsResolver) get(ctx context.Context, chatID int64) *models.ChatSettings {
	settings, err := c.store.GetSettings(ctx, chatID)
	if err != nil {
		c.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to get settings")
		return nil
	}
	return settings
}

func (c *SettingsResolver) floodSettings(ctx context.Context, chatID int64) models.FloodSettings {
	if s := c.get(ctx, chatID); s != nil && s.Flood != nil {
		return *s.Flood
	}
	return c.defaults
}

func (c *SettingsResolver) language(ctx context.Context, chatID int64) string {
	if s := c.get(ctx, chatID); s != nil && s.Language != "" {
		return s.Language
	}
	return c.defaultLang
}

func (c *SettingsResolver) greeting(ctx context.Context, chatID int64) models.Greeting {
	if s := c.get(ctx, chatID); s != nil {
		return s.Greeting
	}
	return models.Greeting{}
}

func (c *SettingsResolver) saveFlood(ctx context.Context, chatID int64, flood models.FloodSettings) error {
	return c.update(ctx, chatID, func(s *models.ChatSettings) {
		s.Flood = &flood
	})
}

func (c *SettingsResolver) saveGreeting(ctx context.Context, chatID int64, change func(*models.Greeting)) error {
	return c.update(ctx, chatID, func(s *models.ChatSettings) {
		change(&s.Greeting)
	})
}

// update applies change to the stored settings of a chat, starting from
// empty settings when it has none
func (c *SettingsResolver) update(ctx context.Context, chatID int64, change func(*models.ChatSettings)) error {
	settings := c.get(ctx, chatID)
	if settings == nil {
		settings = &models.ChatSettings{ChatID: chatID}
	}
	change(settings)
	return c.store.SaveSettings(ctx, settings)
}

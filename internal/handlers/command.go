package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpmgr-tgbot-go/internal/i18n"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/internal/services/cache"
	"github.com/sirupsen/logrus"
)

const adminCacheTTL = 5 * time.Minute

// NoteService stores and resolves notes
type NoteService interface {
	Lookup(ctx context.Context, chatID int64, name string) (string, bool, error)
	Save(ctx context.Context, note *models.Note) error
	Delete(ctx context.Context, chatID int64, name string) (bool, error)
	List(ctx context.Context, chatID int64) ([]string, error)
}

// CommandHandler handles telegram commands and #note shortcuts
type CommandHandler struct {
	bot       BotAPI
	notes     NoteService
	settings  *SettingsResolver
	cache     cache.Store
	sender    *Sender
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot BotAPI,
	notes NoteService,
	settings *SettingsResolver,
	c cache.Store,
	sender *Sender,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		notes:     notes,
		settings:  settings,
		cache:     c,
		sender:    sender,
		localizer: localizer,
		logger:    logger,
	}
}

// Handle processes an admitted message
func (h *CommandHandler) Handle(ctx context.Context, message *tgbotapi.Message, ev *models.Event) error {
	if len(message.NewChatMembers) > 0 || message.LeftChatMember != nil {
		return h.handleMembership(ctx, message, ev)
	}

	if !message.IsCommand() {
		if name, ok := hashNote(message.Text); ok {
			lang := h.settings.language(ctx, ev.ChatID)
			return h.handleGet(ctx, message, ev, name, lang)
		}
		return nil
	}

	lang := h.settings.language(ctx, ev.ChatID)
	args := message.CommandArguments()

	switch message.Command() {
	case "start":
		return h.handleStart(ctx, message, ev, lang)
	case "help":
		return h.reply(ctx, message, lang, i18n.MsgHelp, nil)
	case "save":
		return h.handleSave(ctx, message, ev, args, lang)
	case "get":
		name, _ := splitArgs(args)
		if name == "" {
			return h.reply(ctx, message, lang, i18n.MsgUsageGet, nil)
		}
		return h.handleGet(ctx, message, ev, name, lang)
	case "clear":
		return h.handleClear(ctx, message, ev, args, lang)
	case "notes":
		return h.handleNotes(ctx, message, ev, lang)
	case "antiflood":
		return h.handleAntiFlood(ctx, message, ev, args, lang)
	case "welcome":
		return h.handleWelcome(ctx, message, ev, args, lang)
	case "setwelcome":
		return h.handleSetGreeting(ctx, message, ev, args, lang, greetWelcome)
	case "setgoodbye":
		return h.handleSetGreeting(ctx, message, ev, args, lang, greetGoodbye)
	case "resetwelcome":
		return h.handleResetWelcome(ctx, message, ev, lang)
	default:
		// Groups often host several bots; only answer unknown commands privately
		if message.Chat.IsPrivate() {
			return h.reply(ctx, message, lang, i18n.MsgUnknownCommand, nil)
		}
		return nil
	}
}

// handleStart handles /start command
func (h *CommandHandler) handleStart(ctx context.Context, message *tgbotapi.Message, ev *models.Event, lang string) error {
	return h.reply(ctx, message, lang, i18n.MsgWelcome, map[string]interface{}{
		"Name": escapeMarkdown(ev.FirstName),
	})
}

// handleSave handles /save <name> <text>. Replying to a message with
// /save <name> stores the replied text.
func (h *CommandHandler) handleSave(ctx context.Context, message *tgbotapi.Message, ev *models.Event, args, lang string) error {
	if !h.isAdmin(ctx, message) {
		return h.reply(ctx, message, lang, i18n.MsgAdminOnly, nil)
	}

	name, body := splitArgs(args)
	if body == "" {
		body = repliedText(message)
	}
	if name == "" || body == "" {
		return h.reply(ctx, message, lang, i18n.MsgUsageSave, nil)
	}

	note := &models.Note{
		ChatID:    ev.ChatID,
		Name:      name,
		Source:    body,
		CreatedBy: ev.UserID,
	}
	if err := h.notes.Save(ctx, note); err != nil {
		h.logger.WithError(err).WithField("chat_id", ev.ChatID).Error("Failed to save note")
		h.reply(ctx, message, lang, i18n.MsgError, nil)
		return err
	}

	return h.reply(ctx, message, lang, i18n.MsgNoteSaved, map[string]interface{}{
		"Name": codeText(note.Name),
	})
}

// handleGet renders a note for the requesting user
func (h *CommandHandler) handleGet(ctx context.Context, message *tgbotapi.Message, ev *models.Event, name, lang string) error {
	source, found, err := h.notes.Lookup(ctx, ev.ChatID, name)
	if err != nil {
		h.logger.WithError(err).WithField("note", name).Error("Failed to look up note")
		h.reply(ctx, message, lang, i18n.MsgError, nil)
		return err
	}
	if !found {
		return h.reply(ctx, message, lang, i18n.MsgNoteNotFound, map[string]interface{}{
			"Name": codeText(name),
		})
	}

	return h.sender.SendFormatted(ctx, ev.ChatID, message.MessageID, source, RenderContext(ev))
}

// handleClear handles /clear <name>
func (h *CommandHandler) handleClear(ctx context.Context, message *tgbotapi.Message, ev *models.Event, args, lang string) error {
	if !h.isAdmin(ctx, message) {
		return h.reply(ctx, message, lang, i18n.MsgAdminOnly, nil)
	}

	name, _ := splitArgs(args)
	if name == "" {
		return h.reply(ctx, message, lang, i18n.MsgUsageClear, nil)
	}

	deleted, err := h.notes.Delete(ctx, ev.ChatID, name)
	if err != nil {
		h.logger.WithError(err).WithField("note", name).Error("Failed to delete note")
		h.reply(ctx, message, lang, i18n.MsgError, nil)
		return err
	}

	data := map[string]interface{}{"Name": codeText(name)}
	if !deleted {
		return h.reply(ctx, message, lang, i18n.MsgNoteNotFound, data)
	}
	return h.reply(ctx, message, lang, i18n.MsgNoteDeleted, data)
}

// handleNotes handles /notes
func (h *CommandHandler) handleNotes(ctx context.Context, message *tgbotapi.Message, ev *models.Event, lang string) error {
	names, err := h.notes.List(ctx, ev.ChatID)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", ev.ChatID).Error("Failed to list notes")
		h.reply(ctx, message, lang, i18n.MsgError, nil)
		return err
	}
	if len(names) == 0 {
		return h.reply(ctx, message, lang, i18n.MsgNoNotes, nil)
	}

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = "- `#" + codeText(name) + "`"
	}
	return h.reply(ctx, message, lang, i18n.MsgNotesList, map[string]interface{}{
		"Notes": strings.Join(lines, "\n"),
	})
}

// handleAntiFlood handles /antiflood [count wait ignore]
func (h *CommandHandler) handleAntiFlood(ctx context.Context, message *tgbotapi.Message, ev *models.Event, args, lang string) error {
	if strings.TrimSpace(args) == "" {
		return h.reply(ctx, message, lang, i18n.MsgAntiFloodCurrent, floodData(h.settings.floodSettings(ctx, ev.ChatID)))
	}

	if !h.isAdmin(ctx, message) {
		return h.reply(ctx, message, lang, i18n.MsgAdminOnly, nil)
	}

	flood, err := parseFloodSettings(args)
	if err != nil {
		return h.reply(ctx, message, lang, i18n.MsgAntiFloodInvalid, map[string]interface{}{
			"Error": err.Error(),
		})
	}

	if err := h.settings.saveFlood(ctx, ev.ChatID, flood); err != nil {
		h.logger.WithError(err).WithField("chat_id", ev.ChatID).Error("Failed to save flood settings")
		h.reply(ctx, message, lang, i18n.MsgError, nil)
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"chat_id": ev.ChatID,
		"count":   flood.Count,
		"wait":    flood.Wait,
		"ignore":  flood.Ignore,
	}).Info("Flood settings updated")

	return h.reply(ctx, message, lang, i18n.MsgAntiFloodSet, floodData(flood))
}

func floodData(f models.FloodSettings) map[string]interface{} {
	return map[string]interface{}{
		"Count":  f.Count,
		"Wait":   f.Wait.String(),
		"Ignore": f.Ignore.String(),
	}
}

// parseFloodSettings parses "<count> <wait> <ignore>". Durations accept Go
// syntax ("20s", "5m") or a bare number of seconds.
func parseFloodSettings(args string) (models.FloodSettings, error) {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		return models.FloodSettings{}, fmt.Errorf("expected 3 values, got %d", len(fields))
	}

	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return models.FloodSettings{}, fmt.Errorf("invalid count %q", fields[0])
	}
	wait, err := parseDuration(fields[1])
	if err != nil {
		return models.FloodSettings{}, err
	}
	ignore, err := parseDuration(fields[2])
	if err != nil {
		return models.FloodSettings{}, err
	}

	flood := models.FloodSettings{Count: count, Wait: wait, Ignore: ignore}
	if err := flood.Validate(); err != nil {
		return models.FloodSettings{}, err
	}
	return flood, nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// repliedText returns the text or caption of the message being replied to
func repliedText(message *tgbotapi.Message) string {
	if message.ReplyToMessage == nil {
		return ""
	}
	if message.ReplyToMessage.Text != "" {
		return message.ReplyToMessage.Text
	}
	return message.ReplyToMessage.Caption
}

// hashNote recognizes messages of the form "#name ..."
func hashNote(text string) (string, bool) {
	if !strings.HasPrefix(text, "#") {
		return "", false
	}
	name, _ := splitArgs(text[1:])
	return name, name != ""
}

// splitArgs splits off the first word. The rest keeps its line breaks so
// multi-line note bodies survive.
func splitArgs(args string) (string, string) {
	args = strings.TrimLeftFunc(args, unicode.IsSpace)
	i := strings.IndexFunc(args, unicode.IsSpace)
	if i < 0 {
		return args, ""
	}
	return args[:i], strings.TrimLeftFunc(args[i:], unicode.IsSpace)
}

// codeText makes s safe to place inside a Markdown code span
func codeText(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

// escapeMarkdown makes user-supplied text render literally in a Markdown
// template
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune("\\`*_{}[]()#+-.!<>~|", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isAdmin reports whether the sender administers the chat. Answers are
// cached briefly to spare the API.
func (h *CommandHandler) isAdmin(ctx context.Context, message *tgbotapi.Message) bool {
	if message.Chat.IsPrivate() {
		return true
	}

	key := fmt.Sprintf("admin:%d:%d", message.Chat.ID, message.From.ID)
	if val, found, err := h.cache.Get(ctx, key); err == nil && found {
		return string(val) == "1"
	}

	member, err := h.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: message.Chat.ID,
			UserID: message.From.ID,
		},
	})
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", message.Chat.ID).Warn("Failed to get chat member")
		return false
	}

	admin := member.IsAdministrator() || member.IsCreator()
	val := "0"
	if admin {
		val = "1"
	}
	if err := h.cache.Set(ctx, key, []byte(val), adminCacheTTL); err != nil {
		h.logger.WithError(err).Debug("Failed to cache admin status")
	}
	return admin
}

// reply sends a localized Markdown message in reply to message
func (h *CommandHandler) reply(ctx context.Context, message *tgbotapi.Message, lang, messageID string, data map[string]interface{}) error {
	text := h.localizer.Get(lang, messageID, data)
	return h.sender.SendMarkdown(ctx, message.Chat.ID, message.MessageID, text)
}

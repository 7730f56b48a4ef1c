package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/grpmgr-tgbot-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization. Messages are Markdown and are
// converted to entities before sending.
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer loads <directory>/<lang>.json for every configured language
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	tag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		localizers[cfg.DefaultLanguage] = i18n.NewLocalizer(bundle, cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// DefaultLanguage is used for chats without a language setting
func (l *Localizer) DefaultLanguage() string {
	return l.defaultLanguage
}

// Message IDs
const (
	MsgWelcome          = "welcome"
	MsgHelp             = "help"
	MsgUnknownCommand   = "unknown_command"
	MsgError            = "error"
	MsgNoteSaved        = "note_saved"
	MsgNoteNotFound     = "note_not_found"
	MsgButtonExpired    = "button_expired"
	MsgNoteDeleted      = "note_deleted"
	MsgNotesList        = "notes_list"
	MsgNoNotes          = "no_notes"
	MsgAntiFloodSet     = "antiflood_set"
	MsgAntiFloodCurrent = "antiflood_current"
	MsgAntiFloodInvalid = "antiflood_invalid"
	MsgAdminOnly        = "admin_only"
	MsgUsageSave        = "usage_save"
	MsgUsageGet         = "usage_get"
	MsgUsageClear       = "usage_clear"
	MsgWelcomeSaved     = "welcome_saved"
	MsgGoodbyeSaved     = "goodbye_saved"
	MsgWelcomeReset     = "welcome_reset"
	MsgWelcomeStatus    = "welcome_status"
	MsgUsageSetWelcome  = "usage_setwelcome"
	MsgUsageSetGoodbye  = "usage_setgoodbye"
	MsgUsageWelcome     = "usage_welcome"
)

// Default greetings are formatting-language sources, not Markdown
const (
	MsgDefaultWelcome = "default_welcome"
	MsgDefaultGoodbye = "default_goodbye"
)

package i18n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grpmgr-tgbot-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMessages(t *testing.T, dir, lang, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, lang+".json"), []byte(content), 0o644))
}

func TestLocalizer(t *testing.T) {
	dir := t.TempDir()
	writeMessages(t, dir, "en", `{"note_saved": "Saved note {{.Name}}.", "help": "help"}`)
	writeMessages(t, dir, "de", `{"note_saved": "Notiz {{.Name}} gespeichert."}`)

	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"en", "de"},
		Directory:       dir,
	})
	require.NoError(t, err)

	data := map[string]interface{}{"Name": "rules"}
	assert.Equal(t, "Saved note rules.", l.Get("en", MsgNoteSaved, data))
	assert.Equal(t, "Notiz rules gespeichert.", l.Get("de", MsgNoteSaved, data))
	assert.Equal(t, "Saved note rules.", l.Get("fr", MsgNoteSaved, data), "unknown language uses default")
	assert.Equal(t, "help", l.Get("de", MsgHelp, nil), "missing translation uses default")
	assert.Equal(t, "no_such_message", l.Get("en", "no_such_message", nil))
	assert.Equal(t, "en", l.DefaultLanguage())
}

func TestLocalizerErrors(t *testing.T) {
	_, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en"}, Directory: t.TempDir()})
	assert.Error(t, err, "missing file")

	_, err = NewLocalizer(&config.I18nConfig{DefaultLanguage: "not a tag!", Directory: t.TempDir()})
	assert.Error(t, err)
}

func TestShippedMessages(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"en"},
		Directory:       filepath.Join("..", "..", "configs", "i18n"),
	})
	require.NoError(t, err)

	for _, id := range []string{
		MsgWelcome, MsgHelp, MsgUnknownCommand, MsgError, MsgNoteSaved, MsgNoteNotFound, MsgButtonExpired,
		MsgNoteDeleted, MsgNotesList, MsgNoNotes, MsgAntiFloodSet, MsgAntiFloodCurrent,
		MsgAntiFloodInvalid, MsgAdminOnly, MsgUsageSave, MsgUsageGet, MsgUsageClear,
		MsgWelcomeSaved, MsgGoodbyeSaved, MsgWelcomeReset, MsgWelcomeStatus, MsgUsageSetWelcome,
		MsgUsageSetGoodbye, MsgUsageWelcome, MsgDefaultWelcome, MsgDefaultGoodbye,
	} {
		assert.NotEqual(t, id, l.Get("en", id, map[string]interface{}{}), id)
	}
}

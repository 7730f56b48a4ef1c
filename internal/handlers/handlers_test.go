package handlers

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpmgr-tgbot-go/internal/config"
	"github.com/grpmgr-tgbot-go/internal/i18n"
	"github.com/grpmgr-tgbot-go/internal/middleware"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/internal/services/cache"
	"github.com/grpmgr-tgbot-go/internal/services/notes"
	"github.com/grpmgr-tgbot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const botID = 999

type fakeBot struct {
	mu          sync.Mutex
	sent        []tgbotapi.Chattable
	requests    []tgbotapi.Chattable
	status      string
	memberCalls int
	sendErr     error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memberCalls++
	return tgbotapi.ChatMember{Status: b.status}, nil
}

func (b *fakeBot) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.sent)
	msg, ok := b.sent[len(b.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok, "last sent item is %T", b.sent[len(b.sent)-1])
	return msg
}

func (b *fakeBot) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type fixture struct {
	bot        *fakeBot
	dispatcher *Dispatcher
	sender     *Sender
	notes      *notes.Service
	buttons    *notes.Buttons
}

var testFlood = models.FloodSettings{Count: 80, Wait: 150 * time.Second, Ignore: 10 * time.Minute}

func newFixture(t *testing.T) *fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := cache.NewCache(cache.NewMemoryBackend(time.Minute), time.Minute, nil, logger)
	store := storage.NewMemoryStorage(time.Minute, logger)
	noteService := notes.NewService(c, store, time.Hour, logger)
	buttons := notes.NewButtons(c, time.Hour)

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"en"},
		Directory:       "../../configs/i18n",
	})
	require.NoError(t, err)

	bot := &fakeBot{status: "member"}
	settings := NewSettingsResolver(store, testFlood, "en", logger)
	sender := NewSender(bot, buttons, nil, nil, logger)
	commands := NewCommandHandler(bot, noteService, settings, c, sender, localizer, logger)
	callbacks := NewCallbackHandler(bot, buttons, noteService, settings, sender, localizer, logger)
	antiflood := middleware.NewAntiFlood(c.Remote(), testFlood, nil, logger)

	return &fixture{
		bot:        bot,
		dispatcher: NewDispatcher(botID, antiflood, settings, commands, callbacks, nil, logger),
		sender:     sender,
		notes:      noteService,
		buttons:    buttons,
	}
}

func user(id int64, first string) *tgbotapi.User {
	return &tgbotapi.User{ID: id, FirstName: first, UserName: strings.ToLower(first)}
}

func privateChat(id int64) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "private", FirstName: "Ann"}
}

func groupChat(id int64) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "supergroup", Title: "Gophers"}
}

func message(chat *tgbotapi.Chat, from *tgbotapi.User, text string) *tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 10,
		From:      from,
		Chat:      chat,
		Date:      1700000000,
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexFunc(text, func(r rune) bool { return r == ' ' || r == '\n' })
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return &tgbotapi.Update{Message: msg}
}

func (f *fixture) handle(t *testing.T, update *tgbotapi.Update) {
	t.Helper()
	require.NoError(t, f.dispatcher.HandleUpdate(context.Background(), update))
}

func TestSaveAndGetNote(t *testing.T) {
	f := newFixture(t)
	ann := user(1, "Ann")
	chat := privateChat(1)

	f.handle(t, message(chat, ann, "/save Rules [*no spam] {first}"))
	assert.Equal(t, "Saved note rules.", f.bot.last(t).Text)

	f.handle(t, message(chat, ann, "/get rules"))
	got := f.bot.last(t)
	assert.Equal(t, "no spam Ann", got.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{{Type: "bold", Offset: 0, Length: 7}}, got.Entities)
	assert.Equal(t, 10, got.ReplyToMessageID)

	f.handle(t, message(chat, ann, "#RULES please"))
	assert.Equal(t, "no spam Ann", f.bot.last(t).Text)
}

func TestSaveFromReply(t *testing.T) {
	f := newFixture(t)
	update := message(privateChat(1), user(1, "Ann"), "/save faq")
	update.Message.ReplyToMessage = &tgbotapi.Message{Text: "Read the [_docs](https://example.com)"}

	f.handle(t, update)
	assert.Equal(t, "Saved note faq.", f.bot.last(t).Text)

	source, found, err := f.notes.Lookup(context.Background(), 1, "faq")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Read the [_docs](https://example.com)", source)
}

func TestSaveUsage(t *testing.T) {
	f := newFixture(t)
	f.handle(t, message(privateChat(1), user(1, "Ann"), "/save onlyname"))
	assert.Equal(t, "Usage: /save <name> <text>", f.bot.last(t).Text)
}

func TestAdminOnlyInGroups(t *testing.T) {
	f := newFixture(t)
	chat := groupChat(-100)
	bob := user(2, "Bob")

	f.handle(t, message(chat, bob, "/save rules be nice"))
	assert.Equal(t, "Only chat administrators can do that.", f.bot.last(t).Text)
	f.handle(t, message(chat, bob, "/clear rules"))
	assert.Equal(t, "Only chat administrators can do that.", f.bot.last(t).Text)
	assert.Equal(t, 1, f.bot.memberCalls, "admin status is cached")

	_, found, err := f.notes.Lookup(context.Background(), -100, "rules")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdminCanSaveInGroup(t *testing.T) {
	f := newFixture(t)
	f.bot.status = "administrator"

	f.handle(t, message(groupChat(-100), user(2, "Bob"), "/save rules be nice"))
	assert.Equal(t, "Saved note rules.", f.bot.last(t).Text)
}

func TestGetMissingNote(t *testing.T) {
	f := newFixture(t)
	f.handle(t, message(privateChat(1), user(1, "Ann"), "/get nope"))
	assert.Equal(t, "Note nope not found", f.bot.last(t).Text)
}

func TestUserTextIsNotFormatted(t *testing.T) {
	f := newFixture(t)

	f.handle(t, message(privateChat(1), user(1, "Ann"), "/get _a_"))
	sent := f.bot.last(t)
	assert.Equal(t, "Note _a_ not found", sent.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{{Type: "code", Offset: 5, Length: 3}}, sent.Entities)

	f.handle(t, message(privateChat(1), user(1, "Ann"), "#a`b"))
	assert.Equal(t, "Note a'b not found", f.bot.last(t).Text)

	f.handle(t, message(privateChat(1), user(1, "*Ann*"), "/start"))
	sent = f.bot.last(t)
	assert.True(t, strings.HasPrefix(sent.Text, "Hi *Ann*!"), sent.Text)
	require.NotEmpty(t, sent.Entities)
	assert.Equal(t, tgbotapi.MessageEntity{Type: "bold", Offset: 3, Length: 5}, sent.Entities[0])
}

func TestClearAndListNotes(t *testing.T) {
	f := newFixture(t)
	chat := privateChat(1)
	ann := user(1, "Ann")

	f.handle(t, message(chat, ann, "/notes"))
	assert.Equal(t, "There are no notes in this chat.", f.bot.last(t).Text)

	f.handle(t, message(chat, ann, "/save a one"))
	f.handle(t, message(chat, ann, "/save b two"))
	f.handle(t, message(chat, ann, "/notes"))
	assert.Contains(t, f.bot.last(t).Text, "#a")
	assert.Contains(t, f.bot.last(t).Text, "#b")

	f.handle(t, message(chat, ann, "/clear a"))
	assert.Equal(t, "Deleted note a.", f.bot.last(t).Text)
	f.handle(t, message(chat, ann, "/clear a"))
	assert.Equal(t, "Note a not found", f.bot.last(t).Text)
}

func TestNoteButtonCallback(t *testing.T) {
	f := newFixture(t)
	chat := groupChat(-100)
	f.bot.status = "creator"
	ann := user(1, "Ann")

	f.handle(t, message(chat, ann, "/save rules [*no spam], {first}"))
	f.handle(t, message(chat, ann, "/save menu Read the rules\n<Rules>(#rules) <Site>(https://example.com)"))
	f.handle(t, message(chat, ann, "#menu"))

	menu := f.bot.last(t)
	assert.Equal(t, "Read the rules", menu.Text)
	markup, ok := menu.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 2)
	noteButton := markup.InlineKeyboard[0][0]
	assert.Equal(t, "Rules", noteButton.Text)
	require.NotNil(t, noteButton.CallbackData)
	assert.LessOrEqual(t, len(*noteButton.CallbackData), 64)
	require.NotNil(t, markup.InlineKeyboard[0][1].URL)
	assert.Equal(t, "https://example.com", *markup.InlineKeyboard[0][1].URL)

	// another user clicks; the note is rendered for them
	f.handle(t, &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    user(2, "Bob"),
		Message: &tgbotapi.Message{MessageID: 11, Chat: chat},
		Data:    *noteButton.CallbackData,
	}})

	assert.Equal(t, "no spam, Bob", f.bot.last(t).Text)
	require.Len(t, f.bot.requests, 1)
	answer := f.bot.requests[0].(tgbotapi.CallbackConfig)
	assert.Equal(t, "cb1", answer.CallbackQueryID)
	assert.False(t, answer.ShowAlert)
}

func TestExpiredButton(t *testing.T) {
	f := newFixture(t)
	before := f.bot.count()

	f.handle(t, &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    user(2, "Bob"),
		Message: &tgbotapi.Message{Chat: groupChat(-100)},
		Data:    "unknown",
	}})

	assert.Equal(t, before, f.bot.count())
	require.Len(t, f.bot.requests, 1)
	answer := f.bot.requests[0].(tgbotapi.CallbackConfig)
	assert.Equal(t, "This button has expired.", answer.Text)
	assert.True(t, answer.ShowAlert)
}

func TestDeletedNoteButton(t *testing.T) {
	f := newFixture(t)
	id, err := f.buttons.Register(context.Background(), -100, "gone")
	require.NoError(t, err)

	f.handle(t, &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    user(2, "Bob"),
		Message: &tgbotapi.Message{Chat: groupChat(-100)},
		Data:    id,
	}})

	require.Len(t, f.bot.requests, 1)
	assert.Equal(t, "Note gone not found", f.bot.requests[0].(tgbotapi.CallbackConfig).Text)
}

func TestAntiFloodCommandAndGating(t *testing.T) {
	f := newFixture(t)
	chat := privateChat(1)
	ann := user(1, "Ann")

	f.handle(t, message(chat, ann, "/antiflood"))
	assert.Equal(t, "Current flood limit: more than 80 messages within 2m30s silences a user for 10m0s.", f.bot.last(t).Text)

	f.handle(t, message(chat, ann, "/antiflood 0 20s 1m"))
	assert.True(t, strings.HasPrefix(f.bot.last(t).Text, "Invalid flood limit: "))

	f.handle(t, message(chat, ann, "/antiflood 3 20 1m"))
	assert.Equal(t, "Flood limit set: more than 3 messages within 20s silences a user for 1m0s.", f.bot.last(t).Text)

	// a fresh user gets three events through, then is silenced
	bob := user(2, "Bob")
	before := f.bot.count()
	for i := 0; i < 5; i++ {
		f.handle(t, message(chat, bob, "/notes"))
	}
	assert.Equal(t, before+3, f.bot.count())
}

func membership(chat *tgbotapi.Chat, joined []tgbotapi.User, left *tgbotapi.User) *tgbotapi.Update {
	from := left
	if len(joined) > 0 {
		from = &joined[0]
	}
	update := message(chat, from, "")
	update.Message.NewChatMembers = joined
	update.Message.LeftChatMember = left
	return update
}

func TestGreetings(t *testing.T) {
	f := newFixture(t)
	f.bot.status = "administrator"
	chat := groupChat(-100)
	admin := user(1, "Ann")
	cy := *user(3, "Cy")

	f.handle(t, membership(chat, []tgbotapi.User{cy}, nil))
	assert.Zero(t, f.bot.count(), "greetings start disabled")

	f.handle(t, message(chat, admin, "/welcome"))
	assert.Equal(t, "Greetings are off.", f.bot.last(t).Text)
	f.handle(t, message(chat, admin, "/welcome maybe"))
	assert.Equal(t, "Usage: /welcome on|off", f.bot.last(t).Text)
	f.handle(t, message(chat, admin, "/welcome on"))
	assert.Equal(t, "Greetings are on.", f.bot.last(t).Text)

	f.handle(t, membership(chat, []tgbotapi.User{cy}, nil))
	sent := f.bot.last(t)
	assert.Equal(t, "Welcome to Gophers, Cy!", sent.Text)
	require.Len(t, sent.Entities, 1)
	assert.Equal(t, "text_mention", sent.Entities[0].Type)
	assert.Equal(t, 20, sent.Entities[0].Offset)
	assert.Equal(t, int64(3), sent.Entities[0].User.ID)

	f.handle(t, message(chat, admin, "/setwelcome Hi [*{first}], read <Rules>(https://example.com/rules)"))
	assert.Equal(t, "Welcome message saved.", f.bot.last(t).Text)
	f.handle(t, membership(chat, []tgbotapi.User{cy, {ID: 4, FirstName: "Helper", IsBot: true}}, nil))
	sent = f.bot.last(t)
	assert.Equal(t, "Hi Cy, read", sent.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{{Type: "bold", Offset: 3, Length: 2}}, sent.Entities)
	assert.NotNil(t, sent.ReplyMarkup)

	f.handle(t, membership(chat, nil, &cy))
	assert.Equal(t, "Goodbye, Cy!", f.bot.last(t).Text)

	update := message(chat, admin, "/setgoodbye")
	update.Message.ReplyToMessage = &tgbotapi.Message{Text: "Bye {first}"}
	f.handle(t, update)
	assert.Equal(t, "Goodbye message saved.", f.bot.last(t).Text)
	f.handle(t, membership(chat, nil, &cy))
	assert.Equal(t, "Bye Cy", f.bot.last(t).Text)

	f.handle(t, message(chat, admin, "/resetwelcome"))
	assert.Equal(t, "Greetings reset to the defaults and turned off.", f.bot.last(t).Text)
	before := f.bot.count()
	f.handle(t, membership(chat, []tgbotapi.User{cy}, nil))
	assert.Equal(t, before, f.bot.count())
}

func TestGreetingCommandsNeedAdmin(t *testing.T) {
	f := newFixture(t)
	chat := groupChat(-100)
	bob := user(2, "Bob")

	for _, cmd := range []string{"/welcome on", "/setwelcome hi", "/setgoodbye bye", "/resetwelcome"} {
		f.handle(t, message(chat, bob, cmd))
		assert.Equal(t, "Only chat administrators can do that.", f.bot.last(t).Text, cmd)
	}
	f.handle(t, message(chat, bob, "/setwelcome"))
	assert.Equal(t, "Only chat administrators can do that.", f.bot.last(t).Text)

	f.handle(t, message(chat, bob, "/welcome"))
	assert.Equal(t, "Greetings are off.", f.bot.last(t).Text)
}

func TestIgnoresOwnMessages(t *testing.T) {
	f := newFixture(t)
	f.handle(t, message(privateChat(1), user(botID, "Bot"), "/help"))
	f.handle(t, &tgbotapi.Update{})
	assert.Zero(t, f.bot.count())
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.handle(t, message(groupChat(-100), user(1, "Ann"), "/frobnicate"))
	assert.Zero(t, f.bot.count(), "groups stay quiet")

	f.handle(t, message(privateChat(1), user(1, "Ann"), "/frobnicate"))
	assert.Equal(t, "Unknown command. Send /help for the list of commands.", f.bot.last(t).Text)
}

func TestSendErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.bot.sendErr = errors.New("Bad Request: chat not found")

	err := f.dispatcher.HandleUpdate(context.Background(), message(privateChat(1), user(1, "Ann"), "/help"))
	assert.Error(t, err)
}

func TestParseFloodSettings(t *testing.T) {
	tests := []struct {
		args    string
		want    models.FloodSettings
		wantErr bool
	}{
		{args: "10 20s 5m", want: models.FloodSettings{Count: 10, Wait: 20 * time.Second, Ignore: 5 * time.Minute}},
		{args: "10 20 300", want: models.FloodSettings{Count: 10, Wait: 20 * time.Second, Ignore: 5 * time.Minute}},
		{args: "10 20s", wantErr: true},
		{args: "ten 20s 5m", wantErr: true},
		{args: "10 soon 5m", wantErr: true},
		{args: "10 20s -5m", wantErr: true},
		{args: "0 20s 5m", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, err := parseFloodSettings(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitArgs(t *testing.T) {
	name, body := splitArgs("  rules  line one\nline two")
	assert.Equal(t, "rules", name)
	assert.Equal(t, "line one\nline two", body)

	name, body = splitArgs("rules")
	assert.Equal(t, "rules", name)
	assert.Empty(t, body)

	name, ok := hashNote("#faq more words")
	assert.True(t, ok)
	assert.Equal(t, "faq", name)

	_, ok = hashNote("# ")
	assert.False(t, ok)
	_, ok = hashNote("no hash")
	assert.False(t, ok)
}

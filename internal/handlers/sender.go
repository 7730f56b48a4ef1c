package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpmgr-tgbot-go/pkg/markdown"
	"github.com/grpmgr-tgbot-go/pkg/markup"
	"github.com/sirupsen/logrus"
)

// maxMessageLength is the Telegram limit in UTF-16 code units; longer texts
// are sent as a document
const maxMessageLength = 4096

var errEmptyMessage = errors.New("message has no text")

// BotAPI is the part of the Telegram client the handlers use
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// ButtonRegistrar turns note references into callback data
type ButtonRegistrar interface {
	Register(ctx context.Context, chatID int64, noteKey string) (string, error)
}

// Waiter paces outgoing messages per chat
type Waiter interface {
	Wait(ctx context.Context, chatID int64) error
}

// SendMetrics receives outbound message statistics
type SendMetrics interface {
	RecordMessageSent(status string)
	RecordParseFallback()
	RecordRender(d time.Duration)
}

// Sender renders and delivers messages
type Sender struct {
	bot      BotAPI
	buttons  ButtonRegistrar
	governor Waiter
	metrics  SendMetrics
	logger   *logrus.Logger
}

// NewSender creates a sender. governor and metrics may be nil.
func NewSender(bot BotAPI, buttons ButtonRegistrar, governor Waiter, metrics SendMetrics, logger *logrus.Logger) *Sender {
	return &Sender{
		bot:      bot,
		buttons:  buttons,
		governor: governor,
		metrics:  metrics,
		logger:   logger,
	}
}

// Render turns formatting-language source into a message for rc. Invalid
// source is sent verbatim.
func (s *Sender) Render(source string, rc markup.RenderContext) markup.RenderedMessage {
	start := time.Now()
	msg, err := markup.ParseAndRender(source, rc)
	if s.metrics != nil {
		s.metrics.RecordRender(time.Since(start))
	}
	if err != nil {
		s.logger.WithError(err).WithField("chat_id", rc.ChatID).Debug("Formatting error, sending plain text")
		if s.metrics != nil {
			s.metrics.RecordParseFallback()
		}
	}
	return msg
}

// SendFormatted renders source for rc and sends it to chatID. Source that
// renders to nothing at all is sent verbatim.
func (s *Sender) SendFormatted(ctx context.Context, chatID int64, replyTo int, source string, rc markup.RenderContext) error {
	msg := s.Render(source, rc)
	if msg.Text == "" && len(msg.Buttons) == 0 && strings.TrimSpace(source) != "" {
		msg = markup.Fallback(source)
	}
	return s.Send(ctx, chatID, replyTo, msg)
}

// SendMarkdown sends a localized Markdown reply
func (s *Sender) SendMarkdown(ctx context.Context, chatID int64, replyTo int, md string) error {
	return s.Send(ctx, chatID, replyTo, markdown.ToMessage(md))
}

// Send delivers a rendered message, waiting on the governor before each
// outgoing request
func (s *Sender) Send(ctx context.Context, chatID int64, replyTo int, msg markup.RenderedMessage) error {
	chattables, err := s.chattables(ctx, chatID, replyTo, msg)
	if err != nil {
		return err
	}

	for _, c := range chattables {
		if s.governor != nil {
			if err := s.governor.Wait(ctx, chatID); err != nil {
				return fmt.Errorf("send to chat %d: %w", chatID, err)
			}
		}

		if _, err := s.bot.Send(c); err != nil {
			s.record("error")
			return fmt.Errorf("send to chat %d: %w", chatID, err)
		}
		s.record("success")
	}
	return nil
}

func (s *Sender) record(status string) {
	if s.metrics != nil {
		s.metrics.RecordMessageSent(status)
	}
}

// chattables builds the requests for msg. Text over the message limit goes
// out as a plain document, followed by a message carrying the keyboard.
func (s *Sender) chattables(ctx context.Context, chatID int64, replyTo int, msg markup.RenderedMessage) ([]tgbotapi.Chattable, error) {
	if msg.Text == "" {
		if len(msg.Buttons) == 0 {
			return nil, errEmptyMessage
		}
		msg.Text = keyboardText(msg.Buttons)
	}

	if markup.UTF16Len(msg.Text) <= maxMessageLength {
		cfg := s.messageConfig(ctx, chatID, msg)
		cfg.ReplyToMessageID = replyTo
		return []tgbotapi.Chattable{cfg}, nil
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  "message.txt",
		Bytes: []byte(msg.Text),
	})
	doc.ReplyToMessageID = replyTo
	out := []tgbotapi.Chattable{doc}

	if len(msg.Buttons) > 0 {
		keyboard := s.messageConfig(ctx, chatID, markup.RenderedMessage{
			Text:    keyboardText(msg.Buttons),
			Buttons: msg.Buttons,
		})
		if keyboard.ReplyMarkup != nil {
			out = append(out, keyboard)
		}
	}
	return out, nil
}

// keyboardText is the text shown above a keyboard that has no message of
// its own
func keyboardText(rows [][]markup.Button) string {
	for _, row := range rows {
		for _, b := range row {
			if b.Label != "" {
				return b.Label
			}
		}
	}
	return "…"
}

// messageConfig converts a rendered message into a Telegram message with
// entities and an inline keyboard. Note buttons that cannot be registered
// are left out.
func (s *Sender) messageConfig(ctx context.Context, chatID int64, msg markup.RenderedMessage) tgbotapi.MessageConfig {
	cfg := tgbotapi.NewMessage(chatID, msg.Text)
	cfg.Entities = entities(msg.Spans)
	cfg.DisableWebPagePreview = true

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(msg.Buttons))
	for _, row := range msg.Buttons {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if !b.IsNote() {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
				continue
			}
			id, err := s.buttons.Register(ctx, chatID, b.NoteKey)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"chat_id": chatID,
					"note":    b.NoteKey,
				}).Warn("Failed to register note button, leaving it out")
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, id))
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	if len(rows) > 0 {
		cfg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	return cfg
}

func entities(spans []markup.Span) []tgbotapi.MessageEntity {
	if len(spans) == 0 {
		return nil
	}

	out := make([]tgbotapi.MessageEntity, 0, len(spans))
	for _, sp := range spans {
		e := tgbotapi.MessageEntity{
			Type:     sp.Type(),
			Offset:   sp.Offset,
			Length:   sp.Length,
			Language: sp.Language,
		}
		switch sp.Kind {
		case markup.SpanLink:
			e.URL = sp.URL
		case markup.SpanMention:
			e.User = &tgbotapi.User{ID: sp.UserID}
		}
		out = append(out, e)
	}
	return out
}

package markup

import (
	"strconv"
	"strings"
)

// SpanKind distinguishes style spans from link-like spans
type SpanKind int

const (
	SpanStyle SpanKind = iota
	SpanLink
	SpanMention
)

// Span is a rich-text entity over the rendered text. Offset and Length are
// counted in UTF-16 code units.
type Span struct {
	Kind     SpanKind
	Style    StyleKind // SpanStyle only
	Offset   int
	Length   int
	URL      string // SpanLink only
	Language string // code blocks only
	UserID   int64  // SpanMention only
}

// Type returns the Telegram message entity type of the span
func (s Span) Type() string {
	switch s.Kind {
	case SpanLink:
		return "text_link"
	case SpanMention:
		return "text_mention"
	default:
		return s.Style.String()
	}
}

// Button is one inline keyboard button. Exactly one of URL and NoteKey is set.
type Button struct {
	Label   string
	URL     string
	NoteKey string
}

// IsNote reports whether the button refers to a note rather than a URL
func (b Button) IsNote() bool {
	return b.NoteKey != ""
}

// RenderContext carries the chat and user a message is rendered for
type RenderContext struct {
	ChatID     int64
	ChatName   string
	UserID     int64
	UserHandle string // empty when the user has no username
	FirstName  string
	LastName   string
}

// RenderedMessage is the platform-native result of rendering
type RenderedMessage struct {
	Text    string
	Spans   []Span
	Buttons [][]Button
}

// Render walks doc and materializes text, spans and buttons for rc.
// Placeholders are resolved here, so one parsed document can be rendered
// for any number of contexts.
func Render(doc *Sequence, rc RenderContext) RenderedMessage {
	r := &renderer{rc: rc}
	if doc != nil {
		r.walk(doc)
	}

	spans := r.spans[:0]
	for _, s := range r.spans {
		if s.Length > 0 {
			spans = append(spans, s)
		}
	}

	var rows [][]Button
	for _, row := range r.buttons {
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	return RenderedMessage{
		Text:    r.text.String(),
		Spans:   spans,
		Buttons: rows,
	}
}

type renderer struct {
	rc      RenderContext
	text    strings.Builder
	offset  int
	spans   []Span
	buttons [][]Button
}

func (r *renderer) walk(n Node) {
	switch v := n.(type) {
	case *Sequence:
		r.walkAll(v.Children)
	case *Text:
		r.write(v.Value)
	case *Styled:
		idx := r.open(Span{Kind: SpanStyle, Style: v.Kind, Language: v.Language})
		r.walkAll(v.Children)
		r.close(idx)
	case *Link:
		idx := r.open(Span{Kind: SpanLink, URL: v.URL})
		r.walkAll(v.Children)
		r.close(idx)
	case *Placeholder:
		r.placeholder(v.Keyword)
	case *ButtonURL:
		r.button(v.Row, Button{Label: v.Label, URL: v.URL})
	case *ButtonNote:
		r.button(v.Row, Button{Label: v.Label, NoteKey: v.NoteKey})
	}
}

func (r *renderer) walkAll(nodes []Node) {
	for _, n := range nodes {
		r.walk(n)
	}
}

func (r *renderer) write(s string) {
	r.text.WriteString(s)
	r.offset += UTF16Len(s)
}

// open records a span starting at the current offset. Spans are stored on
// entry so parents precede their children.
func (r *renderer) open(s Span) int {
	s.Offset = r.offset
	r.spans = append(r.spans, s)
	return len(r.spans) - 1
}

func (r *renderer) close(idx int) {
	r.spans[idx].Length = r.offset - r.spans[idx].Offset
}

func (r *renderer) mention(name string) {
	idx := r.open(Span{Kind: SpanMention, UserID: r.rc.UserID})
	r.write(name)
	r.close(idx)
}

func (r *renderer) placeholder(kw Keyword) {
	switch kw {
	case KeywordUsername:
		if r.rc.UserHandle != "" {
			r.write("@" + r.rc.UserHandle)
		} else {
			r.mention(r.rc.FirstName)
		}
	case KeywordFirst:
		r.write(r.rc.FirstName)
	case KeywordLast:
		r.write(r.rc.LastName)
	case KeywordMention:
		r.mention(r.rc.FirstName)
	case KeywordChatName:
		r.write(r.rc.ChatName)
	case KeywordID:
		r.write(strconv.FormatInt(r.rc.UserID, 10))
	}
}

func (r *renderer) button(row int, b Button) {
	if row < 0 {
		row = 0
	}
	for len(r.buttons) <= row {
		r.buttons = append(r.buttons, nil)
	}
	r.buttons[row] = append(r.buttons[row], b)
}

// UTF16Len returns the number of UTF-16 code units needed to encode s
func UTF16Len(s string) int {
	n := 0
	for _, c := range s {
		if c >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCtx = RenderContext{
	ChatID:    -100123,
	ChatName:  "Gophers",
	UserID:    42,
	FirstName: "Ann",
	LastName:  "Lee",
}

func TestRenderPlainTextIsIdentity(t *testing.T) {
	sources := []string{
		"",
		"hello world",
		"line one\nline two\n",
		"emoji 😀 and ünïcödé",
		"tabs\tand   spaces ",
		"numbers 1, 2; 3. done!?",
	}

	for _, s := range sources {
		msg, err := ParseAndRender(s, testCtx)
		require.NoError(t, err, s)
		assert.Equal(t, s, msg.Text)
		assert.Empty(t, msg.Spans)
		assert.Empty(t, msg.Buttons)
	}
}

func TestRenderStyleSpans(t *testing.T) {
	tests := []struct {
		marker string
		kind   StyleKind
	}{
		{"*", Bold},
		{"_", Italic},
		{"__", Underline},
		{"~", Strikethrough},
		{"`", Code},
		{"||", Spoiler},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			msg, err := ParseAndRender("["+tt.marker+"hello]", testCtx)
			require.NoError(t, err)
			assert.Equal(t, "hello", msg.Text)
			assert.Equal(t, []Span{{Kind: SpanStyle, Style: tt.kind, Offset: 0, Length: 5}}, msg.Spans)
		})
	}
}

func TestRenderNestedSpansInDocumentOrder(t *testing.T) {
	msg, err := ParseAndRender("a [[*b]c](https://e.com) [*d [_e]]", testCtx)
	require.NoError(t, err)

	assert.Equal(t, "a bc d e", msg.Text)
	assert.Equal(t, []Span{
		{Kind: SpanLink, URL: "https://e.com", Offset: 2, Length: 2},
		{Kind: SpanStyle, Style: Bold, Offset: 2, Length: 1},
		{Kind: SpanStyle, Style: Bold, Offset: 5, Length: 3},
		{Kind: SpanStyle, Style: Italic, Offset: 7, Length: 1},
	}, msg.Spans)
}

func TestRenderDropsEmptySpans(t *testing.T) {
	msg, err := ParseAndRender("x[*]{last}[_{last}]", RenderContext{FirstName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "x", msg.Text)
	assert.Empty(t, msg.Spans)
}

func TestRenderCodeBlockLanguage(t *testing.T) {
	msg, err := ParseAndRender("[`go` x := 1]", testCtx)
	require.NoError(t, err)
	assert.Equal(t, "x := 1", msg.Text)
	require.Len(t, msg.Spans, 1)
	assert.Equal(t, "pre", msg.Spans[0].Type())
	assert.Equal(t, "go", msg.Spans[0].Language)
}

func TestRenderPlaceholders(t *testing.T) {
	withHandle := testCtx
	withHandle.UserHandle = "ann"
	noLast := testCtx
	noLast.LastName = ""

	tests := []struct {
		name   string
		source string
		rc     RenderContext
		text   string
		spans  []Span
	}{
		{"first", "{first}", testCtx, "Ann", nil},
		{"last", "{last}", testCtx, "Lee", nil},
		{"missing last", "{last}x", noLast, "x", nil},
		{"chatname", "{chatname}", testCtx, "Gophers", nil},
		{"id", "{id}", testCtx, "42", nil},
		{"username with handle", "{username}", withHandle, "@ann", nil},
		{"username without handle", "{username}", testCtx, "Ann",
			[]Span{{Kind: SpanMention, UserID: 42, Offset: 0, Length: 3}}},
		{"mention", "hey {mention}", withHandle, "hey Ann",
			[]Span{{Kind: SpanMention, UserID: 42, Offset: 4, Length: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseAndRender(tt.source, tt.rc)
			require.NoError(t, err)
			assert.Equal(t, tt.text, msg.Text)
			if tt.spans == nil {
				assert.Empty(t, msg.Spans)
			} else {
				assert.Equal(t, tt.spans, msg.Spans)
			}
		})
	}
}

func TestRenderAstralPlaceholderOffsets(t *testing.T) {
	rc := testCtx
	rc.FirstName = "😀Ann"

	msg, err := ParseAndRender("{first} [*x] [_{first}]", rc)
	require.NoError(t, err)
	assert.Equal(t, "😀Ann x 😀Ann", msg.Text)

	// the emoji encodes as a surrogate pair: two code units
	assert.Equal(t, []Span{
		{Kind: SpanStyle, Style: Bold, Offset: 6, Length: 1},
		{Kind: SpanStyle, Style: Italic, Offset: 8, Length: 5},
	}, msg.Spans)

	// no span boundary may fall between the halves of a surrogate pair
	units := utf16Boundaries(msg.Text)
	for _, s := range msg.Spans {
		assert.True(t, units[s.Offset], "offset %d splits a character", s.Offset)
		assert.True(t, units[s.Offset+s.Length], "end %d splits a character", s.Offset+s.Length)
	}
}

func TestRenderButtons(t *testing.T) {
	msg, err := ParseAndRender("Rules below\n<Site>(https://go.dev) <Rules>(#rules)\n<FAQ>(#faq)", testCtx)
	require.NoError(t, err)

	assert.Equal(t, "Rules below", msg.Text)
	assert.Equal(t, [][]Button{
		{{Label: "Site", URL: "https://go.dev"}, {Label: "Rules", NoteKey: "rules"}},
		{{Label: "FAQ", NoteKey: "faq"}},
	}, msg.Buttons)
	assert.True(t, msg.Buttons[0][1].IsNote())
	assert.False(t, msg.Buttons[0][0].IsNote())
}

func TestRenderMixedLineButtons(t *testing.T) {
	tests := []struct {
		source string
		text   string
	}{
		{"hi <a>(https://a.com) <b>(#b)\nbye", "hi\nbye"},
		{"<a>(https://a.com) hi <b>(#b) there", "hi there"},
		{"  indented [*bold*] <a>(https://a.com)", "  indented bold"},
		{"[*x*] <a>(https://a.com) [_y_]", "x y"},
	}

	for _, tt := range tests {
		msg, err := ParseAndRender(tt.source, testCtx)
		require.NoError(t, err, tt.source)
		assert.Equal(t, tt.text, msg.Text, tt.source)
		assert.NotEmpty(t, msg.Buttons, tt.source)
	}
}

func TestRenderOneParseManyContexts(t *testing.T) {
	doc, err := Parse("hi {first} from {chatname}")
	require.NoError(t, err)

	a := Render(doc, RenderContext{FirstName: "Ann", ChatName: "one"})
	b := Render(doc, RenderContext{FirstName: "Bob", ChatName: "two"})

	assert.Equal(t, "hi Ann from one", a.Text)
	assert.Equal(t, "hi Bob from two", b.Text)
}

func TestParseAndRenderFallback(t *testing.T) {
	sources := []string{
		"[*unterminated",
		"snake_case names",
		"hi {nickname}",
		"[x](https://a.com",
	}

	for _, s := range sources {
		msg, err := ParseAndRender(s, testCtx)
		assert.ErrorIs(t, err, ErrParse, s)
		assert.Equal(t, s, msg.Text)
		assert.Empty(t, msg.Spans)
		assert.Empty(t, msg.Buttons)
	}
}

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 0, UTF16Len(""))
	assert.Equal(t, 5, UTF16Len("hello"))
	assert.Equal(t, 2, UTF16Len("😀"))
	assert.Equal(t, 3, UTF16Len("é😀"))
}

// utf16Boundaries returns the set of UTF-16 offsets that fall between characters
func utf16Boundaries(s string) map[int]bool {
	set := map[int]bool{0: true}
	n := 0
	for _, c := range s {
		if c >= 0x10000 {
			n += 2
		} else {
			n++
		}
		set[n] = true
	}
	return set
}

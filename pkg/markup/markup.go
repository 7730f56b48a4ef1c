// Package markup implements the bot's formatting language: a small bracket
// based markup that authors use in notes, greetings and replies. Sources are
// parsed into a tree and rendered per chat and user into plain text plus
// UTF-16 style spans and inline keyboard rows, the shape Telegram expects.
//
// Syntax summary:
//
//	[*bold] [_italic] [__underline] [~strike] [||spoiler] [`code]
//	[`go` code block]
//	[label](https://example.com)
//	<label>(https://example.com)  <label>(#note)  <<new row>>(#note)
//	{username} {first} {last} {mention} {chatname} {id}
//
// A backslash escapes the next structural character.
package markup

import "strings"

// Fallback renders source verbatim without any styling
func Fallback(source string) RenderedMessage {
	return RenderedMessage{Text: source}
}

// ParseAndRender parses source and renders it for rc. Malformed sources never
// block delivery: on a parse error the verbatim fallback is returned together
// with the error, which callers only need for logging.
func ParseAndRender(source string, rc RenderContext) (RenderedMessage, error) {
	doc, err := Parse(source)
	if err != nil {
		return Fallback(source), err
	}
	return Render(doc, rc), nil
}

// Escape quotes every structural character in s so it renders literally
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isMarker(s[i]) || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Unescape removes backslashes that quote structural characters
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (isMarker(s[i+1]) || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

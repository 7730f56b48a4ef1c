// Package markdown converts vanilla Markdown, as used by the bot's own
// localized replies, into the same text-plus-entities form the formatting
// language renders to.
package markdown

import (
	"strconv"
	"strings"

	"github.com/grpmgr-tgbot-go/pkg/markup"
	"github.com/russross/blackfriday/v2"
)

// ToMessage converts markdown to a message with entities
func ToMessage(md string) markup.RenderedMessage {
	if strings.TrimSpace(md) == "" {
		return markup.RenderedMessage{}
	}

	parser := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := parser.Parse([]byte(md))

	c := &converter{}
	root.Walk(c.visit)

	text := strings.TrimRight(c.b.String(), "\n")
	end := markup.UTF16Len(text)

	spans := c.spans[:0]
	for _, s := range c.spans {
		if s.Offset+s.Length > end {
			s.Length = end - s.Offset
		}
		if s.Length > 0 {
			spans = append(spans, s)
		}
	}
	return markup.RenderedMessage{
		Text:  text,
		Spans: spans,
	}
}

type converter struct {
	b     strings.Builder
	pos   int // UTF-16 length of b
	spans []markup.Span
	open  []int
	items []int // ordinal of the current item per nesting level
}

func (c *converter) visit(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
	switch node.Type {
	case blackfriday.Paragraph:
		if entering {
			if node.Parent != nil && node.Parent.Type == blackfriday.Item {
				if node.Prev != nil {
					c.separate(1)
				}
			} else {
				c.separate(2)
			}
		}

	case blackfriday.Heading:
		if entering {
			c.separate(2)
			c.push(markup.Span{Kind: markup.SpanStyle, Style: markup.Bold})
		} else {
			c.pop()
		}

	case blackfriday.BlockQuote, blackfriday.Table:
		if entering {
			c.separate(2)
		}

	case blackfriday.List:
		if entering {
			if node.Parent != nil && node.Parent.Type == blackfriday.Item {
				c.separate(1)
			} else {
				c.separate(2)
			}
			c.items = append(c.items, 0)
		} else {
			c.items = c.items[:len(c.items)-1]
		}

	case blackfriday.Item:
		if entering {
			c.separate(1)
			depth := len(c.items) - 1
			c.items[depth]++
			c.write(strings.Repeat("  ", depth))
			if node.ListFlags&blackfriday.ListTypeOrdered != 0 {
				c.write(strconv.Itoa(c.items[depth]) + ". ")
			} else {
				c.write("• ")
			}
		}

	case blackfriday.TableRow:
		if entering {
			c.separate(1)
		}

	case blackfriday.TableCell:
		if entering && node.Prev != nil {
			c.write(" | ")
		}

	case blackfriday.HorizontalRule:
		c.separate(2)
		c.write("———")

	case blackfriday.CodeBlock:
		c.separate(2)
		lang := strings.Fields(string(node.Info))
		span := markup.Span{Kind: markup.SpanStyle, Style: markup.CodeBlock}
		if len(lang) > 0 {
			span.Language = lang[0]
		}
		c.push(span)
		c.write(strings.TrimRight(string(node.Literal), "\n"))
		c.pop()

	case blackfriday.Code:
		c.push(markup.Span{Kind: markup.SpanStyle, Style: markup.Code})
		c.write(string(node.Literal))
		c.pop()

	case blackfriday.Strong:
		c.style(entering, markup.Bold)

	case blackfriday.Emph:
		c.style(entering, markup.Italic)

	case blackfriday.Del:
		c.style(entering, markup.Strikethrough)

	case blackfriday.Link, blackfriday.Image:
		if entering {
			c.push(markup.Span{Kind: markup.SpanLink, URL: string(node.LinkData.Destination)})
		} else {
			c.pop()
		}

	case blackfriday.Text:
		c.write(string(node.Literal))

	case blackfriday.Softbreak, blackfriday.Hardbreak:
		c.write("\n")

	case blackfriday.HTMLBlock, blackfriday.HTMLSpan:
		return blackfriday.SkipChildren
	}

	return blackfriday.GoToNext
}

func (c *converter) style(entering bool, kind markup.StyleKind) {
	if entering {
		c.push(markup.Span{Kind: markup.SpanStyle, Style: kind})
	} else {
		c.pop()
	}
}

func (c *converter) write(s string) {
	c.b.WriteString(s)
	c.pos += markup.UTF16Len(s)
}

func (c *converter) push(s markup.Span) {
	s.Offset = c.pos
	c.spans = append(c.spans, s)
	c.open = append(c.open, len(c.spans)-1)
}

func (c *converter) pop() {
	idx := c.open[len(c.open)-1]
	c.open = c.open[:len(c.open)-1]
	c.spans[idx].Length = c.pos - c.spans[idx].Offset
}

// separate ends the current block with n newlines unless nothing has been
// written yet
func (c *converter) separate(n int) {
	if c.b.Len() == 0 {
		return
	}
	s := c.b.String()
	have := len(s) - len(strings.TrimRight(s, "\n"))
	for ; have < n; have++ {
		c.write("\n")
	}
}

package markup

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrParse is matched by every error returned from Parse
var ErrParse = errors.New("markup parse error")

// ParseError describes why a source could not be parsed
type ParseError struct {
	Offset int // byte offset into the source
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("markup: %s at offset %d", e.Reason, e.Offset)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// isMarker reports whether c is a structural character of the formatting language
func isMarker(c byte) bool {
	switch c {
	case '_', '|', '~', '`', '*', '[', ']', '(', ')', '{', '}', '<', '>':
		return true
	}
	return false
}

// Parse parses a formatting-language source into a document tree. On any
// error no tree is returned; callers that must always deliver something
// should use ParseAndRender, which falls back to the verbatim source.
func Parse(source string) (*Sequence, error) {
	p := &parser{src: source, row: -1, buttonLine: -1}
	return p.document()
}

type parser struct {
	src string
	pos int

	// button row tracking
	row        int
	buttonLine int
}

func (p *parser) errorf(offset int, format string, args ...interface{}) error {
	return &ParseError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	return p.src[p.pos]
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *parser) expect(c byte) error {
	if p.eof() {
		return p.errorf(p.pos, "expected %q, got end of input", c)
	}
	if p.peek() != c {
		return p.errorf(p.pos, "expected %q, got %q", c, p.peek())
	}
	p.pos++
	return nil
}

// document parses the top level line by line. Buttons are only legal here.
// A line holding nothing but buttons and whitespace contributes no text,
// including its line break.
func (p *parser) document() (*Sequence, error) {
	var (
		out         []Node
		line        []Node
		hasButton   bool
		hasContent  bool
		pending     int  // line breaks not yet emitted
		lastButtons bool // last flushed line was buttons only
	)

	flush := func() {
		if hasButton && !hasContent {
			for _, n := range line {
				switch n.(type) {
				case *ButtonURL, *ButtonNote:
					out = append(out, n)
				}
			}
			lastButtons = true
		} else {
			if pending > 0 {
				out = appendNode(out, &Text{Value: strings.Repeat("\n", pending)})
				pending = 0
			}
			if hasButton {
				line = trimButtonGaps(line)
			}
			for _, n := range line {
				out = appendNode(out, n)
			}
			lastButtons = false
		}
		line = nil
		hasButton, hasContent = false, false
	}

	for !p.eof() {
		switch c := p.peek(); {
		case c == '\n':
			p.pos++
			wasButtons := hasButton && !hasContent
			flush()
			if !wasButtons {
				pending++
			}
		case c == '<':
			btn, err := p.button()
			if err != nil {
				return nil, err
			}
			line = append(line, btn)
			hasButton = true
		default:
			n, err := p.inline(true)
			if err != nil {
				return nil, err
			}
			if t, ok := n.(*Text); !ok || strings.TrimFunc(t.Value, unicode.IsSpace) != "" {
				hasContent = true
			}
			line = appendNode(line, n)
		}
	}
	if len(line) > 0 {
		flush()
	}
	if pending > 0 && !lastButtons {
		out = appendNode(out, &Text{Value: strings.Repeat("\n", pending)})
	}

	return &Sequence{Children: out}, nil
}

// trimButtonGaps drops the whitespace that only separated buttons from the
// text on a line mixing both. Text on either side of a button is joined by a
// single space.
func trimButtonGaps(line []Node) []Node {
	var (
		out         = make([]Node, 0, len(line))
		lastText    *Text
		afterButton bool
		sawContent  bool
	)
	for _, n := range line {
		switch v := n.(type) {
		case *ButtonURL, *ButtonNote:
			if lastText != nil {
				lastText.Value = strings.TrimRightFunc(lastText.Value, unicode.IsSpace)
				if lastText.Value == "" {
					out = out[:len(out)-1]
				}
				lastText = nil
			}
			afterButton = true
			out = append(out, n)
			continue
		case *Text:
			if afterButton {
				v.Value = strings.TrimLeftFunc(v.Value, unicode.IsSpace)
				if v.Value == "" {
					continue
				}
				if sawContent {
					v.Value = " " + v.Value
				}
			}
			lastText = v
			if strings.TrimFunc(v.Value, unicode.IsSpace) != "" {
				sawContent = true
			}
		default:
			if afterButton && sawContent {
				out = append(out, &Text{Value: " "})
			}
			lastText = nil
			sawContent = true
		}
		afterButton = false
		out = append(out, n)
	}
	return out
}

// inline parses one non-button element
func (p *parser) inline(top bool) (Node, error) {
	switch c := p.peek(); {
	case c == '[':
		return p.bracket()
	case c == '{':
		return p.placeholder()
	case c == '<':
		return nil, p.errorf(p.pos, "buttons are only allowed at the top level")
	case c == '\\' || !isMarker(c):
		return p.text(top), nil
	default:
		return nil, p.errorf(p.pos, "unexpected %q", c)
	}
}

// text reads a literal run up to the next unescaped marker. At the top level
// it also stops before a line break so lines can be tracked.
func (p *parser) text(top bool) Node {
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		if c == '\\' {
			p.pos++
			if !p.eof() && (isMarker(p.peek()) || p.peek() == '\\') {
				b.WriteByte(p.peek())
				p.pos++
			} else {
				b.WriteByte('\\')
			}
			continue
		}
		if isMarker(c) || (top && c == '\n') {
			break
		}
		b.WriteByte(c)
		p.pos++
	}
	return &Text{Value: b.String()}
}

// literal reads raw text up to an unescaped close character and consumes it.
// With strict set any other unescaped marker is an error.
func (p *parser) literal(open int, close byte, strict bool) (string, error) {
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '\\':
			p.pos++
			if !p.eof() && (isMarker(p.peek()) || p.peek() == '\\') {
				b.WriteByte(p.peek())
				p.pos++
			} else {
				b.WriteByte('\\')
			}
			continue
		case c == close:
			p.pos++
			return b.String(), nil
		case strict && isMarker(c):
			return "", p.errorf(p.pos, "unexpected %q", c)
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", p.errorf(open, "unterminated %q", p.src[open])
}

var styleMarkers = []struct {
	marker string
	kind   StyleKind
}{
	// longest first
	{"__", Underline},
	{"||", Spoiler},
	{"*", Bold},
	{"_", Italic},
	{"~", Strikethrough},
}

func (p *parser) bracket() (Node, error) {
	start := p.pos
	p.pos++

	if !p.eof() && p.peek() == '`' {
		p.pos++
		return p.code(start)
	}

	for _, sm := range styleMarkers {
		if p.hasPrefix(sm.marker) {
			p.pos += len(sm.marker)
			children, err := p.body(start)
			if err != nil {
				return nil, err
			}
			return &Styled{Kind: sm.kind, Children: children}, nil
		}
	}

	children, err := p.body(start)
	if err != nil {
		return nil, err
	}
	if p.eof() || p.peek() != '(' {
		return nil, p.errorf(start, "unmatched %q", '[')
	}
	open := p.pos
	p.pos++
	url, err := p.literal(open, ')', false)
	if err != nil {
		return nil, err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, p.errorf(open, "empty link target")
	}
	return &Link{Children: children, URL: url}, nil
}

// body parses nested elements up to and including the closing bracket
func (p *parser) body(start int) ([]Node, error) {
	var children []Node
	for {
		if p.eof() {
			return nil, p.errorf(start, "unterminated %q", '[')
		}
		if p.peek() == ']' {
			p.pos++
			return children, nil
		}
		n, err := p.inline(false)
		if err != nil {
			return nil, err
		}
		children = appendNode(children, n)
	}
}

// code parses "[`code]" and "[`lang` code]". The opening "[`" is consumed.
func (p *parser) code(start int) (Node, error) {
	rest := p.src[p.pos:]
	if i := strings.IndexAny(rest, "`]"); i > 0 && rest[i] == '`' {
		lang := rest[:i]
		if !strings.ContainsFunc(lang, unicode.IsSpace) && !strings.ContainsRune(lang, '\\') {
			p.pos += i + 1
			for !p.eof() && unicode.IsSpace(rune(p.peek())) {
				p.pos++
			}
			body, err := p.literal(start, ']', false)
			if err != nil {
				return nil, err
			}
			return &Styled{Kind: CodeBlock, Language: lang, Children: textChildren(body)}, nil
		}
	}

	body, err := p.literal(start, ']', false)
	if err != nil {
		return nil, err
	}
	return &Styled{Kind: Code, Children: textChildren(body)}, nil
}

func (p *parser) placeholder() (Node, error) {
	start := p.pos
	p.pos++
	name, err := p.literal(start, '}', true)
	if err != nil {
		return nil, err
	}
	kw := Keyword(name)
	if _, ok := keywords[kw]; !ok {
		return nil, p.errorf(start, "unknown placeholder %q", name)
	}
	return &Placeholder{Keyword: kw}, nil
}

// button parses "<label>(target)" or "<<label>>(target)"; the latter always
// starts a new row.
func (p *parser) button() (Node, error) {
	start := p.pos
	newRow := p.hasPrefix("<<")
	if newRow {
		p.pos += 2
	} else {
		p.pos++
	}

	label, err := p.literal(start, '>', true)
	if err != nil {
		return nil, err
	}
	if newRow {
		if err := p.expect('>'); err != nil {
			return nil, err
		}
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, p.errorf(start, "empty button label")
	}

	open := p.pos
	if err := p.expect('('); err != nil {
		return nil, err
	}
	target, err := p.literal(open, ')', false)
	if err != nil {
		return nil, err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, p.errorf(open, "empty button target")
	}

	line := strings.Count(p.src[:start], "\n")
	if newRow || line != p.buttonLine {
		p.row++
	}
	p.buttonLine = line

	if strings.HasPrefix(target, "#") {
		key := strings.TrimSpace(target[1:])
		if key == "" {
			return nil, p.errorf(open, "empty note key")
		}
		return &ButtonNote{Label: label, NoteKey: key, Row: p.row}, nil
	}
	return &ButtonURL{Label: label, URL: target, Row: p.row}, nil
}

func textChildren(s string) []Node {
	if s == "" {
		return nil
	}
	return []Node{&Text{Value: s}}
}

// appendNode appends n, merging adjacent text runs
func appendNode(nodes []Node, n Node) []Node {
	t, ok := n.(*Text)
	if !ok {
		return append(nodes, n)
	}
	if t.Value == "" {
		return nodes
	}
	if len(nodes) > 0 {
		if prev, ok := nodes[len(nodes)-1].(*Text); ok {
			nodes[len(nodes)-1] = &Text{Value: prev.Value + t.Value}
			return nodes
		}
	}
	return append(nodes, t)
}

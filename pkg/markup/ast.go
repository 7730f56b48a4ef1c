package markup

// StyleKind identifies a rich-text style applied to a run of text
type StyleKind int

const (
	Bold StyleKind = iota
	Italic
	Underline
	Strikethrough
	Spoiler
	Code
	CodeBlock
)

// String returns the Telegram entity type for the style
func (k StyleKind) String() string {
	switch k {
	case Bold:
		return "bold"
	case Italic:
		return "italic"
	case Underline:
		return "underline"
	case Strikethrough:
		return "strikethrough"
	case Spoiler:
		return "spoiler"
	case Code:
		return "code"
	case CodeBlock:
		return "pre"
	default:
		return "unknown"
	}
}

// Keyword is a placeholder name resolved at render time
type Keyword string

const (
	KeywordUsername Keyword = "username"
	KeywordFirst    Keyword = "first"
	KeywordLast     Keyword = "last"
	KeywordMention  Keyword = "mention"
	KeywordChatName Keyword = "chatname"
	KeywordID       Keyword = "id"
)

var keywords = map[Keyword]struct{}{
	KeywordUsername: {},
	KeywordFirst:    {},
	KeywordLast:     {},
	KeywordMention:  {},
	KeywordChatName: {},
	KeywordID:       {},
}

// Node is an element of a parsed document
type Node interface {
	node()
}

// Text is a literal run of text with escapes already removed
type Text struct {
	Value string
}

// Styled applies Kind to its children. Language is only set for code blocks.
type Styled struct {
	Kind     StyleKind
	Language string
	Children []Node
}

// Link is a text link over its children
type Link struct {
	Children []Node
	URL      string
}

// ButtonURL is an inline keyboard button opening URL
type ButtonURL struct {
	Label string
	URL   string
	Row   int
}

// ButtonNote is an inline keyboard button that shows the note NoteKey when clicked
type ButtonNote struct {
	Label   string
	NoteKey string
	Row     int
}

// Placeholder is substituted from the RenderContext
type Placeholder struct {
	Keyword Keyword
}

// Sequence is an ordered list of nodes. Parse returns a Sequence as the root.
type Sequence struct {
	Children []Node
}

func (*Text) node()        {}
func (*Styled) node()      {}
func (*Link) node()        {}
func (*ButtonURL) node()   {}
func (*ButtonNote) node()  {}
func (*Placeholder) node() {}
func (*Sequence) node()    {}

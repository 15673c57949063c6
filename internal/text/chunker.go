package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type ChunkType string

const (
	ChunkTypeBody    ChunkType = "body"
	ChunkTypeHeading ChunkType = "heading"
	ChunkTypeTable   ChunkType = "table"
	ChunkTypeList    ChunkType = "list"
)

// PageSeparator delimits pages in the persisted extracted text (form feed, as pdftotext emits).
const PageSeparator = "\f"

const charsPerToken = 4

// Page is the extracted text of one page of a source document.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Chunk is one retrieval unit produced from a document. Index is dense from 0.
type Chunk struct {
	Index        int
	Text         string
	Type         ChunkType
	PageNumber   *int
	SectionTitle *string
	TokenCount   int
	CharCount    int
	Metadata     map[string]interface{}
}

var (
	headingKeywordRe = regexp.MustCompile(`(?i)^\s*(cl[áa]usula|cap[íi]tulo|se[çc][ãa]o|anexo|t[íi]tulo)\b`)
	numberPrefixRe   = regexp.MustCompile(`^\s*\d+(\.\d+)*\.?\s+`)
	listItemRe       = regexp.MustCompile(`^\s*([-•*▪]|[a-z]\)|\d+\)|[IVXLC]+\s*[-–.)])\s+`)
	pageMarkerRe     = regexp.MustCompile(`(?mi)^[ \t]*(p[áa]gina[ \t]+\d+([ \t]+de[ \t]+\d+)?|-[ \t]*\d+[ \t]*-|\d+[ \t]*/[ \t]*\d+)[ \t]*$`)
	signatureLineRe  = regexp.MustCompile(`(?m)^[ \t]*_{5,}[ \t]*$`)
	columnGapRe      = regexp.MustCompile(`\S {3,}\S`)
	blankLineRe      = regexp.MustCompile(`\n[ \t]*\n`)
	currencyRe       = regexp.MustCompile(`R\$\s*\d`)
)

// JoinPages serializes pages into the single text blob stored on the document.
func JoinPages(pages []Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, PageSeparator)
}

// SplitPages is the inverse of JoinPages; pages are numbered from 1.
func SplitPages(text string) []Page {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, PageSeparator)
	pages := make([]Page, 0, len(parts))
	for i, p := range parts {
		pages = append(pages, Page{Number: i + 1, Text: p})
	}
	return pages
}

// CleanNoise strips page counters and signature rules that carry no content.
func CleanNoise(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = pageMarkerRe.ReplaceAllString(text, "")
	text = signatureLineRe.ReplaceAllString(text, "")
	return text
}

// IsNoiseChunk identifies chunks too low-value to embed.
func IsNoiseChunk(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 {
		return true
	}

	// Digits and punctuation only (stray page numbers, dates without context).
	hasLetter := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return true
	}

	words := strings.Fields(trimmed)
	return utf8.RuneCountInString(trimmed) < 15 && len(words) <= 2 && !isHeadingLine(trimmed)
}

// EstimateTokens approximates the token count at four characters per token.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// ChunkDocument splits a document's pages into chunks that never cross a
// page boundary. Clause headings open sections whose title is attached to
// every following chunk; tables and lists become their own chunks; body text
// is packed by paragraph -> line -> word up to maxTokens, carrying roughly
// overlap tokens of trailing words into the next body chunk.
func ChunkDocument(pages []Page, maxTokens, overlap int) []Chunk {
	c := &chunker{
		maxChars:     maxTokens * charsPerToken,
		overlapChars: overlap * charsPerToken,
	}
	for _, p := range pages {
		c.page = p.Number
		for _, block := range blankLineRe.Split(CleanNoise(p.Text), -1) {
			c.addBlock(strings.TrimSpace(block))
		}
		c.flushBody(false)
	}
	return c.out
}

type chunker struct {
	maxChars     int
	overlapChars int

	page    int
	section string

	buf         strings.Builder
	hasContent  bool
	headingOnly bool
	continued   bool

	out []Chunk
}

func (c *chunker) addBlock(block string) {
	if block == "" {
		return
	}
	lines := nonEmptyLines(block)

	switch {
	case len(lines) == 1 && isHeadingLine(lines[0]):
		c.flushBody(false)
		c.section = strings.TrimSpace(lines[0])
		c.buf.WriteString(c.section)
		c.hasContent = true
		c.headingOnly = true
	case isTable(lines):
		c.flushBody(false)
		c.emitLines(lines, ChunkTypeTable)
	case isList(lines):
		c.flushBody(false)
		c.emitLines(lines, ChunkTypeList)
	default:
		c.addParagraph(block)
	}
}

func (c *chunker) addParagraph(para string) {
	if len(para) <= c.maxChars {
		c.addPiece(para, "\n\n")
		return
	}
	for _, line := range strings.Split(para, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) <= c.maxChars {
			c.addPiece(line, "\n")
			continue
		}
		for _, word := range strings.Fields(line) {
			c.addPiece(word, " ")
		}
	}
}

func (c *chunker) addPiece(piece, sep string) {
	if c.buf.Len() > 0 && c.buf.Len()+len(sep)+len(piece) > c.maxChars {
		c.flushBody(true)
	}
	if c.buf.Len() > 0 {
		c.buf.WriteString(sep)
	}
	c.buf.WriteString(piece)
	c.hasContent = true
	c.headingOnly = false
}

// flushBody emits the pending body buffer. With carry set, the trailing
// words are kept as the start of the next chunk.
func (c *chunker) flushBody(carry bool) {
	if c.buf.Len() == 0 {
		return
	}
	content := c.buf.String()
	c.buf.Reset()

	if c.hasContent {
		typ := ChunkTypeBody
		if c.headingOnly {
			typ = ChunkTypeHeading
		}
		c.emit(content, typ, c.continued)
	}
	c.hasContent = false
	c.headingOnly = false
	c.continued = false

	if carry && c.overlapChars > 0 {
		if tail := tailWords(content, c.overlapChars); tail != "" {
			c.buf.WriteString(tail)
			c.continued = true
		}
	}
}

func (c *chunker) emitLines(lines []string, typ ChunkType) {
	var b strings.Builder
	for _, line := range lines {
		if b.Len() > 0 && b.Len()+1+len(line) > c.maxChars {
			c.emit(b.String(), typ, false)
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		c.emit(b.String(), typ, false)
	}
}

func (c *chunker) emit(content string, typ ChunkType, continued bool) {
	content = strings.TrimSpace(content)
	// Continuations are tails of real text, however short.
	if !continued && IsNoiseChunk(content) {
		return
	}

	page := c.page
	chunk := Chunk{
		Index:      len(c.out),
		Text:       content,
		Type:       typ,
		PageNumber: &page,
		TokenCount: EstimateTokens(content),
		CharCount:  utf8.RuneCountInString(content),
		Metadata: map[string]interface{}{
			"has_currency": currencyRe.MatchString(content),
		},
	}
	if c.section != "" {
		section := c.section
		chunk.SectionTitle = &section
	}
	if continued {
		chunk.Metadata["continued"] = true
	}
	c.out = append(c.out, chunk)
}

func isHeadingLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > 120 {
		return false
	}
	if headingKeywordRe.MatchString(line) {
		return true
	}
	return isUpperText(numberPrefixRe.ReplaceAllString(line, ""))
}

// isUpperText reports whether s has at least three letters and none lowercase.
func isUpperText(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if unicode.IsLower(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}

func isTable(lines []string) bool {
	if len(lines) < 2 {
		return false
	}
	cells := 0
	for _, l := range lines {
		if strings.Count(l, "|") >= 2 || strings.Contains(l, "\t") || columnGapRe.MatchString(l) {
			cells++
		}
	}
	return cells*2 >= len(lines)
}

func isList(lines []string) bool {
	items := 0
	for _, l := range lines {
		if listItemRe.MatchString(l) {
			items++
		}
	}
	return items > 0 && items*2 > len(lines)
}

func nonEmptyLines(block string) []string {
	var result []string
	for _, l := range strings.Split(block, "\n") {
		if strings.TrimSpace(l) != "" {
			result = append(result, strings.TrimRight(l, " \t"))
		}
	}
	return result
}

func tailWords(text string, maxChars int) string {
	words := strings.Fields(text)
	total := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		if total+len(words[i])+1 > maxChars {
			break
		}
		total += len(words[i]) + 1
		start = i
	}
	// Carrying the whole chunk forward would only duplicate it.
	if start == 0 {
		return ""
	}
	return strings.Join(words[start:], " ")
}

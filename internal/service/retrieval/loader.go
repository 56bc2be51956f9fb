package retrieval

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/handbook"
)

// DefaultChunkMaxChars keeps passages around 200-300 tokens.
const DefaultChunkMaxChars = 1200

var (
	fencePattern    = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	imagePattern    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkPattern     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	htmlTagPattern  = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	headingPattern  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	quotePattern    = regexp.MustCompile(`(?m)^\s*>\s?`)
	bulletPattern   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	rulePattern     = regexp.MustCompile(`(?m)^\s*(?:[-*_]\s*){3,}$`)
	emphasisPattern = regexp.MustCompile(`(\*\*|__|\*|~~|` + "`" + `)`)
	tableRowPattern = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
)

// MarkdownToText renders markdown to plain text, keeping one block per line.
func MarkdownToText(md string) string {
	text := strings.ReplaceAll(md, "\r\n", "\n")
	text = fencePattern.ReplaceAllString(text, "")
	text = imagePattern.ReplaceAllString(text, "$1")
	text = linkPattern.ReplaceAllString(text, "$1")
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = tableRowPattern.ReplaceAllString(text, "")
	text = rulePattern.ReplaceAllString(text, "")
	text = headingPattern.ReplaceAllString(text, "")
	text = quotePattern.ReplaceAllString(text, "")
	text = bulletPattern.ReplaceAllString(text, "")
	text = emphasisPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "|", " ")
	return text
}

// ChunkText groups non-empty lines into chunks of at most maxChars characters.
// A single line longer than maxChars becomes its own chunk.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0
	for _, line := range strings.Split(text, "\n") {
		paragraph := strings.Join(strings.Fields(line), " ")
		if paragraph == "" {
			continue
		}

		size := utf8.RuneCountInString(paragraph)
		if currentLen > 0 && currentLen+size+1 > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteByte('\n')
			currentLen++
		}
		current.WriteString(paragraph)
		currentLen += size
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// LoadPages walks dir for markdown pages and returns their chunked passages.
func LoadPages(dir string, maxChars int) ([]handbook.Passage, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat pages dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pages dir %q is not a directory", dir)
	}

	var passages []handbook.Passage
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}

		section := filepath.ToSlash(filepath.Dir(rel))
		if section == "." {
			section = "root"
		}
		title := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))

		for i, chunk := range ChunkText(MarkdownToText(string(data)), maxChars) {
			passages = append(passages, handbook.Passage{
				ID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(rel+"#"+strconv.Itoa(i))).String(),
				Title:      title,
				Section:    section,
				SourceFile: rel,
				Text:       chunk,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	return passages, nil
}

package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// Parser converts a source document into its ordered list of visible
// paragraphs, each tagged with a heading level (0 for body text).
type Parser interface {
	Parse(r io.Reader, filename string) ([]doctree.Block, error)
}

// SupportedExtensions lists file extensions the splitter can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// appendBlock adds a block unless it has no visible text.
func appendBlock(blocks []doctree.Block, text string, level int) []doctree.Block {
	text = strings.TrimSpace(text)
	if text == "" {
		return blocks
	}
	return append(blocks, doctree.Block{Text: text, Level: level})
}

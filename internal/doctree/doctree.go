package doctree

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// PathSeparator joins ancestor titles in a hierarchy path.
const PathSeparator = ">"

// Block is one visible paragraph of a source document, in document order.
type Block struct {
	Text  string // Trimmed paragraph text
	Level int    // Heading level (1..N), 0 for body text
}

// IsHeading reports whether the block carries a heading level.
func (b Block) IsHeading() bool { return b.Level > 0 }

// Section is a leaf-level heading plus the body text beneath it.
type Section struct {
	Index         int    `json:"index"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	HierarchyPath string `json:"hierarchy_path"`
}

// Key returns the resume key for the section.
func (s Section) Key() Key {
	return NewKey(s.Title, s.HierarchyPath)
}

// Key identifies a section across runs: its title plus the ancestor path
// recorded when it was opened.
type Key struct {
	Title         string
	HierarchyPath string
}

// NewKey builds a normalized key. Titles copied out of Word and out of a
// report can differ in Unicode composition, so both halves are NFC-folded.
func NewKey(title, path string) Key {
	return Key{
		Title:         norm.NFC.String(strings.TrimSpace(title)),
		HierarchyPath: norm.NFC.String(strings.TrimSpace(path)),
	}
}

func (k Key) String() string {
	if k.HierarchyPath == "" {
		return k.Title
	}
	return k.HierarchyPath + PathSeparator + k.Title
}

// GenerationResult is the single outcome recorded for a section in a run.
type GenerationResult struct {
	SectionIndex  int       `json:"index"`
	Title         string    `json:"title"`
	HierarchyPath string    `json:"hierarchy_path"`
	Content       string    `json:"-"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempts      int       `json:"attempts"`
	Timestamp     time.Time `json:"timestamp"`
	Path          string    `json:"path,omitempty"` // Artifact path, set once persisted
}

// Chars returns the number of characters produced for the section.
func (r GenerationResult) Chars() int {
	return len([]rune(r.Content))
}

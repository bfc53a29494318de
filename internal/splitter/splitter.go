// Package splitter turns a heading-tagged document into leaf-level sections.
package splitter

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/parser"
)

// DefaultLeafLevel is the heading depth that opens a section when none is
// configured.
const DefaultLeafLevel = 5

// SplitError reports a document that could not be opened or parsed.
type SplitError struct {
	Path string
	Err  error
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("split %s: %v", e.Path, e.Err)
}

func (e *SplitError) Unwrap() error { return e.Err }

// Splitter splits documents at a fixed leaf heading level.
type Splitter struct {
	LeafLevel int
}

// New returns a Splitter for the given leaf level.
func New(leafLevel int) *Splitter {
	if leafLevel <= 0 {
		leafLevel = DefaultLeafLevel
	}
	return &Splitter{LeafLevel: leafLevel}
}

// Split reads the document at path and returns its sections in document
// order. A document without any leaf-level heading yields an empty slice
// and no error.
func (s *Splitter) Split(path string) ([]doctree.Section, error) {
	p, err := parser.ForFile(path)
	if err != nil {
		return nil, &SplitError{Path: path, Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &SplitError{Path: path, Err: err}
	}
	defer f.Close()

	blocks, err := p.Parse(f, path)
	if err != nil {
		return nil, &SplitError{Path: path, Err: err}
	}
	return s.SplitBlocks(blocks), nil
}

// SplitBlocks walks blocks in order, tracking the open ancestor headings.
// Only a leaf heading closes the open section. A shallower heading updates
// the ancestors for the next section but its following paragraphs still
// belong to the open one; headings deeper than the leaf are body text.
func (s *Splitter) SplitBlocks(blocks []doctree.Block) []doctree.Section {
	leaf := s.LeafLevel
	stack := make([]string, leaf) // stack[l] holds the open level-l title, l in 1..leaf-1

	var (
		sections []doctree.Section
		current  *doctree.Section
		body     []string
	)
	closeSection := func() {
		if current == nil {
			return
		}
		current.Index = len(sections)
		current.Body = strings.Join(body, "\n")
		sections = append(sections, *current)
		current = nil
		body = nil
	}

	for _, b := range blocks {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		if b.Level < 1 || b.Level > leaf {
			if current != nil {
				body = append(body, b.Text)
			}
			continue
		}

		for l := b.Level + 1; l < leaf; l++ {
			stack[l] = ""
		}
		if b.Level < leaf {
			stack[b.Level] = b.Text
			continue
		}
		closeSection()
		current = &doctree.Section{
			Title:         b.Text,
			HierarchyPath: joinPath(stack[1:]),
		}
	}
	closeSection()

	return sections
}

func joinPath(levels []string) string {
	parts := make([]string, 0, len(levels))
	for _, t := range levels {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, doctree.PathSeparator)
}

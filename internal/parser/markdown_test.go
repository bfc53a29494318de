package parser

import (
	"strings"
	"testing"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

func TestMarkdownParser_HeadingLevels(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content
continues here.

### Subsection A1

- item one
- item two

## Section B

Section B content.
`
	p := &MarkdownParser{}
	blocks, err := p.Parse(strings.NewReader(input), "doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []doctree.Block{
		{Text: "Title", Level: 1},
		{Text: "Intro text.", Level: 0},
		{Text: "Section A", Level: 2},
		{Text: "Section A content\ncontinues here.", Level: 0},
		{Text: "Subsection A1", Level: 3},
		{Text: "item one\nitem two", Level: 0},
		{Text: "Section B", Level: 2},
		{Text: "Section B content.", Level: 0},
	}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(want), len(blocks), blocks)
	}
	for i, w := range want {
		if blocks[i] != w {
			t.Errorf("block[%d]: expected %+v, got %+v", i, w, blocks[i])
		}
	}
}

func TestMarkdownParser_NoHeadings(t *testing.T) {
	input := "Just some plain text.\n\nAnother paragraph.\n"
	p := &MarkdownParser{}
	blocks, err := p.Parse(strings.NewReader(input), "plain.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if b.IsHeading() {
			t.Errorf("block[%d] should not be a heading: %+v", i, b)
		}
	}
}

func TestMarkdownParser_CodeBlockKeptVerbatim(t *testing.T) {
	input := "##### Leaf\n\n```\nfoo()\nbar()\n```\n"
	p := &MarkdownParser{}
	blocks, err := p.Parse(strings.NewReader(input), "code.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Level != 5 {
		t.Errorf("expected level 5, got %d", blocks[0].Level)
	}
	if blocks[1].Text != "foo()\nbar()" {
		t.Errorf("unexpected code text %q", blocks[1].Text)
	}
}

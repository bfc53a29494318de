package parser

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/fumiama/go-docx"
)

func styledPara(style, text string) *docx.Paragraph {
	p := &docx.Paragraph{
		Children: []any{
			&docx.Run{Children: []any{&docx.Text{Text: text}}},
		},
	}
	if style != "" {
		p.Properties = &docx.ParagraphProperties{Style: &docx.Style{Val: style}}
	}
	return p
}

func TestDocxBlocks(t *testing.T) {
	items := []any{
		styledPara("Heading1", "Intro"),
		styledPara("", "   "),
		styledPara("5", "A"),
		styledPara("", "para one"),
		&docx.Table{},
		styledPara("Normal", "para two"),
	}
	names := map[string]string{"5": "heading 5", "Normal": "Normal"}

	blocks := docxBlocks(items, names)
	if len(blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Text != "Intro" || blocks[0].Level != 1 {
		t.Errorf("unexpected first block %+v", blocks[0])
	}
	if blocks[1].Text != "A" || blocks[1].Level != 5 {
		t.Errorf("unexpected leaf heading %+v", blocks[1])
	}
	if blocks[2].Level != 0 || blocks[3].Level != 0 {
		t.Errorf("expected body text blocks, got %+v %+v", blocks[2], blocks[3])
	}
}

func TestDocxBlocks_NumericIDWithoutNameIsBody(t *testing.T) {
	blocks := docxBlocks([]any{styledPara("5", "A")}, nil)
	if len(blocks) != 1 || blocks[0].Level != 0 {
		t.Fatalf("expected one body block, got %+v", blocks)
	}
}

const localizedStyles = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:style w:type="paragraph" w:default="1" w:styleId="a"><w:name w:val="Normal"/></w:style>
  <w:style w:type="paragraph" w:styleId="1"><w:name w:val="heading 1"/></w:style>
  <w:style w:type="paragraph" w:styleId="a3"><w:name w:val="标题 3"/></w:style>
  <w:style w:type="paragraph" w:styleId="5"><w:name w:val="heading 5"/></w:style>
</w:styles>`

func zipWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadStyleNames(t *testing.T) {
	names, err := readStyleNames(zipWith(t, map[string]string{"word/styles.xml": localizedStyles}))
	if err != nil {
		t.Fatalf("readStyleNames: %v", err)
	}
	want := map[string]string{"a": "Normal", "1": "heading 1", "a3": "标题 3", "5": "heading 5"}
	for id, name := range want {
		if names[id] != name {
			t.Errorf("style %q: expected %q, got %q", id, name, names[id])
		}
	}

	blocks := docxBlocks([]any{
		styledPara("1", "Part"),
		styledPara("a3", "Chapter"),
		styledPara("5", "Leaf"),
		styledPara("a", "body"),
	}, names)
	levels := []int{1, 3, 5, 0}
	for i, b := range blocks {
		if b.Level != levels[i] {
			t.Errorf("block %d (%s): expected level %d, got %d", i, b.Text, levels[i], b.Level)
		}
	}
}

func TestReadStyleNames_MissingStylesPart(t *testing.T) {
	names, err := readStyleNames(zipWith(t, map[string]string{"word/document.xml": "<w:document/>"}))
	if err != nil {
		t.Fatalf("readStyleNames: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no names, got %v", names)
	}
}

func TestDocxParagraphText_ConcatenatesRuns(t *testing.T) {
	p := &docx.Paragraph{
		Children: []any{
			&docx.Run{Children: []any{&docx.Text{Text: " Hello, "}}},
			&docx.Run{Children: []any{&docx.Text{Text: "world "}}},
		},
	}
	if got := docxParagraphText(p); got != "Hello, world" {
		t.Errorf("expected %q, got %q", "Hello, world", got)
	}
}

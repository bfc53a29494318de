package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) ([]doctree.Block, error) {
	// go-docx needs a ReaderAt+size.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}

	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse docx %s: %w", filename, err)
	}
	names, err := readStyleNames(data)
	if err != nil {
		return nil, fmt.Errorf("parse docx %s: %w", filename, err)
	}
	return docxBlocks(doc.Document.Body.Items, names), nil
}

type stylesXML struct {
	Styles []struct {
		ID   string `xml:"styleId,attr"`
		Name struct {
			Val string `xml:"val,attr"`
		} `xml:"name"`
	} `xml:"style"`
}

// readStyleNames maps style IDs to display names from word/styles.xml.
// Paragraphs reference styles by ID, and localized Word writes IDs like
// "1" or "a3" whose display name is "heading 1" or "标题 3". A document
// without styles.xml yields an empty map.
func readStyleNames(data []byte) (map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, f := range zr.File {
		if f.Name != "word/styles.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open styles: %w", err)
		}
		defer rc.Close()
		var styles stylesXML
		if err := xml.NewDecoder(rc).Decode(&styles); err != nil {
			return nil, fmt.Errorf("decode styles: %w", err)
		}
		for _, st := range styles.Styles {
			if st.ID != "" && st.Name.Val != "" {
				names[st.ID] = st.Name.Val
			}
		}
		break
	}
	return names, nil
}

// docxBlocks flattens body items into blocks. Tables and other non-paragraph
// items are skipped. names maps style IDs to display names.
func docxBlocks(items []any, names map[string]string) []doctree.Block {
	var blocks []doctree.Block
	for _, item := range items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		blocks = appendBlock(blocks, docxParagraphText(para), docxHeadingLevel(para, names))
	}
	return blocks
}

// docxHeadingLevel matches the style's display name first and falls back
// to the raw ID, which is "Heading1" in English documents.
func docxHeadingLevel(para *docx.Paragraph, names map[string]string) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	id := para.Properties.Style.Val
	if name, ok := names[id]; ok {
		if level := HeadingLevel(name); level > 0 {
			return level
		}
	}
	return HeadingLevel(id)
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// TextParser handles plain text files. Paragraphs are separated by blank
// lines. A single-line paragraph that starts with an outline number
// ("3", "3.1", "3.1.2.") is a heading whose level is the number of
// components.
type TextParser struct{}

var outlineHeading = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3})*)\.?\s+(\S.*)$`)

// maxOutlineTitle bounds how long a numbered line may be and still count
// as a heading rather than a numbered sentence.
const maxOutlineTitle = 120

func (p *TextParser) Parse(r io.Reader, filename string) ([]doctree.Block, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var blocks []doctree.Block
	for _, para := range paragraphs {
		level, title := outlineLevel(para)
		if level > 0 {
			blocks = appendBlock(blocks, title, level)
			continue
		}
		blocks = appendBlock(blocks, para, 0)
	}
	return blocks, nil
}

func outlineLevel(para string) (int, string) {
	para = strings.TrimSpace(para)
	if strings.Contains(para, "\n") || len([]rune(para)) > maxOutlineTitle {
		return 0, ""
	}
	m := outlineHeading.FindStringSubmatch(para)
	if m == nil {
		return 0, ""
	}
	return strings.Count(m[1], ".") + 1, para
}

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"go.yaml.in/yaml/v3"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// Artifact status values recorded in headers.
const (
	StatusSuccess  = "success"
	StatusFallback = "fallback"
)

// Header is the metadata block at the top of every section artifact.
type Header struct {
	Index         int    `yaml:"index"`
	Title         string `yaml:"title"`
	HierarchyPath string `yaml:"hierarchy_path"`
	Status        string `yaml:"status"`
	Attempts      int    `yaml:"attempts"`
	GeneratedAt   string `yaml:"generated_at"`
	Error         string `yaml:"error,omitempty"`
}

// Key returns the resume key recorded in the header.
func (h Header) Key() doctree.Key {
	return doctree.NewKey(h.Title, h.HierarchyPath)
}

const (
	svgHeaderOpen  = "<!-- sectiongen\n"
	svgHeaderClose = "-->\n"
	mdFence        = "---\n"
	xmlDeclPrefix  = "<?xml"
)

var (
	errNoHeader    = errors.New("no sectiongen header")
	multiUnderline = regexp.MustCompile(`_+`)
)

const maxNameRunes = 30

// SafeName turns a title into a filename fragment. Letters and digits of
// any script are kept; everything else collapses to underscores.
func SafeName(title string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	s := multiUnderline.ReplaceAllString(sb.String(), "_")
	s = strings.Trim(s, "_.-")
	if r := []rune(s); len(r) > maxNameRunes {
		s = strings.TrimRight(string(r[:maxNameRunes]), "_.-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// ArtifactName is the deterministic file name for a section.
func ArtifactName(index int, title, ext string) string {
	return fmt.Sprintf("section_%03d_%s%s", index+1, SafeName(title), ext)
}

// encodeArtifact prefixes content with its header. SVG headers live in an
// XML comment after the declaration so the file stays well-formed;
// everything else uses YAML front matter.
func encodeArtifact(h Header, content, ext string) ([]byte, error) {
	var buf bytes.Buffer
	if ext == ".svg" {
		body := strings.TrimSpace(content)
		if strings.HasPrefix(body, xmlDeclPrefix) {
			if end := strings.Index(body, "?>"); end >= 0 {
				buf.WriteString(body[:end+2])
				body = strings.TrimSpace(body[end+2:])
			}
		} else {
			buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
		}
		buf.WriteString("\n")
		buf.WriteString(svgHeaderOpen)
		if err := writeCommentYAML(&buf, h); err != nil {
			return nil, err
		}
		buf.WriteString(svgHeaderClose)
		buf.WriteString(body)
		buf.WriteString("\n")
		return buf.Bytes(), nil
	}

	meta, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	buf.WriteString(mdFence)
	buf.Write(meta)
	buf.WriteString(mdFence)
	buf.WriteString("\n")
	buf.WriteString(strings.TrimSpace(content))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// writeCommentYAML writes h as YAML that is safe inside an XML comment:
// strings are double-quoted with '-' escaped so "--" never appears.
func writeCommentYAML(buf *bytes.Buffer, h Header) error {
	fields := []struct {
		key string
		val any
	}{
		{"index", h.Index},
		{"title", h.Title},
		{"hierarchy_path", h.HierarchyPath},
		{"status", h.Status},
		{"attempts", h.Attempts},
		{"generated_at", h.GeneratedAt},
		{"error", h.Error},
	}
	for _, f := range fields {
		switch v := f.val.(type) {
		case int:
			fmt.Fprintf(buf, "%s: %d\n", f.key, v)
		case string:
			if v == "" && f.key == "error" {
				continue
			}
			q, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode header %s: %w", f.key, err)
			}
			fmt.Fprintf(buf, "%s: %s\n", f.key, strings.ReplaceAll(string(q), "-", `\u002d`))
		}
	}
	return nil
}

// ReadHeader parses the header of an artifact file.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	return decodeHeader(data)
}

func decodeHeader(data []byte) (Header, error) {
	s := string(data)
	var block string
	switch {
	case strings.HasPrefix(s, mdFence):
		rest := s[len(mdFence):]
		end := strings.Index(rest, "\n"+mdFence)
		if end < 0 {
			return Header{}, errNoHeader
		}
		block = rest[:end+1]
	default:
		start := strings.Index(s, svgHeaderOpen)
		if start < 0 {
			return Header{}, errNoHeader
		}
		rest := s[start+len(svgHeaderOpen):]
		end := strings.Index(rest, svgHeaderClose)
		if end < 0 {
			return Header{}, errNoHeader
		}
		block = rest[:end]
	}

	var h Header
	if err := yaml.Unmarshal([]byte(block), &h); err != nil {
		return Header{}, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// ArtifactBody strips the header from an artifact.
func ArtifactBody(data []byte) string {
	s := string(data)
	if strings.HasPrefix(s, mdFence) {
		rest := s[len(mdFence):]
		if end := strings.Index(rest, "\n"+mdFence); end >= 0 {
			return strings.TrimSpace(rest[end+1+len(mdFence):])
		}
		return s
	}
	start := strings.Index(s, svgHeaderOpen)
	if start < 0 {
		return s
	}
	rest := s[start+len(svgHeaderOpen):]
	end := strings.Index(rest, svgHeaderClose)
	if end < 0 {
		return s
	}
	return strings.TrimSpace(s[:start]) + "\n" + strings.TrimSpace(rest[end+len(svgHeaderClose):])
}

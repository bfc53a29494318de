// Package validate checks generated artifacts, repairs the mechanical
// problems it can, and produces placeholders for the ones it cannot.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// Kind is the artifact format a pipeline produces.
type Kind string

const (
	KindText Kind = "text"
	KindSVG  Kind = "svg"
)

// ParseKind accepts "text" (alias "markdown", "md") or "svg".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "markdown", "md":
		return KindText, nil
	case "svg":
		return KindSVG, nil
	default:
		return "", fmt.Errorf("unknown output kind %q", s)
	}
}

// Ext is the artifact file extension for the kind.
func (k Kind) Ext() string {
	if k == KindSVG {
		return ".svg"
	}
	return ".md"
}

// FailedMarker appears in every fallback artifact.
const FailedMarker = "generation failed"

// Validator applies the rules for one kind. MinLength is counted in
// characters and only applies to text.
type Validator struct {
	Kind      Kind
	MinLength int
}

// New returns a Validator for kind.
func New(kind Kind, minLength int) *Validator {
	return &Validator{Kind: kind, MinLength: minLength}
}

var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// Extract pulls the artifact out of a raw service response: code fences are
// removed and, for SVG, any prose around the root element is dropped.
func (v *Validator) Extract(raw string) string {
	s := stripCodeBlock(raw)
	if v.Kind != KindSVG {
		return s
	}
	start := svgStartRe.FindStringIndex(s)
	end := strings.LastIndex(s, "</svg>")
	if start == nil || end < start[0] {
		return s
	}
	return s[start[0] : end+len("</svg>")]
}

// Validate reports whether content is acceptable, and why not.
func (v *Validator) Validate(content string) (bool, string) {
	if strings.TrimSpace(content) == "" {
		return false, "empty content"
	}
	if v.Kind == KindSVG {
		return validateSVG(content)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(content)); n < v.MinLength {
		return false, fmt.Sprintf("content too short (%d < %d characters)", n, v.MinLength)
	}
	return true, ""
}

// Repair applies idempotent mechanical fixes. Text is returned unchanged.
func (v *Validator) Repair(content string) string {
	if v.Kind == KindSVG {
		return repairSVG(content)
	}
	return content
}

// Fallback returns the deterministic placeholder for a section.
func (v *Validator) Fallback(sec doctree.Section) string {
	if v.Kind == KindSVG {
		return fallbackSVG(sec.Title)
	}
	return fallbackText(sec)
}

func fallbackText(sec doctree.Section) string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(sec.Title)
	sb.WriteString("\n\n> [")
	sb.WriteString(FailedMarker)
	sb.WriteString("] No content could be generated for this section.\n")
	if sec.HierarchyPath != "" {
		sb.WriteString("> Location: ")
		sb.WriteString(sec.HierarchyPath)
		sb.WriteString("\n")
	}
	return sb.String()
}

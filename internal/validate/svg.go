package validate

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	svgNamespace   = "http://www.w3.org/2000/svg"
	xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`
	defaultViewBox = "0 0 800 600"
)

var (
	svgStartRe   = regexp.MustCompile(`<svg[\s>/]`)
	svgOpenTagRe = regexp.MustCompile(`<svg(?:\s[^>]*)?>`)
	namespaceRe  = regexp.MustCompile(`xmlns\s*=\s*["']` + regexp.QuoteMeta(svgNamespace) + `["']`)
	viewBoxRe    = regexp.MustCompile(`(?:^|\s)viewBox\s*=`)
	widthRe      = regexp.MustCompile(`(?:^|\s)width\s*=\s*["'](\d+(?:\.\d+)?)(?:px)?["']`)
	heightRe     = regexp.MustCompile(`(?:^|\s)height\s*=\s*["'](\d+(?:\.\d+)?)(?:px)?["']`)
)

// rootTag returns the position and text of the first <svg ...> open tag.
func rootTag(s string) (loc []int, tag string) {
	loc = svgOpenTagRe.FindStringIndex(s)
	if loc == nil {
		return nil, ""
	}
	return loc, s[loc[0]:loc[1]]
}

func countOpenTags(s string) int {
	n := 0
	for _, m := range svgOpenTagRe.FindAllString(s, -1) {
		if !strings.HasSuffix(m, "/>") {
			n++
		}
	}
	return n
}

func validateSVG(content string) (bool, string) {
	_, tag := rootTag(content)
	if tag == "" {
		return false, "missing <svg> root element"
	}
	if !namespaceRe.MatchString(tag) {
		return false, "missing svg namespace declaration"
	}
	if !viewBoxRe.MatchString(tag) {
		return false, "missing viewBox attribute"
	}
	opens, closes := countOpenTags(content), strings.Count(content, "</svg>")
	if opens != closes {
		return false, fmt.Sprintf("unbalanced <svg> tags (%d open, %d close)", opens, closes)
	}
	return true, ""
}

// repairSVG adds the XML declaration, injects a missing namespace as the
// first root attribute and a missing viewBox derived from width/height.
func repairSVG(content string) string {
	content = strings.TrimSpace(content)
	loc, tag := rootTag(content)
	if tag == "" {
		return content
	}

	var inject strings.Builder
	if !namespaceRe.MatchString(tag) {
		fmt.Fprintf(&inject, ` xmlns="%s"`, svgNamespace)
	}
	if !viewBoxRe.MatchString(tag) {
		fmt.Fprintf(&inject, ` viewBox="%s"`, viewBoxFor(tag))
	}
	if inject.Len() > 0 {
		insertAt := loc[0] + len("<svg")
		content = content[:insertAt] + inject.String() + content[insertAt:]
	}

	if !strings.HasPrefix(content, "<?xml") {
		content = xmlDeclaration + "\n" + content
	}
	return content
}

func viewBoxFor(tag string) string {
	w := widthRe.FindStringSubmatch(tag)
	h := heightRe.FindStringSubmatch(tag)
	if w == nil || h == nil {
		return defaultViewBox
	}
	return fmt.Sprintf("0 0 %s %s", w[1], h[1])
}

const maxFallbackTitle = 50

func fallbackSVG(title string) string {
	display := title
	if utf8.RuneCountInString(display) > maxFallbackTitle {
		display = string([]rune(display)[:maxFallbackTitle]) + "..."
	}
	display = html.EscapeString(display)

	return xmlDeclaration + `
<svg xmlns="` + svgNamespace + `" viewBox="0 0 800 600" width="800" height="600">
  <rect width="800" height="600" fill="#FFFFFF"/>
  <rect x="50" y="50" width="700" height="500" rx="10" fill="none" stroke="#1E5FC5" stroke-width="2"/>
  <text x="400" y="280" text-anchor="middle" font-family="Arial, sans-serif" font-size="24" fill="#1A2B4C">` + display + `</text>
  <text x="400" y="320" text-anchor="middle" font-family="Arial, sans-serif" font-size="14" fill="#1E5FC5">[` + FailedMarker + ` - placeholder]</text>
</svg>
`
}

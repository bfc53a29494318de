package parser

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// headingMatcher recognizes one naming convention for heading styles.
type headingMatcher struct {
	name string
	re   *regexp.Regexp
}

// Word names the same heading style differently depending on locale: the
// English style ID is "Heading1", display names are "heading 1", "标题 1" or
// "标题1".
var headingMatchers = []headingMatcher{
	{name: "english", re: regexp.MustCompile(`(?i)^heading\s*(\d{1,2})$`)},
	{name: "chinese", re: regexp.MustCompile(`^标题\s*(\d{1,2})$`)},
}

// HeadingLevel maps a paragraph style name to a heading level. It returns 0
// when no matcher accepts the name. The first matching convention wins.
func HeadingLevel(style string) int {
	style = strings.TrimSpace(width.Fold.String(style))
	if style == "" {
		return 0
	}
	for _, m := range headingMatchers {
		sub := m.re.FindStringSubmatch(style)
		if sub == nil {
			continue
		}
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 {
			return 0
		}
		return n
	}
	return 0
}

package discovery

import (
	"regexp"
	"strings"

	"github.com/lexpipe/lexpipe/internal/model"
)

// sectionIDPattern matches a bare section identifier: a leading integer,
// an optional decimal suffix, and an optional trailing letter. Examples:
// "1", "3044", "17404.1", "73d". See §4.3.
var sectionIDPattern = regexp.MustCompile(`^\d+(?:\.\d+)?[a-z]?$`)

// IsSectionID reports whether s is a valid leaf section identifier.
func IsSectionID(s string) bool {
	return sectionIDPattern.MatchString(strings.TrimSpace(s))
}

// wordBoundary wraps a literal token in \b so PART doesn't match PARTIES,
// PARTY, or DEPARTMENT — substring matching is exactly the bug §4.3
// calls out.
func wordBoundary(token string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + token + `\b`)
}

var classifierPatterns = []struct {
	nodeType model.NodeType
	pattern  *regexp.Regexp
}{
	{model.NodeDivision, wordBoundary("DIVISION")},
	{model.NodePart, wordBoundary("PART")},
	{model.NodeTitle, wordBoundary("TITLE")},
	{model.NodeChapter, wordBoundary("CHAPTER")},
	{model.NodeArticle, wordBoundary("ARTICLE")},
}

// ClassifyHeading classifies a heading string into a NodeType using
// whole-word matching, most specific first: DIVISION > PART > TITLE >
// CHAPTER > ARTICLE > SECTION. A heading matching none of the structural
// tokens classifies as SECTION.
func ClassifyHeading(heading string) model.NodeType {
	upper := strings.ToUpper(heading)
	for _, c := range classifierPatterns {
		if c.pattern.MatchString(upper) {
			return c.nodeType
		}
	}
	return model.NodeSection
}

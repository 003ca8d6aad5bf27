// Package contentparser implements the content parser contract (C4): a
// pure function from page content to (content, legislative_history,
// is_multi_version). See §4.4.
package contentparser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexpipe/lexpipe/internal/model"
)

// multiVersionSentinel is the substring whose presence in the URL or body
// (case-insensitive) marks a section as multi-version.
const multiVersionSentinel = "selectfrommultiples"

// navChromeSelectors are stripped from the body before the remaining text
// is taken as content, grounded on the teacher's CSS-parser link/structure
// handling generalized to removal rather than extraction.
var navChromeSelectors = []string{
	"nav", "header", "footer", "script", "style",
	".nav", "#nav", ".breadcrumb", ".sidebar", ".skip-link",
}

// legislativeHistoryPattern matches an italicized parenthetical
// legislative citation: "(Amended by Stats. 1994, Ch. 587, Sec. 3.)".
var legislativeHistoryPattern = regexp.MustCompile(
	`\((?:Amended|Enacted|Added|Repealed|Repealed and added|Renumbered)[^()]*?Stats\.[^()]*?\)`,
)

// Parse maps raw page HTML into a ParseResult. It never returns an error:
// every input, however malformed, produces a best-effort result, since
// the caller (the extractor) treats an empty content as its own failure
// class (empty_content) rather than a parser error.
func Parse(html, url string) model.ParseResult {
	isMultiVersion := strings.Contains(strings.ToLower(url), multiVersionSentinel) ||
		strings.Contains(strings.ToLower(html), multiVersionSentinel)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.ParseResult{IsMultiVersion: isMultiVersion}
	}

	history := extractLegislativeHistory(doc)
	content := extractContent(doc)
	if strings.TrimSpace(content) == "" {
		content = xpathContentFallback(html)
	}

	return model.ParseResult{
		Content:            normalizeWhitespace(content),
		LegislativeHistory: history,
		IsMultiVersion:     isMultiVersion,
	}
}

// extractContent strips navigation chrome and returns the remaining body
// text. California's "text page" layout puts the operative section text
// in the main content region; when no such region is distinguishable the
// whole stripped body is used as a fallback.
func extractContent(doc *goquery.Document) string {
	clone := cloneDocument(doc)
	for _, sel := range navChromeSelectors {
		clone.Find(sel).Remove()
	}

	if main := clone.Find("#contentWrapper, .law-section, #main").First(); main.Length() > 0 {
		return main.Text()
	}
	return clone.Find("body").Text()
}

// extractLegislativeHistory returns the LAST italicized Stats. citation
// in the document. Pages nest the enclosing division/part/chapter
// histories above the section's own, so taking the first match returns
// the wrong level — last one wins. See §4.4.
func extractLegislativeHistory(doc *goquery.Document) string {
	var last string
	doc.Find("i, em").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if legislativeHistoryPattern.MatchString(text) {
			last = legislativeHistoryPattern.FindString(text)
		}
	})
	if last != "" {
		return last
	}

	// Fallback: some pages don't mark the citation with <i>/<em> at all.
	bodyText := doc.Find("body").Text()
	matches := legislativeHistoryPattern.FindAllString(bodyText, -1)
	if len(matches) > 0 {
		return matches[len(matches)-1]
	}

	// Last resort: walk the raw HTML's text nodes directly via XPath,
	// matching each text node on its own, last node first.
	html, err := doc.Html()
	if err != nil {
		return ""
	}
	return xpathHistoryFallback(html)
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLines = regexp.MustCompile(`\n{3,}`)

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	joined := strings.Join(lines, "\n")
	joined = blankLines.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}

// cloneDocument reparses the document's HTML so chrome-stripping mutates
// a throwaway copy, leaving doc itself usable by other extractors (e.g.
// legislative history) that run against the original markup.
func cloneDocument(doc *goquery.Document) *goquery.Document {
	html, err := doc.Html()
	if err != nil {
		return doc
	}
	clone, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return doc
	}
	return clone
}

package contentparser

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// xpathContentFallback is tried when the goquery selector strategy in
// extractContent finds nothing — some text pages render their content
// region without any of the known ids/classes. Adapted from the
// teacher's selector-fallback approach: rather than generating new CSS
// selectors at runtime, fall back to a structural XPath query that does
// not depend on class/id naming at all.
func xpathContentFallback(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	// The <div> or <p> beneath <body>, with no nav/header/footer
	// ancestor, whose trimmed inner text is longest.
	nodes, err := htmlquery.QueryAll(doc, "//body//*[self::div or self::p][not(ancestor::nav) and not(ancestor::header) and not(ancestor::footer)]")
	if err != nil {
		return ""
	}

	var best string
	for _, n := range nodes {
		text := strings.TrimSpace(htmlquery.InnerText(n))
		if len(text) > len(best) {
			best = text
		}
	}
	return best
}

// xpathHistoryFallback is tried when extractLegislativeHistory's
// <i>/<em> search and its whole-body regex scan both come up empty —
// some pages wrap the citation in neither, burying it in a plain <span>
// or <td> instead. Walks every leaf text node via XPath rather than
// goquery's tag-scoped search, so it doesn't matter what element wraps
// the citation.
func xpathHistoryFallback(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	nodes, err := htmlquery.QueryAll(doc, "//text()")
	if err != nil {
		return ""
	}

	for i := len(nodes) - 1; i >= 0; i-- {
		text := strings.TrimSpace(htmlquery.InnerText(nodes[i]))
		if legislativeHistoryPattern.MatchString(text) {
			return legislativeHistoryPattern.FindString(text)
		}
	}
	return ""
}

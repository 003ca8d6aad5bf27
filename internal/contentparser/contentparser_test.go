package contentparser

import (
	"strings"
	"testing"
)

func TestIsMultiVersionDetectedFromURL(t *testing.T) {
	result := Parse(`<html><body><div id="main">text</div></body></html>`, "https://example.com/selectFromMultiples.xhtml")
	if !result.IsMultiVersion {
		t.Error("expected is_multi_version true when sentinel is in the URL")
	}
}

func TestIsMultiVersionDetectedFromBodyCaseInsensitive(t *testing.T) {
	result := Parse(`<html><body>SELECTFROMMULTIPLES marker</body></html>`, "https://example.com/page")
	if !result.IsMultiVersion {
		t.Error("expected is_multi_version true when sentinel appears in body, case-insensitively")
	}
}

func TestIsMultiVersionFalseWhenAbsent(t *testing.T) {
	result := Parse(`<html><body><div id="main">ordinary section text</div></body></html>`, "https://example.com/page")
	if result.IsMultiVersion {
		t.Error("expected is_multi_version false when sentinel is absent")
	}
}

func TestLegislativeHistoryLastOneWins(t *testing.T) {
	html := `<html><body>
		<div id="main">
			<i>(Amended by Stats. 1990, Ch. 10, Sec. 1.)</i>
			<p>Section text here.</p>
			<i>(Amended by Stats. 2001, Ch. 55, Sec. 2.)</i>
		</div>
	</body></html>`
	result := Parse(html, "https://example.com/page")
	if !strings.Contains(result.LegislativeHistory, "2001") {
		t.Errorf("expected the last (2001) citation to win, got %q", result.LegislativeHistory)
	}
}

func TestLegislativeHistoryEmptyWhenNoneFound(t *testing.T) {
	result := Parse(`<html><body><div id="main">no citation here</div></body></html>`, "https://example.com/page")
	if result.LegislativeHistory != "" {
		t.Errorf("expected no legislative history, got %q", result.LegislativeHistory)
	}
}

func TestContentStripsNavigationChrome(t *testing.T) {
	html := `<html><body>
		<nav>Home | Search | About</nav>
		<header>California Legislative Information</header>
		<div id="main">Actual section text.</div>
		<footer>Copyright 2026</footer>
	</body></html>`
	result := Parse(html, "https://example.com/page")
	if strings.Contains(result.Content, "Home | Search") {
		t.Error("content should not include nav chrome")
	}
	if !strings.Contains(result.Content, "Actual section text") {
		t.Errorf("content should include the main section text, got %q", result.Content)
	}
}

func TestNormalizeWhitespaceCollapsesRuns(t *testing.T) {
	got := normalizeWhitespace("a   b\n\n\n\nc")
	if strings.Contains(got, "   ") {
		t.Error("expected internal whitespace runs collapsed")
	}
	if strings.Contains(got, "\n\n\n") {
		t.Error("expected blank-line runs collapsed to a single blank line")
	}
}

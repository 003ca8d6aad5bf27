package pipeline

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/lexpipe/lexpipe/internal/store"
)

// HTMLEntityDecodeMiddleware unescapes residual HTML entities that survive
// goquery's text extraction (e.g. "&sect;", "&amp;" left inside quoted
// statutory text).
type HTMLEntityDecodeMiddleware struct{}

func (m *HTMLEntityDecodeMiddleware) Name() string { return "html_entity_decode" }

func (m *HTMLEntityDecodeMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	unescape(&patch.Content)
	unescape(&patch.RawContent)
	unescape(&patch.LegislativeHistory)
	return patch, nil
}

func unescape(s **string) {
	if *s == nil {
		return
	}
	out := html.UnescapeString(**s)
	*s = &out
}

// boilerplatePatterns match California LegInfo chrome that sometimes
// survives the content parser's nav-stripping because it lives inside the
// main content region rather than a <nav>/<header>/<footer>.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)add to my favorites`),
	regexp.MustCompile(`(?i)previous\s*\|\s*next`),
	regexp.MustCompile(`(?i)bill information\s*california law`),
	regexp.MustCompile(`(?i)download pdf`),
}

// BoilerplateStripMiddleware removes known chrome strings from Content.
type BoilerplateStripMiddleware struct{}

func (m *BoilerplateStripMiddleware) Name() string { return "boilerplate_strip" }

func (m *BoilerplateStripMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	if patch.Content == nil {
		return patch, nil
	}
	out := *patch.Content
	for _, re := range boilerplatePatterns {
		out = re.ReplaceAllString(out, "")
	}
	out = strings.TrimSpace(out)
	patch.Content = &out
	return patch, nil
}

// legislativeHistoryShape matches a well-formed Stats. citation. A value
// that fails this shape is more likely a parser misfire (stray italic
// text caught by the content parser's fallback regex) than a real
// citation, so it is dropped rather than persisted as garbage.
var legislativeHistoryShape = regexp.MustCompile(`Stats\.\s*\d{4}`)

// LegislativeHistoryValidateMiddleware clears LegislativeHistory when its
// value doesn't look like a Stats. citation.
type LegislativeHistoryValidateMiddleware struct{}

func (m *LegislativeHistoryValidateMiddleware) Name() string { return "legislative_history_validate" }

func (m *LegislativeHistoryValidateMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	if patch.LegislativeHistory == nil {
		return patch, nil
	}
	if !legislativeHistoryShape.MatchString(*patch.LegislativeHistory) {
		patch.LegislativeHistory = nil
	}
	return patch, nil
}

// SectionIDFormatMiddleware rejects a patch whose SectionID doesn't match
// the expected numeric[.numeric][letter] shape, surfacing a descriptive
// error instead of silently persisting a malformed key.
type SectionIDFormatMiddleware struct {
	pattern *regexp.Regexp
}

// NewSectionIDFormatMiddleware compiles pattern once for reuse.
func NewSectionIDFormatMiddleware(pattern string) (*SectionIDFormatMiddleware, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile section id pattern: %w", err)
	}
	return &SectionIDFormatMiddleware{pattern: re}, nil
}

func (m *SectionIDFormatMiddleware) Name() string { return "section_id_format" }

func (m *SectionIDFormatMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	if !m.pattern.MatchString(patch.SectionID) {
		return nil, fmt.Errorf("section id %q does not match expected format", patch.SectionID)
	}
	return patch, nil
}

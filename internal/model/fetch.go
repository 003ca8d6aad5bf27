package model

import "time"

// FetchResult is the normalized output of a Scraper fetch, independent of
// which implementation produced it. See §4.1.
type FetchResult struct {
	URL      string
	HTML     string
	Markdown string
	Links    []string
	Status   int
	Duration time.Duration
}

// FetchAction is a single step of a RenderedScraper's fetch_interactive
// action sequence (wait, click, extract_onclick_targets). See §4.1.
type FetchAction struct {
	Kind     FetchActionKind
	Selector string        // for Wait/Click
	Timeout  time.Duration // for Wait
}

// FetchActionKind enumerates the interactive actions a RenderedScraper
// supports.
type FetchActionKind string

const (
	ActionWait                 FetchActionKind = "wait"
	ActionClick                FetchActionKind = "click"
	ActionExtractOnclickTarget FetchActionKind = "extract_onclick_targets"
)

// InteractiveResult is the output of fetch_interactive: rendered HTML
// plus any onclick targets harvested during the action sequence.
type InteractiveResult struct {
	HTML           string
	OnclickTargets []string
}

// ParseResult is the content parser's output: the pure mapping from page
// content to (content, legislative_history, is_multi_version). See §4.4.
type ParseResult struct {
	Content            string
	LegislativeHistory string
	IsMultiVersion     bool
}

// Package pipeline normalizes a section patch before it reaches storage:
// trimming, whitespace collapsing, boilerplate stripping, and content-based
// deduplication, chained the way the teacher's item pipeline chains
// generic field transforms — generalized here to operate on the sparse
// section patch the extractor produces. See §4.4/§4.5.
package pipeline

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/lexpipe/lexpipe/internal/store"
)

// Middleware transforms a section patch. Return nil to drop the patch
// from the batch entirely (e.g. empty content after stripping).
type Middleware interface {
	Name() string
	Process(patch *store.SectionPatch) (*store.SectionPatch, error)
}

// PipelineError wraps a middleware failure with the stage and section
// that produced it.
type PipelineError struct {
	Stage     string
	SectionID string
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline: stage %q section %q: %v", e.Stage, e.SectionID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Pipeline chains middleware in registration order.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{logger: logger.With("component", "pipeline")}
}

// Use appends a middleware to the chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Process runs patch through every middleware in order. A nil result from
// any stage drops the patch (returns nil, nil).
func (p *Pipeline) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	current := patch
	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &PipelineError{Stage: mw.Name(), SectionID: current.SectionID, Err: err}
		}
		if result == nil {
			p.logger.Debug("patch dropped", "stage", mw.Name(), "section_id", current.SectionID)
			return nil, nil
		}
		current = result
	}
	return current, nil
}

// --- Built-in middleware ---

// TrimMiddleware trims leading/trailing whitespace from every populated
// string field of the patch.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	trimPtr(&patch.Content)
	trimPtr(&patch.RawContent)
	trimPtr(&patch.LegislativeHistory)
	return patch, nil
}

func trimPtr(s **string) {
	if *s == nil {
		return
	}
	trimmed := strings.TrimSpace(**s)
	*s = &trimmed
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLineRun = regexp.MustCompile(`\n{3,}`)

// CollapseWhitespaceMiddleware collapses runs of spaces/tabs and more
// than one consecutive blank line in Content and LegislativeHistory.
type CollapseWhitespaceMiddleware struct{}

func (m *CollapseWhitespaceMiddleware) Name() string { return "collapse_whitespace" }

func (m *CollapseWhitespaceMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	collapse(&patch.Content)
	collapse(&patch.LegislativeHistory)
	return patch, nil
}

func collapse(s **string) {
	if *s == nil {
		return
	}
	out := whitespaceRun.ReplaceAllString(**s, " ")
	out = blankLineRun.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	*s = &out
}

// RequiredContentMiddleware drops a patch whose Content field is absent
// or empty after earlier stages have trimmed it — the extractor treats
// this condition as its own empty_content failure class rather than
// persisting a blank section. A multi-version patch is exempt: the
// extractor deliberately produces IsMultiVersion=true with Content=nil
// so Stage 3 can resolve it later, and this gate must let that patch
// through rather than silently dropping it before Stage 3 ever runs.
type RequiredContentMiddleware struct{}

func (m *RequiredContentMiddleware) Name() string { return "required_content" }

func (m *RequiredContentMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	if patch.IsMultiVersion != nil && *patch.IsMultiVersion {
		return patch, nil
	}
	if patch.Content == nil || strings.TrimSpace(*patch.Content) == "" {
		return nil, nil
	}
	return patch, nil
}

// DedupMiddleware drops patches whose (section id, content) pair has
// already been seen in this run — multi-version re-fetches and reconciliation passes can
// otherwise hand the same body through twice in one batch.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupMiddleware creates a DedupMiddleware with a fresh seen set.
func NewDedupMiddleware() *DedupMiddleware {
	return &DedupMiddleware{seen: make(map[string]struct{})}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(patch *store.SectionPatch) (*store.SectionPatch, error) {
	if patch.Content == nil {
		return patch, nil
	}
	key := patch.SectionID + "|" + *patch.Content

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.seen[key]; exists {
		return nil, nil
	}
	m.seen[key] = struct{}{}
	return patch, nil
}

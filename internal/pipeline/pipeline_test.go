package pipeline

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/lexpipe/lexpipe/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func strptr(s string) *string { return &s }

func TestPipelineTrimsWhitespace(t *testing.T) {
	p := New(testLogger)
	p.Use(&TrimMiddleware{})

	patch := &store.SectionPatch{SectionID: "100", Content: strptr("  hello  ")}
	result, err := p.Process(patch)
	if err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if *result.Content != "hello" {
		t.Errorf("expected trimmed content, got %q", *result.Content)
	}
}

func TestRequiredContentMiddlewareDropsEmpty(t *testing.T) {
	m := &RequiredContentMiddleware{}

	withContent := &store.SectionPatch{SectionID: "1", Content: strptr("text")}
	result, err := m.Process(withContent)
	if err != nil || result == nil {
		t.Error("patch with content should pass")
	}

	empty := &store.SectionPatch{SectionID: "2", Content: strptr("   ")}
	result, _ = m.Process(empty)
	if result != nil {
		t.Error("patch with only whitespace content should be dropped")
	}

	absent := &store.SectionPatch{SectionID: "3"}
	result, _ = m.Process(absent)
	if result != nil {
		t.Error("patch with nil content should be dropped")
	}
}

func TestCollapseWhitespaceMiddleware(t *testing.T) {
	m := &CollapseWhitespaceMiddleware{}
	patch := &store.SectionPatch{SectionID: "1", Content: strptr("a    b\n\n\n\nc")}

	result, err := m.Process(patch)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if *result.Content != "a b\n\nc" {
		t.Errorf("expected collapsed whitespace, got %q", *result.Content)
	}
}

func TestDedupMiddlewareDropsRepeatedContent(t *testing.T) {
	m := NewDedupMiddleware()

	first := &store.SectionPatch{SectionID: "100", Content: strptr("same text")}
	result, err := m.Process(first)
	if err != nil || result == nil {
		t.Fatal("first occurrence should pass")
	}

	duplicate := &store.SectionPatch{SectionID: "100", Content: strptr("same text")}
	result, _ = m.Process(duplicate)
	if result != nil {
		t.Error("duplicate content for the same section should be dropped")
	}

	different := &store.SectionPatch{SectionID: "101", Content: strptr("different text")}
	result, err = m.Process(different)
	if err != nil || result == nil {
		t.Error("different section/content should pass")
	}
}

func TestHTMLEntityDecodeMiddleware(t *testing.T) {
	m := &HTMLEntityDecodeMiddleware{}
	patch := &store.SectionPatch{SectionID: "1", Content: strptr("Section 1 &amp; Section 2 &sect;")}

	result, err := m.Process(patch)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if *result.Content != "Section 1 & Section 2 §" {
		t.Errorf("expected decoded entities, got %q", *result.Content)
	}
}

func TestBoilerplateStripMiddleware(t *testing.T) {
	m := &BoilerplateStripMiddleware{}
	patch := &store.SectionPatch{SectionID: "1", Content: strptr("Add to my favorites\nThe actual text of the statute.")}

	result, err := m.Process(patch)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got := *result.Content; got == "" || !strings.Contains(got, "actual text") {
		t.Errorf("expected boilerplate stripped but content kept, got %q", got)
	}
	if strings.Contains(*result.Content, "favorites") {
		t.Error("boilerplate phrase should have been removed")
	}
}

func TestLegislativeHistoryValidateMiddlewareClearsMalformed(t *testing.T) {
	m := &LegislativeHistoryValidateMiddleware{}

	valid := &store.SectionPatch{SectionID: "1", LegislativeHistory: strptr("(Amended by Stats. 2001, Ch. 5, Sec. 1.)")}
	result, _ := m.Process(valid)
	if result.LegislativeHistory == nil {
		t.Error("well-formed citation should be kept")
	}

	malformed := &store.SectionPatch{SectionID: "2", LegislativeHistory: strptr("not a citation")}
	result, _ = m.Process(malformed)
	if result.LegislativeHistory != nil {
		t.Error("malformed citation should be cleared")
	}
}

func TestSectionIDFormatMiddlewareRejectsBadID(t *testing.T) {
	m, err := NewSectionIDFormatMiddleware(`^\d+(\.\d+)?[a-z]?$`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}

	ok := &store.SectionPatch{SectionID: "17404.1"}
	if _, err := m.Process(ok); err != nil {
		t.Errorf("valid id should pass, got error: %v", err)
	}

	bad := &store.SectionPatch{SectionID: "not-a-section"}
	if _, err := m.Process(bad); err == nil {
		t.Error("expected error for malformed section id")
	}
}

func TestPipelineWrapsMiddlewareErrorWithStage(t *testing.T) {
	p := New(testLogger)
	idMw, _ := NewSectionIDFormatMiddleware(`^\d+$`)
	p.Use(idMw)

	_, err := p.Process(&store.SectionPatch{SectionID: "bad id"})
	if err == nil {
		t.Fatal("expected an error")
	}
	perr, ok := err.(*PipelineError)
	if !ok {
		t.Fatalf("expected *PipelineError, got %T", err)
	}
	if perr.Stage != "section_id_format" {
		t.Errorf("expected stage section_id_format, got %q", perr.Stage)
	}
}

package discovery

import (
	"testing"

	"github.com/lexpipe/lexpipe/internal/model"
)

func TestClassifyHeadingWholeWordNotSubstring(t *testing.T) {
	cases := []struct {
		heading string
		want    model.NodeType
	}{
		{"PART 2. Of Contracts", model.NodePart},
		{"PARTIES TO CONTRACTS", model.NodeSection},
		{"PARTY WALLS", model.NodeSection},
		{"DEPARTMENT OF JUSTICE", model.NodeSection},
		{"DIVISION 3. Obligations", model.NodeDivision},
		{"TITLE 2. Contracts", model.NodeTitle},
		{"CHAPTER 1. General Provisions", model.NodeChapter},
		{"ARTICLE 3. Interpretation", model.NodeArticle},
		{"1714.", model.NodeSection},
	}
	for _, c := range cases {
		got := ClassifyHeading(c.heading)
		if got != c.want {
			t.Errorf("ClassifyHeading(%q) = %q, want %q", c.heading, got, c.want)
		}
	}
}

func TestClassificationPriorityMostSpecificFirst(t *testing.T) {
	// A contrived heading containing both DIVISION and PART tokens should
	// classify as DIVISION, the more specific (first-checked) type.
	got := ClassifyHeading("DIVISION AND PART NOTES")
	if got != model.NodeDivision {
		t.Errorf("expected DIVISION to win priority, got %q", got)
	}
}

func TestIsSectionID(t *testing.T) {
	valid := []string{"1", "3044", "17404.1", "73d"}
	invalid := []string{"PART", "1a2", "", "abc"}
	for _, v := range valid {
		if !IsSectionID(v) {
			t.Errorf("expected %q to be a valid section id", v)
		}
	}
	for _, v := range invalid {
		if IsSectionID(v) {
			t.Errorf("expected %q to be an invalid section id", v)
		}
	}
}

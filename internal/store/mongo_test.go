package store

import "testing"

func TestSparseSetOnlyIncludesNonNilFields(t *testing.T) {
	content := "some text"
	patch := SectionPatch{
		Code:      "CCP",
		SectionID: "1",
		Content:   &content,
	}
	set := sparseSet(patch)

	if set["content"] != content {
		t.Errorf("expected content %q, got %v", content, set["content"])
	}
	if _, ok := set["legislative_history"]; ok {
		t.Error("legislative_history should be absent from a sparse set when patch field is nil")
	}
	if _, ok := set["division"]; ok {
		t.Error("division should be absent from a sparse set when patch field is nil")
	}
	if _, ok := set["updated_at"]; !ok {
		t.Error("updated_at should always be present in a sparse set")
	}
}

func TestSparseSetEmptyPatchOnlyTouchesUpdatedAt(t *testing.T) {
	set := sparseSet(SectionPatch{Code: "CCP", SectionID: "1"})
	if len(set) != 1 {
		t.Errorf("expected only updated_at in an empty patch's $set, got %v", set)
	}
}

func TestUnionStringsDedupes(t *testing.T) {
	got := unionStrings([]string{"a", "b"}, []string{"b", "c"})
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(got) != 3 {
		t.Fatalf("expected 3 unique entries, got %d: %v", len(got), got)
	}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected entry %q", s)
		}
	}
}

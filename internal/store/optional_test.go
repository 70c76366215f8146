package store

import (
	"encoding/json"
	"testing"
)

func TestTaskPatchDistinguishesAbsentFromNull(t *testing.T) {
	var patch TaskPatch
	body := `{"title":"New title","description":null,"customFields":{"points":5}}`
	if err := json.Unmarshal([]byte(body), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}

	if !patch.Title.Set || patch.Title.Null || patch.Title.Value != "New title" {
		t.Fatalf("unexpected title: %+v", patch.Title)
	}
	if !patch.Description.Set || !patch.Description.Null {
		t.Fatalf("expected explicit null description: %+v", patch.Description)
	}
	if patch.Status.Set || patch.Priority.Set || patch.Position.Set {
		t.Fatalf("absent fields must stay unset: %+v", patch)
	}
	if patch.CustomFields.Value["points"] != 5.0 {
		t.Fatalf("unexpected custom fields: %+v", patch.CustomFields)
	}
	if patch.Empty() {
		t.Fatal("patch with fields must not be empty")
	}

	var empty TaskPatch
	if err := json.Unmarshal([]byte(`{}`), &empty); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if !empty.Empty() {
		t.Fatal("expected empty patch")
	}
}

func TestOptionalRejectsWrongType(t *testing.T) {
	var patch TaskPatch
	if err := json.Unmarshal([]byte(`{"position":"first"}`), &patch); err == nil {
		t.Fatal("expected type error for position")
	}
}

func TestOptionalPtr(t *testing.T) {
	if Null[string]().Ptr() != nil || (Optional[string]{}).Ptr() != nil {
		t.Fatal("expected nil pointer for null and unset")
	}
	if got := Some("x").Ptr(); got == nil || *got != "x" {
		t.Fatalf("unexpected pointer %v", got)
	}
}

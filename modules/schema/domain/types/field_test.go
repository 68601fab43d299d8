package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFieldMarshalJSON_Flattens(t *testing.T) {
	f := Field{
		ID:         "id-1",
		Collection: "posts",
		Field:      "title",
		Type:       "string",
		Attributes: FieldPayload{"note": "headline", "field": "spoofed"},
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got["field"] != "title" || got["note"] != "headline" || got["collection"] != "posts" || got["type"] != "string" {
		t.Fatalf("got=%v", got)
	}
	if got["updated_at"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("updated_at=%v", got["updated_at"])
	}
}

func TestSortFields(t *testing.T) {
	fields := []Field{
		{Field: "zeta"},
		{Field: "body", Attributes: FieldPayload{"sort": json.Number("2")}},
		{Field: "alpha"},
		{Field: "title", Attributes: FieldPayload{"sort": float64(1)}},
	}
	SortFields(fields)
	want := []string{"title", "body", "alpha", "zeta"}
	for i, f := range fields {
		if f.Field != want[i] {
			t.Fatalf("order[%d]=%q want=%q", i, f.Field, want[i])
		}
	}
}

func TestStripReservedAndMerge(t *testing.T) {
	p := StripReserved(FieldPayload{"id": 1, "collection": "x", "field": "y", "note": "n"})
	if len(p) != 1 || p["note"] != "n" {
		t.Fatalf("p=%v", p)
	}

	merged := MergeAttributes(FieldPayload{"note": "n", "hidden": true}, FieldPayload{"hidden": nil, "width": "full"})
	if _, ok := merged["hidden"]; ok {
		t.Fatalf("expected hidden removed: %v", merged)
	}
	if merged["note"] != "n" || merged["width"] != "full" {
		t.Fatalf("merged=%v", merged)
	}
}

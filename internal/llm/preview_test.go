package llm

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"
)

func TestExtractPreviewID(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"json field", `{"preview_id":"pv_abc123","status":"ok"}`, "pv_abc123"},
		{"inline marker", "Chart ready. [preview_id: pv_xy-9] Use confirm to save.", "pv_xy-9"},
		{"field in mixed text", `rendered: {"preview_id":"pv_77"} done`, "pv_77"},
		{"no id", "chart rendered successfully", ""},
		{"wrong prefix in json", `{"preview_id":"chart_1"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractPreviewID(tc.text); got != tc.want {
				t.Errorf("extractPreviewID(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestIsPlaceholderPreviewID(t *testing.T) {
	placeholders := []string{"", "pv_xxx", "pv_XXX", "pv_...", "pv_placeholder", "pv_id", "PREVIEW_ID", "<preview_id>"}
	for _, v := range placeholders {
		if !isPlaceholderPreviewID(v) {
			t.Errorf("expected %q to be a placeholder", v)
		}
	}
	if isPlaceholderPreviewID("pv_8f2a1c") {
		t.Error("real id flagged as placeholder")
	}
}

func TestSubstitutePreviewID(t *testing.T) {
	args := json.RawMessage(`{"preview_id":"pv_xxx","title":"Q3"}`)
	got := substitutePreviewID(args, "pv_real99")
	if id := gjson.GetBytes(got, "preview_id").String(); id != "pv_real99" {
		t.Errorf("preview_id = %q, want pv_real99", id)
	}
	if title := gjson.GetBytes(got, "title").String(); title != "Q3" {
		t.Errorf("title = %q, other arguments must survive the rewrite", title)
	}

	// Missing field entirely.
	got = substitutePreviewID(json.RawMessage(`{}`), "pv_real99")
	if id := gjson.GetBytes(got, "preview_id").String(); id != "pv_real99" {
		t.Errorf("preview_id = %q after insert, want pv_real99", id)
	}

	// A real id already present is left alone.
	args = json.RawMessage(`{"preview_id":"pv_keepme"}`)
	got = substitutePreviewID(args, "pv_other")
	if id := gjson.GetBytes(got, "preview_id").String(); id != "pv_keepme" {
		t.Errorf("preview_id = %q, want pv_keepme", id)
	}

	// No usable substitute: pass through untouched.
	args = json.RawMessage(`{"preview_id":"pv_xxx"}`)
	if got := substitutePreviewID(args, ""); string(got) != string(args) {
		t.Errorf("arguments changed without a substitute: %s", got)
	}
}

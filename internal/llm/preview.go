package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// previewIDPrefix is the prefix plotd assigns to chart preview identifiers.
const previewIDPrefix = "pv_"

var (
	previewMarkerRe = regexp.MustCompile(`\[preview_id:\s*(pv_[A-Za-z0-9_-]+)\]`)
	previewFieldRe  = regexp.MustCompile(`"preview_id"\s*:\s*"(pv_[A-Za-z0-9_-]+)"`)
)

// extractPreviewID pulls a preview identifier out of a preview tool's result
// text. The result may be a JSON document with a preview_id field or free
// text carrying a [preview_id: pv_x] marker.
func extractPreviewID(resultText string) string {
	if gjson.Valid(resultText) {
		if id := gjson.Get(resultText, "preview_id").String(); strings.HasPrefix(id, previewIDPrefix) {
			return id
		}
	}
	if m := previewMarkerRe.FindStringSubmatch(resultText); m != nil {
		return m[1]
	}
	if m := previewFieldRe.FindStringSubmatch(resultText); m != nil {
		return m[1]
	}
	return ""
}

// isPlaceholderPreviewID reports whether a preview_id argument value is
// missing or an obvious stand-in the model emitted instead of a real id.
func isPlaceholderPreviewID(value string) bool {
	if value == "" {
		return true
	}
	if !strings.HasPrefix(value, previewIDPrefix) {
		return true
	}
	switch strings.ToLower(strings.TrimPrefix(value, previewIDPrefix)) {
	case "", "xxx", "x", "...", "id", "placeholder", "example", "123":
		return true
	}
	return false
}

// substitutePreviewID rewrites the preview_id argument of a confirm-style
// tool call with the most recently observed preview id, when the model
// supplied a missing or placeholder value. Best effort: on any doubt the
// arguments pass through untouched.
func substitutePreviewID(args json.RawMessage, lastID string) json.RawMessage {
	if !strings.HasPrefix(lastID, previewIDPrefix) {
		return args
	}
	current := gjson.GetBytes(args, "preview_id").String()
	if !isPlaceholderPreviewID(current) {
		return args
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return args
	}
	if parsed == nil {
		parsed = make(map[string]interface{})
	}
	parsed["preview_id"] = lastID
	rewritten, err := json.Marshal(parsed)
	if err != nil {
		return args
	}
	return rewritten
}

// previewToolKind classifies tools by their role in the preview flow.
func isPreviewTool(name string) bool {
	return strings.Contains(name, "preview")
}

func isConfirmTool(name string) bool {
	return strings.Contains(name, "confirm")
}

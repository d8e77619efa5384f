package llm

import (
	"encoding/json"
	"strings"
)

// mergeArgumentFragment folds one streamed tool-call argument fragment into
// the text accumulated so far. Providers disagree about what a fragment is:
// most send true deltas, some resend cumulative snapshots, and a few relays
// duplicate chunks outright. The rules, in order:
//
//  1. a fragment that is itself complete valid JSON (and not a bare "{}")
//     replaces everything accumulated so far;
//  2. the first fragment is adopted as-is;
//  3. a fragment already contained at the start or end of the accumulation
//     is a duplicate and is dropped;
//  4. anything else is appended.
func mergeArgumentFragment(existing, incoming string) string {
	trimmed := strings.TrimSpace(incoming)
	if trimmed != "" && trimmed != "{}" && json.Valid([]byte(trimmed)) {
		return trimmed
	}
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	if strings.HasPrefix(existing, incoming) || strings.HasSuffix(existing, incoming) {
		return existing
	}
	return existing + incoming
}

// lastValidJSONObject scans s for the last balanced {...} substring that
// parses as valid JSON and returns it. Relays sometimes deliver corrupted
// concatenations like `{}{"limit":1}`; the trailing object is the payload.
// Returns "" when no valid object is present.
func lastValidJSONObject(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	// Fast path: the whole accumulation already parses.
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return trimmed
	}

	var (
		best     string
		start    = -1
		depth    = 0
		inString = false
		escaped  = false
	)
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := trimmed[start : i+1]
					if json.Valid([]byte(candidate)) {
						best = candidate
					}
					start = -1
				}
			}
		}
	}
	return best
}

// finalizeArguments turns the raw accumulated argument text into the string
// sent to the tool server. Extraction is best-effort: if no valid object
// can be recovered, the raw accumulation is returned so the tool server
// produces the rejection instead of the client crashing.
func finalizeArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if extracted := lastValidJSONObject(trimmed); extracted != "" {
		return json.RawMessage(extracted)
	}
	return json.RawMessage(trimmed)
}

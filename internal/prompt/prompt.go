package prompt

import "strings"

// chartAssistant is the default system prompt for the charting assistant.
const chartAssistant = `You are a charting assistant. You help the user turn
data and descriptions into charts by calling the available chart tools.

Workflow: generate a preview first, describe it briefly, and only confirm a
chart when the user asks for it or clearly approves the preview. When a tool
returns a preview id, carry it into the confirm call unchanged. If a tool
fails, explain the failure in plain language and suggest a correction.`

// System builds the system prompt, appending user-configured instructions
// when present.
func System(extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return chartAssistant
	}
	return chartAssistant + "\n\n" + extra
}

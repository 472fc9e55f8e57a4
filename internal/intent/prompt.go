package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanflow/assistant/internal/ollama"
)

const systemPromptTemplate = `You are an intent extraction engine for a personal task and calendar assistant. Analyze the user's utterance. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Intent types:
- "create_task": user wants to capture a one-off to-do
- "schedule_event": user wants something on the calendar at a specific time
- "create_recurring_task": user wants a task that repeats on a schedule

Rules:
- Put the date/time phrase into date_text exactly as the user said it; do not compute dates yourself.
- Only fill fields the user actually stated; leave the rest empty.
- recurrence frequency must be one of daily, weekly, monthly; interval is the repeat step (every 2 weeks = weekly, interval 2).
- options lists candidate titles for the captured item, best first; default_option_index points at the preferred one.
- confidence is your overall extraction confidence between 0 and 1.`

// BuildPrompt constructs the Ollama chat messages for intent extraction.
// The reference date and timezone are stated so the model can keep relative
// phrases verbatim without guessing.
func BuildPrompt(utterance string, ref time.Time, loc *time.Location) []ollama.Message {
	if loc == nil {
		loc = time.UTC
	}

	var sb strings.Builder
	sb.WriteString(systemPromptTemplate)
	fmt.Fprintf(&sb, "\n\nToday is %s. The user's timezone is %s.",
		ref.In(loc).Format("Monday, 2006-01-02"), loc.String())

	return []ollama.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: utterance},
	}
}

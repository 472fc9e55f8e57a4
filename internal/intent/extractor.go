package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/khanflow/assistant/internal/ollama"
	"github.com/khanflow/assistant/internal/when"
)

const extractionTimeout = 5 * time.Second

// OllamaChatter is the interface for chat completion via Ollama.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// rawExtraction mirrors the JSON payload the model must produce. It is
// validated at this boundary; anything malformed degrades to a zero Partial
// so a single bad model response never crashes a conversation.
type rawExtraction struct {
	IntentType            string         `json:"intent_type"`
	RecommendedActionType string         `json:"recommended_action_type"`
	Title                 string         `json:"title"`
	Description           string         `json:"description"`
	DateText              string         `json:"date_text"`
	Recurrence            *rawRecurrence `json:"recurrence"`
	Priority              string         `json:"priority"`
	Board                 string         `json:"board"`
	Options               []string       `json:"options"`
	DefaultOptionIndex    int            `json:"default_option_index"`
	Confidence            float64        `json:"confidence"`
}

type rawRecurrence struct {
	Frequency string   `json:"frequency"`
	Interval  *int     `json:"interval"`
	ByDay     []string `json:"by_day"`
	UntilText string   `json:"until_text"`
}

var validActionTypes = map[string]bool{
	"task":     true,
	"reminder": true,
	"plan":     true,
}

// Extractor uses a fast local LLM to extract structured task/event intent
// from user utterances.
type Extractor struct {
	client OllamaChatter
	model  string
}

// NewExtractor creates an Extractor using the given Ollama client and model name.
func NewExtractor(client OllamaChatter, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Extract analyses the utterance and returns the recognized fields as a
// Partial. Relative dates in the response are resolved against ref in loc;
// a date that cannot be resolved leaves DateTime nil so the clarification
// flow asks for it explicitly. On any failure (timeout, malformed JSON,
// schema violation) it returns a zero Partial.
func (e *Extractor) Extract(ctx context.Context, utterance string, ref time.Time, loc *time.Location) Partial {
	if utterance == "" {
		return Partial{}
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	messages := BuildPrompt(utterance, ref, loc)

	resp, err := e.client.Chat(ctx, e.model, messages, extractionSchema())
	if err != nil {
		slog.Warn("intent extraction chat failed", "error", err)
		return Partial{}
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(resp), &raw); err != nil {
		slog.Warn("failed to unmarshal extraction from LLM response", "error", err, "response", resp)
		return Partial{}
	}
	if reason := validateRaw(raw); reason != "" {
		slog.Warn("extraction payload rejected", "reason", reason, "response", resp)
		return Partial{}
	}

	return normalize(raw, ref, loc)
}

// validateRaw checks the schema constraints the model is contracted to.
// Returns an empty string when the payload is acceptable.
func validateRaw(raw rawExtraction) string {
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return "confidence out of range"
	}
	if raw.Priority != "" && !validPriorities[raw.Priority] {
		return "unsupported priority"
	}
	if raw.RecommendedActionType != "" && !validActionTypes[raw.RecommendedActionType] {
		return "unsupported action type"
	}
	if len(raw.Options) == 0 {
		return "options must not be empty"
	}
	if raw.DefaultOptionIndex < 0 || raw.DefaultOptionIndex >= len(raw.Options) {
		return "default option index out of bounds"
	}
	switch raw.IntentType {
	case "", TypeCreateTask, TypeScheduleEvent, TypeCreateRecurringTask:
	default:
		return "unknown intent type"
	}
	return ""
}

func normalize(raw rawExtraction, ref time.Time, loc *time.Location) Partial {
	p := Partial{
		Type:        raw.IntentType,
		Title:       raw.Title,
		Description: raw.Description,
		Priority:    raw.Priority,
		Board:       raw.Board,
		Confidence:  raw.Confidence,
	}

	if raw.DateText != "" {
		if t, ok := when.Resolve(raw.DateText, ref, loc); ok {
			p.DateTime = &t
		}
	}

	if raw.Recurrence != nil {
		r := &PartialRecurrence{
			Frequency: raw.Recurrence.Frequency,
			Interval:  raw.Recurrence.Interval,
			ByDay:     raw.Recurrence.ByDay,
		}
		if raw.Recurrence.UntilText != "" {
			if t, ok := when.Resolve(raw.Recurrence.UntilText, ref, loc); ok {
				r.Until = &t
			}
		}
		p.Recurrence = r
	}

	return p
}

// extractionSchema returns the Ollama JSON schema for structured extraction output.
func extractionSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"intent_type":             {Type: "string", Description: "One of: create_task, schedule_event, create_recurring_task"},
			"recommended_action_type": {Type: "string", Description: "One of: task, reminder, plan"},
			"title":                   {Type: "string", Description: "Short title of the task or event"},
			"description":             {Type: "string", Description: "Longer free-text details, if any"},
			"date_text":               {Type: "string", Description: "Date/time phrase verbatim from the utterance, empty if none"},
			"recurrence":              {Type: "object", Description: "Recurrence rule with frequency, interval, by_day, until_text; null if none"},
			"priority":                {Type: "string", Description: "One of: low, medium, high; empty if unstated"},
			"board":                   {Type: "string", Description: "Target life-area or board name, empty if unstated"},
			"options":                 {Type: "array", Description: "Candidate phrasings of the captured item, at least one"},
			"default_option_index":    {Type: "integer", Description: "Index into options of the preferred candidate"},
			"confidence":              {Type: "number", Description: "Extraction confidence between 0 and 1"},
		},
		Required: []string{"intent_type", "title", "options", "default_option_index", "confidence"},
	}
}

package intent

import (
	"strings"
	"testing"
	"time"
)

func TestPromptContainsInstructions(t *testing.T) {
	messages := BuildPrompt("remind me to buy milk", testRef, time.UTC)

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}

	system := messages[0].Content
	if !strings.Contains(system, "intent extraction engine") {
		t.Error("system prompt does not contain role instruction")
	}
	if !strings.Contains(system, "create_recurring_task") {
		t.Error("system prompt does not contain intent type definitions")
	}
	if !strings.Contains(system, "date_text") {
		t.Error("system prompt does not contain the verbatim-date rule")
	}
	if messages[1].Content != "remind me to buy milk" {
		t.Errorf("user message = %q, want the utterance", messages[1].Content)
	}
}

func TestPromptStatesReferenceDate(t *testing.T) {
	messages := BuildPrompt("dentist tomorrow", testRef, time.UTC)

	system := messages[0].Content
	if !strings.Contains(system, "Tuesday, 2026-03-10") {
		t.Errorf("system prompt does not state the reference date: %s", system)
	}
	if !strings.Contains(system, "UTC") {
		t.Error("system prompt does not state the timezone")
	}
}

func TestPromptNilLocationDefaultsUTC(t *testing.T) {
	messages := BuildPrompt("dentist tomorrow", testRef, nil)
	if !strings.Contains(messages[0].Content, "UTC") {
		t.Error("nil location should fall back to UTC")
	}
}

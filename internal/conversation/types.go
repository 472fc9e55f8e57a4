// Package conversation owns the multi-turn capture state machine: it decides
// when a conversation is awaiting clarification versus ready to execute, and
// expires idle conversations.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/khanflow/assistant/internal/storage"
)

// ErrInvalidState is returned when a mutation targets a conversation that
// already reached a terminal status.
var ErrInvalidState = errors.New("conversation is no longer active")

// Context holds the session-scoped preferences supplied when a conversation
// is created. Read-only for the rest of the conversation.
type Context struct {
	UserTimezone         string `json:"user_timezone,omitempty"`
	PreferredTaskApp     string `json:"preferred_task_app,omitempty"`
	PreferredCalendarApp string `json:"preferred_calendar_app,omitempty"`
}

func marshalContext(c Context) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshalling context: %w", err)
	}
	return string(b), nil
}

func unmarshalContext(s string) (Context, error) {
	var c Context
	if s == "" || s == "{}" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Context{}, fmt.Errorf("unmarshalling context: %w", err)
	}
	return c, nil
}

// Turn is the outcome of one Advance call, surfaced to the caller.
type Turn struct {
	ConversationID string   `json:"conversation_id"`
	AssistantReply string   `json:"assistant_reply"`
	Step           string   `json:"step"`
	Status         string   `json:"status"`
	PendingFields  []string `json:"pending_fields"`
}

// Snapshot is the full state of a conversation plus its message log.
type Snapshot struct {
	Conversation storage.Conversation
	Messages     []storage.Message
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

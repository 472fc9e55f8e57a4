package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotActive is returned when a mutation targets a conversation whose
// status no longer accepts it (completed or abandoned).
var ErrNotActive = errors.New("conversation not active")

// Conversation statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Conversation steps.
const (
	StepInitial    = "initial"
	StepClarifying = "clarifying"
	StepConfirming = "confirming"
	StepExecuting  = "executing"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID             string
	UserID         string
	Status         string
	CurrentStep    string
	IntentType     string
	ExtractedJSON  string // accumulated intent fields, JSON object
	PendingJSON    string // ordered missing-field names, JSON array
	AwaitingField  string // field the last clarification question targeted
	ContextJSON    string // session preferences, JSON object
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time
	TimeoutAt      time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Seq            int
	Role           string
	Content        string
	ParsedJSON     string // extraction result for this turn; empty when none
	MetadataJSON   string // provenance (audio file, latency); never read back
	CreatedAt      time.Time
}

// ActivityTouch carries the timestamp updates applied to a conversation
// when a user turn arrives. System-initiated appends pass nil so the idle
// clock is not reset.
type ActivityTouch struct {
	LastActivityAt time.Time
	TimeoutAt      time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/khanflow/assistant/internal/intent"
	"github.com/khanflow/assistant/internal/provider"
	"github.com/khanflow/assistant/internal/storage"
)

// Store is the persistence surface the Manager needs. Implemented by
// storage.Store.
type Store interface {
	CreateConversation(c storage.Conversation) error
	GetConversation(id string) (storage.Conversation, error)
	ListConversations(userID string, limit, offset int) ([]storage.Conversation, error)
	UpdateConversation(c storage.Conversation) error
	AppendMessage(m storage.Message, touch *storage.ActivityTouch) (storage.Message, error)
	ListMessages(conversationID string) ([]storage.Message, error)
	AbandonExpired(now time.Time) (int, error)
}

// TurnExtractor turns one utterance into recognized intent fields.
// Implemented by intent.Extractor.
type TurnExtractor interface {
	Extract(ctx context.Context, utterance string, ref time.Time, loc *time.Location) intent.Partial
}

// Options tune the Manager. Zero values pick the defaults.
type Options struct {
	IdleTimeout   time.Duration // inactivity before a conversation is abandoned
	ExecTimeout   time.Duration // bound on each downstream provider call
	EventDuration time.Duration // default length of scheduled events
	Clock         Clock
}

// Manager owns conversation state across turns. All mutations to one
// conversation are serialized behind a per-conversation mutex; different
// conversations proceed in parallel.
type Manager struct {
	store     Store
	extractor TurnExtractor
	executor  provider.Executor
	clock     Clock
	locks     *keyedMutex
	logger    *slog.Logger

	idleTimeout   time.Duration
	execTimeout   time.Duration
	eventDuration time.Duration
}

// NewManager creates a Manager.
func NewManager(store Store, extractor TurnExtractor, executor provider.Executor, opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 15 * time.Second
	}
	if opts.EventDuration <= 0 {
		opts.EventDuration = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Manager{
		store:         store,
		extractor:     extractor,
		executor:      executor,
		clock:         opts.Clock,
		locks:         newKeyedMutex(),
		logger:        slog.Default(),
		idleTimeout:   opts.IdleTimeout,
		execTimeout:   opts.ExecTimeout,
		eventDuration: opts.EventDuration,
	}
}

// Create starts a new active conversation for userID with the given
// session context.
func (m *Manager) Create(ctx context.Context, userID string, convCtx Context) (storage.Conversation, error) {
	ctxJSON, err := marshalContext(convCtx)
	if err != nil {
		return storage.Conversation{}, err
	}

	now := m.clock.Now().UTC()
	c := storage.Conversation{
		ID:             uuid.New().String(),
		UserID:         userID,
		Status:         storage.StatusActive,
		CurrentStep:    storage.StepInitial,
		ExtractedJSON:  "{}",
		PendingJSON:    "[]",
		ContextJSON:    ctxJSON,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
		TimeoutAt:      now.Add(m.idleTimeout),
	}
	if err := m.store.CreateConversation(c); err != nil {
		return storage.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	return c, nil
}

// Get returns the full state snapshot. Accessing an active conversation
// past its idle deadline flips it to abandoned first.
func (m *Manager) Get(ctx context.Context, id string) (Snapshot, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	c, err := m.store.GetConversation(id)
	if err != nil {
		return Snapshot{}, err
	}
	if c, err = m.expireIfIdle(c); err != nil {
		return Snapshot{}, err
	}

	msgs, err := m.store.ListMessages(id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Conversation: c, Messages: msgs}, nil
}

// List returns conversation snapshots without messages, newest first.
func (m *Manager) List(ctx context.Context, userID string, limit, offset int) ([]storage.Conversation, error) {
	return m.store.ListConversations(userID, limit, offset)
}

// Abandon terminates a conversation explicitly. Abandoning an already
// abandoned conversation is a no-op; a completed one cannot be abandoned.
func (m *Manager) Abandon(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	c, err := m.store.GetConversation(id)
	if err != nil {
		return err
	}
	switch c.Status {
	case storage.StatusAbandoned:
		return nil
	case storage.StatusCompleted:
		return ErrInvalidState
	}

	c.Status = storage.StatusAbandoned
	c.UpdatedAt = m.clock.Now().UTC()
	return m.store.UpdateConversation(c)
}

// SweepTimeouts abandons every active conversation idle past its deadline
// and returns how many were abandoned. Idempotent: a second run with the
// same now finds nothing left to flip.
func (m *Manager) SweepTimeouts(ctx context.Context, now time.Time) (int, error) {
	n, err := m.store.AbandonExpired(now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping timeouts: %w", err)
	}
	if n > 0 {
		m.logger.Info("abandoned idle conversations", "count", n)
	}
	return n, nil
}

// expireIfIdle applies the lazy variant of the idle-timeout rule: an active
// conversation accessed past its deadline transitions to abandoned.
func (m *Manager) expireIfIdle(c storage.Conversation) (storage.Conversation, error) {
	if c.Status != storage.StatusActive {
		return c, nil
	}
	now := m.clock.Now().UTC()
	if !now.After(c.TimeoutAt) {
		return c, nil
	}
	c.Status = storage.StatusAbandoned
	c.UpdatedAt = now
	if err := m.store.UpdateConversation(c); err != nil {
		return storage.Conversation{}, err
	}
	return c, nil
}

// TurnMeta is advisory provenance recorded on a user message (audio file
// name, processing latency). The state machine never reads it back.
type TurnMeta struct {
	AudioFile string `json:"audio_file,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// Advance feeds one user turn into the state machine and returns the
// assistant's reply along with the resulting step and pending fields.
func (m *Manager) Advance(ctx context.Context, id, text string) (Turn, error) {
	return m.AdvanceTurn(ctx, id, text, nil)
}

// AdvanceTurn is Advance with provenance metadata attached to the stored
// user message.
func (m *Manager) AdvanceTurn(ctx context.Context, id, text string, meta *TurnMeta) (Turn, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	c, err := m.store.GetConversation(id)
	if err != nil {
		return Turn{}, err
	}
	if c, err = m.expireIfIdle(c); err != nil {
		return Turn{}, err
	}
	if c.Status != storage.StatusActive {
		return Turn{}, ErrInvalidState
	}

	convCtx, err := unmarshalContext(c.ContextJSON)
	if err != nil {
		return Turn{}, err
	}
	loc := locationFor(convCtx.UserTimezone)

	fields, err := intent.UnmarshalFields(c.ExtractedJSON)
	if err != nil {
		return Turn{}, err
	}

	now := m.clock.Now().UTC()
	c.LastActivityAt = now
	c.TimeoutAt = now.Add(m.idleTimeout)
	c.UpdatedAt = now

	// Relative dates resolve against the conversation's creation-time date.
	ref := c.CreatedAt

	var parsed intent.Partial
	var reply string

	switch c.CurrentStep {
	case storage.StepInitial, storage.StepClarifying:
		parsed = m.extractor.Extract(ctx, text, ref, loc)
		if parsed.Empty() && c.CurrentStep == storage.StepClarifying {
			// Plain replies answer the field that was just asked about.
			parsed = intent.AnswerPartial(c.AwaitingField, text, ref, loc)
		}
		fields = m.mergeOrDegrade(c.ID, fields, parsed)
		reply = m.settleStep(&c, fields, loc)

	case storage.StepConfirming, storage.StepExecuting:
		switch {
		case isAffirmative(text):
			reply = m.execute(ctx, &c, fields, convCtx, loc)
		case isNegative(text):
			parsed = m.extractor.Extract(ctx, text, ref, loc)
			if parsed.Empty() {
				// A bare "no" disputes the first required field; re-ask it.
				disputed := intent.RequiredFieldsFor(fields.Type)[0]
				c.CurrentStep = storage.StepClarifying
				c.AwaitingField = disputed
				c.PendingJSON = mustMarshalJSON([]string{disputed})
				reply = questionFor(disputed)
			} else {
				fields = m.mergeOrDegrade(c.ID, fields, parsed)
				reply = m.settleStep(&c, fields, loc)
			}
		default:
			parsed = m.extractor.Extract(ctx, text, ref, loc)
			if parsed.Empty() {
				reply = "Sorry, I didn't catch that — should I go ahead? (yes/no)"
			} else {
				fields = m.mergeOrDegrade(c.ID, fields, parsed)
				reply = m.settleStep(&c, fields, loc)
			}
		}

	default:
		return Turn{}, fmt.Errorf("conversation %s in unknown step %q", c.ID, c.CurrentStep)
	}

	userMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: c.ID,
		Role:           storage.RoleUser,
		Content:        text,
		CreatedAt:      now,
	}
	if !parsed.Empty() {
		userMsg.ParsedJSON = mustMarshalJSON(parsed)
	}
	if meta != nil {
		userMsg.MetadataJSON = mustMarshalJSON(meta)
	}
	touch := &storage.ActivityTouch{LastActivityAt: c.LastActivityAt, TimeoutAt: c.TimeoutAt}
	if _, err := m.store.AppendMessage(userMsg, touch); err != nil {
		if errors.Is(err, storage.ErrNotActive) {
			return Turn{}, ErrInvalidState
		}
		return Turn{}, fmt.Errorf("appending user message: %w", err)
	}

	assistantMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: c.ID,
		Role:           storage.RoleAssistant,
		Content:        reply,
		CreatedAt:      now,
	}
	if _, err := m.store.AppendMessage(assistantMsg, nil); err != nil {
		return Turn{}, fmt.Errorf("appending assistant message: %w", err)
	}

	extractedJSON, err := intent.MarshalFields(fields)
	if err != nil {
		return Turn{}, err
	}
	c.ExtractedJSON = extractedJSON
	c.IntentType = fields.Type
	if err := m.store.UpdateConversation(c); err != nil {
		return Turn{}, fmt.Errorf("updating conversation: %w", err)
	}

	return Turn{
		ConversationID: c.ID,
		AssistantReply: reply,
		Step:           c.CurrentStep,
		Status:         c.Status,
		PendingFields:  pendingFromJSON(c.PendingJSON),
	}, nil
}

// mergeOrDegrade merges a turn's extraction into the accumulated fields.
// A payload rejected by validation degrades to "no fields recognized" so
// one bad model response never crashes the conversation.
func (m *Manager) mergeOrDegrade(id string, fields intent.Fields, p intent.Partial) intent.Fields {
	if p.Empty() {
		return fields
	}
	merged, err := intent.Merge(fields, p)
	if err != nil {
		m.logger.Warn("extraction payload rejected during merge", "conversation_id", id, "error", err)
		return fields
	}
	return merged
}

// settleStep recomputes pending fields and moves the conversation to
// clarifying or confirming accordingly, returning the assistant's reply.
// The clarification question always targets the first pending field in the
// intent's declared order, so repeated runs ask in the same sequence.
func (m *Manager) settleStep(c *storage.Conversation, fields intent.Fields, loc *time.Location) string {
	pending := intent.Pending(fields)
	c.PendingJSON = mustMarshalJSON(pending)

	if len(pending) > 0 {
		c.CurrentStep = storage.StepClarifying
		c.AwaitingField = pending[0]
		return questionFor(pending[0])
	}

	c.CurrentStep = storage.StepConfirming
	c.AwaitingField = ""
	return confirmationFor(fields, loc)
}

// execute runs the downstream side effect for a fully-specified intent.
// Success completes the conversation; a downstream failure reverts to
// confirming so the user can retry by re-confirming; a calendar conflict
// sends the conversation back to clarifying for a new time.
func (m *Manager) execute(ctx context.Context, c *storage.Conversation, fields intent.Fields, convCtx Context, loc *time.Location) string {
	c.CurrentStep = storage.StepExecuting

	ctx, cancel := context.WithTimeout(ctx, m.execTimeout)
	defer cancel()

	if fields.Type == intent.TypeScheduleEvent {
		start := *fields.DateTime
		end := start.Add(m.eventDuration)

		res, err := m.executor.CheckConflicts(ctx, start, end, "")
		if err != nil {
			return m.failExecution(c, "checking your calendar", err)
		}
		if res.HasConflicts {
			c.CurrentStep = storage.StepClarifying
			c.AwaitingField = "dateTime"
			c.PendingJSON = mustMarshalJSON([]string{"dateTime"})
			if res.Conflict != nil {
				return fmt.Sprintf("That time overlaps with %q (%s). When should it happen instead?",
					res.Conflict.Title, res.Conflict.StartTime.In(loc).Format("Monday, Jan 2 at 3:04pm"))
			}
			return "That time conflicts with something already on your calendar. When should it happen instead?"
		}

		err = m.executor.CreateEvent(ctx, provider.EventRequest{
			UserID:      c.UserID,
			App:         convCtx.PreferredCalendarApp,
			Title:       fields.Title,
			Description: fields.Description,
			StartTime:   start,
			EndTime:     end,
		})
		if err != nil {
			return m.failExecution(c, "creating the event", err)
		}
	} else {
		req := provider.TaskRequest{
			UserID:      c.UserID,
			App:         convCtx.PreferredTaskApp,
			Title:       fields.Title,
			Description: fields.Description,
			Priority:    fields.Priority,
			Board:       fields.Board,
			DueTime:     fields.DateTime,
		}
		if fields.Recurrence != nil {
			req.Recurrence = &provider.TaskRecurrence{
				Frequency: fields.Recurrence.Frequency,
				Interval:  fields.Recurrence.Interval,
				ByDay:     fields.Recurrence.ByDay,
				Until:     fields.Recurrence.Until,
			}
		}
		if err := m.executor.CreateTask(ctx, req); err != nil {
			return m.failExecution(c, "creating the task", err)
		}
	}

	now := m.clock.Now().UTC()
	c.Status = storage.StatusCompleted
	c.CompletedAt = &now
	c.PendingJSON = "[]"
	c.AwaitingField = ""
	return fmt.Sprintf("Done! %q is all set.", fields.Title)
}

// failExecution reverts the conversation to confirming and reports why.
// The user retries by confirming again; nothing is retried automatically.
func (m *Manager) failExecution(c *storage.Conversation, what string, err error) string {
	m.logger.Warn("downstream execution failed", "conversation_id", c.ID, "op", what, "error", err)
	c.CurrentStep = storage.StepConfirming

	var de *provider.DownstreamError
	if errors.As(err, &de) && de.Timeout {
		return fmt.Sprintf("Sorry, %s timed out. Say yes to try again.", what)
	}
	return fmt.Sprintf("Sorry, %s failed. Say yes to try again.", what)
}

func locationFor(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		slog.Warn("unknown timezone in conversation context, using UTC", "timezone", tz)
		return time.UTC
	}
	return loc
}

func pendingFromJSON(s string) []string {
	var pending []string
	if err := json.Unmarshal([]byte(s), &pending); err != nil || pending == nil {
		return []string{}
	}
	return pending
}

func mustMarshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// All inputs are plain structs and slices; this cannot fail.
		panic(err)
	}
	return string(b)
}

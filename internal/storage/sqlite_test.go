package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(userID string) Conversation {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	return Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		CurrentStep:    StepInitial,
		ExtractedJSON:  "{}",
		PendingJSON:    "[]",
		ContextJSON:    `{"timezone":"UTC"}`,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
		TimeoutAt:      now.Add(30 * time.Minute),
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	first, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	second, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations after reopen failed: %v", err)
	}

	if len(first) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	if len(first) != len(second) {
		t.Errorf("reopen changed migration count: %d != %d", len(first), len(second))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Fatalf("expected first migration version 1, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations out of order: %v", versions)
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{
		"idx_conversations_user",
		"idx_conversations_status_timeout",
		"idx_messages_conversation",
		"idx_jobs_status_run_after",
	} {
		var count int
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", name,
		).Scan(&count)
		if err != nil {
			t.Fatalf("checking index %s: %v", name, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", name)
		}
	}
}

// --- Conversations ---

func TestConversationRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := testConversation("alice")
	c.IntentType = "schedule_event"
	c.CurrentStep = StepClarifying
	c.AwaitingField = "dateTime"
	c.ExtractedJSON = `{"title":"dentist"}`
	c.PendingJSON = `["dateTime"]`

	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, err := s.GetConversation(c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.UserID != "alice" || got.Status != StatusActive || got.CurrentStep != StepClarifying {
		t.Errorf("unexpected conversation: %+v", got)
	}
	if got.IntentType != "schedule_event" || got.AwaitingField != "dateTime" {
		t.Errorf("intent fields not persisted: %+v", got)
	}
	if got.ExtractedJSON != `{"title":"dentist"}` || got.PendingJSON != `["dateTime"]` {
		t.Errorf("json columns not persisted: extracted=%q pending=%q", got.ExtractedJSON, got.PendingJSON)
	}
	if got.ContextJSON != `{"timezone":"UTC"}` {
		t.Errorf("context not persisted: %q", got.ContextJSON)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) || !got.TimeoutAt.Equal(c.TimeoutAt) {
		t.Errorf("timestamps drifted: created=%v timeout=%v", got.CreatedAt, got.TimeoutAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("expected nil completed_at, got %v", got.CompletedAt)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetConversation("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversations(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	for i, user := range []string{"alice", "alice", "bob"} {
		c := testConversation(user)
		c.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateConversation(c); err != nil {
			t.Fatalf("CreateConversation %d failed: %v", i, err)
		}
	}

	all, err := s.ListConversations("", 10, 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(all))
	}
	// Newest first.
	if !all[0].CreatedAt.After(all[1].CreatedAt) || !all[1].CreatedAt.After(all[2].CreatedAt) {
		t.Errorf("conversations not ordered newest first")
	}

	alices, err := s.ListConversations("alice", 10, 0)
	if err != nil {
		t.Fatalf("ListConversations by user failed: %v", err)
	}
	if len(alices) != 2 {
		t.Errorf("expected 2 conversations for alice, got %d", len(alices))
	}
	for _, c := range alices {
		if c.UserID != "alice" {
			t.Errorf("user filter leaked: %s", c.UserID)
		}
	}

	page, err := s.ListConversations("", 2, 1)
	if err != nil {
		t.Fatalf("ListConversations with offset failed: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("expected 2 conversations with limit 2 offset 1, got %d", len(page))
	}
}

func TestUpdateConversation(t *testing.T) {
	s := openTestStore(t)

	c := testConversation("alice")
	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	done := c.UpdatedAt.Add(5 * time.Minute)
	c.Status = StatusCompleted
	c.CurrentStep = StepExecuting
	c.CompletedAt = &done
	c.UpdatedAt = done
	if err := s.UpdateConversation(c); err != nil {
		t.Fatalf("UpdateConversation failed: %v", err)
	}

	got, err := s.GetConversation(c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != StatusCompleted || got.CurrentStep != StepExecuting {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("completed_at not persisted: %v", got.CompletedAt)
	}
}

func TestUpdateConversation_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateConversation(testConversation("ghost")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteConversation_CascadesMessages(t *testing.T) {
	s := openTestStore(t)

	c := testConversation("alice")
	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	touch := &ActivityTouch{LastActivityAt: c.CreatedAt, TimeoutAt: c.TimeoutAt}
	if _, err := s.AppendMessage(Message{
		ID: uuid.NewString(), ConversationID: c.ID, Role: RoleUser,
		Content: "schedule a call tomorrow", CreatedAt: c.CreatedAt,
	}, touch); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := s.DeleteConversation(c.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	if _, err := s.GetConversation(c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("conversation still present after delete: %v", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = ?", c.ID).Scan(&count); err != nil {
		t.Fatalf("counting messages: %v", err)
	}
	if count != 0 {
		t.Errorf("expected messages removed by cascade, found %d", count)
	}

	if err := s.DeleteConversation(c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestAbandonExpired(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	expired := testConversation("alice")
	expired.TimeoutAt = now.Add(-time.Minute)
	fresh := testConversation("alice")
	fresh.TimeoutAt = now.Add(10 * time.Minute)
	done := testConversation("bob")
	done.Status = StatusCompleted
	done.TimeoutAt = now.Add(-time.Hour)

	for _, c := range []Conversation{expired, fresh, done} {
		if err := s.CreateConversation(c); err != nil {
			t.Fatalf("CreateConversation failed: %v", err)
		}
	}

	n, err := s.AbandonExpired(now)
	if err != nil {
		t.Fatalf("AbandonExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 conversation abandoned, got %d", n)
	}

	got, err := s.GetConversation(expired.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Status != StatusAbandoned {
		t.Errorf("expected abandoned, got %s", got.Status)
	}

	if got, _ = s.GetConversation(fresh.ID); got.Status != StatusActive {
		t.Errorf("fresh conversation flipped: %s", got.Status)
	}
	if got, _ = s.GetConversation(done.ID); got.Status != StatusCompleted {
		t.Errorf("completed conversation flipped: %s", got.Status)
	}

	// Second sweep with the same clock finds nothing new.
	n, err = s.AbandonExpired(now)
	if err != nil {
		t.Fatalf("second AbandonExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected second sweep to flip 0, got %d", n)
	}
}

// --- Messages ---

func TestAppendMessage_SequencesAndTouch(t *testing.T) {
	s := openTestStore(t)

	c := testConversation("alice")
	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	later := c.CreatedAt.Add(2 * time.Minute)
	touch := &ActivityTouch{LastActivityAt: later, TimeoutAt: later.Add(30 * time.Minute)}

	first, err := s.AppendMessage(Message{
		ID: uuid.NewString(), ConversationID: c.ID, Role: RoleUser,
		Content: "remind me to water the plants", CreatedAt: later,
	}, touch)
	if err != nil {
		t.Fatalf("appending first message: %v", err)
	}
	if first.Seq != 1 {
		t.Errorf("expected seq 1, got %d", first.Seq)
	}

	second, err := s.AppendMessage(Message{
		ID: uuid.NewString(), ConversationID: c.ID, Role: RoleAssistant,
		Content: "When should I remind you?", CreatedAt: later,
	}, nil)
	if err != nil {
		t.Fatalf("appending second message: %v", err)
	}
	if second.Seq != 2 {
		t.Errorf("expected seq 2, got %d", second.Seq)
	}

	got, err := s.GetConversation(c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !got.LastActivityAt.Equal(later) {
		t.Errorf("touch did not update last_activity_at: %v", got.LastActivityAt)
	}
	if !got.TimeoutAt.Equal(later.Add(30 * time.Minute)) {
		t.Errorf("touch did not update timeout_at: %v", got.TimeoutAt)
	}
}

func TestAppendMessage_NilTouchLeavesIdleClock(t *testing.T) {
	s := openTestStore(t)

	c := testConversation("alice")
	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	if _, err := s.AppendMessage(Message{
		ID: uuid.NewString(), ConversationID: c.ID, Role: RoleAssistant,
		Content: "Done.", CreatedAt: c.CreatedAt.Add(time.Minute),
	}, nil); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	got, err := s.GetConversation(c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !got.LastActivityAt.Equal(c.LastActivityAt) || !got.TimeoutAt.Equal(c.TimeoutAt) {
		t.Errorf("nil touch moved idle clock: activity=%v timeout=%v", got.LastActivityAt, got.TimeoutAt)
	}
}

func TestAppendMessage_UserOnTerminalConversation(t *testing.T) {
	s := openTestStore(t)

	for _, status := range []string{StatusCompleted, StatusAbandoned} {
		c := testConversation("alice")
		c.Status = status
		if err := s.CreateConversation(c); err != nil {
			t.Fatalf("creating %s conversation: %v", status, err)
		}

		_, err := s.AppendMessage(Message{
			ID: uuid.NewString(), ConversationID: c.ID, Role: RoleUser,
			Content: "hello again", CreatedAt: c.CreatedAt,
		}, &ActivityTouch{LastActivityAt: c.CreatedAt, TimeoutAt: c.TimeoutAt})
		if !errors.Is(err, ErrNotActive) {
			t.Errorf("status %s: expected ErrNotActive, got %v", status, err)
		}

		// Assistant messages are still allowed, e.g. the timeout notice.
		if _, err := s.AppendMessage(Message{
			ID: uuid.NewString(), ConversationID: c.ID, Role: RoleAssistant,
			Content: "This conversation has timed out.", CreatedAt: c.CreatedAt,
		}, nil); err != nil {
			t.Errorf("status %s: assistant append failed: %v", status, err)
		}
	}
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AppendMessage(Message{
		ID: uuid.NewString(), ConversationID: "no-such-id", Role: RoleUser,
		Content: "hello", CreatedAt: time.Now().UTC(),
	}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListMessages(t *testing.T) {
	s := openTestStore(t)

	c := testConversation("alice")
	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	contents := []string{"first", "second", "third"}
	for _, content := range contents {
		if _, err := s.AppendMessage(Message{
			ID: uuid.NewString(), ConversationID: c.ID, Role: RoleAssistant,
			Content: content, ParsedJSON: `{"intent":"create_task"}`, CreatedAt: c.CreatedAt,
		}, nil); err != nil {
			t.Fatalf("appending %q: %v", content, err)
		}
	}

	msgs, err := s.ListMessages(c.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Errorf("message %d: expected seq %d, got %d", i, i+1, m.Seq)
		}
		if m.Content != contents[i] {
			t.Errorf("message %d: expected %q, got %q", i, contents[i], m.Content)
		}
		if m.ParsedJSON != `{"intent":"create_task"}` {
			t.Errorf("message %d: parsed_json not persisted: %q", i, m.ParsedJSON)
		}
	}

	if _, err := s.ListMessages("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown conversation, got %v", err)
	}
}

// --- Jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          uuid.NewString(),
		Type:        "transcribe_turn",
		PayloadJSON: `{"conversation_id":"c1","audio_path":"/tmp/a.ogg"}`,
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"transcribe_turn"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed job, got nil")
	}
	if claimed.ID != job.ID {
		t.Errorf("expected job %s, got %s", job.ID, claimed.ID)
	}
	if claimed.Status != "running" {
		t.Errorf("expected status running, got %s", claimed.Status)
	}
	if claimed.PayloadJSON != job.PayloadJSON {
		t.Errorf("payload mismatch: %s", claimed.PayloadJSON)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	job, err := s.ClaimNextJob([]string{"transcribe_turn"})
	if err != nil {
		t.Fatalf("ClaimNextJob on empty queue failed: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job from empty queue, got %+v", job)
	}

	job, err = s.ClaimNextJob(nil)
	if err != nil {
		t.Fatalf("ClaimNextJob with no types failed: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job with no types, got %+v", job)
	}
}

func TestClaimNextJob_RespectsRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          uuid.NewString(),
		Type:        "transcribe_turn",
		PayloadJSON: "{}",
		RunAfter:    time.Now().UTC().Add(time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"transcribe_turn"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("expected nil for job scheduled in the future, got %+v", claimed)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: uuid.NewString(), Type: "other_work", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"transcribe_turn"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("expected nil for mismatched type, got %+v", claimed)
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: uuid.NewString(), Type: "transcribe_turn", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	first, err := s.ClaimNextJob([]string{"transcribe_turn"})
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if first == nil {
		t.Fatal("expected first claim to succeed")
	}

	second, err := s.ClaimNextJob([]string{"transcribe_turn"})
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second != nil {
		t.Errorf("expected nil on second claim, got %+v", second)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.NewString(), Type: "transcribe_turn", PayloadJSON: "{}"}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"transcribe_turn"}); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := s.CompleteJob(job.ID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	var status string
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = ?", job.ID).Scan(&status); err != nil {
		t.Fatalf("reading job status: %v", err)
	}
	if status != "completed" {
		t.Errorf("expected completed, got %s", status)
	}

	if err := s.CompleteJob("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown job, got %v", err)
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.NewString(), Type: "transcribe_turn", PayloadJSON: "{}"}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"transcribe_turn"}); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := s.FailJob(job.ID, "transcriber unreachable"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	var status, lastError string
	var attempts int
	err := s.db.QueryRow("SELECT status, attempts, last_error FROM jobs WHERE id = ?", job.ID).
		Scan(&status, &attempts, &lastError)
	if err != nil {
		t.Fatalf("reading job: %v", err)
	}
	if status != "pending" {
		t.Errorf("expected pending after first failure, got %s", status)
	}
	if attempts != 1 {
		t.Errorf("expected attempts 1, got %d", attempts)
	}
	if lastError != "transcriber unreachable" {
		t.Errorf("last_error not recorded: %q", lastError)
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.NewString(), Type: "transcribe_turn", PayloadJSON: "{}", MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.FailJob(job.ID, "still broken"); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}

	var status string
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = ?", job.ID).Scan(&status); err != nil {
		t.Fatalf("reading job status: %v", err)
	}
	if status != "failed" {
		t.Errorf("expected failed after max attempts, got %s", status)
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.NewString(), Type: "transcribe_turn", PayloadJSON: "{}"}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob(job.ID, "transient"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	var runAfterStr string
	if err := s.db.QueryRow("SELECT run_after FROM jobs WHERE id = ?", job.ID).Scan(&runAfterStr); err != nil {
		t.Fatalf("reading run_after: %v", err)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("expected run_after pushed into the future, got %v", runAfter)
	}
}

// --- User preferences ---

func TestPrefKeys(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetPrefKey("timezone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := s.SetPrefKey("timezone", "Europe/Amsterdam"); err != nil {
		t.Fatalf("SetPrefKey failed: %v", err)
	}
	if err := s.SetPrefKey("task_app", "things"); err != nil {
		t.Fatalf("SetPrefKey failed: %v", err)
	}

	v, err := s.GetPrefKey("timezone")
	if err != nil {
		t.Fatalf("GetPrefKey failed: %v", err)
	}
	if v != "Europe/Amsterdam" {
		t.Errorf("expected Europe/Amsterdam, got %q", v)
	}

	// Upsert overwrites.
	if err := s.SetPrefKey("timezone", "UTC"); err != nil {
		t.Fatalf("overwriting pref failed: %v", err)
	}
	if v, _ = s.GetPrefKey("timezone"); v != "UTC" {
		t.Errorf("expected UTC after overwrite, got %q", v)
	}

	all, err := s.GetAllPrefKeys()
	if err != nil {
		t.Fatalf("GetAllPrefKeys failed: %v", err)
	}
	if len(all) != 2 || all["timezone"] != "UTC" || all["task_app"] != "things" {
		t.Errorf("unexpected pref map: %v", all)
	}
}

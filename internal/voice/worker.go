// Package voice processes queued audio turns: it transcribes the recording
// and feeds the text into the conversation state machine.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/khanflow/assistant/internal/conversation"
	"github.com/khanflow/assistant/internal/storage"
)

// JobType is the queue type claimed by this worker.
const JobType = "transcribe_turn"

const transcribeTimeout = 60 * time.Second

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Advancer feeds a user turn into a conversation.
type Advancer interface {
	AdvanceTurn(ctx context.Context, conversationID, text string, meta *conversation.TurnMeta) (conversation.Turn, error)
}

// Payload is the queued description of one audio turn.
type Payload struct {
	ConversationID string `json:"conversation_id"`
	AudioPath      string `json:"audio_path"`
	MimeType       string `json:"mime_type"`
}

// Worker processes transcribe_turn jobs from the SQLite job queue.
type Worker struct {
	store       JobStore
	transcriber Transcriber
	advancer    Advancer
	poll        time.Duration
	logger      *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, transcriber Transcriber, advancer Advancer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:       store,
		transcriber: transcriber,
		advancer:    advancer,
		poll:        pollInterval,
		logger:      slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single transcribe_turn job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	err = w.processJob(ctx, job)
	switch {
	case err == nil:
		if err := w.store.CompleteJob(job.ID); err != nil {
			return true, fmt.Errorf("completing job %s: %w", job.ID, err)
		}
	case errors.Is(err, conversation.ErrInvalidState), errors.Is(err, storage.ErrNotFound):
		// The conversation ended before the audio was transcribed;
		// retrying cannot help.
		w.logger.Warn("dropping audio turn for ended conversation", "job_id", job.ID, "error", err)
		if err := w.store.CompleteJob(job.ID); err != nil {
			return true, fmt.Errorf("completing job %s: %w", job.ID, err)
		}
	default:
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	audio, err := os.ReadFile(payload.AudioPath)
	if err != nil {
		return fmt.Errorf("reading audio file: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	started := time.Now()
	text, err := w.transcriber.Transcribe(tctx, audio, payload.MimeType)
	if err != nil {
		return fmt.Errorf("transcribing audio: %w", err)
	}

	meta := &conversation.TurnMeta{
		AudioFile: payload.AudioPath,
		LatencyMs: time.Since(started).Milliseconds(),
	}
	turn, err := w.advancer.AdvanceTurn(ctx, payload.ConversationID, text, meta)
	if err != nil {
		return err
	}

	w.logger.Info("audio turn processed",
		"conversation_id", payload.ConversationID,
		"step", turn.Step,
		"pending", len(turn.PendingFields),
	)

	// The recording served its purpose; reclaim the disk space.
	if err := os.Remove(payload.AudioPath); err != nil && !os.IsNotExist(err) {
		w.logger.Debug("could not remove audio file", "path", payload.AudioPath, "error", err)
	}
	return nil
}

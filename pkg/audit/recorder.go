package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EntryWriter persists entries. Satisfied by *Store.
type EntryWriter interface {
	Append(ctx context.Context, e *Entry) error
}

// Recorder fills in entry defaults, persists through the writer, and emits a
// structured log line per append.
type Recorder struct {
	store EntryWriter
	log   *slog.Logger
}

// NewRecorder creates a recorder backed by the given writer.
func NewRecorder(store EntryWriter, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log}
}

// Record persists one entry. A missing event id or timestamp is filled in.
func (r *Recorder) Record(ctx context.Context, e *Entry) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	if err := r.store.Append(ctx, e); err != nil {
		r.log.ErrorContext(ctx, "audit append failed",
			"event_id", e.EventID,
			"tenant", e.Tenant,
			"error", err,
		)
		return err
	}

	r.log.InfoContext(ctx, "erp_event recorded",
		"event_id", e.EventID,
		"tenant", e.Tenant,
		"model", e.Model,
		"method", e.Method,
		"status", e.Status,
		"hash", e.Hash,
	)
	return nil
}

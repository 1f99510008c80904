package observability

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent is one structured entry in the audit trail. Failure
// reasons, tool traces, and reviewer actions land here and never in
// user-visible output.
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // thread id or reviewer
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AuditLogger records audit events as JSON lines.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewAuditLogger writes audit events to the given file, or stderr when
// path is empty.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		return &AuditLogger{
			logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// RecordEvent emits a full audit event.
func (a *AuditLogger) RecordEvent(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Record satisfies the orchestrator's audit sink: an event name plus
// free-form fields.
func (a *AuditLogger) Record(event string, fields map[string]interface{}) {
	actor := ""
	if threadID, ok := fields["thread_id"].(string); ok {
		actor = threadID
	}
	a.RecordEvent(AuditEvent{
		Type:     "orchestration",
		Actor:    actor,
		Action:   event,
		Status:   "recorded",
		Metadata: fields,
	})
}

// RecordApproval logs a reviewer decision for the audit trail.
func (a *AuditLogger) RecordApproval(threadID, callID, reviewer string, approved bool) {
	status := "denied"
	if approved {
		status = "approved"
	}
	a.RecordEvent(AuditEvent{
		Type:   "approval",
		Actor:  reviewer,
		Action: "decide:" + callID,
		Status: status,
		Metadata: map[string]interface{}{
			"thread_id": threadID,
		},
	})
}

// Close closes the audit logger's file handle.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

package audit

import (
	"log/slog"
	"time"
)

// Event types emitted by the workflow engine.
const (
	EventContextCreated   = "context_created"
	EventContextEvicted   = "context_evicted"
	EventMessageProcessed = "message_processed"
	EventProcessingError  = "processing_error"
	EventTicketCreated    = "ticket_created"
	EventTicketUpdated    = "ticket_updated"
	EventTicketError      = "ticket_error"
)

// Event is an append-only observability record. It never participates in
// control flow.
type Event struct {
	Timestamp      time.Time      `json:"timestamp"`
	Type           string         `json:"event_type"`
	UserID         string         `json:"user_id"`
	ChannelID      string         `json:"channel_id"`
	ConversationID string         `json:"conversation_id"`
	TicketID       int64          `json:"ticket_id,omitempty"`
	WorkflowState  string         `json:"workflow_state"`
	ActionTaken    string         `json:"action_taken"`
	Details        map[string]any `json:"details,omitempty"`
}

// Sink receives emitted events. Implementations must not block for long;
// emission is fire-and-forget from the engine's point of view.
type Sink interface {
	Record(e Event) error
}

// Filter constrains event queries against a sink that retains history.
type Filter struct {
	Since          time.Time
	Type           string
	ConversationID string
	Limit          int // 0 = no limit
}

// Recorder fans events out to sinks. Sink failures are logged and dropped,
// never surfaced to the caller.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to the given sinks.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger}
}

// Emit records the event on every sink. A zero timestamp is stamped with the
// current time.
func (r *Recorder) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.logger.Info("support event",
		"event_type", e.Type,
		"conversation", e.ConversationID,
		"state", e.WorkflowState,
		"action", e.ActionTaken,
	)

	for _, s := range r.sinks {
		if err := s.Record(e); err != nil {
			r.logger.Error("audit sink failed", "event_type", e.Type, "error", err)
		}
	}
}

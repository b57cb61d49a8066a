package support

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/geppetto-io/geppetto/internal/audit"
	"github.com/geppetto-io/geppetto/internal/freshdesk"
	"github.com/geppetto-io/geppetto/internal/provider"
)

const defaultSystemPrompt = `You are an IT support agent handling user requests over chat.
Analyze the user's message and respond with a structured decision: what you
understood, whether you can solve it, what to ask next, and whether a support
ticket should be created, updated, resolved, or escalated. Only request a
ticket when the issue needs tracking or cannot be resolved in chat. Escalate
when the issue is urgent or beyond first-line support.`

const defaultCallTimeout = 2 * time.Minute

// Generator produces schema-validated structured objects from a message
// exchange. Satisfied by provider.Router.
type Generator interface {
	GenerateStructured(ctx context.Context, messages []provider.Message, schemaName string, schema map[string]any, out any) error
}

// TicketAPI is the slice of the ticketing client the engine drives.
type TicketAPI interface {
	CreateTicket(ctx context.Context, req freshdesk.CreateTicketRequest) (*freshdesk.Ticket, error)
	UpdateTicket(ctx context.Context, id int64, req freshdesk.UpdateTicketRequest) (*freshdesk.Ticket, error)
	AddNote(ctx context.Context, id int64, body string, private bool) (*freshdesk.Note, error)
}

// EngineConfig tunes the workflow engine. Zero values select defaults.
type EngineConfig struct {
	SystemPrompt    string
	RequesterDomain string        // appended to bare user IDs to form a requester email
	CallTimeout     time.Duration // deadline applied to each external call
}

// Engine is the workflow orchestrator: it turns an inbound message into a
// structured decision and applies any requested ticket action.
type Engine struct {
	gen      Generator
	tickets  TicketAPI
	contexts *ContextStore
	recorder *audit.Recorder
	logger   *slog.Logger
	cfg      EngineConfig
}

// NewEngine wires the orchestrator together.
func NewEngine(gen Generator, tickets TicketAPI, contexts *ContextStore, recorder *audit.Recorder, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.RequesterDomain == "" {
		cfg.RequesterDomain = "users.geppetto.local"
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Engine{
		gen:      gen,
		tickets:  tickets,
		contexts: contexts,
		recorder: recorder,
		logger:   logger.With("component", "engine"),
		cfg:      cfg,
	}
}

// Contexts exposes the underlying store for read-side surfaces (API, sweeper).
func (e *Engine) Contexts() *ContextStore { return e.contexts }

// ContextSnapshot returns a consistent copy of the context's fields.
func (e *Engine) ContextSnapshot(c *ConversationContext) ConversationContext {
	return e.contexts.Snapshot(c)
}

// GetOrCreateContext is the adapter-facing fetch-or-create. A fresh context
// is announced with a context_created audit event.
func (e *Engine) GetOrCreateContext(userID, channelID, threadRef, conversationID string) *ConversationContext {
	c, created := e.contexts.GetOrCreate(userID, channelID, threadRef, conversationID)
	if created {
		e.emit(c, audit.EventContextCreated, "create_context", nil)
	}
	return c
}

// Process runs one turn: refresh the context, ask the model for a structured
// decision, apply any ticket directive, and report what happened. Every
// failure is recorded as an audit event and returned to the caller — the
// engine never retries and never substitutes a partial result. The chat
// adapter owns the user-visible error text.
func (e *Engine) Process(ctx context.Context, message string, c *ConversationContext) (*StructuredResponse, error) {
	e.contexts.Touch(c)

	messages := []provider.Message{
		{Role: "system", Content: e.cfg.SystemPrompt},
		{Role: "user", Content: message},
	}

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	var resp StructuredResponse
	if err := e.gen.GenerateStructured(genCtx, messages, SchemaName, ResponseSchema(), &resp); err != nil {
		e.emit(c, audit.EventProcessingError, "generate", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("support: generate decision: %w", err)
	}

	if resp.TicketDirective != nil {
		if err := e.applyDirective(ctx, c, message, resp.TicketDirective); err != nil {
			e.emit(c, audit.EventTicketError, string(resp.TicketDirective.Action), map[string]any{"error": err.Error()})
			return nil, err
		}
	}

	e.advanceState(c, resp.AgentDecision.ActionType)
	e.emit(c, audit.EventMessageProcessed, string(resp.AgentDecision.ActionType), map[string]any{
		"confidence":  resp.Confidence,
		"needs_human": resp.NeedsHumanIntervention,
	})
	return &resp, nil
}

// applyDirective drives the ticketing client for one directive. Directives
// that make no sense for the context's current ticket state (a second
// create, an update with no ticket) are skipped, not failed: the model's
// narrative answer is still worth returning to the user.
func (e *Engine) applyDirective(ctx context.Context, c *ConversationContext, message string, d *TicketDirective) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	ticketID := e.contexts.TicketOf(c)

	switch d.Action {
	case ActionCreate:
		if ticketID != 0 {
			e.logger.Debug("ticket already exists, skipping create",
				"conversation", c.ConversationID, "ticket", ticketID)
			return nil
		}

		conv := freshdesk.Conversation{
			Summary:  d.Description,
			Messages: []freshdesk.ConversationMessage{{Role: "user", Content: message}},
		}
		t, err := e.tickets.CreateTicket(callCtx, freshdesk.CreateTicketRequest{
			Subject:     d.Subject,
			Description: conv.FormatForTicket(),
			Email:       e.requesterEmail(c.UserID),
			Status:      freshdesk.Status(d.Status),
			Priority:    freshdesk.Priority(d.Priority),
			Tags:        d.Tags,
		})
		if err != nil {
			return fmt.Errorf("support: create ticket: %w", err)
		}
		e.contexts.AssignTicket(c, t.ID)
		e.emit(c, audit.EventTicketCreated, string(ActionCreate), map[string]any{"subject": d.Subject})

	case ActionUpdate:
		if ticketID == 0 {
			e.logger.Warn("update directive with no ticket, skipping", "conversation", c.ConversationID)
			return nil
		}

		var req freshdesk.UpdateTicketRequest
		if d.Status != 0 {
			s := freshdesk.Status(d.Status)
			req.Status = &s
		}
		if d.Priority != 0 {
			p := freshdesk.Priority(d.Priority)
			req.Priority = &p
		}
		if _, err := e.tickets.UpdateTicket(callCtx, ticketID, req); err != nil {
			return fmt.Errorf("support: update ticket %d: %w", ticketID, err)
		}
		e.emit(c, audit.EventTicketUpdated, string(ActionUpdate), map[string]any{
			"status":   d.Status,
			"priority": d.Priority,
		})

	case ActionResolve:
		if ticketID == 0 {
			e.logger.Warn("resolve directive with no ticket, skipping", "conversation", c.ConversationID)
			return nil
		}

		status := freshdesk.StatusResolved
		if _, err := e.tickets.UpdateTicket(callCtx, ticketID, freshdesk.UpdateTicketRequest{Status: &status}); err != nil {
			return fmt.Errorf("support: resolve ticket %d: %w", ticketID, err)
		}
		e.contexts.SetState(c, StateResolved)
		e.emit(c, audit.EventTicketUpdated, string(ActionResolve), map[string]any{"status": int(status)})

	case ActionEscalate:
		if ticketID == 0 {
			e.logger.Warn("escalate directive with no ticket, skipping", "conversation", c.ConversationID)
			return nil
		}

		priority := freshdesk.PriorityUrgent
		status := freshdesk.StatusPending
		if _, err := e.tickets.UpdateTicket(callCtx, ticketID, freshdesk.UpdateTicketRequest{Status: &status, Priority: &priority}); err != nil {
			return fmt.Errorf("support: escalate ticket %d: %w", ticketID, err)
		}
		note := "Escalated by the support engine: " + d.Reasoning
		if _, err := e.tickets.AddNote(callCtx, ticketID, note, true); err != nil {
			return fmt.Errorf("support: escalation note on ticket %d: %w", ticketID, err)
		}
		e.emit(c, audit.EventTicketUpdated, string(ActionEscalate), map[string]any{
			"status":   int(status),
			"priority": int(priority),
		})
	}
	return nil
}

// advanceState maps the model's own-action decision onto the workflow state.
// Ticket-only decisions leave the state where it is.
func (e *Engine) advanceState(c *ConversationContext, action DecisionType) {
	switch action {
	case DecisionAskQuestion:
		e.contexts.SetState(c, StateGatheringInfo)
	case DecisionProvideSolution:
		e.contexts.SetState(c, StateResolving)
	case DecisionVerifySolution:
		e.contexts.SetState(c, StateVerifying)
	case DecisionEscalate:
		e.contexts.SetState(c, StateEscalating)
	}
}

func (e *Engine) requesterEmail(userID string) string {
	if strings.Contains(userID, "@") {
		return userID
	}
	return userID + "@" + e.cfg.RequesterDomain
}

func (e *Engine) emit(c *ConversationContext, eventType, action string, details map[string]any) {
	snap := e.contexts.Snapshot(c)
	e.recorder.Emit(audit.Event{
		Type:           eventType,
		UserID:         snap.UserID,
		ChannelID:      snap.ChannelID,
		ConversationID: snap.ConversationID,
		TicketID:       snap.TicketID,
		WorkflowState:  string(snap.State),
		ActionTaken:    action,
		Details:        details,
	})
}

package support

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geppetto-io/geppetto/internal/audit"
	"github.com/geppetto-io/geppetto/internal/freshdesk"
	"github.com/geppetto-io/geppetto/internal/provider"
)

type fakeGenerator struct {
	resp *StructuredResponse
	err  error
}

func (f *fakeGenerator) GenerateStructured(_ context.Context, _ []provider.Message, _ string, _ map[string]any, out any) error {
	if f.err != nil {
		return f.err
	}
	*out.(*StructuredResponse) = *f.resp
	return nil
}

type updateCall struct {
	id  int64
	req freshdesk.UpdateTicketRequest
}

type noteCall struct {
	id      int64
	body    string
	private bool
}

type fakeTickets struct {
	creates []freshdesk.CreateTicketRequest
	updates []updateCall
	notes   []noteCall

	nextID    int64
	createErr error
	updateErr error
}

func (f *fakeTickets) CreateTicket(_ context.Context, req freshdesk.CreateTicketRequest) (*freshdesk.Ticket, error) {
	f.creates = append(f.creates, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &freshdesk.Ticket{ID: f.nextID, Subject: req.Subject}, nil
}

func (f *fakeTickets) UpdateTicket(_ context.Context, id int64, req freshdesk.UpdateTicketRequest) (*freshdesk.Ticket, error) {
	f.updates = append(f.updates, updateCall{id: id, req: req})
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &freshdesk.Ticket{ID: id}, nil
}

func (f *fakeTickets) AddNote(_ context.Context, id int64, body string, private bool) (*freshdesk.Note, error) {
	f.notes = append(f.notes, noteCall{id: id, body: body, private: private})
	return &freshdesk.Note{ID: 1, Body: body, Private: private}, nil
}

type testEngine struct {
	engine  *Engine
	tickets *fakeTickets
	buf     *audit.Buffer
}

func newTestEngine(t *testing.T, gen Generator, tickets TicketAPI) testEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	buf := audit.NewBuffer(64)
	rec := audit.NewRecorder(logger, buf)

	ft, _ := tickets.(*fakeTickets)
	return testEngine{
		engine:  NewEngine(gen, tickets, NewContextStore(), rec, logger, EngineConfig{CallTimeout: 5 * time.Second}),
		tickets: ft,
		buf:     buf,
	}
}

func (te testEngine) events(eventType string) []audit.Event {
	return te.buf.Query(audit.Filter{Type: eventType})
}

func TestProcess_NoDirective(t *testing.T) {
	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding: "connectivity issue",
		Solution:      "restart the router",
		Confidence:    0.92,
		AgentDecision: AgentDecision{ActionType: DecisionProvideSolution, Reasoning: "common fix", Confidence: 0.92},
	}}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	resp, err := te.engine.Process(context.Background(), "I can't connect to the internet", c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TicketDirective != nil {
		t.Error("expected no ticket directive")
	}
	if got := te.engine.Contexts().TicketOf(c); got != 0 {
		t.Errorf("ticket_id must remain unset, got %d", got)
	}
	if len(te.tickets.creates) != 0 {
		t.Error("no ticketing call should occur without a directive")
	}
	if events := te.events(audit.EventMessageProcessed); len(events) != 1 {
		t.Fatalf("expected one message_processed event, got %d", len(events))
	} else if events[0].ActionTaken != string(DecisionProvideSolution) {
		t.Errorf("unexpected action: %q", events[0].ActionTaken)
	}
	if te.engine.Contexts().Snapshot(c).State != StateResolving {
		t.Errorf("expected resolving state, got %q", te.engine.Contexts().Snapshot(c).State)
	}
}

func TestProcess_CreateDirective(t *testing.T) {
	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding: "network issue",
		Confidence:    0.7,
		TicketDirective: &TicketDirective{
			Action:      ActionCreate,
			Subject:     "Network issue",
			Description: "User cannot reach the internet",
			Priority:    1,
			Reasoning:   "needs tracking",
		},
		AgentDecision: AgentDecision{ActionType: DecisionCreateTicket, Reasoning: "open a case", Confidence: 0.7},
	}}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 555})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	if _, err := te.engine.Process(context.Background(), "my network is down", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(te.tickets.creates) != 1 {
		t.Fatalf("expected one create call, got %d", len(te.tickets.creates))
	}
	create := te.tickets.creates[0]
	if create.Subject != "Network issue" || create.Priority != freshdesk.PriorityLow {
		t.Errorf("unexpected create request: %+v", create)
	}
	if !strings.Contains(create.Description, "my network is down") {
		t.Errorf("description should carry the conversation, got %q", create.Description)
	}
	if create.Email != "U1@users.geppetto.local" {
		t.Errorf("unexpected requester email: %q", create.Email)
	}

	if got := te.engine.Contexts().TicketOf(c); got != 555 {
		t.Errorf("expected ticket 555 on the context, got %d", got)
	}
	if events := te.events(audit.EventTicketCreated); len(events) != 1 || events[0].TicketID != 555 {
		t.Errorf("expected one ticket_created event for 555, got %v", events)
	}
}

func TestProcess_CreateIsIdempotent(t *testing.T) {
	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding: "same issue again",
		Confidence:    0.7,
		TicketDirective: &TicketDirective{
			Action: ActionCreate, Subject: "s", Description: "d", Reasoning: "r",
		},
		AgentDecision: AgentDecision{ActionType: DecisionUpdateTicket, Reasoning: "r", Confidence: 0.7},
	}}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	te.engine.Contexts().AssignTicket(c, 12345)

	if _, err := te.engine.Process(context.Background(), "still broken", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(te.tickets.creates) != 0 {
		t.Error("create must be skipped when the context already has a ticket")
	}
	if got := te.engine.Contexts().TicketOf(c); got != 12345 {
		t.Errorf("ticket ID changed: %d", got)
	}
}

func TestProcess_UpdateDirective(t *testing.T) {
	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding: "progress update",
		Confidence:    0.8,
		TicketDirective: &TicketDirective{
			Action: ActionUpdate, Status: 3, Priority: 2, Reasoning: "waiting on user",
		},
		AgentDecision: AgentDecision{ActionType: DecisionUpdateTicket, Reasoning: "r", Confidence: 0.8},
	}}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	te.engine.Contexts().AssignTicket(c, 12345)

	if _, err := te.engine.Process(context.Background(), "any news?", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(te.tickets.creates) != 0 {
		t.Error("no create call expected")
	}
	if len(te.tickets.updates) != 1 {
		t.Fatalf("expected one update call, got %d", len(te.tickets.updates))
	}
	up := te.tickets.updates[0]
	if up.id != 12345 {
		t.Errorf("expected update for ticket 12345, got %d", up.id)
	}
	if up.req.Status == nil || *up.req.Status != freshdesk.StatusPending {
		t.Errorf("expected status pending, got %v", up.req.Status)
	}
	if up.req.Priority == nil || *up.req.Priority != freshdesk.PriorityMedium {
		t.Errorf("expected priority medium, got %v", up.req.Priority)
	}
	if events := te.events(audit.EventTicketUpdated); len(events) != 1 {
		t.Errorf("expected one ticket_updated event, got %d", len(events))
	}
}

func TestProcess_UpdateWithoutTicketIsSkipped(t *testing.T) {
	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding: "update request",
		Confidence:    0.8,
		TicketDirective: &TicketDirective{
			Action: ActionUpdate, Status: 3, Reasoning: "r",
		},
		AgentDecision: AgentDecision{ActionType: DecisionUpdateTicket, Reasoning: "r", Confidence: 0.8},
	}}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	if _, err := te.engine.Process(context.Background(), "hi", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(te.tickets.updates) != 0 {
		t.Error("update must be skipped without a ticket")
	}
}

func TestProcess_ResolveDirective(t *testing.T) {
	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding: "issue fixed",
		Confidence:    0.95,
		TicketDirective: &TicketDirective{
			Action: ActionResolve, Reasoning: "user confirmed the fix",
		},
		AgentDecision: AgentDecision{ActionType: DecisionVerifySolution, Reasoning: "r", Confidence: 0.95},
	}}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	te.engine.Contexts().AssignTicket(c, 99)

	if _, err := te.engine.Process(context.Background(), "it works now, thanks", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(te.tickets.updates) != 1 {
		t.Fatalf("expected one update call, got %d", len(te.tickets.updates))
	}
	up := te.tickets.updates[0]
	if up.req.Status == nil || *up.req.Status != freshdesk.StatusResolved {
		t.Errorf("expected status resolved, got %v", up.req.Status)
	}
	if te.engine.Contexts().Snapshot(c).State != StateResolved {
		t.Error("expected the context to move to resolved")
	}
}

func TestProcess_EscalateDirective(t *testing.T) {
	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding:          "major outage",
		NeedsHumanIntervention: true,
		Confidence:             0.99,
		TicketDirective: &TicketDirective{
			Action: ActionEscalate, Reasoning: "entire floor affected",
		},
		AgentDecision: AgentDecision{ActionType: DecisionEscalate, Reasoning: "r", Confidence: 0.99},
	}}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	te.engine.Contexts().AssignTicket(c, 321)

	if _, err := te.engine.Process(context.Background(), "everyone is offline", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(te.tickets.updates) != 1 {
		t.Fatalf("expected one update call, got %d", len(te.tickets.updates))
	}
	up := te.tickets.updates[0]
	if up.req.Priority == nil || *up.req.Priority != freshdesk.PriorityUrgent {
		t.Errorf("expected urgent priority, got %v", up.req.Priority)
	}
	if up.req.Status == nil || *up.req.Status != freshdesk.StatusPending {
		t.Errorf("expected pending status, got %v", up.req.Status)
	}

	if len(te.tickets.notes) != 1 {
		t.Fatalf("expected one escalation note, got %d", len(te.tickets.notes))
	}
	note := te.tickets.notes[0]
	if !note.private || !strings.Contains(note.body, "entire floor affected") {
		t.Errorf("unexpected note: %+v", note)
	}
	if te.engine.Contexts().Snapshot(c).State != StateEscalating {
		t.Error("expected the context to move to escalating")
	}
}

func TestProcess_GenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	te := newTestEngine(t, gen, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	_, err := te.engine.Process(context.Background(), "help", c)
	if err == nil {
		t.Fatal("expected the generation error to surface")
	}
	if len(te.tickets.creates) != 0 || len(te.tickets.updates) != 0 {
		t.Error("no ticket action may be attempted after a generation failure")
	}
	if events := te.events(audit.EventProcessingError); len(events) != 1 {
		t.Errorf("expected one processing_error event, got %d", len(events))
	}
	if events := te.events(audit.EventMessageProcessed); len(events) != 0 {
		t.Error("failed turns must not log message_processed")
	}
}

// Exhausted rate-limit retries surface as a ticket_error with the context
// untouched. Uses the real ticketing client against a stubbed backend.
func TestProcess_RateLimitSurfacesTicketError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := freshdesk.New("example", "key",
		freshdesk.WithBaseURL(srv.URL),
		freshdesk.WithRetryPolicy(freshdesk.RetryPolicy{
			MaxAttempts: 3,
			Multiplier:  time.Millisecond,
			MinWait:     time.Millisecond,
			MaxWait:     2 * time.Millisecond,
		}),
		freshdesk.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	gen := &fakeGenerator{resp: &StructuredResponse{
		Understanding: "network issue",
		Confidence:    0.7,
		TicketDirective: &TicketDirective{
			Action: ActionCreate, Subject: "s", Description: "d", Reasoning: "r",
		},
		AgentDecision: AgentDecision{ActionType: DecisionCreateTicket, Reasoning: "r", Confidence: 0.7},
	}}
	te := newTestEngine(t, gen, client)

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	_, err := te.engine.Process(context.Background(), "broken", c)
	if err == nil {
		t.Fatal("expected the rate-limit error to surface")
	}

	var apiErr *freshdesk.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != freshdesk.KindRateLimit {
		t.Errorf("expected a rate-limit APIError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if got := te.engine.Contexts().TicketOf(c); got != 0 {
		t.Errorf("ticket_id must stay unset after the failure, got %d", got)
	}
	if events := te.events(audit.EventTicketError); len(events) != 1 {
		t.Errorf("expected one ticket_error event, got %d", len(events))
	}
}

func TestGetOrCreateContext_EmitsAuditEvent(t *testing.T) {
	te := newTestEngine(t, &fakeGenerator{resp: validResponse()}, &fakeTickets{nextID: 1})

	c := te.engine.GetOrCreateContext("U1", "C1", "T1", "")
	te.engine.GetOrCreateContext("U1", "C1", "T1", c.ConversationID)

	if events := te.events(audit.EventContextCreated); len(events) != 1 {
		t.Errorf("expected exactly one context_created event, got %d", len(events))
	}
}

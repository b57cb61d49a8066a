package support

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkflowState tracks where a conversation sits in the support flow.
type WorkflowState string

const (
	StateInitial       WorkflowState = "initial"
	StateGatheringInfo WorkflowState = "gathering_info"
	StateAnalyzing     WorkflowState = "analyzing"
	StateResolving     WorkflowState = "resolving"
	StateVerifying     WorkflowState = "verifying"
	StateEscalating    WorkflowState = "escalating"
	StateResolved      WorkflowState = "resolved"
	StateClosed        WorkflowState = "closed"
)

// Terminal reports whether the state ends the workflow.
func (s WorkflowState) Terminal() bool {
	return s == StateResolved || s == StateClosed
}

// ConversationContext is the per-conversation state container. Identifying
// fields are immutable after creation; ticket_id transitions once from unset
// to set and is never cleared. Mutations of shared fields go through the
// ContextStore so the sweeper and API never observe a torn write.
type ConversationContext struct {
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	ChannelID      string            `json:"channel_id"`
	ThreadRef      string            `json:"thread_ref,omitempty"`
	TicketID       int64             `json:"ticket_id,omitempty"`
	State          WorkflowState     `json:"state"`
	LastUpdated    time.Time         `json:"last_updated"`
	Category       string            `json:"category,omitempty"`
	Urgency        string            `json:"urgency,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	GatheredInfo   map[string]string `json:"gathered_info,omitempty"`
	MissingInfo    []string          `json:"missing_info,omitempty"`
}

// ContextStore is the in-memory registry of conversation contexts, keyed by
// conversation ID and indexed by (channel, thread) so repeated messages in
// one thread land on the same context without the caller tracking IDs.
type ContextStore struct {
	mu        sync.RWMutex
	byID      map[string]*ConversationContext
	bySurface map[string]*ConversationContext
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{
		byID:      make(map[string]*ConversationContext),
		bySurface: make(map[string]*ConversationContext),
	}
}

func surfaceKey(channelID, threadRef string) string {
	return channelID + "\x00" + threadRef
}

// GetOrCreate returns the context for the given identity, creating one if
// neither the conversation ID nor the (channel, thread) surface is known.
// Creation is serialized under the store lock so two concurrent first
// messages for one thread cannot produce divergent contexts. The second
// return value reports whether a new context was created.
func (s *ContextStore) GetOrCreate(userID, channelID, threadRef, conversationID string) (*ConversationContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID != "" {
		if c, ok := s.byID[conversationID]; ok {
			return c, false
		}
	}

	key := surfaceKey(channelID, threadRef)
	if c, ok := s.bySurface[key]; ok {
		return c, false
	}

	c := &ConversationContext{
		ConversationID: uuid.NewString(),
		UserID:         userID,
		ChannelID:      channelID,
		ThreadRef:      threadRef,
		State:          StateInitial,
		LastUpdated:    time.Now(),
		GatheredInfo:   make(map[string]string),
	}
	s.byID[c.ConversationID] = c
	s.bySurface[key] = c
	return c, true
}

// Get returns a context by conversation ID.
func (s *ContextStore) Get(conversationID string) (*ConversationContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[conversationID]
	return c, ok
}

// Touch refreshes the context's last-updated timestamp.
func (s *ContextStore) Touch(c *ConversationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.LastUpdated = time.Now()
}

// TicketOf returns the context's ticket ID, zero when no ticket exists yet.
func (s *ContextStore) TicketOf(c *ConversationContext) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.TicketID
}

// AssignTicket records the external ticket ID on the context. A ticket ID
// already present is never overwritten.
func (s *ContextStore) AssignTicket(c *ConversationContext, ticketID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.TicketID == 0 {
		c.TicketID = ticketID
	}
}

// SetState moves the context to a new workflow state.
func (s *ContextStore) SetState(c *ConversationContext, state WorkflowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.State = state
}

// Snapshot returns a copy of the context's current fields, safe to read
// without further synchronization.
func (s *ContextStore) Snapshot(c *ConversationContext) ConversationContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *c
}

// List returns copies of all contexts in the store.
func (s *ContextStore) List() []ConversationContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConversationContext, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, *c)
	}
	return out
}

// Len returns the number of contexts in the store.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Sweep removes contexts idle for longer than maxIdle and returns copies of
// the evicted ones. A context in a non-terminal state with an open ticket is
// kept regardless of age so an active case never loses its state.
func (s *ContextStore) Sweep(maxIdle time.Duration) []ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	var evicted []ConversationContext
	for id, c := range s.byID {
		if c.LastUpdated.After(cutoff) {
			continue
		}
		if c.TicketID != 0 && !c.State.Terminal() {
			continue
		}
		delete(s.byID, id)
		delete(s.bySurface, surfaceKey(c.ChannelID, c.ThreadRef))
		evicted = append(evicted, *c)
	}
	return evicted
}

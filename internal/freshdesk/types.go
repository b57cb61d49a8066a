package freshdesk

import (
	"fmt"
	"strings"
	"time"
)

// Status is a Freshdesk ticket status code.
type Status int

const (
	StatusOpen     Status = 2
	StatusPending  Status = 3
	StatusResolved Status = 4
	StatusClosed   Status = 5
)

// Priority is a Freshdesk ticket priority level.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Ticket mirrors a Freshdesk ticket as returned by the API. The engine keeps
// nothing from it beyond the ID it stores on the conversation context.
type Ticket struct {
	ID           int64          `json:"id"`
	Subject      string         `json:"subject"`
	Description  string         `json:"description"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority"`
	RequesterID  int64          `json:"requester_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Tags         []string       `json:"tags"`
	CustomFields map[string]any `json:"custom_fields"`
}

// Note is a ticket note (reply or private comment).
type Note struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Private   bool      `json:"private"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment describes an uploaded file.
type Attachment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Conversation is a transcript destined for a ticket description.
type Conversation struct {
	Summary  string
	Messages []ConversationMessage
}

// ConversationMessage is one turn of a conversation transcript.
type ConversationMessage struct {
	Role    string
	Content string
}

// FormatForTicket renders the conversation as Markdown for a ticket body.
func (c Conversation) FormatForTicket() string {
	var b strings.Builder
	if c.Summary != "" {
		b.WriteString("# Issue Summary\n")
		b.WriteString(c.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("# Conversation History\n")
	for _, m := range c.Messages {
		fmt.Fprintf(&b, "[%s]: %s\n", m.Role, m.Content)
	}
	return b.String()
}

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/geppetto-io/geppetto/internal/support"
)

// Engine is the support engine boundary chat adapters drive. Adapters own
// rendering and all user-visible error text; the engine owns the decision.
type Engine interface {
	GetOrCreateContext(userID, channelID, threadRef, conversationID string) *support.ConversationContext
	Process(ctx context.Context, message string, c *support.ConversationContext) (*support.StructuredResponse, error)
	ContextSnapshot(c *support.ConversationContext) support.ConversationContext
}

// Connector is the interface for chat platforms (Slack, Telegram, etc.).
type Connector interface {
	// Name returns the connector type (e.g., "slack", "telegram").
	Name() string
	// Start begins listening for inbound messages. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// Apology is the shared user-visible text for a failed turn.
const Apology = "Sorry, something went wrong while handling your message. Please try again in a moment."

// RenderText renders a structured response as plain text, shared by
// connectors without a richer format of their own.
func RenderText(resp *support.StructuredResponse, ticketID int64) string {
	var b strings.Builder

	if resp.Solution != "" {
		b.WriteString(resp.Solution)
	} else {
		b.WriteString(resp.Understanding)
	}

	if len(resp.FollowUpQuestions) > 0 {
		b.WriteString("\n\nTo help further, could you answer:\n")
		for i, q := range resp.FollowUpQuestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}

	if resp.NeedsHumanIntervention {
		b.WriteString("\nI've flagged this for a human specialist.")
	}
	if ticketID != 0 {
		fmt.Fprintf(&b, "\nTicket #%d is tracking this issue.", ticketID)
	}

	return strings.TrimSpace(b.String())
}

package telegram

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/geppetto-io/geppetto/internal/support"
)

// RenderHTML renders a structured response as a Telegram HTML message:
// the answer, follow-up questions, and a ticket footer.
func RenderHTML(resp *support.StructuredResponse, ticketID int64) string {
	var b strings.Builder

	body := resp.Solution
	if body == "" {
		body = resp.Understanding
	}
	b.WriteString(escapeHTML(body))

	if len(resp.FollowUpQuestions) > 0 {
		b.WriteString("\n\n<b>To help further, could you answer:</b>\n")
		for i, q := range resp.FollowUpQuestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, escapeHTML(q))
		}
	}

	if resp.NeedsHumanIntervention {
		b.WriteString("\n<i>I've flagged this for a human specialist.</i>")
	}
	if ticketID != 0 {
		fmt.Fprintf(&b, "\n<i>Ticket #%d is tracking this issue.</i>", ticketID)
	}

	return strings.TrimSpace(b.String())
}

var reTag = regexp.MustCompile(`</?(b|i|code|pre|a)(\s[^>]*)?>`)

// stripHTML drops the formatting tags RenderHTML emits, for the plain-text
// fallback when Telegram rejects the HTML variant.
func stripHTML(s string) string {
	s = reTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	return s
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

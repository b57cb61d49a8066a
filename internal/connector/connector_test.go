package connector

import (
	"strings"
	"testing"

	"github.com/geppetto-io/geppetto/internal/support"
)

func TestRenderText(t *testing.T) {
	resp := &support.StructuredResponse{
		Understanding:          "email sync broken",
		Solution:               "Re-add the account in settings",
		FollowUpQuestions:      []string{"Which mail client?"},
		NeedsHumanIntervention: true,
		Confidence:             0.7,
	}

	out := RenderText(resp, 9)
	for _, want := range []string{
		"Re-add the account in settings",
		"1. Which mail client?",
		"human specialist",
		"Ticket #9",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestRenderText_UnderstandingOnly(t *testing.T) {
	resp := &support.StructuredResponse{Understanding: "looking into it", Confidence: 0.4}

	out := RenderText(resp, 0)
	if out != "looking into it" {
		t.Errorf("unexpected output: %q", out)
	}
}

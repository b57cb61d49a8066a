package support

import "fmt"

// SchemaName identifies the structured response schema to model backends.
const SchemaName = "support_response"

// TicketAction is the requested ticket-lifecycle action for one turn.
type TicketAction string

const (
	ActionCreate   TicketAction = "create"
	ActionUpdate   TicketAction = "update"
	ActionResolve  TicketAction = "resolve"
	ActionEscalate TicketAction = "escalate"
)

// DecisionType is the action the engine itself should take next.
type DecisionType string

const (
	DecisionCreateTicket    DecisionType = "create_ticket"
	DecisionUpdateTicket    DecisionType = "update_ticket"
	DecisionAskQuestion     DecisionType = "ask_question"
	DecisionProvideSolution DecisionType = "provide_solution"
	DecisionEscalate        DecisionType = "escalate"
	DecisionVerifySolution  DecisionType = "verify_solution"
)

// TicketDirective is the model's instruction to act on a ticket.
type TicketDirective struct {
	Action      TicketAction `json:"action"`
	Priority    int          `json:"priority,omitempty"` // 1-4, zero when absent
	Status      int          `json:"status,omitempty"`   // backend status code, zero when absent
	Subject     string       `json:"subject,omitempty"`
	Description string       `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Reasoning   string       `json:"reasoning"`
	NextSteps   []string     `json:"next_steps,omitempty"`
}

// Validate checks field constraints before any side effect occurs.
func (d *TicketDirective) Validate() error {
	switch d.Action {
	case ActionCreate, ActionUpdate, ActionResolve, ActionEscalate:
	default:
		return fmt.Errorf("ticket directive: unknown action %q", d.Action)
	}
	if d.Priority != 0 && (d.Priority < 1 || d.Priority > 4) {
		return fmt.Errorf("ticket directive: priority %d out of range [1, 4]", d.Priority)
	}
	if d.Reasoning == "" {
		return fmt.Errorf("ticket directive: reasoning must not be empty")
	}
	if d.Action == ActionCreate {
		if d.Subject == "" {
			return fmt.Errorf("ticket directive: subject is required for create")
		}
		if d.Description == "" {
			return fmt.Errorf("ticket directive: description is required for create")
		}
	}
	return nil
}

// AgentDecision is the model's instruction for the engine's own next action.
type AgentDecision struct {
	ActionType DecisionType   `json:"action_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence"`
}

// Validate checks the action enum and confidence bounds.
func (d *AgentDecision) Validate() error {
	switch d.ActionType {
	case DecisionCreateTicket, DecisionUpdateTicket, DecisionAskQuestion,
		DecisionProvideSolution, DecisionEscalate, DecisionVerifySolution:
	default:
		return fmt.Errorf("agent decision: unknown action_type %q", d.ActionType)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("agent decision: confidence %v out of range [0, 1]", d.Confidence)
	}
	return nil
}

// StructuredResponse is the full model output for one processed message.
type StructuredResponse struct {
	Understanding          string           `json:"understanding"`
	Solution               string           `json:"solution,omitempty"`
	NeedsHumanIntervention bool             `json:"needs_human_intervention"`
	Confidence             float64          `json:"confidence"`
	FollowUpQuestions      []string         `json:"follow_up_questions,omitempty"`
	TicketDirective        *TicketDirective `json:"ticket_directive,omitempty"`
	AgentDecision          AgentDecision    `json:"agent_decision"`
}

// Validate checks the whole response tree. The router calls this on every
// decoded response, so invalid model output never reaches the engine.
func (r *StructuredResponse) Validate() error {
	if r.Understanding == "" {
		return fmt.Errorf("structured response: understanding must not be empty")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("structured response: confidence %v out of range [0, 1]", r.Confidence)
	}
	if err := r.AgentDecision.Validate(); err != nil {
		return err
	}
	if r.TicketDirective != nil {
		if err := r.TicketDirective.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResponseSchema returns the JSON Schema document model backends must
// satisfy when producing a StructuredResponse.
func ResponseSchema() map[string]any {
	stringArray := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"understanding": map[string]any{
				"type":        "string",
				"description": "Summary of the user's issue as understood.",
			},
			"solution": map[string]any{
				"type":        []string{"string", "null"},
				"description": "Proposed fix, if one exists.",
			},
			"needs_human_intervention": map[string]any{"type": "boolean"},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"follow_up_questions": stringArray,
			"ticket_directive": map[string]any{
				"type": []string{"object", "null"},
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"create", "update", "resolve", "escalate"},
					},
					"priority": map[string]any{
						"type":    []string{"integer", "null"},
						"minimum": 1,
						"maximum": 4,
					},
					"status": map[string]any{
						"type":        []string{"integer", "null"},
						"description": "Ticket status code: 2=open, 3=pending, 4=resolved, 5=closed.",
					},
					"subject":     map[string]any{"type": []string{"string", "null"}},
					"description": map[string]any{"type": []string{"string", "null"}},
					"tags":        stringArray,
					"reasoning":   map[string]any{"type": "string"},
					"next_steps":  stringArray,
				},
				"required": []string{
					"action", "priority", "status", "subject",
					"description", "tags", "reasoning", "next_steps",
				},
				"additionalProperties": false,
			},
			"agent_decision": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action_type": map[string]any{
						"type": "string",
						"enum": []string{
							"create_ticket", "update_ticket", "ask_question",
							"provide_solution", "escalate", "verify_solution",
						},
					},
					"parameters": map[string]any{
						"type": []string{"object", "null"},
					},
					"reasoning": map[string]any{"type": "string"},
					"confidence": map[string]any{
						"type":    "number",
						"minimum": 0,
						"maximum": 1,
					},
				},
				"required":             []string{"action_type", "parameters", "reasoning", "confidence"},
				"additionalProperties": false,
			},
		},
		"required": []string{
			"understanding", "solution", "needs_human_intervention",
			"confidence", "follow_up_questions", "ticket_directive",
			"agent_decision",
		},
		"additionalProperties": false,
	}
}

package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/geppetto-io/geppetto/internal/connector"
	"github.com/geppetto-io/geppetto/internal/support"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
}

// Connector listens for Slack messages via Socket Mode and replies in-thread
// with the engine's structured decision rendered as Block Kit blocks.
type Connector struct {
	api    *slack.Client
	socket *socketmode.Client
	config Config
	engine connector.Engine
	logger *slog.Logger
	cancel context.CancelFunc
	botID  string
}

// New creates a new Slack connector.
func New(cfg Config, engine connector.Engine, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	// Test auth and get bot user ID
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:    api,
		socket: socketmode.New(api),
		config: cfg,
		engine: engine,
		logger: logger.With("component", "slack"),
		botID:  authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			if event.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			c.socket.Ack(*event.Request)

			switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				c.handleMessage(ctx, ev)
			case *slackevents.AppMentionEvent:
				c.handleMention(ctx, ev)
			}
		}
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages (including our own)
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID {
		return
	}
	// Ignore message subtypes (edits, deletes, etc.)
	if ev.SubType != "" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) {
		return
	}
	if ev.Text == "" {
		return
	}

	c.process(ctx, ev.User, ev.Channel, threadRef(ev.ThreadTimeStamp, ev.TimeStamp), ev.Text)
}

func (c *Connector) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == c.botID {
		return
	}

	text := StripMention(ev.Text, c.botID)
	if text == "" {
		return
	}

	c.process(ctx, ev.User, ev.Channel, threadRef(ev.ThreadTimeStamp, ev.TimeStamp), text)
}

// threadRef picks the thread root so every reply in a thread lands on the
// same conversation. A top-level message starts a thread rooted at itself.
func threadRef(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

// process runs one turn through the engine and posts the rendered decision
// back into the thread. Failures get an in-thread apology; the engine has
// already audited the cause.
func (c *Connector) process(ctx context.Context, userID, channelID, threadTS, text string) {
	cc := c.engine.GetOrCreateContext(userID, channelID, threadTS, "")

	resp, err := c.engine.Process(ctx, text, cc)
	if err != nil {
		c.logger.Error("message processing failed",
			"channel", channelID,
			"user", userID,
			"error", err,
		)
		c.post(channelID, threadTS, slack.MsgOptionText(connector.Apology, false))
		return
	}

	ticketID := c.engine.ContextSnapshot(cc).TicketID
	blocks := ResponseBlocks(resp, ticketID)
	c.post(channelID, threadTS,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(connector.RenderText(resp, ticketID), false),
	)
}

func (c *Connector) post(channelID, threadTS string, opts ...slack.MsgOption) {
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := c.api.PostMessage(channelID, opts...); err != nil {
		c.logger.Error("slack post failed", "channel", channelID, "error", err)
	}
}

func (c *Connector) isAllowedChannel(channel string) bool {
	if len(c.config.Channels) == 0 {
		return true
	}
	for _, ch := range c.config.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// ResponseBlocks renders a structured response as Block Kit blocks:
// the answer, follow-up questions, and a ticket footer.
func ResponseBlocks(resp *support.StructuredResponse, ticketID int64) []slack.Block {
	var blocks []slack.Block

	body := resp.Solution
	if body == "" {
		body = resp.Understanding
	}
	blocks = append(blocks, slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, body, false, false),
		nil, nil,
	))

	if len(resp.FollowUpQuestions) > 0 {
		var b strings.Builder
		b.WriteString("*To help further, could you answer:*\n")
		for _, q := range resp.FollowUpQuestions {
			b.WriteString("• " + q + "\n")
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.TrimSpace(b.String()), false, false),
			nil, nil,
		))
	}

	var footer []string
	if ticketID != 0 {
		footer = append(footer, fmt.Sprintf(":ticket: Ticket #%d", ticketID))
	}
	if resp.NeedsHumanIntervention {
		footer = append(footer, ":raising_hand: Flagged for a human specialist")
	}
	if len(footer) > 0 {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(footer, " · "), false, false),
		))
	}

	return blocks
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}

package support

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/geppetto-io/geppetto/internal/audit"
)

// Sweeper evicts idle conversation contexts on a cron schedule so the store
// does not grow without bound.
type Sweeper struct {
	cron     *cron.Cron
	store    *ContextStore
	recorder *audit.Recorder
	maxIdle  time.Duration
	logger   *slog.Logger
}

// NewSweeper registers the sweep on the given cron schedule (standard 5-field
// expression or a predefined one like "@every 15m").
func NewSweeper(store *ContextStore, recorder *audit.Recorder, schedule string, maxIdle time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		cron:     cron.New(),
		store:    store,
		recorder: recorder,
		maxIdle:  maxIdle,
		logger:   logger.With("component", "sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule. Blocks until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("sweeper started", "max_idle", s.maxIdle.String())

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("sweeper stopped")
	return ctx.Err()
}

func (s *Sweeper) sweep() {
	evicted := s.store.Sweep(s.maxIdle)
	for _, c := range evicted {
		s.recorder.Emit(audit.Event{
			Type:           audit.EventContextEvicted,
			UserID:         c.UserID,
			ChannelID:      c.ChannelID,
			ConversationID: c.ConversationID,
			TicketID:       c.TicketID,
			WorkflowState:  string(c.State),
			ActionTaken:    "evict",
			Details:        map[string]any{"idle_since": c.LastUpdated.Format(time.RFC3339)},
		})
	}
	if len(evicted) > 0 {
		s.logger.Info("contexts evicted", "count", len(evicted), "remaining", s.store.Len())
	}
}

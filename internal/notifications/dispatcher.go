package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/officeflow/officeflow/internal/models"
)

// HolderLookup lists the users bound to any of the named roles.
type HolderLookup interface {
	Holders(ctx context.Context, roleNames ...string) ([]int64, error)
}

// Trigger describes something that happened to a ticket.
type Trigger struct {
	Event       string
	TicketID    int64
	TicketTitle string
	StepID      string
	AssigneeID  *int64
	ActorID     int64
	At          time.Time
}

// Dispatcher matches triggers against notification rules and hands one
// notification per channel to the notifier registered for it.
type Dispatcher struct {
	holders  HolderLookup
	channels map[string]Notifier
	fallback Notifier
	logger   *zap.Logger
	newID    func() string
}

// NewDispatcher creates a dispatcher. Channels without a registered notifier
// go to fallback; a nil fallback drops them with a debug log.
func NewDispatcher(holders HolderLookup, fallback Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		holders:  holders,
		channels: make(map[string]Notifier),
		fallback: fallback,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Register routes a channel to n.
func (d *Dispatcher) Register(channel string, n Notifier) {
	d.channels[channel] = n
}

// Dispatch sends notifications for every rule matching trig.Event and
// returns how many were delivered. Failures are logged and skipped: the
// change that caused them is already committed.
func (d *Dispatcher) Dispatch(ctx context.Context, rules []models.NotificationRule, trig Trigger) int {
	sent := 0
	for _, rule := range rules {
		if rule.Event != trig.Event {
			continue
		}
		recipients, err := d.holders.Holders(ctx, rule.NotifyRoles...)
		if err != nil {
			d.logger.Warn("resolve notification recipients",
				zap.Int64("ticket_id", trig.TicketID),
				zap.Strings("roles", rule.NotifyRoles),
				zap.Error(err))
			continue
		}
		if len(recipients) == 0 {
			continue
		}
		for _, channel := range rule.Channels {
			n := Notification{
				ID:          d.newID(),
				Event:       trig.Event,
				Channel:     channel,
				TicketID:    trig.TicketID,
				TicketTitle: trig.TicketTitle,
				StepID:      trig.StepID,
				AssigneeID:  trig.AssigneeID,
				ActorID:     trig.ActorID,
				Recipients:  recipients,
				OccurredAt:  trig.At,
			}
			notifier, ok := d.channels[channel]
			if !ok {
				notifier = d.fallback
			}
			if notifier == nil {
				d.logger.Debug("no notifier for channel", zap.String("channel", channel))
				continue
			}
			if err := notifier.Notify(ctx, n); err != nil {
				d.logger.Warn("notification delivery failed",
					zap.String("channel", channel),
					zap.String("event", trig.Event),
					zap.Int64("ticket_id", trig.TicketID),
					zap.Error(err))
				continue
			}
			sent++
		}
	}
	return sent
}

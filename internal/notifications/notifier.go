// Package notifications routes workflow events to users through the
// notification rules frozen in each ticket.
package notifications

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notification is one message on one channel to a set of users.
type Notification struct {
	ID          string    `json:"id"`
	Event       string    `json:"event"`
	Channel     string    `json:"channel"`
	TicketID    int64     `json:"ticket_id"`
	TicketTitle string    `json:"ticket_title"`
	StepID      string    `json:"step_id,omitempty"`
	AssigneeID  *int64    `json:"assignee_id,omitempty"`
	ActorID     int64     `json:"actor_id"`
	Recipients  []int64   `json:"recipients"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier delivers notifications on one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// MemoryNotifier keeps delivered notifications per recipient until consumed.
type MemoryNotifier struct {
	mu    sync.Mutex
	inbox map[int64][]Notification
}

// NewMemoryNotifier creates an empty in-memory inbox.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{inbox: make(map[int64][]Notification)}
}

// Notify implements Notifier.
func (m *MemoryNotifier) Notify(_ context.Context, n Notification) error {
	if len(n.Recipients) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range n.Recipients {
		if uid <= 0 {
			continue
		}
		m.inbox[uid] = append(m.inbox[uid], n)
	}
	return nil
}

// Consume returns and clears the notifications of a user.
func (m *MemoryNotifier) Consume(userID int64) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.inbox[userID]
	delete(m.inbox, userID)
	if len(list) == 0 {
		return nil
	}
	out := make([]Notification, len(list))
	copy(out, list)
	return out
}

// LogNotifier writes notifications to a structured log. It stands in for
// channels without a real transport.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info("notification",
		zap.String("id", n.ID),
		zap.String("event", n.Event),
		zap.String("channel", n.Channel),
		zap.Int64("ticket_id", n.TicketID),
		zap.String("step_id", n.StepID),
		zap.Int64s("recipients", n.Recipients),
	)
	return nil
}

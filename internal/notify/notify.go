// Package notify hands event changes to the mail/push worker. Delivery is
// fire-and-forget: a failed publish is logged and dropped, and never fails
// or rolls back the event mutation that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"log"

	"opkomst/internal/queue"
	"opkomst/internal/roster"
)

// MessageType is the queue message type for event-change notifications.
const MessageType = "event-change"

// Change describes what happened to an event, for the worker to fan out.
type Change struct {
	Kind    string `json:"kind"` // created, updated, deleted
	EventID string `json:"eventId"`
	Title   string `json:"title"`
	Start   string `json:"start"`
}

// Dispatcher publishes event changes onto the notification queue.
type Dispatcher struct {
	q queue.Queue
}

// NewDispatcher wraps a queue backend.
func NewDispatcher(q queue.Queue) *Dispatcher {
	return &Dispatcher{q: q}
}

// EventChanged publishes a change notification. Errors are logged, not returned.
func (d *Dispatcher) EventChanged(ctx context.Context, kind string, e roster.Event) {
	if d == nil || d.q == nil {
		return
	}
	body, err := json.Marshal(Change{
		Kind:    kind,
		EventID: e.ID,
		Title:   e.Title,
		Start:   e.Start.Format("2006-01-02"),
	})
	if err != nil {
		log.Printf("notify: encode change for %s failed: %v", e.ID, err)
		return
	}
	if err := d.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		log.Printf("notify: publish change for %s failed: %v", e.ID, err)
	}
}

// Transport delivers a change to members over one channel (mail, push).
// Implementations live at the worker; failures are logged there and never
// retried.
type Transport interface {
	Send(ctx context.Context, change Change, recipients []roster.User) error
}

// LogTransport writes deliveries to the process log. Stands in for the real
// mail and push senders in dev.
type LogTransport struct {
	Name string
}

// Send logs the would-be delivery.
func (t LogTransport) Send(ctx context.Context, change Change, recipients []roster.User) error {
	log.Printf("notify[%s]: event %s %s (%s) to %d members", t.Name, change.EventID, change.Kind, change.Title, len(recipients))
	return nil
}

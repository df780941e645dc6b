package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

// Action names an audited operation
type Action string

const (
	ActionMappingSaved   Action = "mapping.saved"
	ActionMatchAccepted  Action = "match.accepted"
	ActionMatchRejected  Action = "match.rejected"
	ActionVarianceClosed Action = "item.closed_with_variance"
	ActionSessionOpened  Action = "session.opened"
	ActionSessionClosed  Action = "session.closed"
	ActionImportCanceled Action = "import.cancel_requested"
)

// Event is one attributed change, exposed to the external audit log
type Event struct {
	Action     Action            `json:"action"`
	Actor      string            `json:"actor"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Details    map[string]string `json:"details,omitempty"`
}

// Publisher delivers audit events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes audit events to the application log
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	fields := logrus.Fields{
		"audit":       true,
		"action":      event.Action,
		"actor":       event.Actor,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
		"occurred_at": event.OccurredAt,
	}
	for k, v := range event.Details {
		fields["detail_"+k] = v
	}
	logger.GetLogger().WithFields(fields).Info("Audit event")
	return nil
}

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Emit publishes the event. Delivery failures are logged, not returned.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.GetLogger().WithError(err).WithFields(logrus.Fields{
			"action":    event.Action,
			"entity_id": event.EntityID,
		}).Error("Failed to publish audit event")
	}
}

var (
	_ Publisher = LogPublisher{}
	_ Publisher = (*Recorder)(nil)
)

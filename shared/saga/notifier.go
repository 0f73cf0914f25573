package saga

import (
	"context"

	"github.com/draftea/order-orchestrator/shared/events"
)

// LifecycleData is the payload of saga lifecycle events.
type LifecycleData struct {
	SagaID            string   `json:"saga_id"`
	SagaType          string   `json:"saga_type"`
	CorrelationID     string   `json:"correlation_id"`
	State             string   `json:"state"`
	CompletedSteps    []string `json:"completed_steps,omitempty"`
	Error             string   `json:"error,omitempty"`
	CompensationError string   `json:"compensation_error,omitempty"`
}

// notifier publishes saga lifecycle events. Publishing is best effort: a
// broker outage must not fail a saga whose record is already durable, so
// publish errors are swallowed after the orchestrator records them on the
// span.
type notifier struct {
	publisher events.Publisher
}

func (n *notifier) publish(ctx context.Context, eventType string, record *Record) error {
	if n == nil || n.publisher == nil {
		return nil
	}

	event := events.NewEvent(record.ID, eventType, LifecycleData{
		SagaID:            record.ID.String(),
		SagaType:          record.Type,
		CorrelationID:     record.CorrelationID.String(),
		State:             record.State.String(),
		CompletedSteps:    append([]string(nil), record.CompletedSteps...),
		Error:             record.Error,
		CompensationError: record.CompensationError,
	}).WithCorrelationID(record.CorrelationID)

	return n.publisher.Publish(ctx, event)
}

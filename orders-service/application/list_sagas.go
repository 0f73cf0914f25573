package application

import (
	"context"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/pkg/errors"
)

// ListSagasQuery represents the query to list sagas by their external
// reference
type ListSagasQuery struct {
	CorrelationID string `json:"correlation_id"`
}

// ListSagasResponse holds all sagas sharing one correlation id
type ListSagasResponse struct {
	Sagas []*SagaView `json:"sagas"`
}

// ListSagas use case
type ListSagas struct {
	store saga.Persistence
}

// NewListSagas creates a new ListSagas use case
func NewListSagas(store saga.Persistence) *ListSagas {
	return &ListSagas{store: store}
}

// Execute executes the list sagas use case
func (uc *ListSagas) Execute(ctx context.Context, query *ListSagasQuery) (*ListSagasResponse, error) {
	if query.CorrelationID == "" {
		return nil, errors.New("correlation ID is required")
	}

	correlationID, err := models.NewID(query.CorrelationID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid correlation ID")
	}

	records, err := uc.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sagas")
	}

	views := make([]*SagaView, len(records))
	for i, record := range records {
		views[i] = viewFromRecord(record)
	}

	return &ListSagasResponse{Sagas: views}, nil
}

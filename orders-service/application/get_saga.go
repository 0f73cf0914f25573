package application

import (
	"context"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/pkg/errors"
)

// GetSagaQuery represents the query to get a saga record
type GetSagaQuery struct {
	SagaID string `json:"saga_id"`
}

// SagaView is the read model of one saga record
type SagaView struct {
	SagaID            string                 `json:"saga_id"`
	Type              string                 `json:"type"`
	CorrelationID     string                 `json:"correlation_id"`
	State             string                 `json:"state"`
	CompletedSteps    []string               `json:"completed_steps"`
	Data              map[string]interface{} `json:"data"`
	Error             string                 `json:"error,omitempty"`
	CompensationError string                 `json:"compensation_error,omitempty"`
	Attempts          int                    `json:"attempts"`
	DeadLettered      bool                   `json:"dead_lettered"`
	CreatedAt         string                 `json:"created_at"`
	UpdatedAt         string                 `json:"updated_at"`
	CompletedAt       string                 `json:"completed_at,omitempty"`
}

// GetSaga use case
type GetSaga struct {
	store saga.Persistence
}

// NewGetSaga creates a new GetSaga use case
func NewGetSaga(store saga.Persistence) *GetSaga {
	return &GetSaga{store: store}
}

// Execute executes the get saga use case
func (uc *GetSaga) Execute(ctx context.Context, query *GetSagaQuery) (*SagaView, error) {
	if query.SagaID == "" {
		return nil, errors.New("saga ID is required")
	}

	sagaID, err := models.NewID(query.SagaID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	record, err := uc.store.FindByID(ctx, sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrRecordNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to find saga")
	}

	return viewFromRecord(record), nil
}

func viewFromRecord(record *saga.Record) *SagaView {
	view := &SagaView{
		SagaID:            record.ID.String(),
		Type:              record.Type,
		CorrelationID:     record.CorrelationID.String(),
		State:             record.State.String(),
		CompletedSteps:    record.CompletedSteps,
		Error:             record.Error,
		CompensationError: record.CompensationError,
		Attempts:          record.Attempts,
		DeadLettered:      record.DeadLettered,
		CreatedAt:         record.Timestamps.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         record.Timestamps.UpdatedAt.Format(time.RFC3339),
	}
	if record.Context != nil {
		view.Data = record.Context.Data
	}
	if record.CompletedAt != nil {
		view.CompletedAt = record.CompletedAt.Format(time.RFC3339)
	}
	return view
}

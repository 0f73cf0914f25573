package application

import (
	"context"
	"testing"
	"time"

	"github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeRecord(t *testing.T, store *infrastructure.MemorySagaStore, state saga.State, correlationID models.ID) *saga.Record {
	t.Helper()
	sagaCtx := saga.NewContext("order", correlationID, map[string]interface{}{
		"order_id": correlationID.String(),
	})
	record := saga.NewRecord(sagaCtx)
	record.State = state
	record.Version = models.Version{Value: 1}
	if state.IsTerminal() {
		now := time.Now().UTC()
		record.CompletedAt = &now
	}
	require.NoError(t, store.Save(context.Background(), record))
	return record
}

func TestGetSaga_Execute(t *testing.T) {
	store := infrastructure.NewMemorySagaStore()
	correlationID := models.GenerateUUID()
	record := storeRecord(t, store, saga.StateCompleted, correlationID)

	useCase := NewGetSaga(store)
	view, err := useCase.Execute(context.Background(), &GetSagaQuery{SagaID: record.ID.String()})
	require.NoError(t, err)

	assert.Equal(t, record.ID.String(), view.SagaID)
	assert.Equal(t, "order", view.Type)
	assert.Equal(t, correlationID.String(), view.CorrelationID)
	assert.Equal(t, saga.StateCompleted.String(), view.State)
	assert.Equal(t, correlationID.String(), view.Data["order_id"])
	assert.NotEmpty(t, view.CreatedAt)
	assert.NotEmpty(t, view.CompletedAt)
}

func TestGetSaga_Execute_NotFound(t *testing.T) {
	store := infrastructure.NewMemorySagaStore()
	useCase := NewGetSaga(store)

	_, err := useCase.Execute(context.Background(), &GetSagaQuery{SagaID: models.GenerateUUID().String()})
	assert.ErrorIs(t, err, saga.ErrRecordNotFound)
}

func TestGetSaga_Execute_InvalidQuery(t *testing.T) {
	store := infrastructure.NewMemorySagaStore()
	useCase := NewGetSaga(store)

	_, err := useCase.Execute(context.Background(), &GetSagaQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saga ID is required")

	_, err = useCase.Execute(context.Background(), &GetSagaQuery{SagaID: "not-a-uuid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid saga ID")
}

func TestListSagas_Execute(t *testing.T) {
	store := infrastructure.NewMemorySagaStore()
	correlationID := models.GenerateUUID()

	storeRecord(t, store, saga.StateCompleted, correlationID)
	storeRecord(t, store, saga.StateRunning, correlationID)
	storeRecord(t, store, saga.StateRunning, models.GenerateUUID())

	useCase := NewListSagas(store)
	response, err := useCase.Execute(context.Background(), &ListSagasQuery{CorrelationID: correlationID.String()})
	require.NoError(t, err)

	require.Len(t, response.Sagas, 2)
	for _, view := range response.Sagas {
		assert.Equal(t, correlationID.String(), view.CorrelationID)
	}
}

func TestListSagas_Execute_InvalidQuery(t *testing.T) {
	store := infrastructure.NewMemorySagaStore()
	useCase := NewListSagas(store)

	_, err := useCase.Execute(context.Background(), &ListSagasQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation ID is required")
}

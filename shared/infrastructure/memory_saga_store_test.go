package infrastructure

import (
	"context"
	"testing"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(state saga.State) *saga.Record {
	sagaCtx := saga.NewContext("order", models.GenerateUUID(), map[string]interface{}{
		"order_id": "order-1",
	})
	record := saga.NewRecord(sagaCtx)
	record.State = state
	record.Version = models.Version{Value: 1}
	return record
}

func TestMemorySagaStore_SaveAndFindByID(t *testing.T) {
	store := NewMemorySagaStore()
	ctx := context.Background()

	record := newTestRecord(saga.StateRunning)
	record.CompletedSteps = []string{"reserve_inventory"}
	require.NoError(t, store.Save(ctx, record))

	found, err := store.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, saga.StateRunning, found.State)
	assert.Equal(t, []string{"reserve_inventory"}, found.CompletedSteps)
	assert.Equal(t, "order-1", found.Context.Data["order_id"])

	// The store hands out clones; mutating a read must not leak back.
	found.CompletedSteps[0] = "tampered"
	found.Context.Data["order_id"] = "tampered"
	again, err := store.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"reserve_inventory"}, again.CompletedSteps)
	assert.Equal(t, "order-1", again.Context.Data["order_id"])
}

func TestMemorySagaStore_FindByID_NotFound(t *testing.T) {
	store := NewMemorySagaStore()

	_, err := store.FindByID(context.Background(), models.GenerateUUID())
	assert.ErrorIs(t, err, saga.ErrRecordNotFound)
}

func TestMemorySagaStore_Save_VersionProtocol(t *testing.T) {
	store := NewMemorySagaStore()
	ctx := context.Background()

	record := newTestRecord(saga.StateRunning)

	// First write must carry version 1.
	fresh := record.Clone()
	fresh.Version = models.Version{Value: 2}
	assert.ErrorIs(t, store.Save(ctx, fresh), saga.ErrVersionConflict)

	require.NoError(t, store.Save(ctx, record))

	// Replaying the same version is a conflict.
	assert.ErrorIs(t, store.Save(ctx, record), saga.ErrVersionConflict)

	// Skipping a version is a conflict.
	skipped := record.Clone()
	skipped.Version = models.Version{Value: 3}
	assert.ErrorIs(t, store.Save(ctx, skipped), saga.ErrVersionConflict)

	// The successor version goes through.
	next := record.Clone()
	next.Version = models.Version{Value: 2}
	next.CompletedSteps = []string{"reserve_inventory"}
	require.NoError(t, store.Save(ctx, next))

	found, err := store.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, found.Version.Value)
	assert.Equal(t, []string{"reserve_inventory"}, found.CompletedSteps)
}

func TestMemorySagaStore_FindIncomplete(t *testing.T) {
	store := NewMemorySagaStore()
	ctx := context.Background()

	running := newTestRecord(saga.StateRunning)
	compensating := newTestRecord(saga.StateCompensating)
	completed := newTestRecord(saga.StateCompleted)
	failed := newTestRecord(saga.StateFailed)
	parked := newTestRecord(saga.StateRunning)

	for _, record := range []*saga.Record{running, compensating, completed, failed, parked} {
		require.NoError(t, store.Save(ctx, record))
	}
	require.NoError(t, store.MarkDeadLettered(ctx, parked.ID))

	incomplete, err := store.FindIncomplete(ctx)
	require.NoError(t, err)

	ids := make(map[models.ID]bool, len(incomplete))
	for _, record := range incomplete {
		ids[record.ID] = true
	}
	assert.Len(t, incomplete, 2)
	assert.True(t, ids[running.ID])
	assert.True(t, ids[compensating.ID])
}

func TestMemorySagaStore_FindByCorrelationID(t *testing.T) {
	store := NewMemorySagaStore()
	ctx := context.Background()

	correlationID := models.GenerateUUID()

	first := newTestRecord(saga.StateCompleted)
	first.CorrelationID = correlationID
	second := newTestRecord(saga.StateRunning)
	second.CorrelationID = correlationID
	unrelated := newTestRecord(saga.StateRunning)

	for _, record := range []*saga.Record{first, second, unrelated} {
		require.NoError(t, store.Save(ctx, record))
	}

	found, err := store.FindByCorrelationID(ctx, correlationID)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	none, err := store.FindByCorrelationID(ctx, models.GenerateUUID())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemorySagaStore_MarkDeadLettered(t *testing.T) {
	store := NewMemorySagaStore()
	ctx := context.Background()

	record := newTestRecord(saga.StateRunning)
	require.NoError(t, store.Save(ctx, record))

	require.NoError(t, store.MarkDeadLettered(ctx, record.ID))

	found, err := store.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, found.DeadLettered)

	assert.ErrorIs(t, store.MarkDeadLettered(ctx, models.GenerateUUID()), saga.ErrRecordNotFound)
}

package saga

import (
	"testing"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_DataAccess(t *testing.T) {
	sagaCtx := NewContext("order", models.GenerateUUID(), map[string]interface{}{
		"order_id": "order-1",
		"amount":   float64(2500),
	})

	assert.False(t, sagaCtx.SagaID().IsEmpty())
	assert.Equal(t, "order", sagaCtx.SagaType())

	assert.Equal(t, "order-1", sagaCtx.GetString("order_id", ""))
	assert.Equal(t, float64(2500), sagaCtx.Get("amount", nil))
	assert.Equal(t, "fallback", sagaCtx.GetString("missing", "fallback"))
	assert.True(t, sagaCtx.Has("order_id"))
	assert.False(t, sagaCtx.Has("missing"))

	sagaCtx.Set("reservation_id", "res-9")
	assert.Equal(t, "res-9", sagaCtx.GetString("reservation_id", ""))

	sagaCtx.Merge(map[string]interface{}{
		"amount":     float64(3000),
		"payment_id": "pay-4",
	})
	assert.Equal(t, float64(3000), sagaCtx.Get("amount", nil))
	assert.Equal(t, "pay-4", sagaCtx.GetString("payment_id", ""))
}

func TestContext_DataReturnsCopy(t *testing.T) {
	sagaCtx := NewContext("order", models.GenerateUUID(), map[string]interface{}{
		"order_id": "order-1",
	})

	snapshot := sagaCtx.Data()
	snapshot["order_id"] = "tampered"

	assert.Equal(t, "order-1", sagaCtx.GetString("order_id", ""))
}

func TestContext_RecordRoundTrip(t *testing.T) {
	correlationID := models.GenerateUUID()
	original := NewContext("order", correlationID, map[string]interface{}{
		"order_id": "order-1",
		"amount":   float64(2500),
	})
	original.Set("reservation_id", "res-9")

	restored, err := ContextFromRecord(original.ToRecord())
	require.NoError(t, err)

	assert.Equal(t, original.SagaID(), restored.SagaID())
	assert.Equal(t, original.SagaType(), restored.SagaType())
	assert.Equal(t, original.CorrelationID(), restored.CorrelationID())
	assert.True(t, original.StartedAt().Equal(restored.StartedAt()))
	assert.Equal(t, original.Data(), restored.Data())
}

func TestContext_MarshalRoundTrip(t *testing.T) {
	original := NewContext("order", models.GenerateUUID(), map[string]interface{}{
		"order_id": "order-1",
	})

	raw, err := MarshalContext(original.ToRecord())
	require.NoError(t, err)

	rec, err := UnmarshalContext(raw)
	require.NoError(t, err)

	restored, err := ContextFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, original.SagaID(), restored.SagaID())
	assert.Equal(t, "order-1", restored.GetString("order_id", ""))
}

func TestContextFromRecord_Invalid(t *testing.T) {
	_, err := ContextFromRecord(nil)
	assert.Error(t, err)

	_, err = ContextFromRecord(&ContextRecord{SagaType: "order"})
	assert.Error(t, err)
}

func TestIdempotencyKey(t *testing.T) {
	id := models.ID("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t,
		"550e8400-e29b-41d4-a716-446655440000/charge_payment",
		IdempotencyKey(id, "charge_payment"))
	// Same inputs always yield the same key.
	assert.Equal(t, IdempotencyKey(id, "charge_payment"), IdempotencyKey(id, "charge_payment"))
	assert.NotEqual(t, IdempotencyKey(id, "charge_payment"), IdempotencyKey(id, "reserve_inventory"))
}

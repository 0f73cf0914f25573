package domain

import (
	"context"
	"testing"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInventory struct {
	reserveErr   error
	releaseErr   error
	lastRequest  ReservationRequest
	releasedIDs  []string
	reservations int
}

func (s *stubInventory) Reserve(_ context.Context, req ReservationRequest) (*Reservation, error) {
	s.lastRequest = req
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	s.reservations++
	return &Reservation{ReservationID: "res-1"}, nil
}

func (s *stubInventory) Release(_ context.Context, reservationID string) error {
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.releasedIDs = append(s.releasedIDs, reservationID)
	return nil
}

type stubPayments struct {
	chargeErr   error
	refundErr   error
	lastRequest ChargeRequest
	refundedIDs []string
}

func (s *stubPayments) Charge(_ context.Context, req ChargeRequest) (*Charge, error) {
	s.lastRequest = req
	if s.chargeErr != nil {
		return nil, s.chargeErr
	}
	return &Charge{PaymentID: "pay-1"}, nil
}

func (s *stubPayments) Refund(_ context.Context, paymentID string) error {
	if s.refundErr != nil {
		return s.refundErr
	}
	s.refundedIDs = append(s.refundedIDs, paymentID)
	return nil
}

type stubShipping struct {
	createErr    error
	cancelErr    error
	lastRequest  ShipmentRequest
	cancelledIDs []string
}

func (s *stubShipping) CreateShipment(_ context.Context, req ShipmentRequest) (*Shipment, error) {
	s.lastRequest = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &Shipment{ShipmentID: "shp-1", TrackingCode: "trk-1"}, nil
}

func (s *stubShipping) CancelShipment(_ context.Context, shipmentID string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelledIDs = append(s.cancelledIDs, shipmentID)
	return nil
}

func orderContext(t *testing.T) *saga.Context {
	t.Helper()
	orderID := models.GenerateUUID()
	return NewOrderSagaContext(orderID, "customer-1", models.NewMoney(2500, "USD"),
		[]OrderItem{{SKU: "sku-1", Quantity: 2}}, "1 Main St, Springfield")
}

func TestReserveInventoryStep_Execute(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*stubInventory, *saga.Context)
		wantSuccess bool
		wantError   string
	}{
		{
			name:        "successful reservation",
			setup:       func(*stubInventory, *saga.Context) {},
			wantSuccess: true,
		},
		{
			name: "inventory service failure",
			setup: func(inv *stubInventory, _ *saga.Context) {
				inv.reserveErr = errors.New("out of stock")
			},
			wantError: "out of stock",
		},
		{
			name: "missing items",
			setup: func(_ *stubInventory, sagaCtx *saga.Context) {
				sagaCtx.Set(KeyItems, []OrderItem{})
			},
			wantError: "no items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inventory := &stubInventory{}
			sagaCtx := orderContext(t)
			tt.setup(inventory, sagaCtx)

			step := NewReserveInventoryStep(inventory)
			result := step.Execute(context.Background(), sagaCtx)

			if tt.wantSuccess {
				require.True(t, result.Success(), result.Error())
				assert.Equal(t, "res-1", result.Data()[KeyReservationID])
				assert.Equal(t,
					saga.IdempotencyKey(sagaCtx.SagaID(), StepReserveInventory),
					inventory.lastRequest.IdempotencyKey)
				assert.Equal(t, []OrderItem{{SKU: "sku-1", Quantity: 2}}, inventory.lastRequest.Items)
			} else {
				require.False(t, result.Success())
				assert.Contains(t, result.Error(), tt.wantError)
			}
		})
	}
}

func TestReserveInventoryStep_Execute_ItemsAfterJSONRoundTrip(t *testing.T) {
	inventory := &stubInventory{}
	sagaCtx := orderContext(t)

	// Contexts loaded from storage carry items as generic JSON values.
	raw, err := saga.MarshalContext(sagaCtx.ToRecord())
	require.NoError(t, err)
	rec, err := saga.UnmarshalContext(raw)
	require.NoError(t, err)
	restored, err := saga.ContextFromRecord(rec)
	require.NoError(t, err)

	step := NewReserveInventoryStep(inventory)
	result := step.Execute(context.Background(), restored)

	require.True(t, result.Success(), result.Error())
	assert.Equal(t, []OrderItem{{SKU: "sku-1", Quantity: 2}}, inventory.lastRequest.Items)
}

func TestReserveInventoryStep_Compensate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*stubInventory, *saga.Context)
		wantSuccess bool
		wantRelease []string
	}{
		{
			name: "releases the reservation",
			setup: func(_ *stubInventory, sagaCtx *saga.Context) {
				sagaCtx.Set(KeyReservationID, "res-1")
			},
			wantSuccess: true,
			wantRelease: []string{"res-1"},
		},
		{
			name:        "nothing reserved is a no-op",
			setup:       func(*stubInventory, *saga.Context) {},
			wantSuccess: true,
		},
		{
			name: "already released counts as done",
			setup: func(inv *stubInventory, sagaCtx *saga.Context) {
				sagaCtx.Set(KeyReservationID, "res-1")
				inv.releaseErr = ErrReservationNotFound
			},
			wantSuccess: true,
		},
		{
			name: "release failure surfaces",
			setup: func(inv *stubInventory, sagaCtx *saga.Context) {
				sagaCtx.Set(KeyReservationID, "res-1")
				inv.releaseErr = errors.New("inventory service unavailable")
			},
			wantSuccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inventory := &stubInventory{}
			sagaCtx := orderContext(t)
			tt.setup(inventory, sagaCtx)

			step := NewReserveInventoryStep(inventory)
			result := step.Compensate(context.Background(), sagaCtx)

			assert.Equal(t, tt.wantSuccess, result.Success(), result.Error())
			assert.Equal(t, tt.wantRelease, inventory.releasedIDs)
		})
	}
}

func TestChargePaymentStep_Execute(t *testing.T) {
	payments := &stubPayments{}
	sagaCtx := orderContext(t)

	step := NewChargePaymentStep(payments)
	result := step.Execute(context.Background(), sagaCtx)

	require.True(t, result.Success(), result.Error())
	assert.Equal(t, "pay-1", result.Data()[KeyPaymentID])
	assert.Equal(t, int64(2500), payments.lastRequest.Amount.Amount)
	assert.Equal(t, "USD", payments.lastRequest.Amount.Currency)
	assert.Equal(t, "customer-1", payments.lastRequest.CustomerID)
	assert.Equal(t,
		saga.IdempotencyKey(sagaCtx.SagaID(), StepChargePayment),
		payments.lastRequest.IdempotencyKey)
}

func TestChargePaymentStep_Execute_RejectsNonPositiveAmount(t *testing.T) {
	payments := &stubPayments{}
	sagaCtx := orderContext(t)
	sagaCtx.Set(KeyAmount, int64(0))

	step := NewChargePaymentStep(payments)
	result := step.Execute(context.Background(), sagaCtx)

	require.False(t, result.Success())
	assert.Contains(t, result.Error(), "non-positive amount")
}

func TestChargePaymentStep_Compensate(t *testing.T) {
	payments := &stubPayments{}
	sagaCtx := orderContext(t)
	sagaCtx.Set(KeyPaymentID, "pay-1")

	step := NewChargePaymentStep(payments)
	result := step.Compensate(context.Background(), sagaCtx)

	require.True(t, result.Success(), result.Error())
	assert.Equal(t, []string{"pay-1"}, payments.refundedIDs)

	// A refund for a charge the gateway no longer knows is already done.
	payments.refundErr = ErrChargeNotFound
	result = step.Compensate(context.Background(), sagaCtx)
	assert.True(t, result.Success())
}

func TestCreateShipmentStep_Execute(t *testing.T) {
	shipping := &stubShipping{}
	sagaCtx := orderContext(t)

	step := NewCreateShipmentStep(shipping)
	result := step.Execute(context.Background(), sagaCtx)

	require.True(t, result.Success(), result.Error())
	assert.Equal(t, "shp-1", result.Data()[KeyShipmentID])
	assert.Equal(t, "trk-1", result.Data()[KeyTrackingCode])
	assert.Equal(t, "1 Main St, Springfield", shipping.lastRequest.Address)
}

func TestCreateShipmentStep_Execute_RequiresAddress(t *testing.T) {
	shipping := &stubShipping{}
	sagaCtx := orderContext(t)
	sagaCtx.Set(KeyShippingAddress, "")

	step := NewCreateShipmentStep(shipping)
	result := step.Execute(context.Background(), sagaCtx)

	require.False(t, result.Success())
	assert.Contains(t, result.Error(), "no shipping address")
}

func TestCreateShipmentStep_Compensate(t *testing.T) {
	shipping := &stubShipping{}
	sagaCtx := orderContext(t)
	sagaCtx.Set(KeyShipmentID, "shp-1")

	step := NewCreateShipmentStep(shipping)
	result := step.Compensate(context.Background(), sagaCtx)

	require.True(t, result.Success(), result.Error())
	assert.Equal(t, []string{"shp-1"}, shipping.cancelledIDs)
}

func TestOrderSagaSteps_Order(t *testing.T) {
	steps := OrderSagaSteps(&stubInventory{}, &stubPayments{}, &stubShipping{})

	require.Len(t, steps, 3)
	assert.Equal(t, StepReserveInventory, steps[0].Name())
	assert.Equal(t, StepChargePayment, steps[1].Name())
	assert.Equal(t, StepCreateShipment, steps[2].Name())
	for _, step := range steps {
		assert.True(t, step.IsIdempotent())
		assert.Positive(t, step.Timeout())
	}
}

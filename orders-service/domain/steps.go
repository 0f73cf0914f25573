package domain

import (
	"context"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
)

// Context keys the order saga steps read and write. The context round-trips
// through JSON storage, so readers coerce numbers and item lists instead of
// asserting concrete types.
const (
	KeyOrderID         = "order_id"
	KeyCustomerID      = "customer_id"
	KeyAmount          = "amount"
	KeyCurrency        = "currency"
	KeyItems           = "items"
	KeyShippingAddress = "shipping_address"
	KeyReservationID   = "reservation_id"
	KeyPaymentID       = "payment_id"
	KeyShipmentID      = "shipment_id"
	KeyTrackingCode    = "tracking_code"
)

const (
	StepReserveInventory = "reserve_inventory"
	StepChargePayment    = "charge_payment"
	StepCreateShipment   = "create_shipment"
)

// ReserveInventoryStep holds stock for the order
type ReserveInventoryStep struct {
	inventory InventoryService
}

// NewReserveInventoryStep creates the inventory reservation step
func NewReserveInventoryStep(inventory InventoryService) *ReserveInventoryStep {
	return &ReserveInventoryStep{inventory: inventory}
}

func (s *ReserveInventoryStep) Name() string           { return StepReserveInventory }
func (s *ReserveInventoryStep) IsIdempotent() bool     { return true }
func (s *ReserveInventoryStep) Timeout() time.Duration { return 10 * time.Second }

func (s *ReserveInventoryStep) Execute(ctx context.Context, sagaCtx *saga.Context) saga.StepResult {
	req := ReservationRequest{
		IdempotencyKey: saga.IdempotencyKey(sagaCtx.SagaID(), StepReserveInventory),
		OrderID:        sagaCtx.GetString(KeyOrderID, ""),
		Items:          contextItems(sagaCtx),
	}
	if req.OrderID == "" {
		return saga.StepFailure("order id missing from saga context")
	}
	if len(req.Items) == 0 {
		return saga.StepFailure("order %s has no items to reserve", req.OrderID)
	}

	reservation, err := s.inventory.Reserve(ctx, req)
	if err != nil {
		return saga.StepFailure("failed to reserve inventory for order %s: %v", req.OrderID, err)
	}

	return saga.StepSuccess(map[string]interface{}{
		KeyReservationID: reservation.ReservationID,
	})
}

func (s *ReserveInventoryStep) Compensate(ctx context.Context, sagaCtx *saga.Context) saga.StepResult {
	reservationID := sagaCtx.GetString(KeyReservationID, "")
	if reservationID == "" {
		// Execute succeeded without recording an id only if nothing was
		// reserved, so there is nothing to undo.
		return saga.StepSuccess(nil)
	}

	if err := s.inventory.Release(ctx, reservationID); err != nil {
		if err == ErrReservationNotFound {
			return saga.StepSuccess(nil)
		}
		return saga.StepFailure("failed to release reservation %s: %v", reservationID, err)
	}
	return saga.StepSuccess(nil)
}

// ChargePaymentStep charges the customer for the order
type ChargePaymentStep struct {
	payments PaymentGateway
}

// NewChargePaymentStep creates the payment step
func NewChargePaymentStep(payments PaymentGateway) *ChargePaymentStep {
	return &ChargePaymentStep{payments: payments}
}

func (s *ChargePaymentStep) Name() string           { return StepChargePayment }
func (s *ChargePaymentStep) IsIdempotent() bool     { return true }
func (s *ChargePaymentStep) Timeout() time.Duration { return 30 * time.Second }

func (s *ChargePaymentStep) Execute(ctx context.Context, sagaCtx *saga.Context) saga.StepResult {
	req := ChargeRequest{
		IdempotencyKey: saga.IdempotencyKey(sagaCtx.SagaID(), StepChargePayment),
		OrderID:        sagaCtx.GetString(KeyOrderID, ""),
		CustomerID:     sagaCtx.GetString(KeyCustomerID, ""),
		Amount: models.NewMoney(
			contextInt64(sagaCtx, KeyAmount),
			sagaCtx.GetString(KeyCurrency, ""),
		),
	}
	if !req.Amount.IsPositive() {
		return saga.StepFailure("order %s has a non-positive amount", req.OrderID)
	}

	charge, err := s.payments.Charge(ctx, req)
	if err != nil {
		return saga.StepFailure("failed to charge order %s: %v", req.OrderID, err)
	}

	return saga.StepSuccess(map[string]interface{}{
		KeyPaymentID: charge.PaymentID,
	})
}

func (s *ChargePaymentStep) Compensate(ctx context.Context, sagaCtx *saga.Context) saga.StepResult {
	paymentID := sagaCtx.GetString(KeyPaymentID, "")
	if paymentID == "" {
		return saga.StepSuccess(nil)
	}

	if err := s.payments.Refund(ctx, paymentID); err != nil {
		if err == ErrChargeNotFound {
			return saga.StepSuccess(nil)
		}
		return saga.StepFailure("failed to refund payment %s: %v", paymentID, err)
	}
	return saga.StepSuccess(nil)
}

// CreateShipmentStep schedules delivery of the order
type CreateShipmentStep struct {
	shipping ShippingService
}

// NewCreateShipmentStep creates the shipment step
func NewCreateShipmentStep(shipping ShippingService) *CreateShipmentStep {
	return &CreateShipmentStep{shipping: shipping}
}

func (s *CreateShipmentStep) Name() string           { return StepCreateShipment }
func (s *CreateShipmentStep) IsIdempotent() bool     { return true }
func (s *CreateShipmentStep) Timeout() time.Duration { return 15 * time.Second }

func (s *CreateShipmentStep) Execute(ctx context.Context, sagaCtx *saga.Context) saga.StepResult {
	req := ShipmentRequest{
		IdempotencyKey: saga.IdempotencyKey(sagaCtx.SagaID(), StepCreateShipment),
		OrderID:        sagaCtx.GetString(KeyOrderID, ""),
		Address:        sagaCtx.GetString(KeyShippingAddress, ""),
	}
	if req.Address == "" {
		return saga.StepFailure("order %s has no shipping address", req.OrderID)
	}

	shipment, err := s.shipping.CreateShipment(ctx, req)
	if err != nil {
		return saga.StepFailure("failed to create shipment for order %s: %v", req.OrderID, err)
	}

	return saga.StepSuccess(map[string]interface{}{
		KeyShipmentID:   shipment.ShipmentID,
		KeyTrackingCode: shipment.TrackingCode,
	})
}

func (s *CreateShipmentStep) Compensate(ctx context.Context, sagaCtx *saga.Context) saga.StepResult {
	shipmentID := sagaCtx.GetString(KeyShipmentID, "")
	if shipmentID == "" {
		return saga.StepSuccess(nil)
	}

	if err := s.shipping.CancelShipment(ctx, shipmentID); err != nil {
		if err == ErrShipmentNotFound {
			return saga.StepSuccess(nil)
		}
		return saga.StepFailure("failed to cancel shipment %s: %v", shipmentID, err)
	}
	return saga.StepSuccess(nil)
}

// contextInt64 coerces a context value that may have round-tripped through
// JSON into an int64.
func contextInt64(sagaCtx *saga.Context, key string) int64 {
	switch v := sagaCtx.Get(key, nil).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// contextItems rebuilds the order items from the context, handling both the
// in-process slice and its JSON round-trip shape.
func contextItems(sagaCtx *saga.Context) []OrderItem {
	switch v := sagaCtx.Get(KeyItems, nil).(type) {
	case []OrderItem:
		return v
	case []interface{}:
		items := make([]OrderItem, 0, len(v))
		for _, raw := range v {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			item := OrderItem{}
			if sku, ok := m["sku"].(string); ok {
				item.SKU = sku
			}
			switch q := m["quantity"].(type) {
			case float64:
				item.Quantity = int(q)
			case int:
				item.Quantity = q
			}
			items = append(items, item)
		}
		return items
	}
	return nil
}

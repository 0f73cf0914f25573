package domain

import (
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
)

// OrderSagaType identifies the order fulfillment saga in storage and in the
// recovery sweeper's definition registry.
const OrderSagaType = "order"

// NewOrderSagaContext seeds the saga context for one order. The order id
// doubles as the correlation id, so every saga spawned for the order can be
// found through one lookup.
func NewOrderSagaContext(
	orderID models.ID,
	customerID string,
	amount models.Money,
	items []OrderItem,
	shippingAddress string,
) *saga.Context {
	return saga.NewContext(OrderSagaType, orderID, map[string]interface{}{
		KeyOrderID:         orderID.String(),
		KeyCustomerID:      customerID,
		KeyAmount:          amount.Amount,
		KeyCurrency:        amount.Currency,
		KeyItems:           items,
		KeyShippingAddress: shippingAddress,
	})
}

// OrderSagaSteps builds the ordered step list of the order fulfillment saga.
// The order is the business dependency chain: stock is held before money
// moves, money moves before anything ships.
func OrderSagaSteps(
	inventory InventoryService,
	payments PaymentGateway,
	shipping ShippingService,
) []saga.Step {
	return []saga.Step{
		NewReserveInventoryStep(inventory),
		NewChargePaymentStep(payments),
		NewCreateShipmentStep(shipping),
	}
}

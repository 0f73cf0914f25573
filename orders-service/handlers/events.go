package handlers

import (
	"context"
	"fmt"

	"github.com/draftea/order-orchestrator/orders-service/application"
	"github.com/draftea/order-orchestrator/orders-service/domain"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/pkg/errors"
)

// OrderSagaRequestedData is the payload of order.saga.requested events
type OrderSagaRequestedData struct {
	OrderID         string             `json:"order_id"`
	CustomerID      string             `json:"customer_id"`
	Amount          int64              `json:"amount"`
	Currency        string             `json:"currency"`
	Items           []domain.OrderItem `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
}

// OrderEventHandlers starts order sagas from upstream events
type OrderEventHandlers struct {
	startOrderSaga *application.StartOrderSaga
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(startOrderSaga *application.StartOrderSaga) *OrderEventHandlers {
	return &OrderEventHandlers{startOrderSaga: startOrderSaga}
}

// HandlerID returns the unique identifier for this event handler
func (h *OrderEventHandlers) HandlerID() string {
	return "orders-service-event-handler"
}

// Handle implements the events.EventHandler interface
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.OrderSagaRequestedEvent:
		return h.HandleOrderSagaRequested(ctx, event)
	default:
		// The queue carries every event on the topic; anything else is
		// someone else's.
		return nil
	}
}

// HandleOrderSagaRequested runs the fulfillment saga for a requested order
func (h *OrderEventHandlers) HandleOrderSagaRequested(ctx context.Context, event *events.Event) error {
	var data OrderSagaRequestedData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to parse order saga request")
	}

	cmd := &application.StartOrderSagaCommand{
		OrderID:         data.OrderID,
		CustomerID:      data.CustomerID,
		Amount:          data.Amount,
		Currency:        data.Currency,
		Items:           data.Items,
		ShippingAddress: data.ShippingAddress,
	}

	response, err := h.startOrderSaga.Execute(ctx, cmd)
	if err != nil {
		// Infrastructure failure: leave the message on the queue so the
		// saga is retried, the idempotency keys absorb the replay.
		return errors.Wrapf(err, "order saga for %s did not reach a terminal state", data.OrderID)
	}

	if response.Error != "" {
		// Business failure is a terminal outcome, the record has it.
		fmt.Printf("Order saga %s finished in %s: %s\n", response.SagaID, response.State, response.Error)
	}

	return nil
}

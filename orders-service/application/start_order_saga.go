package application

import (
	"context"

	"github.com/draftea/order-orchestrator/orders-service/domain"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/pkg/errors"
)

// StartOrderSagaCommand represents the request to run an order through the
// fulfillment saga
type StartOrderSagaCommand struct {
	OrderID         string             `json:"order_id"`
	CustomerID      string             `json:"customer_id"`
	Amount          int64              `json:"amount"`
	Currency        string             `json:"currency"`
	Items           []domain.OrderItem `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
}

// StartOrderSagaResponse reports the terminal outcome of the saga
type StartOrderSagaResponse struct {
	SagaID            string `json:"saga_id"`
	OrderID           string `json:"order_id"`
	State             string `json:"state"`
	Error             string `json:"error,omitempty"`
	CompensationError string `json:"compensation_error,omitempty"`
	ReservationID     string `json:"reservation_id,omitempty"`
	PaymentID         string `json:"payment_id,omitempty"`
	ShipmentID        string `json:"shipment_id,omitempty"`
	TrackingCode      string `json:"tracking_code,omitempty"`
}

// StartOrderSaga use case. It runs the saga synchronously to a terminal
// state; business failures come back in the response, infrastructure
// failures as errors.
type StartOrderSaga struct {
	store     saga.Persistence
	inventory domain.InventoryService
	payments  domain.PaymentGateway
	shipping  domain.ShippingService
	publisher events.Publisher
}

// NewStartOrderSaga creates a new StartOrderSaga use case
func NewStartOrderSaga(
	store saga.Persistence,
	inventory domain.InventoryService,
	payments domain.PaymentGateway,
	shipping domain.ShippingService,
	publisher events.Publisher,
) *StartOrderSaga {
	return &StartOrderSaga{
		store:     store,
		inventory: inventory,
		payments:  payments,
		shipping:  shipping,
		publisher: publisher,
	}
}

// Execute executes the start order saga use case
func (uc *StartOrderSaga) Execute(ctx context.Context, cmd *StartOrderSagaCommand) (*StartOrderSagaResponse, error) {
	if err := uc.validate(cmd); err != nil {
		return nil, err
	}

	orderID, err := models.NewID(cmd.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	sagaCtx := domain.NewOrderSagaContext(
		orderID,
		cmd.CustomerID,
		models.NewMoney(cmd.Amount, cmd.Currency),
		cmd.Items,
		cmd.ShippingAddress,
	)

	orchestrator, err := saga.NewOrchestrator(
		sagaCtx,
		domain.OrderSagaSteps(uc.inventory, uc.payments, uc.shipping),
		uc.store,
		saga.WithPublisher(uc.publisher),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build order saga")
	}

	result, err := orchestrator.Execute(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "order saga execution failed")
	}

	return responseFromResult(orderID, result), nil
}

func (uc *StartOrderSaga) validate(cmd *StartOrderSagaCommand) error {
	if cmd.OrderID == "" {
		return errors.New("order ID is required")
	}
	if cmd.CustomerID == "" {
		return errors.New("customer ID is required")
	}
	if cmd.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if cmd.Currency == "" {
		return errors.New("currency is required")
	}
	if len(cmd.Items) == 0 {
		return errors.New("at least one item is required")
	}
	if cmd.ShippingAddress == "" {
		return errors.New("shipping address is required")
	}
	return nil
}

func responseFromResult(orderID models.ID, result *saga.Result) *StartOrderSagaResponse {
	response := &StartOrderSagaResponse{
		SagaID:        result.Context.SagaID().String(),
		OrderID:       orderID.String(),
		State:         result.State.String(),
		ReservationID: result.Context.GetString(domain.KeyReservationID, ""),
		PaymentID:     result.Context.GetString(domain.KeyPaymentID, ""),
		ShipmentID:    result.Context.GetString(domain.KeyShipmentID, ""),
		TrackingCode:  result.Context.GetString(domain.KeyTrackingCode, ""),
	}
	if result.Err != nil {
		response.Error = result.Err.Error()
	}
	if result.CompensationErr != nil {
		response.CompensationError = result.CompensationErr.Error()
	}
	return response
}

package domain

import (
	"context"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

var (
	// ErrReservationNotFound is returned by Release for an unknown
	// reservation. Compensations treat it as already undone.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrChargeNotFound is returned by Refund for an unknown charge.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrShipmentNotFound is returned by CancelShipment for an unknown
	// shipment.
	ErrShipmentNotFound = errors.New("shipment not found")
)

// OrderItem is one line of an order
type OrderItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// ReservationRequest asks the inventory service to hold stock for an order.
// The idempotency key makes repeated requests for the same saga collapse
// into one reservation.
type ReservationRequest struct {
	IdempotencyKey string
	OrderID        string
	Items          []OrderItem
}

// Reservation is a confirmed stock hold
type Reservation struct {
	ReservationID string
}

// ChargeRequest asks the payment gateway to charge the customer
type ChargeRequest struct {
	IdempotencyKey string
	OrderID        string
	CustomerID     string
	Amount         models.Money
}

// Charge is a confirmed payment
type Charge struct {
	PaymentID string
}

// ShipmentRequest asks the shipping service to create a shipment
type ShipmentRequest struct {
	IdempotencyKey string
	OrderID        string
	Address        string
}

// Shipment is a scheduled shipment
type Shipment struct {
	ShipmentID   string
	TrackingCode string
}

// InventoryService is the port to the stock system
type InventoryService interface {
	Reserve(ctx context.Context, req ReservationRequest) (*Reservation, error)
	Release(ctx context.Context, reservationID string) error
}

// PaymentGateway is the port to the payment system
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
	Refund(ctx context.Context, paymentID string) error
}

// ShippingService is the port to the carrier system
type ShippingService interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error)
	CancelShipment(ctx context.Context, shipmentID string) error
}

package infrastructure

import (
	"context"
	"sync"

	"github.com/draftea/order-orchestrator/orders-service/domain"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// In-memory collaborator services for local wiring and tests. Each one
// deduplicates on the request's idempotency key the way the real systems
// are expected to, so re-executed steps observe at-least-once semantics.

// MemoryInventoryService implements domain.InventoryService in process
// memory.
type MemoryInventoryService struct {
	mux          sync.Mutex
	reservations map[string]string // idempotency key -> reservation id
	active       map[string]bool   // reservation id -> held
	FailReserve  error
	FailRelease  error
}

// NewMemoryInventoryService creates an empty in-memory inventory service
func NewMemoryInventoryService() *MemoryInventoryService {
	return &MemoryInventoryService{
		reservations: make(map[string]string),
		active:       make(map[string]bool),
	}
}

func (s *MemoryInventoryService) Reserve(_ context.Context, req domain.ReservationRequest) (*domain.Reservation, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.FailReserve != nil {
		return nil, s.FailReserve
	}
	if req.IdempotencyKey == "" {
		return nil, errors.New("reservation requires an idempotency key")
	}

	if id, ok := s.reservations[req.IdempotencyKey]; ok {
		return &domain.Reservation{ReservationID: id}, nil
	}

	id := "res-" + models.GenerateUUID().String()
	s.reservations[req.IdempotencyKey] = id
	s.active[id] = true
	return &domain.Reservation{ReservationID: id}, nil
}

func (s *MemoryInventoryService) Release(_ context.Context, reservationID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.FailRelease != nil {
		return s.FailRelease
	}
	if !s.active[reservationID] {
		return domain.ErrReservationNotFound
	}
	delete(s.active, reservationID)
	return nil
}

// Held reports whether the reservation is still active.
func (s *MemoryInventoryService) Held(reservationID string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.active[reservationID]
}

// MemoryPaymentGateway implements domain.PaymentGateway in process memory.
type MemoryPaymentGateway struct {
	mux        sync.Mutex
	charges    map[string]string // idempotency key -> payment id
	captured   map[string]bool   // payment id -> money held
	FailCharge error
	FailRefund error
}

// NewMemoryPaymentGateway creates an empty in-memory payment gateway
func NewMemoryPaymentGateway() *MemoryPaymentGateway {
	return &MemoryPaymentGateway{
		charges:  make(map[string]string),
		captured: make(map[string]bool),
	}
}

func (s *MemoryPaymentGateway) Charge(_ context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.FailCharge != nil {
		return nil, s.FailCharge
	}
	if req.IdempotencyKey == "" {
		return nil, errors.New("charge requires an idempotency key")
	}

	if id, ok := s.charges[req.IdempotencyKey]; ok {
		return &domain.Charge{PaymentID: id}, nil
	}

	id := "pay-" + models.GenerateUUID().String()
	s.charges[req.IdempotencyKey] = id
	s.captured[id] = true
	return &domain.Charge{PaymentID: id}, nil
}

func (s *MemoryPaymentGateway) Refund(_ context.Context, paymentID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.FailRefund != nil {
		return s.FailRefund
	}
	if !s.captured[paymentID] {
		return domain.ErrChargeNotFound
	}
	delete(s.captured, paymentID)
	return nil
}

// Captured reports whether the charge still holds money.
func (s *MemoryPaymentGateway) Captured(paymentID string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.captured[paymentID]
}

// MemoryShippingService implements domain.ShippingService in process
// memory.
type MemoryShippingService struct {
	mux        sync.Mutex
	shipments  map[string]domain.Shipment // idempotency key -> shipment
	scheduled  map[string]bool            // shipment id -> scheduled
	FailCreate error
	FailCancel error
}

// NewMemoryShippingService creates an empty in-memory shipping service
func NewMemoryShippingService() *MemoryShippingService {
	return &MemoryShippingService{
		shipments: make(map[string]domain.Shipment),
		scheduled: make(map[string]bool),
	}
}

func (s *MemoryShippingService) CreateShipment(_ context.Context, req domain.ShipmentRequest) (*domain.Shipment, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.FailCreate != nil {
		return nil, s.FailCreate
	}
	if req.IdempotencyKey == "" {
		return nil, errors.New("shipment requires an idempotency key")
	}

	if shipment, ok := s.shipments[req.IdempotencyKey]; ok {
		return &shipment, nil
	}

	shipment := domain.Shipment{
		ShipmentID:   "shp-" + models.GenerateUUID().String(),
		TrackingCode: "trk-" + models.GenerateUUID().String(),
	}
	s.shipments[req.IdempotencyKey] = shipment
	s.scheduled[shipment.ShipmentID] = true
	return &shipment, nil
}

func (s *MemoryShippingService) CancelShipment(_ context.Context, shipmentID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.FailCancel != nil {
		return s.FailCancel
	}
	if !s.scheduled[shipmentID] {
		return domain.ErrShipmentNotFound
	}
	delete(s.scheduled, shipmentID)
	return nil
}

// Scheduled reports whether the shipment is still scheduled.
func (s *MemoryShippingService) Scheduled(shipmentID string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.scheduled[shipmentID]
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/draftea/order-orchestrator/orders-service/application"
	"github.com/draftea/order-orchestrator/orders-service/domain"
	orderinfra "github.com/draftea/order-orchestrator/orders-service/infrastructure"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	store     *infrastructure.MemorySagaStore
	inventory *orderinfra.MemoryInventoryService
	payments  *orderinfra.MemoryPaymentGateway
	shipping  *orderinfra.MemoryShippingService
	router    *chi.Mux
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		store:     infrastructure.NewMemorySagaStore(),
		inventory: orderinfra.NewMemoryInventoryService(),
		payments:  orderinfra.NewMemoryPaymentGateway(),
		shipping:  orderinfra.NewMemoryShippingService(),
	}

	startOrderSaga := application.NewStartOrderSaga(f.store, f.inventory, f.payments, f.shipping, nil)
	handlers := NewSagaHandlers(
		startOrderSaga,
		application.NewGetSaga(f.store),
		application.NewListSagas(f.store),
	)

	f.router = chi.NewRouter()
	handlers.RegisterRoutes(f.router)
	return f
}

func orderRequestBody(t *testing.T, orderID string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(&application.StartOrderSagaCommand{
		OrderID:         orderID,
		CustomerID:      "customer-1",
		Amount:          2500,
		Currency:        "USD",
		Items:           []domain.OrderItem{{SKU: "sku-1", Quantity: 2}},
		ShippingAddress: "1 Main St, Springfield",
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestSagaHandlers_StartOrderSaga(t *testing.T) {
	f := newHandlerFixture()

	request := httptest.NewRequest(http.MethodPost, "/sagas/orders", orderRequestBody(t, models.GenerateUUID().String()))
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusCreated, recorder.Code)

	var response application.StartOrderSagaResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	assert.Equal(t, saga.StateCompleted.String(), response.State)
	assert.NotEmpty(t, response.SagaID)
	assert.NotEmpty(t, response.TrackingCode)
}

func TestSagaHandlers_StartOrderSaga_BusinessFailure(t *testing.T) {
	f := newHandlerFixture()
	f.payments.FailCharge = errors.New("card declined")

	request := httptest.NewRequest(http.MethodPost, "/sagas/orders", orderRequestBody(t, models.GenerateUUID().String()))
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

	var response application.StartOrderSagaResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	assert.Equal(t, saga.StateFailed.String(), response.State)
	assert.Contains(t, response.Error, "card declined")
}

func TestSagaHandlers_StartOrderSaga_InvalidBody(t *testing.T) {
	f := newHandlerFixture()

	request := httptest.NewRequest(http.MethodPost, "/sagas/orders", bytes.NewBufferString("{not json"))
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSagaHandlers_GetSaga(t *testing.T) {
	f := newHandlerFixture()

	// Run one saga through the API so there is something to fetch.
	request := httptest.NewRequest(http.MethodPost, "/sagas/orders", orderRequestBody(t, models.GenerateUUID().String()))
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created application.StartOrderSagaResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&created))

	request = httptest.NewRequest(http.MethodGet, "/sagas/"+created.SagaID, nil)
	recorder = httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)

	var view application.SagaView
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&view))
	assert.Equal(t, created.SagaID, view.SagaID)
	assert.Equal(t, saga.StateCompleted.String(), view.State)
	assert.Equal(t, []string{
		domain.StepReserveInventory,
		domain.StepChargePayment,
		domain.StepCreateShipment,
	}, view.CompletedSteps)
}

func TestSagaHandlers_GetSaga_NotFound(t *testing.T) {
	f := newHandlerFixture()

	request := httptest.NewRequest(http.MethodGet, "/sagas/"+models.GenerateUUID().String(), nil)
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSagaHandlers_ListSagas(t *testing.T) {
	f := newHandlerFixture()
	orderID := models.GenerateUUID().String()

	request := httptest.NewRequest(http.MethodPost, "/sagas/orders", orderRequestBody(t, orderID))
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusCreated, recorder.Code)

	request = httptest.NewRequest(http.MethodGet, "/sagas?correlation_id="+orderID, nil)
	recorder = httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response application.ListSagasResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	require.Len(t, response.Sagas, 1)
	assert.Equal(t, orderID, response.Sagas[0].CorrelationID)
}

func TestSagaHandlers_ListSagas_RequiresCorrelationID(t *testing.T) {
	f := newHandlerFixture()

	request := httptest.NewRequest(http.MethodGet, "/sagas", nil)
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestOrderEventHandlers_HandleOrderSagaRequested(t *testing.T) {
	f := newHandlerFixture()
	startOrderSaga := application.NewStartOrderSaga(f.store, f.inventory, f.payments, f.shipping, nil)
	handler := NewOrderEventHandlers(startOrderSaga)

	orderID := models.GenerateUUID()
	event := newOrderRequestedEvent(t, orderID)

	require.NoError(t, handler.Handle(context.Background(), event))

	records, err := f.store.FindByCorrelationID(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, saga.StateCompleted, records[0].State)
}

func TestOrderEventHandlers_IgnoresUnrelatedEvents(t *testing.T) {
	f := newHandlerFixture()
	startOrderSaga := application.NewStartOrderSaga(f.store, f.inventory, f.payments, f.shipping, nil)
	handler := NewOrderEventHandlers(startOrderSaga)

	event := newOrderRequestedEvent(t, models.GenerateUUID())
	event.EventType = "wallet.debited"

	require.NoError(t, handler.Handle(context.Background(), event))

	incomplete, err := f.store.FindIncomplete(context.Background())
	require.NoError(t, err)
	assert.Empty(t, incomplete)
}

func newOrderRequestedEvent(t *testing.T, orderID models.ID) *events.Event {
	t.Helper()
	payload, err := json.Marshal(OrderSagaRequestedData{
		OrderID:         orderID.String(),
		CustomerID:      "customer-1",
		Amount:          2500,
		Currency:        "USD",
		Items:           []domain.OrderItem{{SKU: "sku-1", Quantity: 2}},
		ShippingAddress: "1 Main St, Springfield",
	})
	require.NoError(t, err)
	return events.NewEvent(orderID, events.OrderSagaRequestedEvent, json.RawMessage(payload)).
		WithCorrelationID(orderID)
}

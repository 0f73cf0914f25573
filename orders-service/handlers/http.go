package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/order-orchestrator/orders-service/application"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// SagaHandlers contains saga HTTP handlers
type SagaHandlers struct {
	startOrderSaga *application.StartOrderSaga
	getSaga        *application.GetSaga
	listSagas      *application.ListSagas
}

// NewSagaHandlers creates new saga handlers
func NewSagaHandlers(
	startOrderSaga *application.StartOrderSaga,
	getSaga *application.GetSaga,
	listSagas *application.ListSagas,
) *SagaHandlers {
	return &SagaHandlers{
		startOrderSaga: startOrderSaga,
		getSaga:        getSaga,
		listSagas:      listSagas,
	}
}

// StartOrderSaga handles order saga creation requests. The saga runs to a
// terminal state before the response is written, so the caller always gets
// a final outcome.
func (h *SagaHandlers) StartOrderSaga(w http.ResponseWriter, r *http.Request) {
	var cmd application.StartOrderSagaCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.startOrderSaga.Execute(r.Context(), &cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if response.State != saga.StateCompleted.String() {
		// The order did not go through; the body carries the failure.
		status = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// GetSaga handles saga retrieval requests
func (h *SagaHandlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		http.Error(w, "Saga ID is required", http.StatusBadRequest)
		return
	}

	view, err := h.getSaga.Execute(r.Context(), &application.GetSagaQuery{SagaID: sagaID})
	if err != nil {
		if errors.Is(err, saga.ErrRecordNotFound) {
			http.Error(w, "saga not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// ListSagas handles listing sagas by correlation id
func (h *SagaHandlers) ListSagas(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		http.Error(w, "correlation_id query parameter is required", http.StatusBadRequest)
		return
	}

	response, err := h.listSagas.Execute(r.Context(), &application.ListSagasQuery{CorrelationID: correlationID})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers saga routes
func (h *SagaHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/sagas", func(r chi.Router) {
		r.Post("/orders", h.StartOrderSaga)
		r.Get("/", h.ListSagas)
		r.Get("/{id}", h.GetSaga)
	})
}

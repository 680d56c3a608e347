package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

const maxBodyBytes = 1 << 20

type OrderService interface {
	CreateOrder(ctx context.Context, in domain.PlaceOrder) (string, error)
	TransitionStatus(ctx context.Context, orderID, newStatus, notes string) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	service OrderService
	db      Pinger
	logger  *slog.Logger
}

func NewHandler(service OrderService, db Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		db:      db,
		logger:  logger,
	}
}

// Register mounts the order routes and the health check on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/orders", h.HandleList)
	r.Post("/orders", h.HandleCreate)
	r.Get("/orders/{id}", h.HandleGet)
	r.Patch("/orders/{id}", h.HandleTransition)
	r.Patch("/orders/{id}/status", h.HandleTransition)
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.PlaceOrder
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, createOrderResponse{
		OrderID: id,
		Message: "Order placed successfully",
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.DebugContext(r.Context(), "orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type transitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req transitionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.TransitionStatus(r.Context(), id, req.Status, req.Notes); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Order status updated successfully"})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type validationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeServiceError maps error classes to status codes. Storage details stay
// in the log.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, validationResponse{Error: domain.ErrValidation.Error(), Fields: verr.Fields})
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, domain.ErrValidation.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		h.writeError(w, http.StatusUnprocessableEntity, domain.ErrInvalidStatus.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
	case errors.Is(err, domain.ErrTransitionNotAllowed):
		h.writeError(w, http.StatusConflict, domain.ErrTransitionNotAllowed.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/ordertrack/internal/breaker"
)

type Handler struct {
	ordersProxy *ServiceProxy
	logger      *slog.Logger
}

func NewHandler(ordersProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy: ordersProxy,
		logger:      logger,
	}
}

// Register mounts the public order routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/orders", h.HandleOrders)
	r.Post("/orders", h.HandleOrders)
	r.Get("/orders/{id}", h.HandleOrders)
	r.Patch("/orders/{id}", h.HandleOrders)
	r.Patch("/orders/{id}/status", h.HandleOrders)
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if breaker.IsOpen(err) {
		h.logger.WarnContext(r.Context(), "circuit open, rejecting request", "path", path)
		h.writeError(w, http.StatusServiceUnavailable, "orders service temporarily unavailable")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "orders service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.InfoContext(r.Context(), "request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

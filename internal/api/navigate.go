package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type navigateRequest struct {
	Path string `json:"path" validate:"required,startswith=/"`
}

// NavigateHandler lets the SPA ask the route guard about client-side transitions.
type NavigateHandler struct {
	*Handler
}

// NewNavigateHandler creates a navigate handler.
func NewNavigateHandler(base *Handler) *NavigateHandler {
	return &NavigateHandler{Handler: base}
}

// RegisterRoutes registers the navigate route.
func (h *NavigateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/navigate", h.Navigate)
}

// Navigate returns the guard decision for the requested path.
func (h *NavigateHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	s := h.sessionFor(w, r)
	if s == nil {
		return
	}

	decision := h.guard.Navigate(s.Snapshot(), req.Path)
	if h.recorder != nil && decision.Route != "" {
		h.recorder.RecordGuardDecision(decision.Route, decision.Outcome, decision.Reason)
	}
	slog.Debug("Navigation guard",
		"device_id", s.DeviceID(),
		"path", req.Path,
		"action", string(decision.Outcome),
		"reason", decision.Reason)

	JSON(w, http.StatusOK, decision)
}

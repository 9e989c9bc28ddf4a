package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwakai/touch-grass/internal/authapi"
	"github.com/mwakai/touch-grass/internal/domain"
	"github.com/mwakai/touch-grass/internal/session"
)

// KidsService is the kid-profile surface of the Identity Service.
type KidsService interface {
	ListKids(ctx context.Context, token string) ([]domain.Kid, error)
	GetKid(ctx context.Context, token, kidID string) (domain.Kid, error)
	CreateKid(ctx context.Context, token string, in domain.KidInput) (domain.Kid, error)
	UpdateKid(ctx context.Context, token, kidID string, patch domain.KidPatch) (domain.Kid, error)
	DeleteKid(ctx context.Context, token, kidID string) error
}

// KidsHandler proxies kid-profile calls with the device's bearer token.
type KidsHandler struct {
	*Handler
	kids KidsService
}

// NewKidsHandler creates a kids handler.
func NewKidsHandler(base *Handler, kids KidsService) *KidsHandler {
	return &KidsHandler{Handler: base, kids: kids}
}

// RegisterRoutes registers kid routes.
func (h *KidsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/kids", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{kidId}", h.Get)
		r.Put("/{kidId}", h.Update)
		r.Delete("/{kidId}", h.Delete)
	})
}

// List returns the parent's kids.
func (h *KidsHandler) List(w http.ResponseWriter, r *http.Request) {
	s, token := h.authorized(w, r)
	if s == nil {
		return
	}
	kids, err := h.kids.ListKids(r.Context(), token)
	if err != nil {
		h.proxyError(w, r, s, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"kids": kids})
}

// Get returns one kid.
func (h *KidsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, token := h.authorized(w, r)
	if s == nil {
		return
	}
	kid, err := h.kids.GetKid(r.Context(), token, chi.URLParam(r, "kidId"))
	if err != nil {
		h.proxyError(w, r, s, err)
		return
	}
	JSON(w, http.StatusOK, kid)
}

// Create adds a kid to the parent's account.
func (h *KidsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.KidInput
	if !h.decode(w, r, &in) {
		return
	}
	s, token := h.authorized(w, r)
	if s == nil {
		return
	}
	kid, err := h.kids.CreateKid(r.Context(), token, in)
	if err != nil {
		h.proxyError(w, r, s, err)
		return
	}
	slog.Info("Kid profile created", "device_id", s.DeviceID(), "kid_id", kid.ID)
	JSON(w, http.StatusCreated, kid)
}

// Update patches a kid.
func (h *KidsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch domain.KidPatch
	if !h.decode(w, r, &patch) {
		return
	}
	s, token := h.authorized(w, r)
	if s == nil {
		return
	}
	kid, err := h.kids.UpdateKid(r.Context(), token, chi.URLParam(r, "kidId"), patch)
	if err != nil {
		h.proxyError(w, r, s, err)
		return
	}
	JSON(w, http.StatusOK, kid)
}

// Delete removes a kid.
func (h *KidsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, token := h.authorized(w, r)
	if s == nil {
		return
	}
	kidID := chi.URLParam(r, "kidId")
	if err := h.kids.DeleteKid(r.Context(), token, kidID); err != nil {
		h.proxyError(w, r, s, err)
		return
	}
	slog.Info("Kid profile deleted", "device_id", s.DeviceID(), "kid_id", kidID)
	w.WriteHeader(http.StatusNoContent)
}

// authorized returns the Session and its token, or writes 401.
func (h *KidsHandler) authorized(w http.ResponseWriter, r *http.Request) (*session.Store, string) {
	s := h.sessionFor(w, r)
	if s == nil {
		return nil, ""
	}
	snap := s.Snapshot()
	if !snap.IsAuthenticated() {
		Error(w, http.StatusUnauthorized, "not authenticated")
		return nil, ""
	}
	return s, snap.Token
}

// proxyError renders an Identity Service failure. A 401 means the token was
// revoked upstream, so the Session is revalidated before answering.
func (h *KidsHandler) proxyError(w http.ResponseWriter, r *http.Request, s *session.Store, err error) {
	status := authapi.StatusCode(err)
	if status == http.StatusUnauthorized {
		s.FetchUser(r.Context())
		if !s.IsAuthenticated() {
			Error(w, http.StatusUnauthorized, "session expired")
			return
		}
	}

	switch {
	case status >= 400 && status < 500:
		Error(w, status, err.Error())
	case errors.Is(err, authapi.ErrRequestFailed):
		slog.Error("Identity Service call failed", "device_id", s.DeviceID(), "error", err)
		Error(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("Kid profile request failed", "device_id", s.DeviceID(), "error", err)
		Error(w, http.StatusBadGateway, "invalid response from server")
	}
}

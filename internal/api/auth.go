package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/mwakai/touch-grass/internal/authapi"
	"github.com/mwakai/touch-grass/internal/guard"
	"github.com/mwakai/touch-grass/internal/identity"
	"github.com/mwakai/touch-grass/internal/session"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Redirect string `json:"redirect"`
}

type signupRequest struct {
	Email       string   `json:"email" validate:"required,email"`
	Password    string   `json:"password" validate:"required"`
	Role        string   `json:"role" validate:"required,oneof=parent kid"`
	FamilyCode  string   `json:"familyCode" validate:"omitempty,max=64"`
	Name        string   `json:"name" validate:"omitempty,max=64"`
	Age         *int     `json:"age" validate:"omitempty,gte=1,lte=120"`
	Interests   []string `json:"interests" validate:"omitempty,max=20,dive,max=64"`
	AvatarColor string   `json:"avatarColor" validate:"omitempty,max=64"`
	Redirect    string   `json:"redirect"`
}

// AuthHandler handles the session endpoints.
type AuthHandler struct {
	*Handler
	rateLimit int
}

// NewAuthHandler creates an auth handler allowing rateLimit auth attempts
// per IP per minute.
func NewAuthHandler(base *Handler, rateLimit int) *AuthHandler {
	return &AuthHandler{Handler: base, rateLimit: rateLimit}
}

// RegisterRoutes registers session and auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	limiter := httprate.Limit(h.rateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
		}),
	)

	r.Get("/api/session", h.GetSession)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/api/auth/login", h.Login)
		gr.Post("/api/auth/signup", h.Signup)
	})
	r.Post("/api/auth/logout", h.Logout)
	r.Post("/api/auth/refresh", h.Refresh)
}

// GetSession returns the device's current session state.
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessionFor(w, r)
	if s == nil {
		return
	}
	JSON(w, http.StatusOK, newSessionView(s.Snapshot()))
}

// Login authenticates the device's Session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	s := h.sessionFor(w, r)
	if s == nil {
		return
	}

	if _, err := s.Login(r.Context(), req.Email, req.Password); err != nil {
		slog.Warn("Login rejected", "device_id", s.DeviceID(), "ip", identity.IPFromRequest(r), "error", err)
		Error(w, authErrorStatus(err), err.Error())
		return
	}

	snap := s.Snapshot()
	view := newSessionView(snap)
	view.Redirect = h.landing(snap, req.Redirect)
	JSON(w, http.StatusOK, view)
}

// Signup registers an account and signs the device's Session in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}
	s := h.sessionFor(w, r)
	if s == nil {
		return
	}

	_, err := s.Signup(r.Context(), authapi.SignupRequest{
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		FamilyCode:  req.FamilyCode,
		Name:        req.Name,
		Age:         req.Age,
		Interests:   req.Interests,
		AvatarColor: req.AvatarColor,
	})
	if err != nil {
		slog.Warn("Signup rejected", "device_id", s.DeviceID(), "ip", identity.IPFromRequest(r), "error", err)
		Error(w, authErrorStatus(err), err.Error())
		return
	}

	snap := s.Snapshot()
	view := newSessionView(snap)
	view.Redirect = h.landing(snap, req.Redirect)
	JSON(w, http.StatusCreated, view)
}

// Logout clears the device's Session. It always succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s := h.sessionFor(w, r)
	if s == nil {
		return
	}
	s.Logout(r.Context())

	view := newSessionView(s.Snapshot())
	view.Redirect = h.landing(s.Snapshot(), "")
	JSON(w, http.StatusOK, view)
}

// Refresh re-fetches the current user. A rejected token logs the device out.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s := h.sessionFor(w, r)
	if s == nil {
		return
	}
	s.FetchUser(r.Context())
	JSON(w, http.StatusOK, newSessionView(s.Snapshot()))
}

// landing picks where the SPA should go after an auth transition: the
// requested path when it names a known route the guard admits, otherwise the
// role's default route.
func (h *AuthHandler) landing(snap session.Snapshot, requested string) string {
	if isLocalPath(requested) {
		decision := h.guard.Navigate(snap, requested)
		if decision.Reason != guard.ReasonUnmatched {
			if decision.Outcome == guard.Allow {
				return requested
			}
			if decision.Path != "" {
				return decision.Path
			}
		}
	}

	path, err := h.guard.Table().Resolve(guard.DefaultRoute(snap.User))
	if err != nil {
		return "/"
	}
	return path
}

// isLocalPath reports whether p is a same-origin absolute path. Browsers
// treat a backslash like a slash, so "/\host" is as external as "//host".
func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return false
	}
	if strings.Contains(p, `\`) || strings.Contains(strings.ToLower(p), "%5c") {
		return false
	}
	return true
}

// authErrorStatus maps an auth failure to the status the SPA sees. Identity
// Service client errors keep their status; everything else is a bad gateway.
func authErrorStatus(err error) int {
	if errors.Is(err, session.ErrInvalidResponseShape) {
		return http.StatusBadGateway
	}
	if code := authapi.StatusCode(err); code >= 400 && code < 500 {
		return code
	}
	return http.StatusBadGateway
}

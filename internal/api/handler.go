// Package api provides the JSON HTTP handlers the touch-grass SPA talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mwakai/touch-grass/internal/domain"
	"github.com/mwakai/touch-grass/internal/guard"
	"github.com/mwakai/touch-grass/internal/identity"
	"github.com/mwakai/touch-grass/internal/session"
)

const maxBodyBytes = 1 << 20

// Sessions resolves the Session of a device.
type Sessions interface {
	Get(ctx context.Context, deviceID string) *session.Store
}

// Handler provides common handler utilities.
type Handler struct {
	sessions Sessions
	guard    *guard.Guard
	recorder guard.Recorder
	validate *validator.Validate
}

// NewHandler creates a new Handler with common dependencies. rec may be nil.
func NewHandler(sessions Sessions, g *guard.Guard, rec guard.Recorder) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		sessions: sessions,
		guard:    g,
		recorder: rec,
		validate: v,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Snapshot returns the Session snapshot of the requesting device, restoring
// the Session on first contact.
func (h *Handler) Snapshot(r *http.Request) session.Snapshot {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		return session.Snapshot{}
	}
	return h.sessions.Get(r.Context(), deviceID).Snapshot()
}

// sessionFor returns the requesting device's Session or writes an error.
func (h *Handler) sessionFor(w http.ResponseWriter, r *http.Request) *session.Store {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusBadRequest, "missing device identity")
		return nil
	}
	return h.sessions.Get(r.Context(), deviceID)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		Error(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "min", "gte":
		return fe.Field() + " must be at least " + fe.Param()
	case "max", "lte":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// sessionView is the SPA-facing rendering of a Snapshot. The bearer token
// never leaves the server.
type sessionView struct {
	Authenticated  bool         `json:"authenticated"`
	IsParent       bool         `json:"isParent"`
	IsKid          bool         `json:"isKid"`
	User           *domain.User `json:"user"`
	Loading        bool         `json:"loading"`
	Error          string       `json:"error,omitempty"`
	TokenExpiresAt *time.Time   `json:"tokenExpiresAt,omitempty"`
	Redirect       string       `json:"redirect,omitempty"`
}

func newSessionView(snap session.Snapshot) sessionView {
	v := sessionView{
		Authenticated:  snap.IsAuthenticated(),
		IsParent:       snap.IsParent(),
		IsKid:          snap.IsKid(),
		User:           snap.User,
		Loading:        snap.Loading,
		Error:          snap.Error,
		TokenExpiresAt: snap.TokenExpiresAt,
	}
	return v
}

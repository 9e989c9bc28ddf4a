package guard

import (
	"log/slog"
	"net/http"

	"github.com/mwakai/touch-grass/internal/session"
)

// SnapshotFunc returns the Session snapshot of the requesting device.
type SnapshotFunc func(r *http.Request) session.Snapshot

// Recorder counts guard decisions.
type Recorder interface {
	RecordGuardDecision(route string, outcome Outcome, reason string)
}

// Middleware guards page loads: every GET or HEAD request is run through
// Navigate and answered with 302 when the decision is a redirect.
func Middleware(g *Guard, snapshot SnapshotFunc, rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			decision := g.Navigate(snapshot(r), r.URL.RequestURI())
			if decision.Reason != ReasonUnmatched {
				if rec != nil {
					rec.RecordGuardDecision(decision.Route, decision.Outcome, decision.Reason)
				}
				slog.Debug("Navigation guard",
					"path", r.URL.Path,
					"route", decision.Route,
					"action", string(decision.Outcome),
					"reason", decision.Reason)
			}

			if decision.Outcome == Redirect {
				if decision.Path == "" {
					http.Error(w, "navigation target could not be resolved", http.StatusInternalServerError)
					return
				}
				http.Redirect(w, r, decision.Path, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package guard decides, for every navigation attempt, whether the current
// Session may reach the target route or must be redirected.
package guard

import (
	"net/url"

	"github.com/mwakai/touch-grass/internal/domain"
	"github.com/mwakai/touch-grass/internal/session"
)

// Outcome is the verdict for one navigation attempt.
type Outcome string

const (
	Allow    Outcome = "allow"
	Redirect Outcome = "redirect"
)

// Reasons attached to decisions, used for logging and metrics.
const (
	ReasonOpen          = "open"
	ReasonLoginRequired = "login_required"
	ReasonGuestOnly     = "guest_only"
	ReasonRoleDenied    = "role_denied"
	ReasonAlreadyThere  = "already_there"
	ReasonAlias         = "alias"
	ReasonUnmatched     = "unmatched"
)

// Decision is the result of guarding one navigation attempt.
type Decision struct {
	Outcome Outcome   `json:"action"`
	Reason  string    `json:"reason"`
	Route   string    `json:"route,omitempty"`
	To      *Location `json:"to,omitempty"`
	// Path is the resolved full path of To, or the attempted path when allowed.
	Path string `json:"path"`
}

// Guard evaluates navigation attempts against a route table.
type Guard struct {
	table *Table
}

// New creates a Guard over table.
func New(table *Table) *Guard {
	return &Guard{table: table}
}

// Table returns the route table.
func (g *Guard) Table() *Table {
	return g.table
}

// Decide evaluates one navigation attempt to a route described by d, with
// fullPath the attempted destination. It has no side effects.
func (g *Guard) Decide(snap session.Snapshot, d Descriptor, fullPath string) Decision {
	authenticated := snap.IsAuthenticated()

	if d.RequiresAuth && !authenticated {
		to := Location{Name: RouteLogin, Query: map[string]string{QueryRedirect: fullPath}}
		return g.redirect(d, to, ReasonLoginRequired)
	}

	if d.RequiresGuest && authenticated {
		return g.redirectUnlessThere(d, DefaultRoute(snap.User), fullPath, ReasonGuestOnly)
	}

	if d.AllowedRoles != nil && snap.User != nil && !d.Allows(snap.User.Role) {
		return g.redirectUnlessThere(d, DefaultRoute(snap.User), fullPath, ReasonRoleDenied)
	}

	return Decision{Outcome: Allow, Reason: ReasonOpen, Route: d.Name, Path: fullPath}
}

// Navigate matches fullPath against the table and decides. Unmatched paths
// are allowed; alias routes are followed once.
func (g *Guard) Navigate(snap session.Snapshot, fullPath string) Decision {
	u, err := url.Parse(fullPath)
	if err != nil {
		return Decision{Outcome: Allow, Reason: ReasonUnmatched, Path: fullPath}
	}

	d, _, ok := g.table.Match(u.Path)
	if !ok {
		return Decision{Outcome: Allow, Reason: ReasonUnmatched, Path: fullPath}
	}

	if d.Redirect == "" {
		return g.Decide(snap, d, fullPath)
	}

	target := d.Redirect
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	td, _, ok := g.table.Match(d.Redirect)
	if !ok || td.Redirect != "" {
		return Decision{Outcome: Redirect, Reason: ReasonAlias, Route: d.Name, Path: target}
	}
	next := g.Decide(snap, td, target)
	if next.Outcome == Allow {
		return Decision{Outcome: Redirect, Reason: ReasonAlias, Route: d.Name, To: &Location{Name: td.Name}, Path: target}
	}
	return next
}

// DefaultRoute is the landing route for user: login without a user, the kid
// dashboard for kids and the parent dashboard for everyone else.
func DefaultRoute(user *domain.User) Location {
	if user == nil {
		return Location{Name: RouteLogin}
	}
	if user.Role == domain.RoleKid {
		if id := user.ID.String(); id != "" {
			return Location{Name: RouteKidDashboard, Params: map[string]string{ParamKidID: id}}
		}
		return Location{Name: RouteKidDashboard}
	}
	return Location{Name: RouteDashboard}
}

func (g *Guard) redirect(d Descriptor, to Location, reason string) Decision {
	path, err := g.table.Resolve(to)
	if err != nil {
		path = ""
	}
	return Decision{Outcome: Redirect, Reason: reason, Route: d.Name, To: &to, Path: path}
}

// redirectUnlessThere redirects to `to` unless it resolves to the attempted
// path, in which case navigation is let through to avoid a redirect loop.
func (g *Guard) redirectUnlessThere(d Descriptor, to Location, fullPath, reason string) Decision {
	path, err := g.table.Resolve(to)
	if err == nil && path == fullPath {
		return Decision{Outcome: Allow, Reason: ReasonAlreadyThere, Route: d.Name, Path: fullPath}
	}
	return Decision{Outcome: Redirect, Reason: reason, Route: d.Name, To: &to, Path: path}
}

package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwakai/touch-grass/internal/domain"
	"github.com/mwakai/touch-grass/internal/session"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	table, err := NewTable(DefaultRoutes())
	require.NoError(t, err)
	return New(table)
}

func authed(user *domain.User) session.Snapshot {
	return session.Snapshot{Token: "tok", User: user}
}

func lookup(t *testing.T, g *Guard, name string) Descriptor {
	t.Helper()
	d, ok := g.Table().Lookup(name)
	require.True(t, ok, name)
	return d
}

func TestRequiresAuthRedirectsToLogin(t *testing.T) {
	g := newGuard(t)
	d := Descriptor{Name: "dashboard", RequiresAuth: true}

	for _, snap := range []session.Snapshot{
		{},
		{Token: "tok"},
		{User: &domain.User{ID: "1", Role: domain.RoleParent}},
	} {
		got := g.Decide(snap, d, "/dashboard")
		assert.Equal(t, Redirect, got.Outcome)
		assert.Equal(t, ReasonLoginRequired, got.Reason)
		assert.Equal(t, &Location{Name: "login", Query: map[string]string{"redirect": "/dashboard"}}, got.To)
		assert.Equal(t, "/login?redirect=%2Fdashboard", got.Path)
	}
}

func TestLoginRedirectCarriesFullPath(t *testing.T) {
	g := newGuard(t)
	got := g.Decide(session.Snapshot{}, lookup(t, g, RouteKidDashboard), "/kids/k1?tab=badges")
	require.Equal(t, Redirect, got.Outcome)
	assert.Equal(t, "/kids/k1?tab=badges", got.To.Query[QueryRedirect])
}

func TestGuestRouteRedirectsKidToOwnDashboard(t *testing.T) {
	g := newGuard(t)
	kid := &domain.User{ID: "k1", Role: domain.RoleKid}

	got := g.Decide(authed(kid), lookup(t, g, RouteLogin), "/login")
	require.Equal(t, Redirect, got.Outcome)
	assert.Equal(t, ReasonGuestOnly, got.Reason)
	assert.Equal(t, &Location{Name: "kid-dashboard", Params: map[string]string{"kidId": "k1"}}, got.To)
	assert.Equal(t, "/kids/k1", got.Path)
}

func TestRedirectTargetDoesNotLoop(t *testing.T) {
	g := newGuard(t)
	kid := &domain.User{ID: "k1", Role: domain.RoleKid}
	guestOnly := Descriptor{Name: "kid-landing", RequiresGuest: true}

	first := g.Decide(authed(kid), guestOnly, "/login")
	require.Equal(t, Redirect, first.Outcome)

	second := g.Decide(authed(kid), guestOnly, first.Path)
	assert.Equal(t, Allow, second.Outcome)
	assert.Equal(t, ReasonAlreadyThere, second.Reason)
}

func TestRoleDeniedRedirectsToDefault(t *testing.T) {
	g := newGuard(t)
	parent := &domain.User{ID: "p1", Role: domain.RoleParent}

	got := g.Decide(authed(parent), Descriptor{Name: "kid-only", AllowedRoles: []domain.Role{domain.RoleKid}}, "/kids")
	require.Equal(t, Redirect, got.Outcome)
	assert.Equal(t, ReasonRoleDenied, got.Reason)
	assert.Equal(t, &Location{Name: "dashboard"}, got.To)
	assert.Equal(t, "/dashboard", got.Path)
}

func TestRoleCheckNeedsResolvedUser(t *testing.T) {
	g := newGuard(t)
	d := Descriptor{Name: "kid-only", AllowedRoles: []domain.Role{domain.RoleKid}}
	got := g.Decide(session.Snapshot{Token: "tok"}, d, "/kids")
	assert.Equal(t, Allow, got.Outcome)
}

func TestAllowedWhenNothingApplies(t *testing.T) {
	g := newGuard(t)
	parent := &domain.User{ID: "p1", Role: domain.RoleParent}

	assert.Equal(t, Allow, g.Decide(authed(parent), lookup(t, g, RouteDashboard), "/dashboard").Outcome)
	assert.Equal(t, Allow, g.Decide(session.Snapshot{}, lookup(t, g, RouteSignup), "/signup").Outcome)
	assert.Equal(t, Allow, g.Decide(authed(parent), Descriptor{Name: "open"}, "/about").Outcome)
}

func TestDefaultRoute(t *testing.T) {
	tests := []struct {
		name string
		user *domain.User
		want Location
	}{
		{"no user", nil, Location{Name: "login"}},
		{"kid with id", &domain.User{ID: "k1", Role: domain.RoleKid}, Location{Name: "kid-dashboard", Params: map[string]string{"kidId": "k1"}}},
		{"kid without id", &domain.User{Role: domain.RoleKid}, Location{Name: "kid-dashboard"}},
		{"parent", &domain.User{ID: "p1", Role: domain.RoleParent}, Location{Name: "dashboard"}},
		{"unknown role", &domain.User{ID: "x", Role: "coach"}, Location{Name: "dashboard"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRoute(tt.user))
		})
	}
}

func TestKidWithoutIDLandsOnBareDashboard(t *testing.T) {
	g := newGuard(t)
	kid := &domain.User{Role: domain.RoleKid}

	got := g.Decide(authed(kid), lookup(t, g, RouteSignup), "/signup")
	require.Equal(t, Redirect, got.Outcome)
	assert.Equal(t, "/kids", got.Path)

	again := g.Navigate(authed(kid), "/kids")
	assert.Equal(t, Allow, again.Outcome)
}

func TestNavigate(t *testing.T) {
	g := newGuard(t)
	parent := authed(&domain.User{ID: "p1", Role: domain.RoleParent})
	kid := authed(&domain.User{ID: "k1", Role: domain.RoleKid})

	tests := []struct {
		name    string
		snap    session.Snapshot
		path    string
		outcome Outcome
		want    string
	}{
		{"guest to dashboard", session.Snapshot{}, "/dashboard", Redirect, "/login?redirect=%2Fdashboard"},
		{"guest to root", session.Snapshot{}, "/", Redirect, "/login"},
		{"parent to root", parent, "/", Redirect, "/dashboard"},
		{"kid to root", kid, "/", Redirect, "/kids/k1"},
		{"kid to parent page", kid, "/add-kid", Redirect, "/kids/k1"},
		{"kid to own dashboard", kid, "/kids/k1", Allow, "/kids/k1"},
		{"parent to kid dashboard", parent, "/kids/k1", Redirect, "/dashboard"},
		{"unmatched asset", session.Snapshot{}, "/assets/app.js", Allow, "/assets/app.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Navigate(tt.snap, tt.path)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.want, got.Path)
		})
	}
}

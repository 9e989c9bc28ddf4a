package guard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mwakai/touch-grass/internal/domain"
)

// Route names used by role-routing.
const (
	RouteLogin        = "login"
	RouteSignup       = "signup"
	RouteDashboard    = "dashboard"
	RouteAddKid       = "add-kid"
	RouteKidDashboard = "kid-dashboard"

	// ParamKidID is the kid-dashboard path parameter.
	ParamKidID = "kidId"
	// QueryRedirect carries the originally intended destination to the login route.
	QueryRedirect = "redirect"
)

var (
	ErrUnknownRoute   = errors.New("unknown route")
	ErrMissingParam   = errors.New("missing route parameter")
	ErrDuplicateRoute = errors.New("duplicate route name")
)

// Descriptor is the static access metadata of a navigable destination.
// Path uses ":name" for parameters and ":name?" for optional ones.
type Descriptor struct {
	Name          string
	Path          string
	RequiresAuth  bool
	RequiresGuest bool
	// AllowedRoles is nil when the route has no role restriction.
	AllowedRoles []domain.Role
	// Redirect makes the route an alias for another path.
	Redirect string
}

// Allows reports whether role may visit the route.
func (d Descriptor) Allows(role domain.Role) bool {
	if d.AllowedRoles == nil {
		return true
	}
	for _, r := range d.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Location is a named navigation target.
type Location struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
	Query  map[string]string `json:"query,omitempty"`
}

// DefaultRoutes mirrors the touch-grass client routes.
func DefaultRoutes() []Descriptor {
	return []Descriptor{
		{Name: "root", Path: "/", Redirect: "/login"},
		{Name: RouteLogin, Path: "/login", RequiresGuest: true},
		{Name: RouteSignup, Path: "/signup", RequiresGuest: true},
		{Name: RouteDashboard, Path: "/dashboard", RequiresAuth: true, AllowedRoles: []domain.Role{domain.RoleParent}},
		{Name: RouteAddKid, Path: "/add-kid", RequiresAuth: true, AllowedRoles: []domain.Role{domain.RoleParent}},
		{Name: RouteKidDashboard, Path: "/kids/:kidId?", RequiresAuth: true, AllowedRoles: []domain.Role{domain.RoleKid}},
	}
}

type segment struct {
	literal  string
	param    string
	optional bool
}

type route struct {
	desc     Descriptor
	segments []segment
}

// Table is the ordered, immutable route table.
type Table struct {
	routes []route
	byName map[string]int
}

// NewTable validates and compiles routes. Earlier routes win when paths overlap.
func NewTable(descriptors []Descriptor) (*Table, error) {
	t := &Table{byName: make(map[string]int, len(descriptors))}
	for _, d := range descriptors {
		if _, exists := t.byName[d.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRoute, d.Name)
		}
		segs, err := compile(d.Path)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", d.Name, err)
		}
		t.byName[d.Name] = len(t.routes)
		t.routes = append(t.routes, route{desc: d, segments: segs})
	}
	return t, nil
}

// MustTable is NewTable for static tables.
func MustTable(descriptors []Descriptor) *Table {
	t, err := NewTable(descriptors)
	if err != nil {
		panic("guard: " + err.Error())
	}
	return t
}

// Lookup returns the descriptor registered under name.
func (t *Table) Lookup(name string) (Descriptor, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return t.routes[i].desc, true
}

// Match returns the first descriptor whose path matches p, with its parameters.
func (t *Table) Match(p string) (Descriptor, map[string]string, bool) {
	parts := splitPath(p)
	for _, r := range t.routes {
		if params, ok := r.match(parts); ok {
			return r.desc, params, true
		}
	}
	return Descriptor{}, nil, false
}

// Resolve renders loc as a full path including its query string.
func (t *Table) Resolve(loc Location) (string, error) {
	i, ok := t.byName[loc.Name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoute, loc.Name)
	}

	var b strings.Builder
	for _, seg := range t.routes[i].segments {
		value := seg.literal
		if seg.param != "" {
			value = loc.Params[seg.param]
			if value == "" {
				if seg.optional {
					continue
				}
				return "", fmt.Errorf("%w: %s.%s", ErrMissingParam, loc.Name, seg.param)
			}
			value = url.PathEscape(value)
		}
		b.WriteByte('/')
		b.WriteString(value)
	}

	path := b.String()
	if path == "" {
		path = "/"
	}
	if len(loc.Query) > 0 {
		q := url.Values{}
		for k, v := range loc.Query {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}
	return path, nil
}

func compile(p string) ([]segment, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("path %q must start with /", p)
	}
	var segs []segment
	for _, part := range splitPath(p) {
		if !strings.HasPrefix(part, ":") {
			segs = append(segs, segment{literal: part})
			continue
		}
		name := strings.TrimPrefix(part, ":")
		optional := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")
		if name == "" {
			return nil, fmt.Errorf("path %q has an unnamed parameter", p)
		}
		segs = append(segs, segment{param: name, optional: optional})
	}
	return segs, nil
}

func (r route) match(parts []string) (map[string]string, bool) {
	params := map[string]string{}
	i := 0
	for _, seg := range r.segments {
		if i >= len(parts) {
			if seg.param != "" && seg.optional {
				continue
			}
			return nil, false
		}
		if seg.param == "" {
			if parts[i] != seg.literal {
				return nil, false
			}
		} else {
			value, err := url.PathUnescape(parts[i])
			if err != nil {
				return nil, false
			}
			params[seg.param] = value
		}
		i++
	}
	if i != len(parts) {
		return nil, false
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

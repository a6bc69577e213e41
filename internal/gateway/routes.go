package gateway

import "strings"

// Route maps an inbound path prefix to a backend service.
type Route struct {
	Prefix       string
	Service      string
	BaseURL      string
	TargetPath   string
	AuthRequired bool
}

// Backends holds the base URL of every backend the gateway fronts.
type Backends struct {
	User    string
	Product string
	Order   string
}

// DefaultRoutes returns the platform route table in evaluation order.
func DefaultRoutes(b Backends) []Route {
	return []Route{
		{Prefix: "/api/auth", Service: "user", BaseURL: b.User, TargetPath: "/auth"},
		{Prefix: "/api/users", Service: "user", BaseURL: b.User, TargetPath: "/users"},
		{Prefix: "/api/products", Service: "product", BaseURL: b.Product, TargetPath: "/products"},
		{Prefix: "/api/orders", Service: "order", BaseURL: b.Order, TargetPath: "/orders", AuthRequired: true},
	}
}

// Matches reports whether path falls under the route prefix on a segment
// boundary, so /api/orders matches /api/orders/7 but not /api/ordersx.
func (r Route) Matches(path string) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	rest := path[len(r.Prefix):]
	return rest == "" || rest[0] == '/'
}

// Rewrite swaps the route prefix for the backend-local path.
func (r Route) Rewrite(path string) string {
	return r.TargetPath + strings.TrimPrefix(path, r.Prefix)
}

// Table is an ordered list of routes; the first match wins.
type Table []Route

func (t Table) Match(path string) (Route, bool) {
	for _, r := range t {
		if r.Matches(path) {
			return r, true
		}
	}
	return Route{}, false
}

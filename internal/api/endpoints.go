package api

// HTTP routes served by the portal API.
const (
	// Authentication endpoints
	AuthLogin   = "/api/auth/login"
	AuthLogout  = "/api/auth/logout"
	AuthRefresh = "/api/auth/refresh"
	AuthMe      = "/api/auth/me"

	// Access request endpoints
	AccessRequests    = "/api/access-requests"
	AccessRequestByID = "/api/access-requests/:id"

	AuditLogs = "/api/audit-logs"

	Health  = "/healthz"
	Metrics = "/metrics"
)

// PublicEndpoints defines endpoints that don't require authentication.
// Keys are "METHOD path" pairs since the same path may be public for one
// method and protected for another.
var PublicEndpoints = map[string]bool{
	"POST " + AuthLogin:      true,
	"POST " + AuthLogout:     true,
	"POST " + AuthRefresh:    true,
	"POST " + AccessRequests: true,
	"GET " + Health:          true,
	"GET " + Metrics:         true,
}

// IsPublic reports whether method+route can be called without a session.
func IsPublic(method, route string) bool {
	return PublicEndpoints[method+" "+route]
}

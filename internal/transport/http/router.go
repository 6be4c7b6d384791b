// Package httptransport assembles the public HTTP surface from the domain handlers.
package httptransport

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	audithandler "degreeproof/internal/audit/handler"
	credhandler "degreeproof/internal/credential/handler"
	"degreeproof/internal/platform/health"
	verhandler "degreeproof/internal/verification/handler"
	"degreeproof/pkg/domain"
	"degreeproof/pkg/platform/middleware/auth"
	"degreeproof/pkg/platform/middleware/metadata"
	"degreeproof/pkg/platform/middleware/request"
	"degreeproof/pkg/platform/middleware/requesttime"
)

// DefaultRequestTimeout applies when Dependencies.RequestTimeout is zero.
const DefaultRequestTimeout = 30 * time.Second

// BodyContentTypes are the media types accepted on authenticated POST routes.
var BodyContentTypes = []string{"application/json", "text/csv", "multipart/form-data"}

// Dependencies are the collaborators the router mounts.
type Dependencies struct {
	Logger       *slog.Logger
	Validator    auth.JWTValidator
	Health       *health.Handler
	Credentials  *credhandler.Handler
	Verification *verhandler.Handler
	Audit        *audithandler.Handler
	// VerifyLimit wraps the verification routes; nil disables limiting.
	VerifyLimit    func(http.Handler) http.Handler
	Latency        *request.Metrics
	MetricsHandler http.Handler
	RequestTimeout time.Duration
	TrustedProxies []netip.Prefix
}

// NewRouter wires the middleware stack and every endpoint.
// Probes and /metrics are public; everything else requires a bearer token.
func NewRouter(d Dependencies) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.NewMiddleware(metadata.Config{TrustedProxies: d.TrustedProxies}).Handler)
	r.Use(request.LatencyMiddleware(d.Latency, routePattern))

	if d.Health != nil {
		d.Health.Register(r)
	}
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(timeout))
		r.Use(auth.RequireAuth(d.Validator, d.Logger))
		r.Use(request.RequireContentType(BodyContentTypes...))

		if d.Credentials != nil {
			d.Credentials.Register(r)
		}
		if d.Verification != nil {
			r.Group(func(r chi.Router) {
				if d.VerifyLimit != nil {
					r.Use(d.VerifyLimit)
				}
				d.Verification.Register(r)
			})
		}
		if d.Audit != nil {
			d.Audit.Register(r)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireCapability(domain.CapReadAudit, d.Logger))
				d.Audit.RegisterAdmin(r)
			})
		}
	})

	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

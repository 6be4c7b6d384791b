package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"degreeproof/pkg/platform/httputil"
	"degreeproof/pkg/requestcontext"
)

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// Middleware admits requests against policy, keyed by the authenticated
// actor or the client IP when no actor is present. Store failures let the
// request through.
func Middleware(store Store, scope string, policy Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := scope + ":" + subject(r)

			res, err := store.Allow(ctx, key, policy.Limit, policy.Window)
			if err != nil {
				logger.ErrorContext(ctx, "failed to check rate limit",
					"error", err,
					"scope", scope,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				seconds := int(math.Ceil(res.RetryAfter.Seconds()))
				logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"key", key,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httputil.WriteJSON(w, http.StatusTooManyRequests, ExceededResponse{
					Error:            "rate_limit_exceeded",
					ErrorDescription: "Too many requests. Please try again later.",
					RetryAfter:       seconds,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func subject(r *http.Request) string {
	if actor, ok := requestcontext.Actor(r.Context()); ok {
		return "actor:" + actor.ID
	}
	if ip := requestcontext.ClientIP(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

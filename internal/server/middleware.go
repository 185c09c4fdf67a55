package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/dtxcloud/internal/audit"
	"github.com/goodtune/dtxcloud/internal/auth"
	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/goodtune/dtxcloud/internal/ratelimit"
	"github.com/goodtune/dtxcloud/internal/server/api"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// AuthMiddleware resolves the bearer token to an active user.
func AuthMiddleware(svc *auth.Service, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				api.WriteError(w, http.StatusUnauthorized, "Missing authorization token")
				return
			}

			user, err := svc.Authenticate(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenRevoked):
					api.WriteError(w, http.StatusUnauthorized, "Token has been revoked")
				case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInactiveUser):
					api.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
				default:
					logger.Error().Err(err).Msg("Failed to authenticate request")
					api.WriteError(w, http.StatusInternalServerError, "Authentication failed")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user, token)))
		})
	}
}

// AdminMiddleware rejects callers without the admin role. It must run
// after AuthMiddleware.
func AdminMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok || !user.IsAdmin() {
				api.WriteError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware charges each request to a bucket chosen by path. The
// caller is the authenticated user, or the client address on public
// routes. Limiter failures let the request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, policy ratelimit.Policy, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := ratelimit.BucketFor(r.URL.Path)
			identity := "ip:" + audit.ClientIP(r)
			if user, ok := auth.UserFromContext(r.Context()); ok {
				identity = user.ID
			}

			decision, err := limiter.Allow(r.Context(), ratelimit.Key(bucket, identity), policy.Limits[bucket], policy.Window)
			if err != nil {
				logger.Warn().Err(err).Str("bucket", bucket).Msg("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				metrics.RateLimitedTotal.WithLabelValues(bucket).Inc()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.UnixMilli(), 10))
				api.WriteError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs each request once and records request metrics
// under the matched route template.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			logger.Info().
				Str("method", r.Method).
				Str("path", route).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("API request")
		})
	}
}

// routeTemplate keeps metric labels bounded by naming the route, not the
// concrete path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// CORSMiddleware creates middleware for CORS support.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Remaining, X-RateLimit-Reset, Content-Disposition")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

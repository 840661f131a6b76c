package authtest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

type ctxKey int

const userIDKey ctxKey = iota

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

// statusRecorder remembers the status code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (b *Backend) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b.env != "DEV" {
			next(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		b.logger.Info().
			Str("method", colourMethod(r.Method)).
			Str("path", r.URL.Path).
			Str("status", statusColour(rec.status)+strconv.Itoa(rec.status)+ResetColor).
			Str("request_id", r.Header.Get("X-Request-ID")).
			Msg("request")
	}
}

// CorsMiddleware answers browser origins in allowedOrigins. Preflight
// requests are completed here and never reach next.
func (b *Backend) CorsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// No Origin header = same-origin request, no CORS headers needed
		if origin == "" || b.allowedOrigins == nil {
			next(w, r)
			return
		}

		isAllowed := b.allowedOrigins.IsAllowedOrigin(origin)
		isWildcard := b.allowedOrigins.IsAllowedOrigin("*")
		switch {
		case isAllowed:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		case isWildcard:
			// Don't set Allow-Credentials with wildcard
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == http.MethodOptions {
			if isAllowed || isWildcard {
				w.Header().Set("Access-Control-Allow-Methods", b.allowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", b.allowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// instrument counts requests per route.
func (b *Backend) instrument(path string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			b.calls[path]++
			b.mu.Unlock()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next(rec, r)
			b.requests.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		}
	}
}

// faults answers with a queued FailNext status instead of the real handler.
func (b *Backend) faults(path string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			queued := b.failNext[path]
			status := 0
			if len(queued) > 0 {
				status = queued[0]
				b.failNext[path] = queued[1:]
			}
			b.mu.Unlock()

			if status != 0 {
				writeError(w, status, http.StatusText(status))
				return
			}
			next(w, r)
		}
	}
}

// RequireAccessToken rejects requests without a valid bearer access token and
// passes the subject to next through the request context.
func (b *Backend) RequireAccessToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing Authorization Header")
			return
		}
		b.mu.Lock()
		userID, err := b.issuer.verifyAccessToken(raw)
		b.mu.Unlock()
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Token is invalid or has expired")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

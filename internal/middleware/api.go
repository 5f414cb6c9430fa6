// Package middleware provides HTTP middleware for authentication,
// authorization, and request context handling.
package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/olegiv/lms-go/internal/auth"
	"github.com/olegiv/lms-go/internal/guard"
	"github.com/olegiv/lms-go/internal/store"
)

// ContextKeyTokenClaims is the context key for verified API token claims.
const ContextKeyTokenClaims ContextKey = "token_claims"

// APIError represents a JSON error response for the API.
type APIError struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// WriteAPIError writes a JSON error response.
func WriteAPIError(w http.ResponseWriter, statusCode int, code, message string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	apiErr := APIError{}
	apiErr.Error.Code = code
	apiErr.Error.Message = message
	apiErr.Error.Details = details

	_ = json.NewEncoder(w).Encode(apiErr)
}

// bearerToken extracts the raw token from the Authorization header.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// TokenAuth creates middleware that validates JWT bearer authentication.
// On success the token claims and the backing user are added to the request
// context, including a guard session snapshot so the same gates work for
// session and token clients.
func TokenAuth(tokens *auth.Tokens, db *sql.DB) func(http.Handler) http.Handler {
	queries := store.New(db)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Missing or malformed Authorization header. Use: Bearer <token>", nil)
				return
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token", nil)
				return
			}

			// The token is signed, but the user may have been deleted or
			// demoted since issuance. The database row wins.
			user, err := queries.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Token subject no longer exists", nil)
				} else {
					slog.Error("failed to load token subject", "user_id", claims.UserID, "error", err)
					WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to validate token", nil)
				}
				return
			}

			sess := guard.Session{
				UserID:  user.ID,
				Email:   user.Email,
				Role:    user.Role,
				IsAdmin: user.IsAdmin(),
			}
			ctx := context.WithValue(r.Context(), ContextKeyTokenClaims, *claims)
			ctx = context.WithValue(ctx, ContextKeyUser, user)
			ctx = context.WithValue(ctx, ContextKeySession, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTokenClaims retrieves verified token claims from the request context.
// Returns nil if the request was not token-authenticated.
func GetTokenClaims(r *http.Request) *auth.TokenClaims {
	claims, ok := r.Context().Value(ContextKeyTokenClaims).(auth.TokenClaims)
	if !ok {
		return nil
	}
	return &claims
}

// RequireAdminAPI creates middleware that requires the admin role and
// responds with JSON errors instead of redirects. Use on API routes after
// TokenAuth or ResolveSession.
func RequireAdminAPI() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := GetSession(r)

			switch guard.Evaluate(sess, true) {
			case guard.DecisionAllow:
				next.ServeHTTP(w, r)
			case guard.DecisionLogin, guard.DecisionWait:
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
			default:
				slog.Warn("api access denied",
					"method", r.Method,
					"path", r.URL.Path,
					"user_id", sess.UserID,
					"user_role", sess.Role,
				)
				WriteAPIError(w, http.StatusForbidden, "forbidden", "Admin role required", nil)
			}
		})
	}
}

// limiterCache is a generic rate limiter cache with double-check locking.
type limiterCache[K comparable] struct {
	limiters map[K]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// newLimiterCache creates a new limiter cache.
func newLimiterCache[K comparable](rps float64, burst int) *limiterCache[K] {
	return &limiterCache[K]{
		limiters: make(map[K]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// get returns the rate limiter for a specific key, creating one if needed.
func (lc *limiterCache[K]) get(key K) *rate.Limiter {
	lc.mu.RLock()
	limiter, exists := lc.limiters[key]
	lc.mu.RUnlock()

	if exists {
		return limiter
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = lc.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(lc.rate, lc.burst)
	lc.limiters[key] = limiter
	return limiter
}

// clearIfExceeds clears all entries if the cache exceeds maxSize.
// Returns true if the cache was cleared.
func (lc *limiterCache[K]) clearIfExceeds(maxSize int) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if len(lc.limiters) > maxSize {
		lc.limiters = make(map[K]*rate.Limiter)
		return true
	}
	return false
}

// APIRateLimit creates middleware that rate limits requests per
// authenticated user. Unauthenticated requests pass through; put a
// GlobalRateLimiter in front of them instead.
func APIRateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	cache := newLimiterCache[int64](rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r)
			if userID == 0 {
				next.ServeHTTP(w, r)
				return
			}

			if !cache.get(userID).Allow() {
				WriteAPIError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded. Please slow down.", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GlobalRateLimiter provides a per-IP rate limiter for unauthenticated requests.
type GlobalRateLimiter struct {
	cache *limiterCache[string]
}

// NewGlobalRateLimiter creates a new global rate limiter.
func NewGlobalRateLimiter(rps float64, burst int) *GlobalRateLimiter {
	return &GlobalRateLimiter{
		cache: newLimiterCache[string](rps, burst),
	}
}

// Middleware returns the rate limiting middleware for API routes (returns JSON errors).
func (rl *GlobalRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)
			if !rl.cache.get(ip).Allow() {
				WriteAPIError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded. Please slow down.", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HTMLMiddleware returns the rate limiting middleware for public routes
// (returns plain text errors). Suitable for login and other form endpoints.
func (rl *GlobalRateLimiter) HTMLMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)
			if !rl.cache.get(ip).Allow() {
				slog.Warn("public rate limit exceeded", "ip", ip, "path", r.URL.Path)
				http.Error(w, "Too many requests. Please wait a moment and try again.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

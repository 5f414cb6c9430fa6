// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware for authentication,
// authorization, and request context handling.
package middleware

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/alexedwards/scs/v2"

	"github.com/olegiv/lms-go/internal/guard"
	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/store"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// Context keys for request-scoped data.
const (
	ContextKeyUser    ContextKey = "user"
	ContextKeySession ContextKey = "guard_session"
)

// Session keys for storing user data.
const (
	SessionKeyUserID = "user_id"
)

// Paths the guard redirects to. Login carries the originally requested
// location in the "next" query parameter; an authenticated user who lacks
// the admin role lands on the dashboard instead of an error page.
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// ResolveSession creates middleware that resolves the visitor's session
// into a guard.Session snapshot and, when authenticated, loads the user
// into the request context. A user lookup failure collapses the snapshot
// to unauthenticated: the stale session is destroyed and the request
// continues anonymously rather than erroring.
func ResolveSession(sm *scs.SessionManager, db *sql.DB) func(http.Handler) http.Handler {
	queries := store.New(db)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := sm.GetInt64(r.Context(), SessionKeyUserID)
			if userID == 0 {
				ctx := context.WithValue(r.Context(), ContextKeySession, guard.Session{})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			user, err := queries.GetUserByID(r.Context(), userID)
			if err != nil {
				if err != sql.ErrNoRows {
					slog.Warn("session user lookup failed", "user_id", userID, "error", err)
				}
				_ = sm.Destroy(r.Context())
				ctx := context.WithValue(r.Context(), ContextKeySession, guard.Session{})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			sess := guard.Session{
				UserID:  user.ID,
				Email:   user.Email,
				Role:    user.Role,
				IsAdmin: user.IsAdmin(),
			}
			ctx := context.WithValue(r.Context(), ContextKeySession, sess)
			ctx = context.WithValue(ctx, ContextKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession retrieves the guard session snapshot from the request context.
// Without ResolveSession in the chain the zero (anonymous) snapshot is returned.
func GetSession(r *http.Request) guard.Session {
	sess, ok := r.Context().Value(ContextKeySession).(guard.Session)
	if !ok {
		return guard.Session{}
	}
	return sess
}

// GetUser retrieves the current user from the request context.
// Returns nil if no user is in context.
func GetUser(r *http.Request) *model.User {
	user, ok := r.Context().Value(ContextKeyUser).(model.User)
	if !ok {
		return nil
	}
	return &user
}

// GetUserID returns the current user's ID from context, or 0 if not found.
// Safe to use in logging where a zero-value is acceptable.
func GetUserID(r *http.Request) int64 {
	if user := GetUser(r); user != nil {
		return user.ID
	}
	return 0
}

// GetUserIDPtr returns a pointer to the current user's ID from context, or nil if not found.
// Useful for optional user ID parameters in event logging.
func GetUserIDPtr(r *http.Request) *int64 {
	if user := GetUser(r); user != nil {
		id := user.ID
		return &id
	}
	return nil
}

// RequireAuth creates middleware that gates a route on an authenticated
// session. Must run after ResolveSession.
func RequireAuth() func(http.Handler) http.Handler {
	return gate(false)
}

// RequireAdmin creates middleware that gates a route on the admin role.
// An authenticated non-admin is sent to the dashboard, not a 403 page.
// Must run after ResolveSession.
func RequireAdmin() func(http.Handler) http.Handler {
	return gate(true)
}

// gate maps guard decisions onto HTTP responses.
func gate(requireAdmin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := GetSession(r)

			switch decision := guard.Evaluate(sess, requireAdmin); decision {
			case guard.DecisionWait:
				// Session resolution is synchronous here, so this branch is
				// only reachable if a resolver ever becomes asynchronous.
				// Degrade to a retryable response instead of guessing.
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session not ready", http.StatusServiceUnavailable)
			case guard.DecisionLogin:
				http.Redirect(w, r, loginRedirectURL(r), http.StatusSeeOther)
			case guard.DecisionHome:
				slog.Warn("access denied",
					"method", r.Method,
					"path", r.URL.Path,
					"user_id", sess.UserID,
					"user_role", sess.Role,
					"remote_addr", r.RemoteAddr,
				)
				http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
			case guard.DecisionAllow:
				next.ServeHTTP(w, r)
			default:
				http.Error(w, "Forbidden", http.StatusForbidden)
			}
		})
	}
}

// loginRedirectURL builds the login redirect carrying the originally
// requested location, so a successful login can return the visitor there.
func loginRedirectURL(r *http.Request) string {
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

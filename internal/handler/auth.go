// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/mileusna/useragent"

	"github.com/olegiv/lms-go/internal/auth"
	"github.com/olegiv/lms-go/internal/middleware"
	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/service"
	"github.com/olegiv/lms-go/internal/store"
)

// AuthHandler handles authentication routes.
type AuthHandler struct {
	queries         *store.Queries
	sessionManager  *scs.SessionManager
	eventService    *service.EventService
	loginProtection *middleware.LoginProtection
	tokens          *auth.Tokens
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *sql.DB, sm *scs.SessionManager, lp *middleware.LoginProtection, tokens *auth.Tokens) *AuthHandler {
	return &AuthHandler{
		queries:         store.New(db),
		sessionManager:  sm,
		eventService:    service.NewEventService(db),
		loginProtection: lp,
		tokens:          tokens,
	}
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login. The session cookie is set
// alongside; Token serves headless API clients.
type LoginResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token,omitempty"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func userToResponse(u model.User) UserResponse {
	return UserResponse{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	}
}

// clientIP extracts the client IP for event logging.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// clientMetadata builds event metadata from the request's user agent.
func clientMetadata(r *http.Request, extra map[string]any) map[string]any {
	md := map[string]any{}
	for k, v := range extra {
		md[k] = v
	}
	if uaHeader := r.Header.Get("User-Agent"); uaHeader != "" {
		ua := useragent.Parse(uaHeader)
		md["browser"] = ua.Name
		md["os"] = ua.OS
		if ua.Device != "" {
			md["device"] = ua.Device
		}
	}
	return md
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if req.Email == "" || req.Password == "" {
		WriteValidationError(w, map[string]string{"email": "Email and password are required"})
		return
	}

	ip := clientIP(r)

	if h.loginProtection != nil {
		if locked, remaining := h.loginProtection.IsAccountLocked(req.Email); locked {
			_ = h.eventService.LogAuthEvent(r.Context(), model.EventLevelWarning, "Login attempt on locked account", nil, ip, clientMetadata(r, map[string]any{"email": req.Email}))
			WriteError(w, http.StatusTooManyRequests, "account_locked", "Account temporarily locked. Try again in "+remaining.Round(time.Second).String(), nil)
			return
		}
	}

	user, err := h.queries.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Debug("login attempt for non-existent user", "email", req.Email)
			_ = h.eventService.LogAuthEvent(r.Context(), model.EventLevelWarning, "Login failed: user not found", nil, ip, clientMetadata(r, map[string]any{"email": req.Email}))
		} else {
			slog.Error("database error during login", "error", err)
		}
		// Record failed attempt even for non-existent users to prevent enumeration
		h.recordFailure(req.Email)
		WriteUnauthorized(w, "Invalid email or password")
		return
	}

	valid, err := auth.CheckPassword(req.Password, user.PasswordHash)
	if err != nil {
		slog.Error("password check error", "error", err)
		WriteUnauthorized(w, "Invalid email or password")
		return
	}
	if !valid {
		slog.Debug("invalid password attempt", "email", req.Email)
		_ = h.eventService.LogAuthEvent(r.Context(), model.EventLevelWarning, "Login failed: invalid password", &user.ID, ip, clientMetadata(r, map[string]any{"email": req.Email}))
		h.recordFailure(req.Email)
		WriteUnauthorized(w, "Invalid email or password")
		return
	}

	if h.loginProtection != nil {
		h.loginProtection.RecordSuccessfulLogin(req.Email)
	}

	// Re-hash password if it uses old/expensive parameters
	if auth.NeedsRehash(user.PasswordHash) {
		if newHash, err := auth.HashPassword(req.Password); err == nil {
			if err := h.queries.UpdateUserPassword(r.Context(), user.ID, newHash); err != nil {
				slog.Error("failed to re-hash password", "error", err, "user_id", user.ID)
			} else {
				slog.Info("password re-hashed with updated parameters", "user_id", user.ID)
			}
		}
	}

	if err := h.queries.UpdateUserLastLogin(r.Context(), user.ID, time.Now()); err != nil {
		// Don't block login on this error
		slog.Error("failed to update last login time", "error", err, "user_id", user.ID)
	}

	// Regenerate session ID to prevent session fixation
	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		slog.Error("session renewal error", "error", err)
		WriteInternalError(w, "Failed to establish session")
		return
	}
	h.sessionManager.Put(r.Context(), middleware.SessionKeyUserID, user.ID)

	resp := LoginResponse{User: userToResponse(user)}
	if h.tokens != nil {
		token, err := h.tokens.Issue(user.ID, user.Role)
		if err != nil {
			slog.Error("token issue failed", "error", err, "user_id", user.ID)
		} else {
			resp.Token = token
		}
	}

	slog.Info("user logged in", "user_id", user.ID, "email", user.Email)
	_ = h.eventService.LogAuthEvent(r.Context(), model.EventLevelInfo, "User logged in", &user.ID, ip, clientMetadata(r, map[string]any{"email": user.Email}))

	WriteSuccess(w, resp, nil)
}

// recordFailure tracks a failed attempt against the lockout policy.
func (h *AuthHandler) recordFailure(email string) {
	if h.loginProtection == nil {
		return
	}
	lp := h.loginProtection
	if locked, lockDuration := lp.RecordFailedAttempt(email); locked {
		slog.Warn("account locked", "email", email, "duration", lockDuration)
	}
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := h.sessionManager.GetInt64(r.Context(), middleware.SessionKeyUserID)

	if userID > 0 {
		_ = h.eventService.LogAuthEvent(r.Context(), model.EventLevelInfo, "User logged out", &userID, clientIP(r), nil)
	}

	if err := h.sessionManager.Destroy(r.Context()); err != nil {
		slog.Error("session destroy error", "error", err)
	}

	slog.Info("user logged out", "user_id", userID)
	WriteSuccess(w, map[string]string{"status": "logged_out"}, nil)
}

// Me handles GET /api/v1/auth/me, returning the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		WriteUnauthorized(w, "Not authenticated")
		return
	}
	WriteSuccess(w, userToResponse(*user), nil)
}

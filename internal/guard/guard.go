// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package guard decides access to gated routes from a session snapshot.
// The decision logic is pure: it reads the snapshot and an admin
// requirement and returns exactly one outcome, leaving redirects and
// rendering to the HTTP layer.
package guard

// Session is a point-in-time snapshot of the visitor's authentication
// state. While Loading is true the other fields must not be treated as
// authoritative; they may hold stale or zero values.
type Session struct {
	UserID  int64
	Email   string
	Role    string
	IsAdmin bool
	Loading bool
}

// Present returns true when the snapshot carries an authenticated user.
func (s Session) Present() bool {
	return s.UserID != 0
}

// Decision is the single outcome of evaluating a gated route.
type Decision int

const (
	// DecisionWait: the session has not resolved yet; show a neutral
	// waiting state and make no redirect decision.
	DecisionWait Decision = iota
	// DecisionLogin: no authenticated user; send to the login entry point,
	// carrying the originally requested location.
	DecisionLogin
	// DecisionHome: authenticated but lacking the required admin role;
	// send to the authenticated landing page rather than an error page.
	DecisionHome
	// DecisionAllow: render the protected content.
	DecisionAllow
)

// String returns a human-readable decision name for logging.
func (d Decision) String() string {
	switch d {
	case DecisionWait:
		return "wait"
	case DecisionLogin:
		return "login"
	case DecisionHome:
		return "home"
	case DecisionAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Evaluate applies the gate to a session snapshot. Branches are checked
// in strict priority order: an unresolved session always wins (so an
// anonymous-looking snapshot mid-resolution never flashes a login
// redirect), then authentication, then the admin requirement.
func Evaluate(sess Session, requireAdmin bool) Decision {
	if sess.Loading {
		return DecisionWait
	}
	if !sess.Present() {
		return DecisionLogin
	}
	if requireAdmin && !sess.IsAdmin {
		return DecisionHome
	}
	return DecisionAllow
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/olegiv/lms-go/internal/auth"
	"github.com/olegiv/lms-go/internal/guard"
	"github.com/olegiv/lms-go/internal/model"
)

const tokenTestSecret = "test-secret-for-api-middleware-0123456789"

func TestTokenAuthMissingHeader(t *testing.T) {
	db := testDB(t)
	tokens := auth.NewTokens([]byte(tokenTestSecret), time.Hour)
	handler := TokenAuth(tokens, db)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var apiErr APIError
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if apiErr.Error.Code != "unauthorized" {
		t.Errorf("code = %q", apiErr.Error.Code)
	}
}

func TestTokenAuthMalformedHeader(t *testing.T) {
	db := testDB(t)
	tokens := auth.NewTokens([]byte(tokenTestSecret), time.Hour)
	handler := TokenAuth(tokens, db)(okHandler())

	for _, header := range []string{"Basic abc", "Bearer", "justatoken"} {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
		r.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want %d", header, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestTokenAuthInvalidToken(t *testing.T) {
	db := testDB(t)
	tokens := auth.NewTokens([]byte(tokenTestSecret), time.Hour)
	handler := TokenAuth(tokens, db)(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
	r.Header.Set("Authorization", "Bearer not.a.jwt")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestTokenAuthValidToken(t *testing.T) {
	db := testDB(t)
	user := createTestUser(t, db, "api@test.local", model.RoleInstructor)
	tokens := auth.NewTokens([]byte(tokenTestSecret), time.Hour)

	raw, err := tokens.Issue(user.ID, user.Role)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var gotSess guard.Session
	var gotClaims *auth.TokenClaims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSess = GetSession(r)
		gotClaims = GetTokenClaims(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := TokenAuth(tokens, db)(inner)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if gotSess.UserID != user.ID {
		t.Errorf("session user = %d, want %d", gotSess.UserID, user.ID)
	}
	if gotClaims == nil || gotClaims.UserID != user.ID {
		t.Errorf("claims = %+v", gotClaims)
	}
}

func TestTokenAuthDeletedSubject(t *testing.T) {
	db := testDB(t)
	tokens := auth.NewTokens([]byte(tokenTestSecret), time.Hour)

	// Token for a user that does not exist in the database.
	raw, err := tokens.Issue(424242, model.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	handler := TokenAuth(tokens, db)(okHandler())
	r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdminAPI(t *testing.T) {
	tests := []struct {
		name string
		sess guard.Session
		want int
	}{
		{"anonymous", guard.Session{}, http.StatusUnauthorized},
		{"student", guard.Session{UserID: 2, Role: model.RoleStudent}, http.StatusForbidden},
		{"instructor", guard.Session{UserID: 3, Role: model.RoleInstructor}, http.StatusForbidden},
		{"admin", guard.Session{UserID: 1, Role: model.RoleAdmin, IsAdmin: true}, http.StatusOK},
	}

	handler := RequireAdminAPI()(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPut, "/api/v1/settings", nil)
			r = withSession(r, tt.sess)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if loc := w.Header().Get("Location"); loc != "" {
				t.Errorf("API gate must not redirect, got Location %q", loc)
			}
		})
	}
}

func TestLimiterCache(t *testing.T) {
	lc := newLimiterCache[string](1, 2)

	l1 := lc.get("a")
	if l1 != lc.get("a") {
		t.Error("same key should return the same limiter")
	}
	if l1 == lc.get("b") {
		t.Error("different keys should get distinct limiters")
	}

	if cleared := lc.clearIfExceeds(1); !cleared {
		t.Error("expected cache clear above max size")
	}
	if cleared := lc.clearIfExceeds(100); cleared {
		t.Error("unexpected clear below max size")
	}
}

func TestGlobalRateLimiter(t *testing.T) {
	rl := NewGlobalRateLimiter(1, 2)
	handler := rl.Middleware()(okHandler())

	var lastCode int
	for range 5 {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
		r.Header.Set("X-Real-IP", "203.0.113.9")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		lastCode = w.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("burst exhausted: status = %d, want %d", lastCode, http.StatusTooManyRequests)
	}

	// A different IP has its own bucket.
	r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
	r.Header.Set("X-Real-IP", "198.51.100.7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("fresh IP: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestLoginProtectionLockout(t *testing.T) {
	lp := NewLoginProtection(LoginProtectionConfig{
		MaxFailedAttempts: 3,
		LockoutDuration:   time.Minute,
		AttemptWindow:     time.Minute,
	})

	email := "victim@test.local"
	if locked, _ := lp.IsAccountLocked(email); locked {
		t.Fatal("account locked before any attempts")
	}

	lp.RecordFailedAttempt(email)
	lp.RecordFailedAttempt(email)
	if remaining := lp.GetRemainingAttempts(email); remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}

	locked, dur := lp.RecordFailedAttempt(email)
	if !locked || dur != time.Minute {
		t.Fatalf("locked = %v dur = %v, want locked for 1m", locked, dur)
	}
	if locked, _ := lp.IsAccountLocked(email); !locked {
		t.Error("IsAccountLocked = false after lockout")
	}

	lp.RecordSuccessfulLogin(email)
	if locked, _ := lp.IsAccountLocked(email); locked {
		t.Error("successful login should clear the lockout tracking")
	}
}

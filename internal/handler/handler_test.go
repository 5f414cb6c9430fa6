// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/olegiv/lms-go/internal/auth"
	"github.com/olegiv/lms-go/internal/guard"
	"github.com/olegiv/lms-go/internal/middleware"
	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/store"
)

const testPassword = "correct-horse-battery"

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "lms-handler-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	_ = tmpFile.Close()

	db, err := store.NewDB(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.Migrate(db); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *sql.DB, email, role string) model.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	now := time.Now()
	user, err := store.New(db).CreateUser(context.Background(), store.CreateUserParams{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Name:         "Test User",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func createTestCourse(t *testing.T, db *sql.DB, slug string, published bool) model.Course {
	t.Helper()

	now := time.Now()
	course, err := store.New(db).CreateCourse(context.Background(), store.CreateCourseParams{
		Title:           "Course " + slug,
		Slug:            slug,
		Description:     "About " + slug,
		DescriptionHTML: "<p>About " + slug + "</p>",
		Category:        "technical",
		Specialty:       "nursing",
		PriceCents:      19900,
		DurationHours:   20,
		Published:       published,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	return course
}

// asUser attaches the user's resolved session and record to the request
// context, the same shape the session middleware produces.
func asUser(r *http.Request, user model.User) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.ContextKeySession, guard.Session{
		UserID:  user.ID,
		Email:   user.Email,
		Role:    user.Role,
		IsAdmin: user.IsAdmin(),
	})
	ctx = context.WithValue(ctx, middleware.ContextKeyUser, user)
	return r.WithContext(ctx)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, data); err != nil {
		t.Fatalf("failed to decode response data: %v", err)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return envelope.Error.Code
}

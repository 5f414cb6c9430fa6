// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/version"
)

func TestHealthPublicMinimalResponse(t *testing.T) {
	db := newTestDB(t)
	h := NewHealthHandler(db, nil, t.TempDir(), version.Info{Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", resp["status"])
	}
	if _, ok := resp["checks"]; ok {
		t.Error("check details leaked to unauthenticated caller")
	}
}

func TestHealthAdminSeesChecks(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	h := NewHealthHandler(db, nil, t.TempDir(), version.Info{Version: "test"})

	req := asUser(httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil), admin)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Version != "test" {
		t.Errorf("expected version test, got %q", status.Version)
	}
	if _, ok := status.Checks["database"]; !ok {
		t.Error("expected database check for admin caller")
	}
	if status.System == nil {
		t.Error("expected system info with verbose=true")
	}
}

func TestHealthStudentGetsBasicStatus(t *testing.T) {
	db := newTestDB(t)
	student := createTestUser(t, db, "student@example.com", model.RoleStudent)
	h := NewHealthHandler(db, nil, t.TempDir(), version.Info{Version: "test"})

	req := asUser(httptest.NewRequest(http.MethodGet, "/health", nil), student)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Uptime == "" {
		t.Error("expected uptime for authenticated caller")
	}
	if len(status.Checks) != 0 {
		t.Error("check details leaked to non-admin caller")
	}
}

func TestLiveness(t *testing.T) {
	db := newTestDB(t)
	h := NewHealthHandler(db, nil, t.TempDir(), version.Info{})

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	db := newTestDB(t)
	h := NewHealthHandler(db, nil, t.TempDir(), version.Info{})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ready" {
		t.Errorf("expected ready, got %q", resp["status"])
	}
}

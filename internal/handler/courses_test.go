// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/lms-go/internal/model"
)

func newCourseRouter(db *sql.DB) http.Handler {
	h := NewCourseHandler(db)
	r := chi.NewRouter()
	r.Get("/api/v1/courses", h.List)
	r.Post("/api/v1/courses", h.Create)
	r.Get("/api/v1/courses/{slug}", h.GetBySlug)
	r.Put("/api/v1/courses/{id}", h.Update)
	r.Delete("/api/v1/courses/{id}", h.Delete)
	return r
}

func TestListCoursesPublicSeesOnlyPublished(t *testing.T) {
	db := newTestDB(t)
	createTestCourse(t, db, "ecg-basics", true)
	createTestCourse(t, db, "wound-care", true)
	createTestCourse(t, db, "draft-course", false)
	router := newCourseRouter(db)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var envelope struct {
		Data []CourseResponse `json:"data"`
		Meta Meta             `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(envelope.Data) != 2 {
		t.Fatalf("expected 2 published courses, got %d", len(envelope.Data))
	}
	if envelope.Meta.Total != 2 {
		t.Errorf("expected meta total 2, got %d", envelope.Meta.Total)
	}
	for _, c := range envelope.Data {
		if c.Slug == "draft-course" {
			t.Error("unpublished course leaked into public listing")
		}
		if c.Description != "" {
			t.Error("markdown source should not be included for public callers")
		}
	}
}

func TestListCoursesAdminCanSeeAll(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	createTestCourse(t, db, "published-course", true)
	createTestCourse(t, db, "draft-course", false)
	router := newCourseRouter(db)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/courses?all=1", nil), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var envelope struct {
		Data []CourseResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(envelope.Data) != 2 {
		t.Fatalf("expected admin to see 2 courses, got %d", len(envelope.Data))
	}
}

func TestListCoursesRejectsUnknownCategory(t *testing.T) {
	db := newTestDB(t)
	router := newCourseRouter(db)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses?category=bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestGetCourseBySlug(t *testing.T) {
	db := newTestDB(t)
	course := createTestCourse(t, db, "ecg-basics", true)
	router := newCourseRouter(db)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/ecg-basics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp CourseResponse
	decodeEnvelope(t, rec, &resp)
	if resp.ID != course.ID {
		t.Errorf("expected course ID %d, got %d", course.ID, resp.ID)
	}
	if resp.CategoryLabel == "" {
		t.Error("expected category label to be populated")
	}
}

func TestGetUnpublishedCourseHiddenFromPublic(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	createTestCourse(t, db, "draft-course", false)
	router := newCourseRouter(db)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/draft-course", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for public caller, got %d", rec.Code)
	}

	req = asUser(httptest.NewRequest(http.MethodGet, "/api/v1/courses/draft-course", nil), admin)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for admin, got %d", rec.Code)
	}
}

func TestCreateCourseRendersDescription(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	router := newCourseRouter(db)

	body := `{
		"title": "Radiología Avanzada",
		"description": "Learn **everything**. <script>alert(1)</script>",
		"category": "postgraduate",
		"specialty": "radiology",
		"price_cents": 49900,
		"duration_hours": 120,
		"published": true
	}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/courses", strings.NewReader(body)), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp CourseResponse
	decodeEnvelope(t, rec, &resp)
	if resp.Slug != "radiologia-avanzada" {
		t.Errorf("expected slug radiologia-avanzada, got %q", resp.Slug)
	}
	if !strings.Contains(resp.DescriptionHTML, "<strong>everything</strong>") {
		t.Errorf("expected rendered markdown in description HTML, got %q", resp.DescriptionHTML)
	}
	if strings.Contains(resp.DescriptionHTML, "<script>") {
		t.Errorf("script tag survived sanitization: %q", resp.DescriptionHTML)
	}
}

func TestCreateCourseRejectsDuplicateSlug(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	createTestCourse(t, db, "ecg-basics", true)
	router := newCourseRouter(db)

	body := `{"title": "ECG Basics", "slug": "ecg-basics", "category": "technical", "specialty": "nursing"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/courses", strings.NewReader(body)), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestCreateCourseRejectsUnknownCategory(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	router := newCourseRouter(db)

	body := `{"title": "Mystery", "category": "mystery", "specialty": "nursing"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/courses", strings.NewReader(body)), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestUpdateCoursePartial(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	course := createTestCourse(t, db, "ecg-basics", true)
	router := newCourseRouter(db)

	body := `{"title": "ECG Fundamentals", "price_cents": 29900}`
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/courses/"+itoa(course.ID), strings.NewReader(body)), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp CourseResponse
	decodeEnvelope(t, rec, &resp)
	if resp.Title != "ECG Fundamentals" {
		t.Errorf("expected updated title, got %q", resp.Title)
	}
	if resp.PriceCents != 29900 {
		t.Errorf("expected updated price, got %d", resp.PriceCents)
	}
	if resp.Slug != course.Slug {
		t.Errorf("slug changed unexpectedly: %q", resp.Slug)
	}
	if resp.DurationHours != course.DurationHours {
		t.Errorf("duration changed unexpectedly: %d", resp.DurationHours)
	}
}

func TestUpdateCourseNotFound(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	router := newCourseRouter(db)

	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/courses/9999", strings.NewReader(`{"title":"x"}`)), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestDeleteCourse(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)
	course := createTestCourse(t, db, "ecg-basics", true)
	router := newCourseRouter(db)

	req := asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/courses/"+itoa(course.ID), nil), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/courses/ecg-basics", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rec.Code)
	}
}

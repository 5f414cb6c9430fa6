// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"bytes"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/olegiv/lms-go/internal/middleware"
	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/service"
	"github.com/olegiv/lms-go/internal/store"
	"github.com/olegiv/lms-go/internal/util"
)

// htmlSanitizer strips dangerous markup from rendered course descriptions.
var htmlSanitizer = bluemonday.UGCPolicy()

// CourseHandler handles course catalog routes.
type CourseHandler struct {
	queries      *store.Queries
	eventService *service.EventService
}

// NewCourseHandler creates a new CourseHandler.
func NewCourseHandler(db *sql.DB) *CourseHandler {
	return &CourseHandler{
		queries:      store.New(db),
		eventService: service.NewEventService(db),
	}
}

// CourseResponse represents a course in API responses.
type CourseResponse struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Slug            string    `json:"slug"`
	Description     string    `json:"description,omitempty"`
	DescriptionHTML string    `json:"description_html"`
	Category        string    `json:"category"`
	CategoryLabel   string    `json:"category_label"`
	Specialty       string    `json:"specialty"`
	SpecialtyLabel  string    `json:"specialty_label"`
	PriceCents      int64     `json:"price_cents"`
	DurationHours   int       `json:"duration_hours"`
	ImagePath       string    `json:"image_path,omitempty"`
	Published       bool      `json:"published"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// courseToResponse converts a model.Course to CourseResponse.
// The markdown source is only included for admin consumers.
func courseToResponse(c model.Course, includeSource bool) CourseResponse {
	resp := CourseResponse{
		ID:              c.ID,
		Title:           c.Title,
		Slug:            c.Slug,
		DescriptionHTML: c.DescriptionHTML,
		Category:        c.Category,
		CategoryLabel:   c.CategoryLabel(),
		Specialty:       c.Specialty,
		SpecialtyLabel:  c.SpecialtyLabel(),
		PriceCents:      c.PriceCents,
		DurationHours:   c.DurationHours,
		ImagePath:       c.ImagePath,
		Published:       c.Published,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if includeSource {
		resp.Description = c.Description
	}
	return resp
}

// CreateCourseRequest represents the request body for creating a course.
type CreateCourseRequest struct {
	Title         string `json:"title"`
	Slug          string `json:"slug,omitempty"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Specialty     string `json:"specialty"`
	PriceCents    int64  `json:"price_cents"`
	DurationHours int    `json:"duration_hours"`
	ImagePath     string `json:"image_path,omitempty"`
	Published     bool   `json:"published"`
}

// UpdateCourseRequest represents the request body for updating a course.
// Omitted fields keep their current values.
type UpdateCourseRequest struct {
	Title         *string `json:"title,omitempty"`
	Slug          *string `json:"slug,omitempty"`
	Description   *string `json:"description,omitempty"`
	Category      *string `json:"category,omitempty"`
	Specialty     *string `json:"specialty,omitempty"`
	PriceCents    *int64  `json:"price_cents,omitempty"`
	DurationHours *int    `json:"duration_hours,omitempty"`
	ImagePath     *string `json:"image_path,omitempty"`
	Published     *bool   `json:"published,omitempty"`
}

// renderDescription converts markdown to sanitized HTML.
func renderDescription(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return htmlSanitizer.Sanitize(buf.String()), nil
}

// validateCourseFields checks category and specialty keys.
func validateCourseFields(category, specialty string) map[string]string {
	fieldErrors := map[string]string{}
	if !model.IsValidCategory(category) {
		fieldErrors["category"] = "Unknown category"
	}
	if !model.IsValidSpecialty(specialty) {
		fieldErrors["specialty"] = "Unknown specialty"
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

// List handles GET /api/v1/courses.
// Public requests see only published courses; admins can pass all=1.
func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	isAdmin := sess.IsAdmin

	page := ParsePageParam(r)
	perPage := ParsePerPageParam(r, 20, 100)

	params := store.ListCoursesParams{
		PublishedOnly: !(isAdmin && r.URL.Query().Get("all") == "1"),
		Category:      r.URL.Query().Get("category"),
		Specialty:     r.URL.Query().Get("specialty"),
		Limit:         perPage,
		Offset:        (page - 1) * perPage,
	}

	if params.Category != "" && !model.IsValidCategory(params.Category) {
		WriteBadRequest(w, "Unknown category", nil)
		return
	}
	if params.Specialty != "" && !model.IsValidSpecialty(params.Specialty) {
		WriteBadRequest(w, "Unknown specialty", nil)
		return
	}

	courses, err := h.queries.ListCourses(r.Context(), params)
	if err != nil {
		slog.Error("failed to list courses", "error", err)
		WriteInternalError(w, "Failed to list courses")
		return
	}
	total, err := h.queries.CountCourses(r.Context(), params)
	if err != nil {
		slog.Error("failed to count courses", "error", err)
		WriteInternalError(w, "Failed to list courses")
		return
	}

	resp := make([]CourseResponse, 0, len(courses))
	for _, c := range courses {
		resp = append(resp, courseToResponse(c, isAdmin))
	}

	WriteSuccess(w, resp, &Meta{
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pageCount(total, perPage),
	})
}

// GetBySlug handles GET /api/v1/courses/{slug}.
func (h *CourseHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	sess := middleware.GetSession(r)

	course, err := h.queries.GetCourseBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			WriteNotFound(w, "Course not found")
		} else {
			slog.Error("failed to get course", "slug", slug, "error", err)
			WriteInternalError(w, "Failed to retrieve course")
		}
		return
	}

	// Unpublished courses are invisible to non-admins.
	if !course.Published && !sess.IsAdmin {
		WriteNotFound(w, "Course not found")
		return
	}

	WriteSuccess(w, courseToResponse(course, sess.IsAdmin), nil)
}

// Create handles POST /api/v1/courses (admin).
func (h *CourseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		return
	}

	if req.Title == "" {
		WriteValidationError(w, map[string]string{"title": "Title is required"})
		return
	}
	if fieldErrors := validateCourseFields(req.Category, req.Specialty); fieldErrors != nil {
		WriteValidationError(w, fieldErrors)
		return
	}

	slug := req.Slug
	if slug == "" {
		slug = util.Slugify(req.Title)
	}
	if !util.IsValidSlug(slug) {
		WriteValidationError(w, map[string]string{"slug": "Invalid slug"})
		return
	}

	if _, err := h.queries.GetCourseBySlug(r.Context(), slug); err == nil {
		WriteValidationError(w, map[string]string{"slug": "Slug already exists"})
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		WriteInternalError(w, "Failed to check slug")
		return
	}

	descriptionHTML, err := renderDescription(req.Description)
	if err != nil {
		WriteBadRequest(w, "Failed to render description", nil)
		return
	}

	now := time.Now()
	var createdBy sql.NullInt64
	if id := middleware.GetUserID(r); id != 0 {
		createdBy = sql.NullInt64{Int64: id, Valid: true}
	}

	course, err := h.queries.CreateCourse(r.Context(), store.CreateCourseParams{
		Title:           req.Title,
		Slug:            slug,
		Description:     req.Description,
		DescriptionHTML: descriptionHTML,
		Category:        req.Category,
		Specialty:       req.Specialty,
		PriceCents:      req.PriceCents,
		DurationHours:   req.DurationHours,
		ImagePath:       req.ImagePath,
		Published:       req.Published,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		slog.Error("failed to create course", "error", err)
		WriteInternalError(w, "Failed to create course")
		return
	}

	_ = h.eventService.LogCourseEvent(r.Context(), model.EventLevelInfo, "Course created", middleware.GetUserIDPtr(r), clientIP(r), map[string]any{"course_id": course.ID, "slug": course.Slug})

	WriteCreated(w, courseToResponse(course, true))
}

// Update handles PUT /api/v1/courses/{id} (admin).
func (h *CourseHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(r)
	if err != nil {
		WriteBadRequest(w, "Invalid course ID", nil)
		return
	}

	course, err := h.queries.GetCourseByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			WriteNotFound(w, "Course not found")
		} else {
			WriteInternalError(w, "Failed to retrieve course")
		}
		return
	}

	var req UpdateCourseRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		return
	}

	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Slug != nil {
		if !util.IsValidSlug(*req.Slug) {
			WriteValidationError(w, map[string]string{"slug": "Invalid slug"})
			return
		}
		if *req.Slug != course.Slug {
			if _, err := h.queries.GetCourseBySlug(r.Context(), *req.Slug); err == nil {
				WriteValidationError(w, map[string]string{"slug": "Slug already exists"})
				return
			} else if !errors.Is(err, sql.ErrNoRows) {
				WriteInternalError(w, "Failed to check slug")
				return
			}
		}
		course.Slug = *req.Slug
	}
	if req.Description != nil {
		course.Description = *req.Description
		html, err := renderDescription(*req.Description)
		if err != nil {
			WriteBadRequest(w, "Failed to render description", nil)
			return
		}
		course.DescriptionHTML = html
	}
	if req.Category != nil {
		course.Category = *req.Category
	}
	if req.Specialty != nil {
		course.Specialty = *req.Specialty
	}
	if fieldErrors := validateCourseFields(course.Category, course.Specialty); fieldErrors != nil {
		WriteValidationError(w, fieldErrors)
		return
	}
	if req.PriceCents != nil {
		course.PriceCents = *req.PriceCents
	}
	if req.DurationHours != nil {
		course.DurationHours = *req.DurationHours
	}
	if req.ImagePath != nil {
		course.ImagePath = *req.ImagePath
	}
	if req.Published != nil {
		course.Published = *req.Published
	}

	updated, err := h.queries.UpdateCourse(r.Context(), store.UpdateCourseParams{
		ID:              course.ID,
		Title:           course.Title,
		Slug:            course.Slug,
		Description:     course.Description,
		DescriptionHTML: course.DescriptionHTML,
		Category:        course.Category,
		Specialty:       course.Specialty,
		PriceCents:      course.PriceCents,
		DurationHours:   course.DurationHours,
		ImagePath:       course.ImagePath,
		Published:       course.Published,
		UpdatedAt:       time.Now(),
	})
	if err != nil {
		slog.Error("failed to update course", "course_id", id, "error", err)
		WriteInternalError(w, "Failed to update course")
		return
	}

	_ = h.eventService.LogCourseEvent(r.Context(), model.EventLevelInfo, "Course updated", middleware.GetUserIDPtr(r), clientIP(r), map[string]any{"course_id": id})

	WriteSuccess(w, courseToResponse(updated, true), nil)
}

// Delete handles DELETE /api/v1/courses/{id} (admin).
func (h *CourseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(r)
	if err != nil {
		WriteBadRequest(w, "Invalid course ID", nil)
		return
	}

	if _, err := h.queries.GetCourseByID(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			WriteNotFound(w, "Course not found")
		} else {
			WriteInternalError(w, "Failed to retrieve course")
		}
		return
	}

	if err := h.queries.DeleteCourse(r.Context(), id); err != nil {
		slog.Error("failed to delete course", "course_id", id, "error", err)
		WriteInternalError(w, "Failed to delete course")
		return
	}

	_ = h.eventService.LogCourseEvent(r.Context(), model.EventLevelInfo, "Course deleted", middleware.GetUserIDPtr(r), clientIP(r), map[string]any{"course_id": id})

	w.WriteHeader(http.StatusNoContent)
}

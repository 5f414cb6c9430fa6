// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/olegiv/lms-go/internal/imaging"
	"github.com/olegiv/lms-go/internal/middleware"
	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/service"
	"github.com/olegiv/lms-go/internal/settings"
	"github.com/olegiv/lms-go/internal/store"
)

// SettingsHandler serves the site settings record.
//
// Reads come from the watcher's live copy so every instance serves current
// values without a database round trip; writes go through the settings
// service, which persists and broadcasts the full record.
type SettingsHandler struct {
	service      *settings.Service
	watcher      *settings.Watcher
	processor    *imaging.Processor
	eventService *service.EventService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(db *sql.DB, svc *settings.Service, watcher *settings.Watcher, processor *imaging.Processor) *SettingsHandler {
	return &SettingsHandler{
		service:      svc,
		watcher:      watcher,
		processor:    processor,
		eventService: service.NewEventService(db),
	}
}

// SettingsResponse represents the settings record in API responses.
type SettingsResponse struct {
	SiteName        string    `json:"site_name"`
	SiteDescription string    `json:"site_description"`
	ContactEmail    string    `json:"contact_email"`
	PaymentNumber   string    `json:"payment_number"`
	PaymentQRPath   string    `json:"payment_qr_path,omitempty"`
	LogoPath        string    `json:"logo_path,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func settingsToResponse(s model.SiteSettings) SettingsResponse {
	return SettingsResponse{
		SiteName:        s.SiteName,
		SiteDescription: s.SiteDescription,
		ContactEmail:    s.ContactEmail,
		PaymentNumber:   s.PaymentNumber,
		PaymentQRPath:   s.PaymentQRPath,
		LogoPath:        s.LogoPath,
		UpdatedAt:       s.UpdatedAt,
	}
}

// UpdateSettingsRequest is the PUT body. All fields are written as given;
// the settings record is replaced wholesale, never merged.
type UpdateSettingsRequest struct {
	SiteName        string `json:"site_name"`
	SiteDescription string `json:"site_description"`
	ContactEmail    string `json:"contact_email"`
	PaymentNumber   string `json:"payment_number"`
}

// Get handles GET /api/v1/settings (public).
// The record is served from the watcher's copy, falling back to defaults
// when the record is absent or the initial fetch failed.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, settingsToResponse(h.watcher.Current()), nil)
}

// Update handles PUT /api/v1/settings (admin).
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		return
	}

	if req.SiteName == "" {
		WriteValidationError(w, map[string]string{"site_name": "Site name is required"})
		return
	}

	// Image paths survive text updates: carry them over from the current
	// record so a PUT does not orphan uploaded files.
	current := h.watcher.Current()

	var updatedBy sql.NullInt64
	if id := middleware.GetUserID(r); id != 0 {
		updatedBy = sql.NullInt64{Int64: id, Valid: true}
	}

	stored, err := h.service.Update(r.Context(), store.UpsertSiteSettingsParams{
		SiteName:        req.SiteName,
		SiteDescription: req.SiteDescription,
		ContactEmail:    req.ContactEmail,
		PaymentNumber:   req.PaymentNumber,
		PaymentQRPath:   current.PaymentQRPath,
		LogoPath:        current.LogoPath,
		UpdatedAt:       time.Now(),
		UpdatedBy:       updatedBy,
	})
	if err != nil {
		slog.Error("failed to update settings", "error", err)
		WriteInternalError(w, "Failed to update settings")
		return
	}

	_ = h.eventService.LogSettingsEvent(r.Context(), model.EventLevelInfo, "Site settings updated", middleware.GetUserIDPtr(r), clientIP(r), nil)

	WriteSuccess(w, settingsToResponse(stored), nil)
}

// UploadLogo handles POST /api/v1/settings/logo (admin, multipart).
func (h *SettingsHandler) UploadLogo(w http.ResponseWriter, r *http.Request) {
	h.uploadImage(w, r, imaging.KindLogo)
}

// UploadPaymentQR handles POST /api/v1/settings/payment-qr (admin, multipart).
func (h *SettingsHandler) UploadPaymentQR(w http.ResponseWriter, r *http.Request) {
	h.uploadImage(w, r, imaging.KindPaymentQR)
}

// uploadImage processes a settings image upload and persists the new path
// in the settings record (publishing the change like any other update).
func (h *SettingsHandler) uploadImage(w http.ResponseWriter, r *http.Request, kind string) {
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		WriteBadRequest(w, "Invalid multipart form", nil)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		WriteValidationError(w, map[string]string{"file": "Image file is required"})
		return
	}
	defer func() { _ = file.Close() }()

	result, err := h.processor.Process(file, kind)
	if err != nil {
		slog.Warn("settings image upload rejected", "kind", kind, "error", err)
		WriteBadRequest(w, "Could not process image: "+err.Error(), nil)
		return
	}

	current := h.watcher.Current()
	params := store.UpsertSiteSettingsParams{
		SiteName:        current.SiteName,
		SiteDescription: current.SiteDescription,
		ContactEmail:    current.ContactEmail,
		PaymentNumber:   current.PaymentNumber,
		PaymentQRPath:   current.PaymentQRPath,
		LogoPath:        current.LogoPath,
		UpdatedAt:       time.Now(),
	}
	if id := middleware.GetUserID(r); id != 0 {
		params.UpdatedBy = sql.NullInt64{Int64: id, Valid: true}
	}
	switch kind {
	case imaging.KindLogo:
		params.LogoPath = result.Path
	case imaging.KindPaymentQR:
		params.PaymentQRPath = result.Path
	}

	stored, err := h.service.Update(r.Context(), params)
	if err != nil {
		slog.Error("failed to store uploaded image path", "kind", kind, "error", err)
		WriteInternalError(w, "Failed to update settings")
		return
	}

	_ = h.eventService.LogSettingsEvent(r.Context(), model.EventLevelInfo, "Settings image uploaded", middleware.GetUserIDPtr(r), clientIP(r), map[string]any{
		"kind":  kind,
		"size":  result.Size,
		"width": result.Width,
	})

	WriteSuccess(w, settingsToResponse(stored), nil)
}

// Refetch handles POST /api/v1/settings/refetch (admin). It forces the
// local watcher to reload the record from storage, overriding whatever the
// push stream last delivered.
func (h *SettingsHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	if err := h.watcher.Refetch(r.Context()); err != nil {
		slog.Error("settings refetch failed", "error", err)
		WriteInternalError(w, "Failed to refetch settings")
		return
	}
	WriteSuccess(w, settingsToResponse(h.watcher.Current()), nil)
}

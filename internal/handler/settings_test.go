// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"bytes"
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/olegiv/lms-go/internal/imaging"
	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/pubsub"
	"github.com/olegiv/lms-go/internal/settings"
	"github.com/olegiv/lms-go/internal/store"
)

const settingsTestChannel = "settings-changes"

type settingsFixture struct {
	db      *sql.DB
	handler *SettingsHandler
	watcher *settings.Watcher
	admin   model.User
}

func newSettingsFixture(t *testing.T) *settingsFixture {
	t.Helper()

	db := newTestDB(t)
	admin := createTestUser(t, db, "admin@example.com", model.RoleAdmin)

	broker := pubsub.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	svc := settings.NewService(db, broker, settingsTestChannel)
	watcher := settings.NewWatcher(svc, broker, settingsTestChannel, nil)
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(watcher.Close)

	processor := imaging.NewProcessor(t.TempDir())
	return &settingsFixture{
		db:      db,
		handler: NewSettingsHandler(db, svc, watcher, processor),
		watcher: watcher,
		admin:   admin,
	}
}

// waitForSettings polls until the watcher's copy satisfies cond.
func waitForSettings(t *testing.T, w *settings.Watcher, cond func(model.SiteSettings) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(w.Current()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("watcher copy never reached expected state")
}

func TestGetSettingsServesDefaultsWhenAbsent(t *testing.T) {
	f := newSettingsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	rec := httptest.NewRecorder()
	f.handler.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp SettingsResponse
	decodeEnvelope(t, rec, &resp)
	defaults := model.DefaultSiteSettings()
	if resp.SiteName != defaults.SiteName {
		t.Errorf("expected default site name %q, got %q", defaults.SiteName, resp.SiteName)
	}
}

func TestUpdateSettingsReplacesRecord(t *testing.T) {
	f := newSettingsFixture(t)

	body := `{"site_name":"Salud Academy","site_description":"Continuing education","contact_email":"hello@salud.example","payment_number":"555-0101"}`
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(body)), f.admin)
	rec := httptest.NewRecorder()
	f.handler.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SettingsResponse
	decodeEnvelope(t, rec, &resp)
	if resp.SiteName != "Salud Academy" {
		t.Errorf("expected updated site name, got %q", resp.SiteName)
	}

	// The update is pushed to the watcher, not just stored.
	waitForSettings(t, f.watcher, func(s model.SiteSettings) bool {
		return s.SiteName == "Salud Academy"
	})

	stored, err := store.New(f.db).GetSiteSettings(context.Background())
	if err != nil {
		t.Fatalf("failed to read stored settings: %v", err)
	}
	if stored.ContactEmail != "hello@salud.example" {
		t.Errorf("expected stored contact email, got %q", stored.ContactEmail)
	}
	if !stored.UpdatedBy.Valid || stored.UpdatedBy.Int64 != f.admin.ID {
		t.Errorf("expected updated_by %d, got %+v", f.admin.ID, stored.UpdatedBy)
	}
}

func TestUpdateSettingsRequiresSiteName(t *testing.T) {
	f := newSettingsFixture(t)

	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(`{"site_name":""}`)), f.admin)
	rec := httptest.NewRecorder()
	f.handler.Update(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func multipartPNG(t *testing.T, width, height int) (*bytes.Buffer, string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "upload.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(pngBuf.Bytes()); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadLogoStoresPath(t *testing.T) {
	f := newSettingsFixture(t)

	body, contentType := multipartPNG(t, 64, 64)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/settings/logo", body), f.admin)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.handler.UploadLogo(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SettingsResponse
	decodeEnvelope(t, rec, &resp)
	if resp.LogoPath == "" {
		t.Fatal("expected logo path in response")
	}
	if !strings.HasPrefix(resp.LogoPath, "logo/") {
		t.Errorf("expected logo path under logo/, got %q", resp.LogoPath)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	f := newSettingsFixture(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "notes.txt")
	_, _ = part.Write([]byte("not an image"))
	_ = writer.Close()

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/settings/logo", &body), f.admin)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.UploadLogo(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestUpdateSettingsPreservesImagePaths(t *testing.T) {
	f := newSettingsFixture(t)

	body, contentType := multipartPNG(t, 64, 64)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/settings/logo", body), f.admin)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.handler.UploadLogo(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logo upload failed: %d", rec.Code)
	}

	waitForSettings(t, f.watcher, func(s model.SiteSettings) bool {
		return s.LogoPath != ""
	})

	update := `{"site_name":"Renamed","site_description":"","contact_email":"","payment_number":""}`
	req = asUser(httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(update)), f.admin)
	rec = httptest.NewRecorder()
	f.handler.Update(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings update failed: %d", rec.Code)
	}

	var resp SettingsResponse
	decodeEnvelope(t, rec, &resp)
	if resp.LogoPath == "" {
		t.Error("logo path lost across a text-only settings update")
	}
	if resp.SiteName != "Renamed" {
		t.Errorf("expected renamed site, got %q", resp.SiteName)
	}
}

func TestRefetchReloadsFromStorage(t *testing.T) {
	f := newSettingsFixture(t)

	// Write directly through the store so no change event is published.
	_, err := store.New(f.db).UpsertSiteSettings(context.Background(), store.UpsertSiteSettingsParams{
		SiteName:  "Silent Update",
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to upsert settings: %v", err)
	}

	if f.watcher.Current().SiteName == "Silent Update" {
		t.Fatal("watcher should not have seen the silent update yet")
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/settings/refetch", nil), f.admin)
	rec := httptest.NewRecorder()
	f.handler.Refetch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp SettingsResponse
	decodeEnvelope(t, rec, &resp)
	if resp.SiteName != "Silent Update" {
		t.Errorf("expected refetched site name, got %q", resp.SiteName)
	}
}

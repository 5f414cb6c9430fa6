// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/olegiv/lms-go/internal/store"
)

// EventsHandler exposes the audit event log to administrators.
type EventsHandler struct {
	queries *store.Queries
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(db *sql.DB) *EventsHandler {
	return &EventsHandler{queries: store.New(db)}
}

// EventResponse represents an audit event in API responses.
type EventResponse struct {
	ID        int64           `json:"id"`
	Level     string          `json:"level"`
	Category  string          `json:"category"`
	Message   string          `json:"message"`
	UserID    *int64          `json:"user_id,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// List handles GET /api/v1/events (admin), newest first.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			WriteBadRequest(w, "limit must be between 1 and 500", nil)
			return
		}
		limit = parsed
	}

	events, err := h.queries.ListRecentEvents(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list events", "error", err)
		WriteInternalError(w, "Failed to list events")
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		item := EventResponse{
			ID:        e.ID,
			Level:     e.Level,
			Category:  e.Category,
			Message:   e.Message,
			IPAddress: e.IPAddress,
			CreatedAt: e.CreatedAt,
		}
		if e.UserID.Valid {
			id := e.UserID.Int64
			item.UserID = &id
		}
		if json.Valid([]byte(e.Metadata)) {
			item.Metadata = json.RawMessage(e.Metadata)
		}
		resp = append(resp, item)
	}

	WriteSuccess(w, resp, nil)
}

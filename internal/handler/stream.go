// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/olegiv/lms-go/internal/pubsub"
)

// streamHeartbeat is how often a comment line is written to keep
// intermediaries from timing out an idle stream.
const streamHeartbeat = 30 * time.Second

// StreamHandler re-exports settings change events over Server-Sent Events
// so browser clients receive the same full-record snapshots that server
// instances apply internally.
type StreamHandler struct {
	broker  pubsub.Broker
	channel string
}

// NewStreamHandler creates a stream handler for the given broker channel.
func NewStreamHandler(broker pubsub.Broker, channel string) *StreamHandler {
	return &StreamHandler{broker: broker, channel: channel}
}

// Settings handles GET /api/v1/settings/stream. Each event's data line is
// the complete settings record as JSON; clients replace their copy rather
// than merging.
func (h *StreamHandler) Settings(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub, err := h.broker.Subscribe(r.Context(), h.channel)
	if err != nil {
		slog.Error("settings stream subscribe failed", "error", err)
		WriteInternalError(w, "Failed to open stream")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			slog.Error("settings stream requires a flushable response writer")
		}
		return
	}

	// The stream outlives the server's write timeout; disable it for this
	// response only.
	_ = rc.SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case payload, open := <-sub.Events():
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "event: settings\ndata: %s\n\n", payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

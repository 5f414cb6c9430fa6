// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxJSONBody caps request bodies to keep malformed clients from holding
// large buffers.
const maxJSONBody = 1 << 20 // 1 MiB

// decodeJSONBody decodes the request body into dst. On failure a 400
// response is written and a non-nil error returned so callers can bail out.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large", nil)
		case errors.Is(err, io.EOF):
			WriteBadRequest(w, "Request body is empty", nil)
		default:
			WriteBadRequest(w, "Invalid request body", nil)
		}
		return err
	}

	// A second value means trailing garbage after the JSON document.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteBadRequest(w, "Request body must contain a single JSON object", nil)
		return errors.New("trailing data in request body")
	}

	return nil
}

// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"database/sql"
	"time"
)

// SiteSettings is the single global site-configuration record. Exactly one
// row exists; change notifications always carry the complete record, never
// a partial update.
type SiteSettings struct {
	ID              int64         `json:"id"`
	SiteName        string        `json:"site_name"`
	SiteDescription string        `json:"site_description"`
	ContactEmail    string        `json:"contact_email"`
	PaymentNumber   string        `json:"payment_number"`
	PaymentQRPath   string        `json:"payment_qr_path"`
	LogoPath        string        `json:"logo_path"`
	UpdatedAt       time.Time     `json:"updated_at"`
	UpdatedBy       sql.NullInt64 `json:"-"`
}

// DefaultSiteSettings returns the fallback settings applied when the
// settings record is absent or cannot be loaded. Callers treat a missing
// record as "use defaults", not as an error.
func DefaultSiteSettings() SiteSettings {
	return SiteSettings{
		SiteName:        "LMS",
		SiteDescription: "Online course platform",
		ContactEmail:    "contact@example.com",
		PaymentNumber:   "51999999999",
	}
}

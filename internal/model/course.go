// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"database/sql"
	"time"
)

// Course categories. Keys are stored in the database; values are the
// display labels served to catalog consumers.
var CategoryLabels = map[string]string{
	"technical":    "Technical Course",
	"postgraduate": "Postgraduate",
	"workshop":     "Workshop",
	"free":         "Free Course",
}

// Course specialties for catalog filtering.
var SpecialtyLabels = map[string]string{
	"nursing":       "Nursing",
	"radiology":     "Radiology",
	"physiotherapy": "Physiotherapy",
	"nutrition":     "Nutrition",
	"psychology":    "Psychology",
	"general":       "General",
}

// IsValidCategory checks if a category key is known.
func IsValidCategory(key string) bool {
	_, ok := CategoryLabels[key]
	return ok
}

// IsValidSpecialty checks if a specialty key is known.
func IsValidSpecialty(key string) bool {
	_, ok := SpecialtyLabels[key]
	return ok
}

// Course represents a catalog course.
type Course struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"` // Markdown source
	// DescriptionHTML is rendered from Description and sanitized before storage.
	DescriptionHTML string        `json:"description_html"`
	Category        string        `json:"category"`
	Specialty       string        `json:"specialty"`
	PriceCents      int64         `json:"price_cents"`
	DurationHours   int           `json:"duration_hours"`
	ImagePath       string        `json:"image_path,omitempty"`
	Published       bool          `json:"published"`
	CreatedBy       sql.NullInt64 `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// CategoryLabel returns the display label for the course's category.
func (c *Course) CategoryLabel() string {
	if label, ok := CategoryLabels[c.Category]; ok {
		return label
	}
	return c.Category
}

// SpecialtyLabel returns the display label for the course's specialty.
func (c *Course) SpecialtyLabel() string {
	if label, ok := SpecialtyLabels[c.Specialty]; ok {
		return label
	}
	return c.Specialty
}

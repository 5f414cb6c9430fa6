// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package store provides database access: connection setup, migrations,
// and typed queries over the users, courses, site_settings and events tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/olegiv/lms-go/internal/model"
)

// Queries wraps a database handle with typed query methods.
type Queries struct {
	db *sql.DB
}

// New creates a Queries instance for the given database.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// CreateUserParams holds parameters for CreateUser.
type CreateUserParams struct {
	Email        string
	PasswordHash string
	Role         string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUser inserts a new user and returns it.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (model.User, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		arg.Email, arg.PasswordHash, arg.Role, arg.Name, arg.CreatedAt, arg.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	return q.GetUserByID(ctx, id)
}

const userColumns = `id, email, password_hash, role, name, created_at, updated_at, last_login_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Name,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	return u, err
}

// GetUserByID returns the user with the given ID.
func (q *Queries) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail returns the user with the given email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// UpdateUserLastLogin records a successful login timestamp.
func (q *Queries) UpdateUserLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
	return err
}

// UpdateUserPassword replaces a user's password hash.
func (q *Queries) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now(), id)
	return err
}

// CreateCourseParams holds parameters for CreateCourse.
type CreateCourseParams struct {
	Title           string
	Slug            string
	Description     string
	DescriptionHTML string
	Category        string
	Specialty       string
	PriceCents      int64
	DurationHours   int
	ImagePath       string
	Published       bool
	CreatedBy       sql.NullInt64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateCourse inserts a new course and returns it.
func (q *Queries) CreateCourse(ctx context.Context, arg CreateCourseParams) (model.Course, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO courses (title, slug, description, description_html, category, specialty,
		                      price_cents, duration_hours, image_path, published, created_by,
		                      created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.Title, arg.Slug, arg.Description, arg.DescriptionHTML, arg.Category, arg.Specialty,
		arg.PriceCents, arg.DurationHours, arg.ImagePath, arg.Published, arg.CreatedBy,
		arg.CreatedAt, arg.UpdatedAt)
	if err != nil {
		return model.Course{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Course{}, err
	}
	return q.GetCourseByID(ctx, id)
}

const courseColumns = `id, title, slug, description, description_html, category, specialty,
	price_cents, duration_hours, image_path, published, created_by, created_at, updated_at`

func scanCourseRow(scan func(dest ...any) error) (model.Course, error) {
	var c model.Course
	err := scan(&c.ID, &c.Title, &c.Slug, &c.Description, &c.DescriptionHTML,
		&c.Category, &c.Specialty, &c.PriceCents, &c.DurationHours, &c.ImagePath,
		&c.Published, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCourseByID returns the course with the given ID.
func (q *Queries) GetCourseByID(ctx context.Context, id int64) (model.Course, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	return scanCourseRow(row.Scan)
}

// GetCourseBySlug returns the course with the given slug.
func (q *Queries) GetCourseBySlug(ctx context.Context, slug string) (model.Course, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE slug = ?`, slug)
	return scanCourseRow(row.Scan)
}

// ListCoursesParams filters and paginates course listings.
type ListCoursesParams struct {
	PublishedOnly bool
	Category      string
	Specialty     string
	Limit         int
	Offset        int
}

func (p ListCoursesParams) where() (string, []any) {
	var conds []string
	var args []any
	if p.PublishedOnly {
		conds = append(conds, "published = 1")
	}
	if p.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, p.Category)
	}
	if p.Specialty != "" {
		conds = append(conds, "specialty = ?")
		args = append(args, p.Specialty)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListCourses returns courses matching the filter, newest first.
func (q *Queries) ListCourses(ctx context.Context, arg ListCoursesParams) ([]model.Course, error) {
	where, args := arg.where()
	query := `SELECT ` + courseColumns + ` FROM courses` + where + ` ORDER BY created_at DESC, id DESC`
	if arg.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", arg.Limit, arg.Offset)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		c, err := scanCourseRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// CountCourses returns the number of courses matching the filter.
func (q *Queries) CountCourses(ctx context.Context, arg ListCoursesParams) (int64, error) {
	where, args := arg.where()
	var count int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses`+where, args...).Scan(&count)
	return count, err
}

// UpdateCourseParams holds parameters for UpdateCourse.
type UpdateCourseParams struct {
	ID              int64
	Title           string
	Slug            string
	Description     string
	DescriptionHTML string
	Category        string
	Specialty       string
	PriceCents      int64
	DurationHours   int
	ImagePath       string
	Published       bool
	UpdatedAt       time.Time
}

// UpdateCourse rewrites a course row and returns the updated course.
func (q *Queries) UpdateCourse(ctx context.Context, arg UpdateCourseParams) (model.Course, error) {
	_, err := q.db.ExecContext(ctx,
		`UPDATE courses SET title = ?, slug = ?, description = ?, description_html = ?,
		        category = ?, specialty = ?, price_cents = ?, duration_hours = ?,
		        image_path = ?, published = ?, updated_at = ?
		 WHERE id = ?`,
		arg.Title, arg.Slug, arg.Description, arg.DescriptionHTML, arg.Category, arg.Specialty,
		arg.PriceCents, arg.DurationHours, arg.ImagePath, arg.Published, arg.UpdatedAt, arg.ID)
	if err != nil {
		return model.Course{}, err
	}
	return q.GetCourseByID(ctx, arg.ID)
}

// DeleteCourse removes a course by ID.
func (q *Queries) DeleteCourse(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id)
	return err
}

// GetSiteSettings returns the singleton settings record.
// Returns sql.ErrNoRows when the record has not been created yet.
func (q *Queries) GetSiteSettings(ctx context.Context) (model.SiteSettings, error) {
	var s model.SiteSettings
	err := q.db.QueryRowContext(ctx,
		`SELECT id, site_name, site_description, contact_email, payment_number,
		        payment_qr_path, logo_path, updated_at, updated_by
		 FROM site_settings WHERE id = 1`).
		Scan(&s.ID, &s.SiteName, &s.SiteDescription, &s.ContactEmail, &s.PaymentNumber,
			&s.PaymentQRPath, &s.LogoPath, &s.UpdatedAt, &s.UpdatedBy)
	return s, err
}

// UpsertSiteSettingsParams holds the full settings record for UpsertSiteSettings.
type UpsertSiteSettingsParams struct {
	SiteName        string
	SiteDescription string
	ContactEmail    string
	PaymentNumber   string
	PaymentQRPath   string
	LogoPath        string
	UpdatedAt       time.Time
	UpdatedBy       sql.NullInt64
}

// UpsertSiteSettings writes the complete settings record (id is always 1)
/// and returns the stored row. Partial updates are not supported: callers
// must supply every field.
func (q *Queries) UpsertSiteSettings(ctx context.Context, arg UpsertSiteSettingsParams) (model.SiteSettings, error) {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO site_settings (id, site_name, site_description, contact_email,
		                            payment_number, payment_qr_path, logo_path, updated_at, updated_by)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     site_name = excluded.site_name,
		     site_description = excluded.site_description,
		     contact_email = excluded.contact_email,
		     payment_number = excluded.payment_number,
		     payment_qr_path = excluded.payment_qr_path,
		     logo_path = excluded.logo_path,
		     updated_at = excluded.updated_at,
		     updated_by = excluded.updated_by`,
		arg.SiteName, arg.SiteDescription, arg.ContactEmail, arg.PaymentNumber,
		arg.PaymentQRPath, arg.LogoPath, arg.UpdatedAt, arg.UpdatedBy)
	if err != nil {
		return model.SiteSettings{}, err
	}
	return q.GetSiteSettings(ctx)
}

// CreateEventParams holds parameters for CreateEvent.
type CreateEventParams struct {
	Level     string
	Category  string
	Message   string
	UserID    sql.NullInt64
	IPAddress string
	Metadata  string
	CreatedAt time.Time
}

// CreateEvent inserts an event log entry.
func (q *Queries) CreateEvent(ctx context.Context, arg CreateEventParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO events (level, category, message, user_id, ip_address, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.Level, arg.Category, arg.Message, arg.UserID, arg.IPAddress, arg.Metadata, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListRecentEvents returns the most recent events, newest first.
func (q *Queries) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, level, category, message, user_id, ip_address, metadata, created_at
		 FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message, &e.UserID,
			&e.IPAddress, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEventsBefore removes events older than the cutoff.
// Returns the number of rows deleted.
func (q *Queries) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

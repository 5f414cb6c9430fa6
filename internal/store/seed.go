package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/lms-go/internal/auth"
	"github.com/olegiv/lms-go/internal/model"
)

// Default admin credentials
const (
	DefaultAdminEmail    = "admin@example.com"
	DefaultAdminPassword = "changeme"
	DefaultAdminName     = "Administrator"
)

// Seed creates initial data in the database when doSeed is enabled:
// a default admin user and the singleton settings record.
func Seed(ctx context.Context, db *sql.DB, doSeed bool) error {
	if !doSeed {
		return nil
	}

	queries := New(db)

	if err := seedAdminUser(ctx, queries); err != nil {
		return err
	}
	return seedSiteSettings(ctx, queries)
}

func seedAdminUser(ctx context.Context, queries *Queries) error {
	_, err := queries.GetUserByEmail(ctx, DefaultAdminEmail)
	if err == nil {
		slog.Info("admin user already exists, skipping seed")
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking for admin user: %w", err)
	}

	passwordHash, err := auth.HashPassword(DefaultAdminPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now()
	user, err := queries.CreateUser(ctx, CreateUserParams{
		Email:        DefaultAdminEmail,
		PasswordHash: passwordHash,
		Role:         model.RoleAdmin,
		Name:         DefaultAdminName,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	slog.Info("created default admin user",
		"id", user.ID,
		"email", user.Email,
		"password", DefaultAdminPassword,
	)
	return nil
}

func seedSiteSettings(ctx context.Context, queries *Queries) error {
	_, err := queries.GetSiteSettings(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking for site settings: %w", err)
	}

	defaults := model.DefaultSiteSettings()
	_, err = queries.UpsertSiteSettings(ctx, UpsertSiteSettingsParams{
		SiteName:        defaults.SiteName,
		SiteDescription: defaults.SiteDescription,
		ContactEmail:    defaults.ContactEmail,
		PaymentNumber:   defaults.PaymentNumber,
		UpdatedAt:       time.Now(),
	})
	if err != nil {
		return fmt.Errorf("seeding site settings: %w", err)
	}

	slog.Info("seeded default site settings", "site_name", defaults.SiteName)
	return nil
}

// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package settings owns the singleton site-settings record: authoritative
// reads and updates through Service, and live per-consumer copies through
// Watcher. Every successful update publishes the complete new record on
// the change channel; consumers replace their copy wholesale.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/pubsub"
	"github.com/olegiv/lms-go/internal/store"
)

// Service provides authoritative access to the settings record.
type Service struct {
	queries *store.Queries
	broker  pubsub.Broker
	channel string
}

// NewService creates a settings service. Updates are announced on the
// given broker channel.
func NewService(db *sql.DB, broker pubsub.Broker, channel string) *Service {
	return &Service{
		queries: store.New(db),
		broker:  broker,
		channel: channel,
	}
}

// FetchOne returns the settings record, or nil when it does not exist.
// Absence is not an error: callers fall back to defaults.
func (s *Service) FetchOne(ctx context.Context) (*model.SiteSettings, error) {
	settings, err := s.queries.GetSiteSettings(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching site settings: %w", err)
	}
	return &settings, nil
}

// Update writes the complete settings record and publishes it to all
// subscribed consumers. A publish failure is logged but does not fail the
// update: the database row is already authoritative, and consumers can
// refetch.
func (s *Service) Update(ctx context.Context, arg store.UpsertSiteSettingsParams) (model.SiteSettings, error) {
	stored, err := s.queries.UpsertSiteSettings(ctx, arg)
	if err != nil {
		return model.SiteSettings{}, fmt.Errorf("updating site settings: %w", err)
	}

	if s.broker != nil {
		payload, err := json.Marshal(stored)
		if err != nil {
			slog.Error("marshaling settings change event", "error", err)
			return stored, nil
		}
		if err := s.broker.Publish(ctx, s.channel, payload); err != nil {
			slog.Warn("publishing settings change event", "channel", s.channel, "error", err)
		}
	}

	return stored, nil
}

// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/lms-go/internal/service"
	"github.com/olegiv/lms-go/internal/settings"
)

// DefaultEventRetention is how long audit events are kept before the
// nightly cleanup removes them.
const DefaultEventRetention = 90 * 24 * time.Hour

// Scheduler handles periodic jobs: audit log retention and settings
// reconciliation.
type Scheduler struct {
	events         *service.EventService
	watcher        *settings.Watcher
	eventRetention time.Duration
	cron           *cron.Cron
	logger         *slog.Logger
}

// New creates a new scheduler instance. A nil watcher disables the
// settings reconciliation job.
func New(db *sql.DB, watcher *settings.Watcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		events:         service.NewEventService(db),
		watcher:        watcher,
		eventRetention: DefaultEventRetention,
		cron:           cron.New(),
		logger:         logger,
	}
}

// Start registers and begins the periodic jobs.
func (s *Scheduler) Start() error {
	// Nightly at 03:30
	_, err := s.cron.AddFunc("30 3 * * *", func() {
		if err := s.cleanupEvents(); err != nil {
			s.logger.Error("failed to clean up old events", "error", err)
		}
	})
	if err != nil {
		return err
	}

	if s.watcher != nil {
		// Hourly reconciliation catches change events lost to broker
		// hiccups; the refetched record wins over any stale copy.
		_, err = s.cron.AddFunc("0 * * * *", func() {
			if err := s.refetchSettings(); err != nil {
				s.logger.Error("failed to refetch settings", "error", err)
			}
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// cleanupEvents deletes audit events older than the retention window.
func (s *Scheduler) cleanupEvents() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.events.DeleteOldEvents(ctx, s.eventRetention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info("cleaned up old events", "deleted", deleted, "retention", s.eventRetention)
	}
	return nil
}

// refetchSettings reloads the settings copy from storage.
func (s *Scheduler) refetchSettings() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.watcher.Refetch(ctx)
}

// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/olegiv/lms-go/internal/model"
	"github.com/olegiv/lms-go/internal/pubsub"
)

// Fetcher loads the current settings record. A nil record with a nil
// error means the record does not exist yet.
type Fetcher interface {
	FetchOne(ctx context.Context) (*model.SiteSettings, error)
}

// Watcher keeps one consumer's copy of the settings record current:
// an initial fetch, then a push subscription whose events replace the
// copy wholesale. Change events are applied in arrival order with no
// sequence or timestamp comparison; the record changes rarely, so a
// stale overwrite during reconnection replay is an accepted trade-off.
//
// A Watcher is single-use: Start once, Close once (Close is safe to call
// repeatedly). After Close no further state updates occur, even if a
// late event or fetch result arrives.
type Watcher struct {
	fetcher Fetcher
	broker  pubsub.Broker
	channel string
	logger  *slog.Logger

	mu       sync.RWMutex
	settings *model.SiteSettings
	loaded   bool

	sub       *pubsub.Subscription
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher over the given fetcher and broker channel.
func NewWatcher(fetcher Fetcher, broker pubsub.Broker, channel string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fetcher: fetcher,
		broker:  broker,
		channel: channel,
		logger:  logger,
	}
}

// Start performs the initial fetch and opens the push subscription.
// A fetch failure is not fatal: it is logged, the copy stays nil, and the
// watcher still reports loaded so callers apply defaults instead of
// waiting forever. A subscription failure is returned to the caller.
func (w *Watcher) Start(ctx context.Context) error {
	settings, err := w.fetcher.FetchOne(ctx)
	if err != nil {
		w.logger.Warn("initial settings fetch failed, using defaults", "error", err)
		settings = nil
	}

	w.mu.Lock()
	w.settings = settings
	w.loaded = true
	w.mu.Unlock()

	sub, err := w.broker.Subscribe(ctx, w.channel)
	if err != nil {
		return fmt.Errorf("subscribing to settings changes: %w", err)
	}
	w.sub = sub

	w.wg.Add(1)
	go w.run()

	return nil
}

// run applies pushed change events until the subscription ends.
func (w *Watcher) run() {
	defer w.wg.Done()
	for payload := range w.sub.Events() {
		w.apply(payload)
	}
}

// apply replaces the copy with the pushed record. Late events after Close
// and malformed payloads are dropped silently apart from a debug log.
func (w *Watcher) apply(payload []byte) {
	if w.closed.Load() {
		return
	}

	var settings model.SiteSettings
	if err := json.Unmarshal(payload, &settings); err != nil {
		w.logger.Warn("dropping malformed settings change event", "error", err)
		return
	}

	w.mu.Lock()
	w.settings = &settings
	w.mu.Unlock()
}

// Settings returns the current copy (nil when absent or not yet loaded)
// and whether the initial fetch has completed.
func (w *Watcher) Settings() (*model.SiteSettings, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings, w.loaded
}

// Current returns the settings record, falling back to defaults when the
// record is absent. Use Settings to distinguish the two.
func (w *Watcher) Current() model.SiteSettings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.settings == nil {
		return model.DefaultSiteSettings()
	}
	return *w.settings
}

// Refetch re-issues the fetch and, on success, replaces the copy — even
// if a pushed event changed it in the interim. After Close the result is
// discarded without error.
func (w *Watcher) Refetch(ctx context.Context) error {
	settings, err := w.fetcher.FetchOne(ctx)
	if err != nil {
		return err
	}

	if w.closed.Load() {
		return nil
	}

	w.mu.Lock()
	w.settings = settings
	w.loaded = true
	w.mu.Unlock()
	return nil
}

// Close releases the subscription and stops event application. Idempotent;
// the subscription is released exactly once per Start even under rapid
// start/close cycling.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		if w.sub != nil {
			w.sub.Close()
		}
		w.wg.Wait()
	})
}

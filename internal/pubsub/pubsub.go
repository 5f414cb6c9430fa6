// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pubsub provides the change-notification channel used to keep
// settings consumers current without polling. A Broker publishes opaque
// payloads on named channels; a Subscription is one consumer's handle on
// a channel and must be released exactly once via Close, which is safe
// to call repeatedly.
package pubsub

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("pubsub: broker closed")

// Broker delivers published payloads to all current subscribers of a
// channel. Delivery is at-most-once, in publish order per channel; there
// is no replay for late subscribers.
type Broker interface {
	// Publish sends a payload to all current subscribers of the channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription on the channel. The returned
	// subscription delivers payloads until Close is called.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)

	// Close releases the broker and all its subscriptions.
	Close() error
}

// Subscription is an open push channel bound to one consumer.
type Subscription struct {
	events  chan []byte
	closed  atomic.Bool
	release func()
}

// newSubscription creates a subscription whose release hook runs exactly
// once, on the first Close.
func newSubscription(buffer int, release func()) *Subscription {
	return &Subscription{
		events:  make(chan []byte, buffer),
		release: release,
	}
}

// Events returns the channel on which payloads are delivered. The channel
// is closed after Close.
func (s *Subscription) Events() <-chan []byte {
	return s.events
}

// Close releases the subscription. Safe to call more than once; only the
// first call tears down the channel.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		if s.release != nil {
			s.release()
		}
	}
}

// Closed reports whether the subscription has been released.
func (s *Subscription) Closed() bool {
	return s.closed.Load()
}

// deliver sends a payload without blocking. A slow consumer drops the
// event rather than stalling the publisher; the payloads carried here are
// full-record snapshots, so a dropped event is superseded by the next one.
func (s *Subscription) deliver(payload []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- payload:
	default:
	}
}

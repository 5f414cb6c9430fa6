// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"context"
	"sync"
)

// subscriptionBuffer is the per-subscription event buffer size.
const subscriptionBuffer = 16

// MemoryBroker is an in-process Broker for single-instance deployments
// and tests. Publish delivers synchronously to all current subscribers.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Publish sends the payload to every current subscriber of the channel.
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	for sub := range b.subs[channel] {
		sub.deliver(payload)
	}
	return nil
}

// Subscribe opens a subscription on the channel.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	var sub *Subscription
	sub = newSubscription(subscriptionBuffer, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[channel]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, channel)
			}
		}
		close(sub.events)
	})

	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*Subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}

	return sub, nil
}

// Close releases the broker and all open subscriptions.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, set := range b.subs {
		for sub := range set {
			// Bypass sub.Close: its release hook would re-acquire b.mu.
			if sub.closed.CompareAndSwap(false, true) {
				close(sub.events)
			}
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	return nil
}

// Ensure MemoryBroker implements Broker.
var _ Broker = (*MemoryBroker)(nil)

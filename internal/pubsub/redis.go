// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is a Redis-backed Broker for multi-instance deployments.
// Redis delivers pub/sub messages in publish order per channel; there is
// no persistence, so subscribers only see events published while they
// are connected. Reconnection is handled by go-redis internally.
type RedisBroker struct {
	client *redis.Client
	closed atomic.Bool
}

// RedisBrokerOptions configures the Redis broker.
type RedisBrokerOptions struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	// PoolSize is the maximum number of connections (0 = use default)
	PoolSize int

	// ConnectTimeout is the timeout for establishing a connection
	ConnectTimeout time.Duration
}

// DefaultRedisBrokerOptions returns sensible defaults.
func DefaultRedisBrokerOptions() RedisBrokerOptions {
	return RedisBrokerOptions{
		PoolSize:       10,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewRedisBroker creates a Redis broker and verifies the connection.
func NewRedisBroker(opts RedisBrokerOptions) (*RedisBroker, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}
	if opts.ConnectTimeout > 0 {
		redisOpts.DialTimeout = opts.ConnectTimeout
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerFromURL creates a Redis broker from just a URL with default options.
func NewRedisBrokerFromURL(url string) (*RedisBroker, error) {
	opts := DefaultRedisBrokerOptions()
	opts.URL = url
	return NewRedisBroker(opts)
}

// Publish sends the payload on the channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription on the channel. The subscription is
// confirmed with the server before returning, so events published after
// Subscribe returns are guaranteed to be seen.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}

	ps := b.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := newSubscription(subscriptionBuffer, func() {
		_ = ps.Close()
	})

	// Pump messages until the PubSub is closed. This goroutine is the
	// only sender on sub.events and closes it when the pump stops.
	go func() {
		for msg := range ps.Channel() {
			sub.deliver([]byte(msg.Payload))
		}
		close(sub.events)
	}()

	return sub, nil
}

// Close closes the Redis connection.
func (b *RedisBroker) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		return b.client.Close()
	}
	return nil
}

// Ping checks if the Redis connection is healthy.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	return b.client.Ping(ctx).Err()
}

// Ensure RedisBroker implements Broker.
var _ Broker = (*RedisBroker)(nil)

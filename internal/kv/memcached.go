package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcached implements Store backed by a Memcached server. Note that
// Memcached offers no durability across daemon restarts; use redis or
// sqlite when snapshot survival matters.
type Memcached struct {
	config    Config
	client    *memcache.Client
	connected bool
}

// NewMemcached creates a new Memcached store
func NewMemcached(config Config) *Memcached {
	if config.Port == 0 {
		config.Port = 11211
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	return &Memcached{config: config}
}

// Connect establishes and verifies the Memcached connection
func (m *Memcached) Connect() error {
	if m.connected {
		return nil
	}

	m.client = memcache.New(fmt.Sprintf("%s:%d", m.config.Host, m.config.Port))

	if err := m.client.Ping(); err != nil {
		return fmt.Errorf("failed to connect to Memcached: %w", err)
	}

	m.connected = true
	return nil
}

// Close marks the store disconnected; gomemcache has no close call
func (m *Memcached) Close() error {
	m.connected = false
	return nil
}

// Type returns the backend type
func (m *Memcached) Type() string {
	return "memcached"
}

// Get retrieves a value from Memcached
func (m *Memcached) Get(_ context.Context, key string) ([]byte, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}

	item, err := m.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.Value, nil
}

// Put stores a value in Memcached
func (m *Memcached) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !m.connected {
		return ErrNotConnected
	}

	item := &memcache.Item{
		Key:   key,
		Value: value,
	}
	if ttl > 0 {
		item.Expiration = int32(ttl.Seconds())
	}
	return m.client.Set(item)
}

// Delete removes a value from Memcached
func (m *Memcached) Delete(_ context.Context, key string) error {
	if !m.connected {
		return ErrNotConnected
	}

	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return ErrNotFound
	}
	return err
}

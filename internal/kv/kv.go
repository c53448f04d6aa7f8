// Package kv provides the durable key-value store used for queue
// snapshots. Backends share a minimal Get/Put/Delete contract; values
// are opaque byte blobs with an optional TTL.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key has no value
	ErrNotFound = errors.New("key not found")
	// ErrNotConnected is returned when the store is used before Connect
	ErrNotConnected = errors.New("not connected to store")
)

// Store is the interface all persistence backends satisfy
type Store interface {
	// Connect establishes the backend connection
	Connect() error

	// Close releases the backend connection
	Close() error

	// Type returns the backend type ("memory", "redis", "memcached", "sqlite")
	Type() string

	// Get retrieves the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key; ttl of zero means no expiry
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the value stored under key
	Delete(ctx context.Context, key string) error
}

// Config selects and parameterizes a storage backend
type Config struct {
	Type     string // memory, redis, memcached, sqlite
	Host     string
	Port     int
	Password string
	Database int    // redis database number
	Path     string // sqlite file path
}

// Factory creates a store from configuration. The returned store is not
// yet connected.
func Factory(config Config) (Store, error) {
	switch config.Type {
	case "memory", "":
		return NewMemory(), nil
	case "redis":
		return NewRedis(config), nil
	case "memcached":
		return NewMemcached(config), nil
	case "sqlite":
		return NewSQLite(config), nil
	default:
		return nil, errors.New("unsupported store type: " + config.Type)
	}
}

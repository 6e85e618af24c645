package domain

import (
	"context"
	"time"
)

// Cache is the read-path cache for derived results. Keys are namespaced by
// scope (the LoadFilter scope string) so concurrent runs over disjoint
// scopes never collide.
type Cache interface {
	// Get retrieves a value. Returns nil, nil if key not found.
	Get(ctx context.Context, scope string, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, scope string, key string) error

	// GetKPISnapshot retrieves the cached dashboard KPI set for a scope.
	GetKPISnapshot(ctx context.Context, scope string) (*KPISnapshot, error)

	// SetKPISnapshot caches the dashboard KPI set after an aggregation
	// rebuild.
	SetKPISnapshot(ctx context.Context, scope string, snap *KPISnapshot, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used to rate-limit run triggers per scope.
	IncrementCounter(ctx context.Context, scope string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}

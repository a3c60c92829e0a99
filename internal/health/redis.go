package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks Redis connectivity.
type RedisChecker struct {
	client redis.UniversalClient
	name   string
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   "redis",
	}
}

// Name returns the name of the checker.
func (r *RedisChecker) Name() string {
	return r.name
}

// Check performs the Redis health check.
func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client not configured")
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// MemoryChecker compares heap usage against a byte limit. Crossing the
// threshold fraction of the limit degrades the service; crossing the
// limit itself takes it down.
type MemoryChecker struct {
	limit     uint64
	threshold float64
	readStats func(*runtime.MemStats)
}

// NewMemoryChecker creates a memory checker. A zero limit disables the check.
func NewMemoryChecker(limit uint64, threshold float64) *MemoryChecker {
	return &MemoryChecker{
		limit:     limit,
		threshold: threshold,
		readStats: runtime.ReadMemStats,
	}
}

// Name returns the name of the checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

// Check performs the memory check.
func (m *MemoryChecker) Check(ctx context.Context) error {
	if m.limit == 0 {
		return nil
	}

	var stats runtime.MemStats
	m.readStats(&stats)

	switch {
	case stats.HeapAlloc >= m.limit:
		return fmt.Errorf("heap %d bytes exceeds limit %d", stats.HeapAlloc, m.limit)
	case m.threshold > 0 && float64(stats.HeapAlloc) >= float64(m.limit)*m.threshold:
		return fmt.Errorf("heap %d bytes above %.0f%% of limit: %w", stats.HeapAlloc, m.threshold*100, ErrDegraded)
	}
	return nil
}

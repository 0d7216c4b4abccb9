package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// RecordDBPoolMetrics updates database pool metrics.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	stats := pool.Stat()

	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
}

// RecordRedisPoolMetrics updates Redis pool metrics for one store user.
func RecordRedisPoolMetrics(storeUser string, stats *redis.PoolStats) {
	if stats == nil {
		return
	}
	RedisPoolConnections.WithLabelValues(storeUser, "total").Set(float64(stats.TotalConns))
	RedisPoolConnections.WithLabelValues(storeUser, "idle").Set(float64(stats.IdleConns))
	RedisPoolConnections.WithLabelValues(storeUser, "stale").Set(float64(stats.StaleConns))
}

// Collect calls record every interval until ctx is done.
func Collect(ctx context.Context, interval time.Duration, record func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	record()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			record()
		}
	}
}

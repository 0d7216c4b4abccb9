package metrics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRecordRedisPoolMetrics(t *testing.T) {
	RecordRedisPoolMetrics("dedup", &redis.PoolStats{TotalConns: 5, IdleConns: 3, StaleConns: 1})

	assert.Equal(t, 5.0, testutil.ToFloat64(RedisPoolConnections.WithLabelValues("dedup", "total")))
	assert.Equal(t, 3.0, testutil.ToFloat64(RedisPoolConnections.WithLabelValues("dedup", "idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RedisPoolConnections.WithLabelValues("dedup", "stale")))

	assert.NotPanics(t, func() { RecordRedisPoolMetrics("dedup", nil) })
}

func TestCollect_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		Collect(ctx, 5*time.Millisecond, func() { calls.Add(1) })
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Collect did not stop after cancel")
	}
}

package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var (
	DbPoolOpen         = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_open", Help: "Current open DB connections"})
	DbPoolIdle         = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_idle"})
	DbPoolInuse        = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_inuse"})
	DbPoolWaitCount    = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_count"})
	DbPoolWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_seconds"})

	RedisPoolOpen   = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_open"})
	RedisPoolIdle   = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_idle"})
	RedisPoolInuse  = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_stale"})
	RedisPoolHits   = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_hits"})
	RedisPoolMisses = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_misses"})
)

// ObserveDB samples db pool stats every interval until ctx is done.
func ObserveDB(ctx context.Context, db *sql.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := db.Stats()
			DbPoolOpen.Set(float64(st.OpenConnections))
			DbPoolIdle.Set(float64(st.Idle))
			DbPoolInuse.Set(float64(st.InUse))
			DbPoolWaitCount.Set(float64(st.WaitCount))
			DbPoolWaitDuration.Set(st.WaitDuration.Seconds())
		}
	}
}

// ObserveRedis samples redis pool stats every interval until ctx is done.
func ObserveRedis(ctx context.Context, rdb *redis.Client, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := rdb.PoolStats()
			RedisPoolOpen.Set(float64(st.TotalConns))
			RedisPoolIdle.Set(float64(st.IdleConns))
			RedisPoolInuse.Set(float64(st.StaleConns))
			RedisPoolHits.Set(float64(st.Hits))
			RedisPoolMisses.Set(float64(st.Misses))
		}
	}
}

package checks

import (
	"context"
	"time"

	"github.com/expensio/expensio/internal/cache"
	"github.com/expensio/expensio/internal/monitoring"
)

const defaultCacheTimeout = 2 * time.Second

// Cache returns a probe that exercises the listing cache with a short-lived
// round trip. A broken cache degrades the report instead of failing it, since
// listings fall back to the database when the cache is unavailable.
func Cache(store cache.Store, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cache not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultCacheTimeout))
		defer cancel()

		const probeKey = "health:probe"

		if err := store.Set(probeCtx, probeKey, []byte("ok"), time.Minute); err != nil {
			return degraded(err, time.Since(start))
		}

		if _, found, err := store.Get(probeCtx, probeKey); err != nil {
			return degraded(err, time.Since(start))
		} else if !found {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cache probe entry not found after write",
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}

func degraded(err error, duration time.Duration) monitoring.ProbeResult {
	return monitoring.ProbeResult{
		Status:   monitoring.StatusDegraded,
		Details:  err.Error(),
		Duration: duration,
	}
}

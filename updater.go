package tagcache

import (
	"context"
	"time"
)

// scheduleRefresh kicks off at most one background repopulation for the key.
// The store claims the per-key refresh slot; losing the claim means another
// refresh is already in flight (or the entry moved on), and this call does
// nothing. When the caller has no producer (a plain Get), the one retained
// from the last populate is used.
func (c *Cache) scheduleRefresh(key string, produce Producer) bool {
	job, ok := c.store.beginRevalidation(key, c.clock.Now())
	if !ok {
		return false
	}
	if produce != nil {
		job.produce = produce
	}
	if job.produce == nil {
		c.store.endRevalidation(key)
		return false
	}
	revalidationsTotal.Inc()
	c.wg.Add(1)
	go c.revalidate(job)
	return true
}

func (c *Cache) revalidate(job revalJob) {
	defer c.wg.Done()
	defer c.store.endRevalidation(job.key)

	ctx, cancel := context.WithTimeout(c.ctx, c.revalidateTimeout)
	defer cancel()

	value, tags, err := job.produce(ctx)
	if err != nil {
		// keep serving the aged entry up to its expiry
		producerErrorsTotal.WithLabelValues("revalidate").Inc()
		c.log.Warn().Err(err).Str("key", job.key).Msg("Background revalidation failed")
		return
	}
	if tags == nil {
		tags = job.tags
	}
	if !c.store.commitIfGeneration(job.key, job.generation, value, job.policy, tags, job.produce, c.clock.Now()) {
		revalidationsDiscardedTotal.Inc()
		c.log.Debug().Str("key", job.key).Uint64("generation", job.generation).
			Msg("Discarded revalidation result superseded by invalidation")
		return
	}
	c.log.Trace().Str("key", job.key).Msg("Revalidated cache entry")
}

// sweepLoop periodically removes entries whose expiry has passed.
// It assumes nothing about why they expired: both timed-out and explicitly
// invalidated entries are eligible once no refresh is in flight for them.
func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	c.log.Info().Msgf("Starting cache sweep loop with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if removed := c.store.sweep(c.clock.Now()); removed > 0 {
				sweptTotal.Add(float64(removed))
				c.log.Debug().Int("entries", removed).Msg("Swept expired cache entries")
			}
		}
	}
}

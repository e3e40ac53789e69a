// Background sweep goroutines for the deduplicator: entry expiry and
// primitive-lifecycle cleanup run as two independently scheduled periodic
// tasks, per spec.md §4.5. Grounded on the teacher's preemptive.Worker
// Start/Stop lifecycle (stopChan + sync.WaitGroup), generalized from a
// job-queue worker pool to two ticker-driven sweeps.
package dedup

import (
	"time"

	"github.com/rs/zerolog/log"
)

// startSweeps launches the entry sweep and primitive sweep as named
// goroutines, each on its own ticker; closing d.stop stops both.
func (d *Deduplicator) startSweeps() {
	d.wg.Add(2)
	go d.runSweep("entry_sweep", d.entrySweepPeriod, d.sweepEntries)
	go d.runSweep("primitive_sweep", d.primitiveSweepPeriod, d.sweepPrimitives)
}

// runSweep ticks fn every period until stop is closed. Cancellation-safe at
// every tick boundary per spec.md §5: the select only ever blocks between
// ticks, never mid-sweep.
func (d *Deduplicator) runSweep(name string, period time.Duration, fn func()) {
	defer d.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sweepEntries drops cache entries whose expires_at has passed.
func (d *Deduplicator) sweepEntries() {
	now := time.Now()
	dropped := 0
	d.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		if now.After(e.expiresAt) {
			d.entries.Delete(key)
			dropped++
		}
		return true
	})
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("dedup entry sweep")
	}
}

// sweepPrimitives drops per-key primitives that have been idle for the
// grace window AND have no live cache entry — the load-bearing predicate
// of spec.md §4.5: dropping a primitive whose entry is still hot would
// break singleflight on the next miss for that key.
func (d *Deduplicator) sweepPrimitives() {
	cutoff := time.Now().Add(-d.primitiveIdleWindow)
	dropped := 0
	d.primitives.Range(func(key, value any) bool {
		p := value.(*primitive)
		p.mu.Lock()
		lastAccess := p.lastAccess
		p.mu.Unlock()

		if lastAccess.After(cutoff) {
			return true
		}
		if _, hasEntry := d.entries.Load(key); hasEntry {
			return true
		}
		d.primitives.Delete(key)
		dropped++
		return true
	})
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("dedup primitive sweep")
	}
}

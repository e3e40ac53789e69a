// Package dedup implements the RequestDeduplicator of spec.md §4.5: an
// in-memory TTL cache that coalesces concurrent identical tool invocations
// and ages out both cached data and the per-key synchronization primitives
// that guard it, without ever leaking either.
//
// Grounded on the teacher's store.MemoryStore (map + RWMutex + a single
// background cleanup goroutine with a stopChan), generalized to a sync.Map
// pair with two independently scheduled sweeps; the per-key primitive's
// small mutex-guarded shape is grounded on toolops/resilience.Bulkhead.
//
// Deliberately NOT built on golang.org/x/sync/singleflight: Group.Do forgets
// a key the instant its in-flight call completes, so the primitive cannot be
// "reused while hot" across non-overlapping calls, and it exposes no last-
// access hook for the primitive-sweep predicate below. Also deliberately NOT
// built on hashicorp/golang-lru: its eviction is strict recency order, while
// spec.md requires "least-used, then oldest" (hit_count asc, cached_at asc)
// and explicitly forbids silently changing that policy.
package dedup

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compresr/context-optimizer/internal/requestkey"
)

// DefaultCacheDuration is used when process() is not given an explicit
// cache_duration.
const DefaultCacheDuration = 5 * time.Minute

// Config tunes the deduplicator's sizes and sweep periods.
type Config struct {
	MaxSize              int
	DefaultCacheDuration time.Duration
	EntrySweepPeriod     time.Duration
	PrimitiveSweepPeriod time.Duration
	PrimitiveIdleWindow  time.Duration
}

// DefaultConfig returns spec.md's documented defaults: 1 minute entry
// sweeps, 5 minute primitive sweeps and idle window.
func DefaultConfig() Config {
	return Config{
		MaxSize:              1000,
		DefaultCacheDuration: DefaultCacheDuration,
		EntrySweepPeriod:     time.Minute,
		PrimitiveSweepPeriod: 5 * time.Minute,
		PrimitiveIdleWindow:  5 * time.Minute,
	}
}

// entry is a CachedEntry from spec.md §3.
type entry struct {
	key       requestkey.Key
	response  string
	cachedAt  time.Time
	expiresAt time.Time
	hitCount  atomic.Int64
}

func (e *entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// primitive is the per-key binary exclusion lock of spec.md §4.5, with its
// own independent lifecycle (last-access tracking so the primitive sweep can
// reclaim it once idle and unreferenced).
type primitive struct {
	mu         sync.Mutex
	lastAccess time.Time
}

func (p *primitive) touch() {
	p.mu.Lock()
	p.lastAccess = time.Now()
	p.mu.Unlock()
}

// Executor runs the underlying tool call and returns its textual result.
type Executor func(ctx context.Context) (string, error)

// Stats is RequestDeduplicator's inspection surface, per spec.md §4.5.
type Stats struct {
	TotalRequests        int64
	UniqueRequests        int64
	DeduplicatedRequests  int64
	CacheSize             int
	PrimitiveCount        int
}

// Deduplicator is RequestDeduplicator.
type Deduplicator struct {
	cfg Config

	entries    sync.Map // requestkey fingerprint -> *entry
	primitives sync.Map // requestkey fingerprint -> *primitive

	entrySweepPeriod     time.Duration
	primitiveSweepPeriod time.Duration
	primitiveIdleWindow  time.Duration

	totalRequests       atomic.Int64
	uniqueRequests      atomic.Int64
	dedupedRequests     atomic.Int64

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex // guards started/stop lifecycle only
}

// New builds a Deduplicator and starts its two background sweeps.
func New(cfg Config) *Deduplicator {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.DefaultCacheDuration <= 0 {
		cfg.DefaultCacheDuration = DefaultCacheDuration
	}
	if cfg.EntrySweepPeriod <= 0 {
		cfg.EntrySweepPeriod = time.Minute
	}
	if cfg.PrimitiveSweepPeriod <= 0 {
		cfg.PrimitiveSweepPeriod = 5 * time.Minute
	}
	if cfg.PrimitiveIdleWindow <= 0 {
		cfg.PrimitiveIdleWindow = 5 * time.Minute
	}

	d := &Deduplicator{
		cfg:                  cfg,
		entrySweepPeriod:     cfg.EntrySweepPeriod,
		primitiveSweepPeriod: cfg.PrimitiveSweepPeriod,
		primitiveIdleWindow:  cfg.PrimitiveIdleWindow,
		stop:                 make(chan struct{}),
	}
	d.started = true
	d.startSweeps()
	return d
}

// Process runs the deduplication pipeline of spec.md §4.5 for one request.
// wasDeduplicated reports whether the result was served without invoking
// executor.
func (d *Deduplicator) Process(ctx context.Context, key requestkey.Key, executor Executor, cacheDuration time.Duration) (response string, wasDeduplicated bool, err error) {
	d.totalRequests.Add(1)

	if resp, ok := d.lookupFresh(key); ok {
		d.dedupedRequests.Add(1)
		return resp, true, nil
	}

	p := d.acquirePrimitive(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAccess = time.Now()

	// Double-check under the lock: another waiter may have populated the
	// cache while we queued for it.
	if resp, ok := d.lookupFresh(key); ok {
		d.dedupedRequests.Add(1)
		return resp, true, nil
	}

	d.uniqueRequests.Add(1)
	resp, err := executor(ctx)
	if err != nil {
		// No cache write on executor failure; the primitive is retained for
		// reuse by the next attempt.
		return "", false, err
	}

	if cacheDuration <= 0 {
		cacheDuration = d.cfg.DefaultCacheDuration
	}
	d.store(key, resp, cacheDuration)

	return resp, false, nil
}

func (d *Deduplicator) lookupFresh(key requestkey.Key) (string, bool) {
	v, ok := d.entries.Load(key.Fingerprint)
	if !ok {
		return "", false
	}
	e := v.(*entry)
	if e.expired(time.Now()) {
		return "", false
	}
	e.hitCount.Add(1)
	return e.response, true
}

func (d *Deduplicator) acquirePrimitive(key requestkey.Key) *primitive {
	v, _ := d.primitives.LoadOrStore(key.Fingerprint, &primitive{lastAccess: time.Now()})
	return v.(*primitive)
}

func (d *Deduplicator) store(key requestkey.Key, response string, duration time.Duration) {
	if d.size() >= d.cfg.MaxSize {
		d.evict()
	}
	now := time.Now()
	d.entries.Store(key.Fingerprint, &entry{
		key:       key,
		response:  response,
		cachedAt:  now,
		expiresAt: now.Add(duration),
	})
}

func (d *Deduplicator) size() int {
	n := 0
	d.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

// evict removes max_size/10 entries ordered by (hit_count asc, cached_at
// asc) — "least-used, then oldest", per spec.md §4.5 and the open question
// in §9: never simplified to pure recency LRU.
func (d *Deduplicator) evict() {
	type candidate struct {
		fp  string
		hit int64
		at  time.Time
	}
	var all []candidate
	d.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		all = append(all, candidate{fp: k.(string), hit: e.hitCount.Load(), at: e.cachedAt})
		return true
	})

	sort.Slice(all, func(i, j int) bool {
		if all[i].hit != all[j].hit {
			return all[i].hit < all[j].hit
		}
		return all[i].at.Before(all[j].at)
	})

	n := d.cfg.MaxSize / 10
	if n < 1 {
		n = 1
	}
	if n > len(all) {
		n = len(all)
	}
	for i := 0; i < n; i++ {
		d.entries.Delete(all[i].fp)
	}
}

// InvalidateTool drops every entry for a tool name and Invalidate drops the
// single entry for one key — two distinct methods to match spec.md's
// `invalidate(tool)` and `invalidate(tool, params)` overload pair.

// InvalidateTool drops every cached entry whose key belongs to tool.
func (d *Deduplicator) InvalidateTool(tool string) {
	d.entries.Range(func(k, v any) bool {
		if v.(*entry).key.ToolName == tool {
			d.entries.Delete(k)
		}
		return true
	})
}

// Invalidate drops the single cached entry for key.
func (d *Deduplicator) Invalidate(key requestkey.Key) {
	d.entries.Delete(key.Fingerprint)
}

// Clear drops every cache entry (not the primitives — they age out on their
// own schedule, per spec.md §4.5's disposal semantics distinguishing a full
// clear of data from primitive teardown, which only Dispose performs).
func (d *Deduplicator) Clear() {
	d.entries.Range(func(k, _ any) bool {
		d.entries.Delete(k)
		return true
	})
}

// Stats returns a snapshot of the deduplicator's counters.
func (d *Deduplicator) Stats() Stats {
	return Stats{
		TotalRequests:        d.totalRequests.Load(),
		UniqueRequests:       d.uniqueRequests.Load(),
		DeduplicatedRequests: d.dedupedRequests.Load(),
		CacheSize:            d.size(),
		PrimitiveCount:       d.PrimitiveCount(),
	}
}

// CachedFor reports whether any entry exists for the given tool name.
func (d *Deduplicator) CachedFor(tool string) bool {
	found := false
	d.entries.Range(func(_, v any) bool {
		if v.(*entry).key.ToolName == tool {
			found = true
			return false
		}
		return true
	})
	return found
}

// Cached reports whether a fresh entry exists for the exact key.
func (d *Deduplicator) Cached(key requestkey.Key) bool {
	_, ok := d.lookupFresh(key)
	return ok
}

// PrimitiveCount reports the number of live per-key primitives — exposed for
// testability per spec.md §4.5 and exercised directly by the primitive-leak
// freedom property in §8.
func (d *Deduplicator) PrimitiveCount() int {
	n := 0
	d.primitives.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Dispose cancels both sweeps and drops all primitives and entries, per
// spec.md §4.5/§5. Uses errgroup so a panic in one shutdown step does not
// hang the others.
func (d *Deduplicator) Dispose(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	close(d.stop)
	d.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.wg.Wait()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	d.Clear()
	d.primitives.Range(func(k, _ any) bool {
		d.primitives.Delete(k)
		return true
	})
	return nil
}

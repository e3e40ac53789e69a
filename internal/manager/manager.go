// Package manager implements ContextWindowManager (spec.md §4.7): the
// orchestration of one tool call through persistent-cache lookup,
// deduplicated execution, summarization, and budget enforcement, plus the
// auxiliary stats/recommendation/maintenance surface.
//
// Grounded on the teacher's gateway.Router (stage orchestration, per-call
// enable/disable) and preemptive.Manager (component wiring/lifecycle),
// generalized from HTTP routing/compaction-orchestration to the per-call
// eight-step pipeline spec.md §4.7 specifies.
package manager

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compresr/context-optimizer/internal/dedup"
	"github.com/compresr/context-optimizer/internal/events"
	"github.com/compresr/context-optimizer/internal/optimizer"
	"github.com/compresr/context-optimizer/internal/pcache"
	"github.com/compresr/context-optimizer/internal/requestkey"
	"github.com/compresr/context-optimizer/internal/suggester"
	"github.com/compresr/context-optimizer/internal/summarizer"
	"github.com/compresr/context-optimizer/internal/tokenest"
)

// Optimization tags, per spec.md's glossary.
const (
	TagPersistentCacheHit   = "persistent_cache_hit"
	TagRequestDeduplication = "request_deduplication"
	TagSummarization        = "summarization"
	TagTokenBudgetEnforce   = "token_budget_enforcement"
	TagCacheUnavailable     = "cache_unavailable"
)

// Options is ContextOptimizationOptions from spec.md §3. The zero value is
// "all off"; use DefaultOptions() for the "all on" defaults a nil *Options
// gets.
type Options struct {
	EnableCache     bool
	EnableDedup     bool
	EnableSummarize bool
	EnforceBudget   bool
	CacheDuration   time.Duration
	Summarization   summarizer.Options
}

// DefaultOptions returns "all on", per spec.md §4.7: "Options default to
// all on".
func DefaultOptions() Options {
	return Options{
		EnableCache:     true,
		EnableDedup:     true,
		EnableSummarize: true,
		EnforceBudget:   true,
		CacheDuration:   dedup.DefaultCacheDuration,
		Summarization:   summarizer.OptionsFor(summarizer.ModeBalanced),
	}
}

// Executor runs the underlying tool call, producing a UTF-8 textual payload.
type Executor func(ctx context.Context) (string, error)

// Result is OptimizedToolResult from spec.md §3.
type Result struct {
	ToolName              string
	Parameters            map[string]any
	Response              string
	WasCached             bool
	WasDeduplicated       bool
	TokensSaved           int
	OptimizationsApplied  []string
	RequestedAt           time.Time
	CompletedAt           time.Time
	Error                 error
}

// Duration is completed_at - requested_at.
func (r Result) Duration() time.Duration { return r.CompletedAt.Sub(r.RequestedAt) }

// Statistics is the aggregate shape of spec.md §4.7 statistics().
// SuggesterHistory is always returned empty: the suggester's per-tool
// feedback scores are not copied into it.
type Statistics struct {
	TokenMetrics     optimizer.Metrics
	DedupStats       dedup.Stats
	CacheStats       pcache.Stats
	SuggesterHistory map[string]float64
	EfficiencyScore  float64
}

// Manager is ContextWindowManager.
type Manager struct {
	dedup      *dedup.Deduplicator
	persistent *pcache.Cache
	optimizer  *optimizer.Optimizer
	summarizer *summarizer.Summarizer
	suggester  *suggester.Suggester
	bus        *events.Bus
	est        tokenest.Estimator
}

// New wires the seven core components plus the suggester into a Manager.
// persistent may be nil to run with the persistent-cache tier entirely
// absent (e.g. in tests); enable_cache is then always a no-op regardless of
// per-call Options.
func New(d *dedup.Deduplicator, p *pcache.Cache, o *optimizer.Optimizer, s *summarizer.Summarizer, sg *suggester.Suggester, bus *events.Bus) *Manager {
	return &Manager{
		dedup:      d,
		persistent: p,
		optimizer:  o,
		summarizer: s,
		suggester:  sg,
		bus:        bus,
		est:        tokenest.Default,
	}
}

// Process runs the eight-step pipeline of spec.md §4.7 for one tool call.
func (m *Manager) Process(ctx context.Context, tool string, params map[string]any, executor Executor, opts *Options) Result {
	requestedAt := time.Now()
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}

	result := Result{ToolName: tool, Parameters: params, RequestedAt: requestedAt}

	key, err := requestkey.Make(tool, params)
	if err != nil {
		result.Error = err
		result.CompletedAt = time.Now()
		return result
	}

	responseIsNew := false
	var response string
	paramsJSON, _ := json.Marshal(params)

	// Step 1: persistent read. A hit sets was_cached, tags
	// persistent_cache_hit, and skips straight to step 6 (budget
	// enforcement) — steps 2-5 (execute/dedup/usage accounting/
	// summarization) never run for cached data, per spec.md §4.7.
	cacheHit := false
	if o.EnableCache && m.persistent != nil {
		resp, hit, perr := m.persistent.Get(ctx, tool, key.Fingerprint)
		if perr != nil {
			m.tag(&result, TagCacheUnavailable)
		} else if hit {
			response = resp
			result.WasCached = true
			cacheHit = true
			m.tag(&result, TagPersistentCacheHit)
		}
	}

	if !cacheHit {
		if o.EnableDedup {
			// Step 2: deduplicated execute.
			resp, wasDeduped, derr := m.dedup.Process(ctx, key, dedup.Executor(executor), o.CacheDuration)
			if derr != nil {
				result.Error = derr
				result.CompletedAt = time.Now()
				return result
			}
			response = resp
			if wasDeduped {
				result.WasDeduplicated = true
				m.tag(&result, TagRequestDeduplication)
			} else {
				responseIsNew = true
			}
		} else {
			// Step 3: unguarded execute.
			resp, eerr := executor(ctx)
			if eerr != nil {
				result.Error = eerr
				result.CompletedAt = time.Now()
				return result
			}
			response = resp
			responseIsNew = true
		}

		// Step 4: usage accounting.
		m.optimizer.RecordUsage(tool, string(paramsJSON), response)

		// Step 5: summarization.
		if o.EnableSummarize && response != "" {
			if res, serr := m.summarizer.Summarize(response, o.Summarization); serr == nil {
				if len(res.Summarized) < len(response) {
					before := m.est.Estimate(response)
					after := m.est.Estimate(res.Summarized)
					saved := before - after
					if saved < 0 {
						saved = 0
					}
					response = res.Summarized
					result.TokensSaved += saved
					m.tag(&result, TagSummarization)
					m.optimizer.RecordSavings(tool, saved)
				}
			}
		}
	}

	// Step 6: budget enforcement.
	if o.EnforceBudget {
		shrunk, modified := m.optimizer.CheckAndOptimizeResponse(response)
		if modified {
			before := m.est.Estimate(response)
			after := m.est.Estimate(shrunk)
			saved := before - after
			if saved < 0 {
				saved = 0
			}
			response = shrunk
			result.TokensSaved += saved
			m.tag(&result, TagTokenBudgetEnforce)
		}
	}

	result.Response = response

	// Step 7: persistent write.
	if o.EnableCache && m.persistent != nil && responseIsNew {
		duration := o.CacheDuration
		if duration <= 0 {
			duration = dedup.DefaultCacheDuration
		}
		if perr := m.persistent.Put(ctx, tool, key.Fingerprint, string(paramsJSON), response, duration); perr != nil {
			m.tag(&result, TagCacheUnavailable)
		}
	}

	// Step 8.
	result.CompletedAt = time.Now()
	return result
}

// tag appends an optimization tag and fires optimization_applied, per
// spec.md §4.7's "Fire optimization_applied(msg) at each tag addition".
func (m *Manager) tag(r *Result, tag string) {
	r.OptimizationsApplied = append(r.OptimizationsApplied, tag)
	if m.bus != nil {
		m.bus.Publish(events.KindOptimizationApplied, tag)
	}
}

// AnalyzeQuery delegates to the suggester.
func (m *Manager) AnalyzeQuery(text string, max int) suggester.Analysis {
	return m.suggester.Analyze(text, max)
}

// RecordToolFeedback delegates to the suggester.
func (m *Manager) RecordToolFeedback(tool string, wasRelevant bool) {
	m.suggester.RecordFeedback(tool, wasRelevant)
}

// Statistics implements spec.md §4.7 statistics().
func (m *Manager) Statistics(ctx context.Context) Statistics {
	stats := Statistics{
		TokenMetrics:     m.optimizer.Metrics(),
		DedupStats:       m.dedup.Stats(),
		SuggesterHistory: map[string]float64{},
		EfficiencyScore:  m.optimizer.EfficiencyScore(),
	}
	if m.persistent != nil {
		if cs, err := m.persistent.Stats(ctx); err == nil {
			stats.CacheStats = cs
		}
	}
	return stats
}

// Recommendations delegates to the optimizer.
func (m *Manager) Recommendations() []optimizer.Recommendation {
	return m.optimizer.GenerateRecommendations()
}

// Maintenance runs the persistent cache's expired-entry sweep.
func (m *Manager) Maintenance(ctx context.Context) (int, error) {
	if m.persistent == nil {
		return 0, nil
	}
	return m.persistent.CleanupExpired(ctx)
}

// Reset clears both caches and resets metrics, per spec.md §4.7 reset().
func (m *Manager) Reset(ctx context.Context) error {
	m.dedup.Clear()
	m.optimizer.Reset()
	if m.persistent != nil {
		return m.persistent.Clear(ctx)
	}
	return nil
}

// Dispose tears down the deduplicator's sweeps and the persistent-cache
// connection concurrently via errgroup, per SPEC_FULL.md §5, so a panic or
// error in one shutdown step doesn't hang the other.
func (m *Manager) Dispose(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.dedup.Dispose(gctx) })
	if m.persistent != nil {
		g.Go(func() error { return m.persistent.Close() })
	}
	return g.Wait()
}

// Package optimizer accumulates per-tool token usage, fires budget events,
// generates recommendations, and auto-shrinks oversized payloads. Grounded
// on the teacher's preemptive.Worker (single-mutex state bookkeeping,
// event-on-completion style) and monitoring.MetricsCollector (atomic
// counters), generalized from job-state tracking to token-usage tracking.
package optimizer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/compresr/context-optimizer/internal/events"
	"github.com/compresr/context-optimizer/internal/summarizer"
	"github.com/compresr/context-optimizer/internal/tokenest"
)

// autoOptimizationTool is the synthetic tool name savings are recorded
// under when check_and_optimize_* auto-shrinks a payload, per spec.md §4.4.
const autoOptimizationTool = "AutoOptimization"

// Config is the process-wide TokenBudgetConfig of spec.md §3.
type Config struct {
	MaxTokensPerRequest  int
	MaxTokensPerResponse int
	WarningThreshold     float64 // default 0.8
	AutoOptimize         bool
}

// DefaultConfig returns the documented default budget config.
func DefaultConfig() Config {
	return Config{
		MaxTokensPerRequest:  8000,
		MaxTokensPerResponse: 4000,
		WarningThreshold:     0.8,
		AutoOptimize:         true,
	}
}

// ToolUsage is ToolTokenUsage from spec.md §3.
type ToolUsage struct {
	ToolName         string
	InputTokens      int
	OutputTokens     int
	InvocationCount  int
	TokensSaved      int
}

// TotalTokens is input + output.
func (u ToolUsage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// AvgTokens is total / invocation_count.
func (u ToolUsage) AvgTokens() float64 {
	if u.InvocationCount == 0 {
		return 0
	}
	return float64(u.TotalTokens()) / float64(u.InvocationCount)
}

// Metrics is TokenUsageMetrics from spec.md §3.
type Metrics struct {
	InputTokens   int
	OutputTokens  int
	TokensSaved   int
	RequestCount  int
	ToolUsage     map[string]ToolUsage
	StartTime     time.Time
	EndTime       time.Time
}

// Recommendation is the expansion type from SPEC_FULL.md §3.
type Recommendation struct {
	Kind             string // "Caching" | "Summarization" | "Deduplication"
	ToolName         string
	Priority         int
	EstimatedSavings int
	Message          string
}

const (
	RecommendationCaching       = "Caching"
	RecommendationSummarization = "Summarization"
	RecommendationDeduplication = "Deduplication"
)

// Optimizer is TokenUsageOptimizer from spec.md §4.4.
type Optimizer struct {
	cfg Config
	est tokenest.Estimator
	sum *summarizer.Summarizer
	bus *events.Bus
	sink *otelSink

	mu      sync.Mutex
	metrics Metrics
}

// New builds an Optimizer. meter may be nil (no otel telemetry sink).
func New(cfg Config, est tokenest.Estimator, sum *summarizer.Summarizer, bus *events.Bus, meter metric.Meter) *Optimizer {
	if est == nil {
		est = tokenest.Default
	}
	return &Optimizer{
		cfg:  cfg,
		est:  est,
		sum:  sum,
		bus:  bus,
		sink: newOtelSink(meter),
		metrics: Metrics{
			ToolUsage: make(map[string]ToolUsage),
			StartTime: time.Now(),
		},
	}
}

// RecordUsage increments global and per-tool counters, updates end_time,
// and triggers the budget check for both sides independently.
func (o *Optimizer) RecordUsage(tool string, inputText, outputText string) {
	input := o.est.Estimate(inputText)
	output := o.est.Estimate(outputText)

	o.mu.Lock()
	o.metrics.InputTokens += input
	o.metrics.OutputTokens += output
	o.metrics.RequestCount++
	o.metrics.EndTime = time.Now()

	u := o.metrics.ToolUsage[tool]
	u.ToolName = tool
	u.InputTokens += input
	u.OutputTokens += output
	u.InvocationCount++
	o.metrics.ToolUsage[tool] = u
	o.mu.Unlock()

	o.sink.recordUsage(context.Background(), tool, input, output)

	o.checkBudgetEvent("request", input, o.cfg.MaxTokensPerRequest)
	o.checkBudgetEvent("response", output, o.cfg.MaxTokensPerResponse)
}

func (o *Optimizer) checkBudgetEvent(side string, tokens, max int) {
	if max <= 0 || o.bus == nil {
		return
	}
	threshold := o.cfg.WarningThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	if float64(tokens) > float64(max) {
		o.bus.Publish(events.KindBudgetExceeded, side+" exceeded token budget")
		return
	}
	if float64(tokens) >= threshold*float64(max) {
		o.bus.Publish(events.KindBudgetWarning, side+" approaching token budget")
	}
}

// RecordSavings increments tokens_saved globally and, if the tool is known,
// per-tool.
func (o *Optimizer) RecordSavings(tool string, n int) {
	if n <= 0 {
		return
	}
	o.mu.Lock()
	o.metrics.TokensSaved += n
	if u, ok := o.metrics.ToolUsage[tool]; ok {
		u.TokensSaved += n
		o.metrics.ToolUsage[tool] = u
	}
	o.mu.Unlock()

	o.sink.recordSavings(context.Background(), tool, n)
}

// OptimizeContent is a no-op if current ≤ target; otherwise it delegates to
// the summarizer with options chosen from the current/target ratio.
func (o *Optimizer) OptimizeContent(content string, targetTokens int) (string, int) {
	current := o.est.Estimate(content)
	if current <= targetTokens || content == "" {
		return content, 0
	}
	opts := summarizer.ChooseOptionsForBudget(targetTokens, current)
	res, err := o.sum.Summarize(content, opts)
	if err != nil {
		return content, 0
	}
	saved := o.est.Estimate(content) - o.est.Estimate(res.Summarized)
	if saved < 0 {
		saved = 0
	}
	return res.Summarized, saved
}

// CheckAndOptimizeRequest is CheckAndOptimizeResponse's request-side twin;
// both share checkAndOptimize against the configured max for that side.
func (o *Optimizer) CheckAndOptimizeRequest(content string) (string, bool) {
	return o.checkAndOptimize(content, o.cfg.MaxTokensPerRequest, "request")
}

// CheckAndOptimizeResponse implements spec.md §4.4
// check_and_optimize_response.
func (o *Optimizer) CheckAndOptimizeResponse(content string) (string, bool) {
	return o.checkAndOptimize(content, o.cfg.MaxTokensPerResponse, "response")
}

func (o *Optimizer) checkAndOptimize(content string, max int, side string) (string, bool) {
	if max <= 0 {
		return content, false
	}
	est := o.est.Estimate(content)
	if est <= max {
		return content, false
	}
	if !o.cfg.AutoOptimize {
		if o.bus != nil {
			o.bus.Publish(events.KindBudgetExceeded, side+" exceeded token budget")
		}
		return content, false
	}
	shrunk, saved := o.OptimizeContent(content, max)
	o.RecordSavings(autoOptimizationTool, saved)
	return shrunk, true
}

// EfficiencyScore is saved / (total_tokens + saved); 1.0 when no usage has
// been recorded.
func (o *Optimizer) EfficiencyScore() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := o.metrics.InputTokens + o.metrics.OutputTokens
	if total == 0 && o.metrics.TokensSaved == 0 {
		return 1.0
	}
	denom := total + o.metrics.TokensSaved
	if denom == 0 {
		return 1.0
	}
	return float64(o.metrics.TokensSaved) / float64(denom)
}

// Metrics returns a snapshot copy of the current usage metrics.
func (o *Optimizer) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	usage := make(map[string]ToolUsage, len(o.metrics.ToolUsage))
	for k, v := range o.metrics.ToolUsage {
		usage[k] = v
	}
	m := o.metrics
	m.ToolUsage = usage
	return m
}

// Reset clears all accumulated metrics, per spec.md §4.7 reset.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics = Metrics{
		ToolUsage: make(map[string]ToolUsage),
		StartTime: time.Now(),
	}
}

// GenerateRecommendations implements spec.md §4.4: from the top 5 tools by
// total tokens, emit Caching/Summarization/Deduplication recommendations
// under the documented thresholds, ordered (priority asc, estimated savings
// desc), firing recommendation_generated for each.
func (o *Optimizer) GenerateRecommendations() []Recommendation {
	o.mu.Lock()
	tools := make([]ToolUsage, 0, len(o.metrics.ToolUsage))
	for _, u := range o.metrics.ToolUsage {
		tools = append(tools, u)
	}
	o.mu.Unlock()

	sort.Slice(tools, func(i, j int) bool {
		return tools[i].TotalTokens() > tools[j].TotalTokens()
	})
	if len(tools) > 5 {
		tools = tools[:5]
	}

	var recs []Recommendation
	for _, u := range tools {
		avgPerInvocation := float64(u.OutputTokens) / maxf(1, float64(u.InvocationCount))

		if u.InvocationCount > 10 && u.AvgTokens() > 500 {
			recs = append(recs, Recommendation{
				Kind: RecommendationCaching, ToolName: u.ToolName, Priority: 1,
				EstimatedSavings: u.TotalTokens() / 2,
				Message:          u.ToolName + " is called frequently with large payloads; caching would help",
			})
		}
		if avgPerInvocation > 1000 {
			recs = append(recs, Recommendation{
				Kind: RecommendationSummarization, ToolName: u.ToolName, Priority: 2,
				EstimatedSavings: u.OutputTokens / 3,
				Message:          u.ToolName + " produces large responses; summarization would help",
			})
		}
		if u.InvocationCount > 5 {
			recs = append(recs, Recommendation{
				Kind: RecommendationDeduplication, ToolName: u.ToolName, Priority: 3,
				EstimatedSavings: int(float64(u.TotalTokens()) * 0.2),
				Message:          u.ToolName + " is invoked repeatedly; deduplication would help",
			})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority < recs[j].Priority
		}
		return recs[i].EstimatedSavings > recs[j].EstimatedSavings
	})

	if o.bus != nil {
		for _, r := range recs {
			o.bus.Publish(events.KindRecommendationGenerated, r)
		}
	}
	return recs
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

package optimizer_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/context-optimizer/internal/events"
	"github.com/compresr/context-optimizer/internal/optimizer"
	"github.com/compresr/context-optimizer/internal/summarizer"
	"github.com/compresr/context-optimizer/internal/tokenest"
)

func newOptimizer(cfg optimizer.Config, bus *events.Bus) *optimizer.Optimizer {
	sum := summarizer.New(tokenest.Default)
	return optimizer.New(cfg, tokenest.Default, sum, bus, nil)
}

func TestRecordUsage_AccumulatesTotals(t *testing.T) {
	o := newOptimizer(optimizer.DefaultConfig(), nil)
	o.RecordUsage("toolA", "input text", "output text response")
	o.RecordUsage("toolA", "more input", "more output text")

	m := o.Metrics()
	assert.Equal(t, 2, m.RequestCount)
	assert.Equal(t, 2, m.ToolUsage["toolA"].InvocationCount)
	assert.Equal(t, m.InputTokens, m.ToolUsage["toolA"].InputTokens)
}

// Savings monotonicity (spec.md §8): tokens_saved only increases.
func TestRecordSavings_Monotonic(t *testing.T) {
	o := newOptimizer(optimizer.DefaultConfig(), nil)
	o.RecordUsage("tool", "x", strings.Repeat("y", 100))

	prev := o.Metrics().TokensSaved
	for i := 0; i < 5; i++ {
		o.RecordSavings("tool", 10)
		cur := o.Metrics().TokensSaved
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestEfficiencyScore_OneWhenNoUsage(t *testing.T) {
	o := newOptimizer(optimizer.DefaultConfig(), nil)
	assert.Equal(t, 1.0, o.EfficiencyScore())
}

func TestEfficiencyScore_InBounds(t *testing.T) {
	o := newOptimizer(optimizer.DefaultConfig(), nil)
	o.RecordUsage("tool", strings.Repeat("a", 400), strings.Repeat("b", 400))
	o.RecordSavings("tool", 50)

	score := o.EfficiencyScore()
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestCheckAndOptimizeResponse_NoOpUnderBudget(t *testing.T) {
	cfg := optimizer.DefaultConfig()
	cfg.MaxTokensPerResponse = 1000
	o := newOptimizer(cfg, nil)

	content := "short content"
	out, modified := o.CheckAndOptimizeResponse(content)
	assert.Equal(t, content, out)
	assert.False(t, modified)
}

// Scenario 4 (spec.md §8): budget enforcement.
func TestCheckAndOptimizeResponse_ShrinksWhenAutoOptimize(t *testing.T) {
	cfg := optimizer.DefaultConfig()
	cfg.MaxTokensPerResponse = 500
	cfg.AutoOptimize = true
	o := newOptimizer(cfg, nil)

	content := strings.Repeat("x", 20000)
	out, modified := o.CheckAndOptimizeResponse(content)

	require.True(t, modified)
	assert.LessOrEqual(t, len(out), 4*500)

	saved := o.Metrics().TokensSaved
	assert.Greater(t, saved, 0)
}

func TestCheckAndOptimizeResponse_FiresEventWhenNotAutoOptimize(t *testing.T) {
	cfg := optimizer.DefaultConfig()
	cfg.MaxTokensPerResponse = 10
	cfg.AutoOptimize = false
	bus := events.Default()

	var mu sync.Mutex
	fired := false
	bus.Subscribe(events.KindBudgetExceeded, func(any) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	o := newOptimizer(cfg, bus)
	content := strings.Repeat("x", 1000)
	out, modified := o.CheckAndOptimizeResponse(content)

	assert.Equal(t, content, out)
	assert.False(t, modified)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, fired)
}

func TestGenerateRecommendations_Caching(t *testing.T) {
	o := newOptimizer(optimizer.DefaultConfig(), nil)
	for i := 0; i < 11; i++ {
		o.RecordUsage("bigTool", strings.Repeat("a", 100), strings.Repeat("b", 2100))
	}

	recs := o.GenerateRecommendations()
	require.NotEmpty(t, recs)

	found := false
	for _, r := range recs {
		if r.ToolName == "bigTool" && r.Kind == optimizer.RecommendationCaching {
			found = true
			assert.Equal(t, 1, r.Priority)
		}
	}
	assert.True(t, found)
}

func TestGenerateRecommendations_OrderedByPriorityThenSavings(t *testing.T) {
	o := newOptimizer(optimizer.DefaultConfig(), nil)
	for i := 0; i < 11; i++ {
		o.RecordUsage("toolA", strings.Repeat("a", 100), strings.Repeat("b", 2100))
	}
	for i := 0; i < 6; i++ {
		o.RecordUsage("toolB", strings.Repeat("a", 10), strings.Repeat("b", 10))
	}

	recs := o.GenerateRecommendations()
	for i := 1; i < len(recs); i++ {
		if recs[i-1].Priority == recs[i].Priority {
			assert.GreaterOrEqual(t, recs[i-1].EstimatedSavings, recs[i].EstimatedSavings)
		} else {
			assert.Less(t, recs[i-1].Priority, recs[i].Priority)
		}
	}
}

func TestReset_ClearsMetrics(t *testing.T) {
	o := newOptimizer(optimizer.DefaultConfig(), nil)
	o.RecordUsage("tool", "input", "output")
	o.Reset()

	m := o.Metrics()
	assert.Equal(t, 0, m.RequestCount)
	assert.Empty(t, m.ToolUsage)
}

package suggester_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/compresr/context-optimizer/internal/suggester"
)

func TestAnalyze_ClassifiesLookupIntent(t *testing.T) {
	s := suggester.New()
	a := s.Analyze("where is the config file?", 3)
	assert.Equal(t, suggester.IntentLookup, a.Intent)
	assert.NotEmpty(t, a.SuggestedTools)
	assert.Greater(t, a.Confidence, 0.0)
}

func TestAnalyze_ClassifiesDebugIntent(t *testing.T) {
	s := suggester.New()
	a := s.Analyze("why is this crashing with a stack trace", 5)
	assert.Equal(t, suggester.IntentDebug, a.Intent)
	assert.Contains(t, a.SuggestedTools, "run_tests")
}

func TestAnalyze_NoKeywordHitsIsUnknown(t *testing.T) {
	s := suggester.New()
	a := s.Analyze("zzz qqq nonsense", 3)
	assert.Equal(t, suggester.IntentUnknown, a.Intent)
	assert.Empty(t, a.SuggestedTools)
	assert.Equal(t, 0.0, a.Confidence)
}

func TestAnalyze_RespectsMaxLimit(t *testing.T) {
	s := suggester.New()
	a := s.Analyze("search for all references and list all usages", 1)
	assert.Len(t, a.SuggestedTools, 1)
}

// Scenario 6 (spec.md §8): feedback update shifts history above the neutral
// prior, and repeated relevant feedback keeps raising it without passing 1.0.
func TestRecordFeedback_UpdatesHistoryTowardTarget(t *testing.T) {
	s := suggester.New()
	assert.Equal(t, 0.5, s.History("grep_search"))

	s.RecordFeedback("grep_search", true)
	afterOne := s.History("grep_search")
	assert.Greater(t, afterOne, 0.5)

	for i := 0; i < 20; i++ {
		s.RecordFeedback("grep_search", true)
	}
	assert.Greater(t, s.History("grep_search"), afterOne)
	assert.LessOrEqual(t, s.History("grep_search"), 1.0)
}

func TestRecordFeedback_NegativeFeedbackMovesTowardZero(t *testing.T) {
	s := suggester.New()
	s.RecordFeedback("doc_lookup", false)
	assert.Less(t, s.History("doc_lookup"), 0.5)
}

func TestAnalyze_RankingReflectsLearnedFeedback(t *testing.T) {
	s := suggester.New()
	for i := 0; i < 10; i++ {
		s.RecordFeedback("doc_lookup", true)
		s.RecordFeedback("grep_search", false)
	}

	a := s.Analyze("search for the definition", 2)
	require := assert.New(t)
	require.NotEmpty(a.SuggestedTools)
	require.Equal("doc_lookup", a.SuggestedTools[0])
}

func TestIntent_StringNames(t *testing.T) {
	assert.Equal(t, "lookup", suggester.IntentLookup.String())
	assert.Equal(t, "debug", suggester.IntentDebug.String())
	assert.Equal(t, "unknown", suggester.IntentUnknown.String())
}

func TestNewWithCapacity_EvictsLeastRecentlyUsed(t *testing.T) {
	s := suggester.NewWithCapacity(2)
	s.RecordFeedback("toolA", true)
	s.RecordFeedback("toolB", true)
	s.RecordFeedback("toolC", true) // evicts toolA (least recently used)

	assert.Equal(t, 0.5, s.History("toolA"))
	assert.NotEqual(t, 0.5, s.History("toolB"))
	assert.NotEqual(t, 0.5, s.History("toolC"))
}

// Package suggester implements the QuerySuggester backing
// ContextWindowManager.analyze_query (SPEC_FULL.md §4.9): free-text intent
// classification via fixed keyword tables, no ML or polymorphism, per
// spec.md §9's "tagged variants, no inheritance" guidance.
//
// Grounded on the teacher's CompactionDetector factory: a provider-keyed
// switch returning one of a small closed set of implementations, each
// driven by a static pattern table. Here the tag is QueryIntent instead of
// provider, and "detect" becomes "classify + rank candidate tools".
package suggester

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Intent is the tagged-variant enum classifying a free-text query.
type Intent int

const (
	IntentLookup Intent = iota
	IntentSearch
	IntentCreate
	IntentModify
	IntentDebug
	IntentExplain
	IntentUnknown
)

func (i Intent) String() string {
	switch i {
	case IntentLookup:
		return "lookup"
	case IntentSearch:
		return "search"
	case IntentCreate:
		return "create"
	case IntentModify:
		return "modify"
	case IntentDebug:
		return "debug"
	case IntentExplain:
		return "explain"
	default:
		return "unknown"
	}
}

// keywordTable maps each intent (in enum declaration order — ties broken by
// that order) to its static keyword set and candidate tool list.
var keywordTable = []struct {
	intent   Intent
	keywords []string
	tools    []string
}{
	{IntentLookup, []string{"find", "get", "what is", "show", "where is"}, []string{"read_file", "doc_lookup", "get_symbol"}},
	{IntentSearch, []string{"search", "grep", "look for", "locate", "list all"}, []string{"grep_search", "glob_search", "doc_lookup"}},
	{IntentCreate, []string{"create", "add", "new", "generate", "scaffold"}, []string{"write_file", "scaffold_package"}},
	{IntentModify, []string{"change", "update", "edit", "rename", "refactor", "fix"}, []string{"edit_file", "write_file"}},
	{IntentDebug, []string{"debug", "error", "crash", "stack trace", "panic", "failing"}, []string{"run_tests", "read_logs", "profiler_capture"}},
	{IntentExplain, []string{"explain", "why", "how does", "describe", "what does"}, []string{"doc_lookup", "read_file"}},
}

// neutralPrior is the starting relevance score for a tool the history has
// never seen, per SPEC_FULL.md §4.9.
const neutralPrior = 0.5

// feedbackLearningRate is the fixed EMA step used by RecordFeedback.
const feedbackLearningRate = 0.2

// defaultHistoryCapacity bounds the feedback-history map. Free-text query
// volume is unbounded in principle; this is the one map in the core that
// needs eviction rather than being left to grow without bound.
const defaultHistoryCapacity = 2048

// Analysis is QueryAnalysis from SPEC_FULL.md §3.
type Analysis struct {
	Intent         Intent
	SuggestedTools []string
	Confidence     float64
}

// Suggester is QuerySuggester.
type Suggester struct {
	history *lru.Cache[string, float64]
}

// New builds a Suggester with the default feedback-history capacity.
func New() *Suggester {
	return NewWithCapacity(defaultHistoryCapacity)
}

// NewWithCapacity builds a Suggester whose feedback history holds at most
// capacity tool names, evicting least-recently-used on overflow.
func NewWithCapacity(capacity int) *Suggester {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	c, _ := lru.New[string, float64](capacity)
	return &Suggester{history: c}
}

// Analyze classifies text into the highest-scoring intent by keyword-table
// hits (ties broken by enum declaration order; Unknown if nothing matches),
// and ranks that intent's static candidate tools by feedback history
// descending, returning at most max.
func (s *Suggester) Analyze(text string, max int) Analysis {
	lower := strings.ToLower(text)

	bestIntent := IntentUnknown
	bestScore := 0
	var bestTools []string

	for _, row := range keywordTable {
		score := 0
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestIntent = row.intent
			bestTools = row.tools
		}
	}

	ranked := make([]string, len(bestTools))
	copy(ranked, bestTools)
	sortByHistoryDesc(ranked, s.history)

	if max > 0 && len(ranked) > max {
		ranked = ranked[:max]
	}

	confidence := 0.0
	if bestScore > 0 {
		confidence = float64(bestScore) / float64(len(keywordTableKeywords(bestIntent)))
		if confidence > 1 {
			confidence = 1
		}
	}

	return Analysis{Intent: bestIntent, SuggestedTools: ranked, Confidence: confidence}
}

func keywordTableKeywords(intent Intent) []string {
	for _, row := range keywordTable {
		if row.intent == intent {
			return row.keywords
		}
	}
	return nil
}

func sortByHistoryDesc(tools []string, history *lru.Cache[string, float64]) {
	scoreOf := func(tool string) float64 {
		if v, ok := history.Get(tool); ok {
			return v
		}
		return neutralPrior
	}
	// insertion sort: candidate lists are short (a handful of tools)
	for i := 1; i < len(tools); i++ {
		for j := i; j > 0 && scoreOf(tools[j]) > scoreOf(tools[j-1]); j-- {
			tools[j], tools[j-1] = tools[j-1], tools[j]
		}
	}
}

// RecordFeedback nudges tool's history score toward 1.0 (relevant) or 0.0
// (irrelevant) by a fixed exponential-moving-average learning rate of 0.2,
// per SPEC_FULL.md §4.9 and scenario 6 of spec.md §8. Unseen tools start at
// the neutral prior 0.5.
func (s *Suggester) RecordFeedback(tool string, wasRelevant bool) {
	target := 0.0
	if wasRelevant {
		target = 1.0
	}
	current, ok := s.history.Get(tool)
	if !ok {
		current = neutralPrior
	}
	updated := current + feedbackLearningRate*(target-current)
	s.history.Add(tool, updated)
}

// History returns the current learned score for tool, or the neutral prior
// if it has never received feedback.
func (s *Suggester) History(tool string) float64 {
	if v, ok := s.history.Get(tool); ok {
		return v
	}
	return neutralPrior
}

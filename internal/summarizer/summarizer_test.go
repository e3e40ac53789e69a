package summarizer_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/context-optimizer/internal/summarizer"
	"github.com/compresr/context-optimizer/internal/tokenest"
)

func newSummarizer() *summarizer.Summarizer {
	return summarizer.New(tokenest.Default)
}

func TestSummarize_EmptyContentFails(t *testing.T) {
	_, err := newSummarizer().Summarize("", summarizer.OptionsFor(summarizer.ModeBalanced))
	assert.ErrorIs(t, err, summarizer.ErrEmptyContent)
}

// Scenario 3 (spec.md §8): list truncation.
func TestSummarize_ListTruncation(t *testing.T) {
	items := make([]string, 20)
	for i := range items {
		items[i] = fmt.Sprintf("%d", i+1)
	}
	payload := fmt.Sprintf(`{"items":[%s]}`, strings.Join(items, ","))

	opts := summarizer.Options{Mode: summarizer.ModeBalanced, MaxLength: 500, MaxListItems: 5, MaxDepth: 3, IncludeMetadata: true}
	res, err := newSummarizer().Summarize(payload, opts)
	require.NoError(t, err)

	assert.Contains(t, res.Summarized, "...and 15 more")
	assert.Contains(t, res.Techniques, summarizer.TagListTruncation)
	assert.Less(t, res.SummaryLength, res.OriginalLength)
}

func TestSummarize_MetadataRemoval(t *testing.T) {
	payload := `{"id":"abc123","title":"hello","timestamp":"2024-01-01"}`
	opts := summarizer.Options{Mode: summarizer.ModeBalanced, MaxLength: 500, MaxListItems: 5, MaxDepth: 3, IncludeMetadata: false}

	res, err := newSummarizer().Summarize(payload, opts)
	require.NoError(t, err)

	assert.NotContains(t, res.Summarized, "abc123")
	assert.Contains(t, res.Summarized, "hello")
	assert.Contains(t, res.Techniques, summarizer.TagMetadataRemoval)
}

func TestSummarize_CodeExamplePreservedVerbatim(t *testing.T) {
	code := "public class Foo { void bar() { return; } }"
	payload := fmt.Sprintf(`{"snippet":%q}`, code)
	opts := summarizer.Options{Mode: summarizer.ModeBalanced, MaxLength: 10, MaxListItems: 5, MaxDepth: 3, PreserveCodeExamples: true}

	res, err := newSummarizer().Summarize(payload, opts)
	require.NoError(t, err)
	assert.Contains(t, res.Summarized, "public class Foo")
}

func TestSummarize_DepthLimiting(t *testing.T) {
	payload := `{"a":{"b":{"c":{"d":"too deep"}}}}`
	opts := summarizer.Options{Mode: summarizer.ModeAggressive, MaxLength: 200, MaxListItems: 3, MaxDepth: 1}

	res, err := newSummarizer().Summarize(payload, opts)
	require.NoError(t, err)
	assert.Contains(t, res.Techniques, summarizer.TagDepthLimiting)
}

func TestSummarize_TextPathSentenceTruncation(t *testing.T) {
	text := strings.Repeat("This is a sentence. ", 50)
	opts := summarizer.Options{Mode: summarizer.ModeAggressive, MaxLength: 50, MaxListItems: 3, MaxDepth: 2}

	res, err := newSummarizer().Summarize(text, opts)
	require.NoError(t, err)
	assert.Contains(t, res.Techniques, summarizer.TagSentenceTruncation)
	assert.True(t, strings.HasSuffix(res.Summarized, "..."))
}

func TestSummarize_CodeHeuristicLeavesTextUnchanged(t *testing.T) {
	code := "using System;\nnamespace Foo { public class Bar { void Baz() { return; } } }"
	opts := summarizer.Options{Mode: summarizer.ModeAggressive, MaxLength: 10, MaxListItems: 3, MaxDepth: 2, PreserveCodeExamples: true}

	res, err := newSummarizer().Summarize(code, opts)
	require.NoError(t, err)
	assert.Equal(t, code, res.Summarized)
}

// Summarizer length contract (spec.md §8).
func TestSummarize_LengthContract(t *testing.T) {
	payloads := []string{
		`{"a":1,"b":"hello world this is a reasonably long string value"}`,
		strings.Repeat("word ", 200),
		`["a","b","c","d","e","f","g"]`,
	}
	s := newSummarizer()
	for _, p := range payloads {
		res, err := s.Summarize(p, summarizer.OptionsFor(summarizer.ModeAggressive))
		require.NoError(t, err)
		assert.LessOrEqual(t, res.SummaryLength, res.OriginalLength)
		assert.Greater(t, res.SummaryLength, 0)
	}
}

// Idempotence (spec.md §8): repeated summarization converges, never grows.
func TestSummarize_Idempotence(t *testing.T) {
	items := make([]string, 30)
	for i := range items {
		items[i] = fmt.Sprintf(`"item-%d-with-some-extra-text-to-pad-it-out"`, i)
	}
	payload := fmt.Sprintf(`{"items":[%s]}`, strings.Join(items, ","))
	opts := summarizer.OptionsFor(summarizer.ModeAggressive)

	s := newSummarizer()
	current := payload
	prevLen := len(current) + 1
	for i := 0; i < 5; i++ {
		res, err := s.Summarize(current, opts)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Summarized), prevLen)
		prevLen = len(res.Summarized)
		current = res.Summarized
	}
}

func TestChooseOptionsForBudget(t *testing.T) {
	assert.Equal(t, summarizer.ModeMinimal, summarizer.ChooseOptionsForBudget(90, 100).Mode)
	assert.Equal(t, summarizer.ModeBalanced, summarizer.ChooseOptionsForBudget(60, 100).Mode)
	assert.Equal(t, summarizer.ModeAggressive, summarizer.ChooseOptionsForBudget(10, 100).Mode)
}

func TestSummarizeMultiple_JoinsInOrderWithUnionTags(t *testing.T) {
	s := newSummarizer()
	names := []string{"first", "second"}
	content := map[string]string{
		"first":  `{"id":"x","title":"A"}`,
		"second": strings.Repeat("sentence text. ", 40),
	}
	opts := summarizer.Options{Mode: summarizer.ModeAggressive, MaxLength: 30, MaxListItems: 3, MaxDepth: 2}

	out, tags, err := s.SummarizeMultiple(names, content, opts)
	require.NoError(t, err)
	assert.True(t, strings.Index(out, "=== first ===") < strings.Index(out, "=== second ==="))
	assert.NotEmpty(t, tags)
}

package summarizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/context-optimizer/internal/jsonvalue"
	"github.com/compresr/context-optimizer/internal/tokenest"
)

// ErrEmptyContent is returned by Summarize when content is empty, per
// spec.md §4.3.
var ErrEmptyContent = errors.New("summarizer: content is empty")

// Mode selects a summarization preset.
type Mode int

const (
	ModeMinimal Mode = iota
	ModeBalanced
	ModeAggressive
)

// Technique tags recorded in a Result, exactly the set spec.md's glossary
// names.
const (
	TagListTruncation     = "list_truncation"
	TagTextTruncation     = "text_truncation"
	TagSentenceTruncation = "sentence_truncation"
	TagMetadataRemoval    = "metadata_removal"
	TagDepthLimiting      = "depth_limiting"
)

const truncatedMarker = "[...truncated]"

// metadataKeys is the fixed metadata field set (case-insensitive) dropped
// when IncludeMetadata is false. spec.md §9 open question: kept fixed, not
// configurable.
var metadataKeys = map[string]struct{}{
	"timestamp":        {},
	"createdat":        {},
	"updatedat":        {},
	"lastmodified":     {},
	"id":               {},
	"guid":             {},
	"uuid":             {},
	"url":              {},
	"documentationurl": {},
	"metadata":         {},
	"version":          {},
}

// codeExampleKeys is the fixed code-example field set (case-insensitive)
// emitted verbatim when PreserveCodeExamples is true.
var codeExampleKeys = map[string]struct{}{
	"codeexamples": {},
	"code":         {},
	"example":      {},
	"snippet":      {},
	"sample":       {},
}

// codeTokens are the fixed heuristic tokens: content counts as code if at
// least three of these appear.
var codeTokens = []string{
	"using ", "namespace ", "class ", "public ", "private ", "void ",
	"return ", "if (", "for (", "while (", "{", "}", "//", "/*",
}

// Options controls one summarize call. Zero value is not meaningful; use
// OptionsFor(ModeBalanced) or a similar preset as a starting point.
type Options struct {
	Mode                 Mode
	MaxLength            int
	MaxListItems         int
	MaxDepth             int
	PreserveCodeExamples bool
	IncludeMetadata      bool
}

// OptionsFor returns the documented defaults for a mode (spec.md §4.3).
func OptionsFor(mode Mode) Options {
	switch mode {
	case ModeMinimal:
		return Options{
			Mode: mode, MaxLength: 2000, MaxListItems: 50, MaxDepth: 10,
			PreserveCodeExamples: true, IncludeMetadata: true,
		}
	case ModeAggressive:
		return Options{
			Mode: mode, MaxLength: 200, MaxListItems: 3, MaxDepth: 2,
			PreserveCodeExamples: false, IncludeMetadata: false,
		}
	default: // ModeBalanced
		return Options{
			Mode: ModeBalanced, MaxLength: 500, MaxListItems: 5, MaxDepth: 3,
			PreserveCodeExamples: true, IncludeMetadata: false,
		}
	}
}

// ChooseOptionsForBudget picks a preset from the ratio of target to current
// size, per spec.md §4.3.
func ChooseOptionsForBudget(target, current int) Options {
	if current <= 0 {
		return OptionsFor(ModeBalanced)
	}
	ratio := float64(target) / float64(current)
	switch {
	case ratio >= 0.8:
		return OptionsFor(ModeMinimal)
	case ratio >= 0.5:
		return OptionsFor(ModeBalanced)
	default:
		return OptionsFor(ModeAggressive)
	}
}

// Result carries before/after sizes, applied technique tags, and derived
// metrics, per spec.md §4.3.
type Result struct {
	Original        string
	Summarized      string
	OriginalLength  int
	SummaryLength   int
	Techniques      []string
	CompressionRatio float64
	TokensSaved     int
}

// Summarizer compresses JSON or plain-text payloads under Options. Stateless
// aside from the Estimator it was built with.
type Summarizer struct {
	est tokenest.Estimator
}

// New builds a Summarizer using est for savings/ratio accounting. Callers
// should pass tokenest.Default to preserve the conservation property
// (spec.md §8).
func New(est tokenest.Estimator) *Summarizer {
	if est == nil {
		est = tokenest.Default
	}
	return &Summarizer{est: est}
}

// Summarize dispatches to the structural or text path and fills in the
// derived fields of Result. The only error is ErrEmptyContent for empty
// content; content that is not well-formed JSON takes the text path.
func (s *Summarizer) Summarize(content string, opts Options) (Result, error) {
	if content == "" {
		return Result{}, ErrEmptyContent
	}

	var out string
	var tags []string

	if v, ok := jsonvalue.Parse(content); ok {
		out, tags = s.summarizeStructural(v, opts, 0)
	} else {
		out, tags = s.summarizeText(content, opts)
	}

	return s.buildResult(content, out, dedupTags(tags)), nil
}

func (s *Summarizer) buildResult(original, summarized string, tags []string) Result {
	origLen := len([]rune(original))
	sumLen := len([]rune(summarized))
	origTok := s.est.Estimate(original)
	sumTok := s.est.Estimate(summarized)
	saved := origTok - sumTok
	if saved < 0 {
		saved = 0
	}
	ratio := 1.0
	if origLen > 0 {
		ratio = float64(sumLen) / float64(origLen)
	}
	return Result{
		Original:         original,
		Summarized:       summarized,
		OriginalLength:   origLen,
		SummaryLength:    sumLen,
		Techniques:       tags,
		CompressionRatio: ratio,
		TokensSaved:      saved,
	}
}

// summarizeStructural walks a JSONValue, applying the depth guard, metadata
// removal, code-example preservation, list truncation, and string
// truncation rules of spec.md §4.3.
func (s *Summarizer) summarizeStructural(v jsonvalue.Value, opts Options, depth int) (string, []string) {
	if depth > opts.MaxDepth {
		return quoteJSON(truncatedMarker), []string{TagDepthLimiting}
	}

	switch v.Kind() {
	case jsonvalue.KindObject:
		return s.summarizeObject(v, opts, depth)
	case jsonvalue.KindArray:
		return s.summarizeArray(v, opts, depth)
	case jsonvalue.KindString:
		return s.summarizeStringValue(v.String(), opts)
	default:
		return v.Raw(), nil
	}
}

func (s *Summarizer) summarizeObject(v jsonvalue.Value, opts Options, depth int) (string, []string) {
	out := "{}"
	var tags []string
	v.Each(func(key string, val jsonvalue.Value) bool {
		lower := strings.ToLower(key)
		if _, isMeta := metadataKeys[lower]; isMeta && !opts.IncludeMetadata {
			tags = append(tags, TagMetadataRemoval)
			return true
		}
		if _, isCode := codeExampleKeys[lower]; isCode && opts.PreserveCodeExamples {
			out, _ = sjson.SetRaw(out, sjsonPath(key), val.Raw())
			return true
		}
		childRaw, childTags := s.summarizeStructural(val, opts, depth+1)
		tags = append(tags, childTags...)
		out, _ = sjson.SetRaw(out, sjsonPath(key), childRaw)
		return true
	})
	return out, tags
}

func (s *Summarizer) summarizeArray(v jsonvalue.Value, opts Options, depth int) (string, []string) {
	elems := v.Array()
	n := len(elems)
	var tags []string

	limit := n
	truncated := false
	if opts.MaxListItems > 0 && n > opts.MaxListItems {
		limit = opts.MaxListItems
		truncated = true
		tags = append(tags, TagListTruncation)
	}

	out := "[]"
	idx := 0
	for i := 0; i < limit; i++ {
		childRaw, childTags := s.summarizeStructural(elems[i], opts, depth+1)
		tags = append(tags, childTags...)
		out, _ = sjson.SetRaw(out, fmt.Sprintf("%d", idx), childRaw)
		idx++
	}
	if truncated {
		marker := fmt.Sprintf("...and %d more", n-limit)
		out, _ = sjson.Set(out, fmt.Sprintf("%d", idx), marker)
	}
	return out, tags
}

func (s *Summarizer) summarizeStringValue(str string, opts Options) (string, []string) {
	if isCode(str, opts) {
		return quoteJSON(str), nil
	}
	if opts.MaxLength > 0 && len([]rune(str)) > opts.MaxLength {
		return quoteJSON(truncateAtWordBoundary(str, opts.MaxLength)), []string{TagTextTruncation}
	}
	return quoteJSON(str), nil
}

// isCode implements the fixed code heuristic of spec.md §4.3: at least three
// of the fixed tokens must appear, and only when PreserveCodeExamples is on.
func isCode(s string, opts Options) bool {
	if !opts.PreserveCodeExamples {
		return false
	}
	hits := 0
	for _, tok := range codeTokens {
		if strings.Contains(s, tok) {
			hits++
			if hits >= 3 {
				return true
			}
		}
	}
	return false
}

// summarizeText handles non-JSON payloads: unchanged if classified as code,
// otherwise sentence-accumulated up to MaxLength.
func (s *Summarizer) summarizeText(content string, opts Options) (string, []string) {
	if isCode(content, opts) {
		return content, nil
	}

	sentences := splitSentences(content)
	var b strings.Builder
	truncated := false
	for _, sent := range sentences {
		if b.Len()+len(sent) > opts.MaxLength {
			truncated = true
			break
		}
		b.WriteString(sent)
	}

	out := b.String()
	if out == "" {
		// No sentence fit at all; fall back to the first words, cut to
		// MaxLength at a word boundary, so the contract
		// "summarized_length > 0 for non-empty input" still holds.
		out = truncateAtWordBoundary(truncateWords(content, 10), opts.MaxLength)
		return out, []string{TagSentenceTruncation}
	}
	if truncated {
		out = strings.TrimRight(out, " ") + "..."
		return out, []string{TagSentenceTruncation}
	}
	return out, nil
}

// splitSentences splits on '.', '!', '?' followed by whitespace, keeping the
// terminator and the trailing whitespace attached to each sentence so
// re-joining is lossless.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			j := i + 1
			if j < len(s) && isSpace(s[j]) {
				// consume the run of trailing whitespace into this sentence
				k := j
				for k < len(s) && isSpace(s[k]) {
					k++
				}
				out = append(out, s[start:k])
				start = k
				i = k - 1
			}
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// SummarizeMultiple summarizes each named entry and joins them in insertion
// order as "=== name ===\n<summary>\n\n", per spec.md §4.3. names gives the
// insertion order since Go maps do not preserve one.
func (s *Summarizer) SummarizeMultiple(names []string, content map[string]string, opts Options) (string, []string, error) {
	var b strings.Builder
	var allTags []string
	for _, name := range names {
		c, ok := content[name]
		if !ok {
			continue
		}
		res, err := s.Summarize(c, opts)
		if err != nil {
			return "", nil, err
		}
		allTags = append(allTags, res.Techniques...)
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", name, res.Summarized)
	}
	return b.String(), dedupTags(allTags), nil
}

func dedupTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func sjsonPath(key string) string {
	r := strings.NewReplacer(".", "\\.", "*", "\\*", "?", "\\?")
	return r.Replace(key)
}

func quoteJSON(s string) string {
	// gjson/sjson both work in terms of raw JSON text; reuse encoding
	// semantics close to the stdlib by routing through sjson.Set on an empty
	// holder and lifting the single value back out.
	raw, _ := sjson.Set("{}", "v", s)
	return gjson.Get(raw, "v").Raw
}

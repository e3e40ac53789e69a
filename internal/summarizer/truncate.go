// Package summarizer structurally compresses JSON or plain-text tool
// payloads under a budget of length, depth, and list size. Word-boundary
// and sentence-boundary truncation are kept small and shared between the
// structural and text paths rather than duplicated.
package summarizer

import "strings"

// truncateWords keeps only the first maxWords whitespace-separated words of
// content, suffixed with an ellipsis. Used by the text path as the fallback
// when not even the first sentence fits within MaxLength.
func truncateWords(content string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = 10
	}
	words := strings.Fields(content)
	if len(words) <= maxWords {
		return content
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// truncateAtWordBoundary truncates s to at most maxLen runes, preferring to
// back up to the last whitespace run if it falls in the second half of the
// truncated prefix (per spec.md §4.3), and appends "...".
func truncateAtWordBoundary(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	cut := maxLen
	prefixRunes := r[:cut]
	if idx := lastIndexAnyRune(prefixRunes, " \t\n\r"); idx >= cut/2 {
		prefixRunes = prefixRunes[:idx]
	}
	return string(prefixRunes) + "..."
}

// lastIndexAnyRune returns the rune index of the last occurrence of any rune
// in chars within s, or -1 if none is found. Unlike strings.LastIndexAny,
// the returned index is a rune offset, not a byte offset, so callers
// comparing it against a rune-counted length (e.g. cut/2 above) get the
// correct answer for multi-byte content.
func lastIndexAnyRune(s []rune, chars string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if strings.ContainsRune(chars, s[i]) {
			return i
		}
	}
	return -1
}

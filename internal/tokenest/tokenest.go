// Package tokenest provides the single token-estimation primitive threaded
// through every component that counts tokens. spec.md §9 calls out that
// hardcoding the /4 constant in multiple places would silently violate the
// conservation property in §8 the moment one callsite drifts from another;
// an Estimator interface with one canonical implementation avoids that.
package tokenest

import "github.com/pkoukk/tiktoken-go"

// Estimator maps text to an estimated token count.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator is the canonical estimator: floor(len(text) / 4). This is
// the only estimator wired into the pipeline — metrics, budget checks, and
// savings accounting all use it, so savings figures stay internally
// consistent even though they are not a precise token count.
type CharEstimator struct{}

// Estimate implements Estimator.
func (CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(text) / 4
}

// Default is the canonical estimator instance, safe for concurrent use
// (it is stateless).
var Default Estimator = CharEstimator{}

// TiktokenEstimator wraps a tiktoken-go encoding for precise counts. It is
// never wired into the optimization pipeline itself — only into
// cmd/contextctl's tokencount diagnostic — because mixing two different
// estimators across components would break the conservation property
// exercised by the test suite (§8).
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator builds a precise estimator for the named encoding
// (e.g. "cl100k_base"). Returns an error if the encoding is unknown.
func NewTiktokenEstimator(encodingName string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// Estimate returns the exact token count for the given encoding.
func (t *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

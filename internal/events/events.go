// Package events implements the advisory, non-blocking EventBus carrying the
// four optimization event kinds out of the pipeline stages that fire them.
// Grounded on the teacher's hooks Registry (Name/Priority/Enabled) and
// AlertManager (flag-then-log style), generalized from HTTP pre/post hooks
// and latency/provider alerts into typed optimization events.
package events

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind is one of the four advisory event kinds of spec.md §6.
type Kind int

const (
	KindOptimizationApplied Kind = iota
	KindBudgetWarning
	KindBudgetExceeded
	KindRecommendationGenerated
)

func (k Kind) String() string {
	switch k {
	case KindOptimizationApplied:
		return "optimization_applied"
	case KindBudgetWarning:
		return "budget_warning"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindRecommendationGenerated:
		return "recommendation_generated"
	default:
		return "unknown"
	}
}

// Handler receives a published event's payload. The concrete payload type
// depends on Kind: optimization_applied/budget_warning/budget_exceeded carry
// a string message; recommendation_generated carries an
// optimizer.Recommendation.
type Handler func(payload any)

// Bus is a small in-process, non-blocking observer registry. A dependency
// beyond sync.RWMutex over a map of handler slices would be over-engineering
// for a same-process advisory callback list (see DESIGN.md).
type Bus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// New builds an empty Bus that reports recovered handler panics through
// logger, used as given; Default wires in the global zerolog logger.
func New(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger, handlers: make(map[Kind][]Handler)}
}

// Default returns a Bus that logs through the package-level zerolog logger.
func Default() *Bus {
	return New(log.Logger)
}

// Subscribe registers handler for kind and returns an unsubscribe function.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	b.mu.Lock()
	idx := len(b.handlers[kind])
	b.handlers[kind] = append(b.handlers[kind], handler)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[kind]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Publish invokes every registered handler for kind synchronously in the
// calling goroutine. It must never be called from inside a held lock —
// callers (optimizer, manager) always publish after releasing their own
// mutex. A handler that panics is recovered and logged; it does not stop
// other handlers from running and never propagates to the firer.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[kind]))
	copy(hs, b.handlers[kind])
	b.mu.RUnlock()

	for _, h := range hs {
		if h == nil {
			continue
		}
		b.invoke(kind, h, payload)
	}
}

func (b *Bus) invoke(kind Kind, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", kind.String()).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(payload)
}

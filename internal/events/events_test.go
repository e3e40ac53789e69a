package events_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/compresr/context-optimizer/internal/events"
)

func TestPublish_InvokesAllHandlersForKind(t *testing.T) {
	bus := events.Default()
	var calls int64

	bus.Subscribe(events.KindOptimizationApplied, func(any) { atomic.AddInt64(&calls, 1) })
	bus.Subscribe(events.KindOptimizationApplied, func(any) { atomic.AddInt64(&calls, 1) })
	bus.Subscribe(events.KindBudgetWarning, func(any) { atomic.AddInt64(&calls, 1) })

	bus.Publish(events.KindOptimizationApplied, "tag")

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestPublish_PayloadDelivered(t *testing.T) {
	bus := events.Default()
	var got any
	bus.Subscribe(events.KindBudgetExceeded, func(payload any) { got = payload })

	bus.Publish(events.KindBudgetExceeded, "response exceeded token budget")
	assert.Equal(t, "response exceeded token budget", got)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	bus := events.Default()
	var calls int64
	unsub := bus.Subscribe(events.KindOptimizationApplied, func(any) { atomic.AddInt64(&calls, 1) })

	bus.Publish(events.KindOptimizationApplied, "a")
	unsub()
	bus.Publish(events.KindOptimizationApplied, "b")

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

// A panicking handler must not crash the firer or block other handlers.
func TestPublish_RecoversFromPanickingHandler(t *testing.T) {
	bus := events.Default()
	var ranAfterPanic bool

	bus.Subscribe(events.KindOptimizationApplied, func(any) { panic("boom") })
	bus.Subscribe(events.KindOptimizationApplied, func(any) { ranAfterPanic = true })

	assert.NotPanics(t, func() { bus.Publish(events.KindOptimizationApplied, "x") })
	assert.True(t, ranAfterPanic)
}

func TestPublish_ConcurrentSafe(t *testing.T) {
	bus := events.Default()
	var calls int64
	bus.Subscribe(events.KindOptimizationApplied, func(any) { atomic.AddInt64(&calls, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(events.KindOptimizationApplied, "x")
		}()
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(50), atomic.LoadInt64(&calls))
}

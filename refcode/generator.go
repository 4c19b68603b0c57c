package refcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSequenceExhausted is returned when a single UTC day would exceed
// MaxSequence allocations. There is no implicit rollover.
var ErrSequenceExhausted = errors.New("reference code sequence exhausted for today")

const dateLayout = "2006-01-02"

// Generator allocates reference codes that are strictly monotonic within a
// UTC day and reset to 1 on date rollover. All allocation goes through a
// single-writer section so parallel callers within one process never
// observe a duplicate.
type Generator struct {
	mu    sync.Mutex
	store SequenceStore
	now   func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock overrides the generator's time source. Used by tests to pin the
// UTC day.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator over the given sequence store.
func NewGenerator(store SequenceStore, opts ...GeneratorOption) *Generator {
	g := &Generator{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate allocates the next reference code. Cancellation before the
// single-writer section is acquired leaves the stored state untouched.
func (g *Generator) Generate(ctx context.Context) (ReferenceCode, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load sequence state: %w", err)
	}

	today := g.now().UTC()
	todayKey := today.Format(dateLayout)

	sequence := 1
	if state.Date == todayKey {
		sequence = state.Sequence + 1
	}
	if sequence > MaxSequence {
		return "", ErrSequenceExhausted
	}

	if err := g.store.Save(ctx, SequenceState{Date: todayKey, Sequence: sequence}); err != nil {
		return "", fmt.Errorf("save sequence state: %w", err)
	}

	return New(today, sequence)
}

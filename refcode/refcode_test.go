package refcode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatsSequence(t *testing.T) {
	date := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		sequence int
		want     string
		wantErr  bool
	}{
		{"first", 1, "CTX-2026-0305-001", false},
		{"three digits", 999, "CTX-2026-0305-999", false},
		{"widens to four digits", 1000, "CTX-2026-0305-1000", false},
		{"max", 9999, "CTX-2026-0305-9999", false},
		{"zero rejected", 0, "", true},
		{"negative rejected", -3, "", true},
		{"over max rejected", 10000, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(date, tt.sequence)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"CTX-2026-0305-001", "CTX-2026-0305-1000", "CTX-2024-1231-042"} {
		code, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, code.String())
		assert.True(t, code.Valid())
	}

	for _, s := range []string{"", "CTX-2026-0305-1", "ctx-2026-0305-001", "CTX-2026-0305-00001", "REF-2026-0305-001"} {
		_, err := Parse(s)
		assert.Error(t, err, "expected %q to be rejected", s)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGeneratorMonotonicWithinDay(t *testing.T) {
	day := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	gen := NewGenerator(NewMemorySequenceStore(), WithClock(fixedClock(day)))

	prev := ""
	for i := 1; i <= 25; i++ {
		code, err := gen.Generate(context.Background())
		require.NoError(t, err)
		assert.Greater(t, code.String(), prev)
		prev = code.String()
	}
	assert.Equal(t, "CTX-2026-0305-025", prev)
}

func TestGeneratorResetsOnRollover(t *testing.T) {
	store := NewMemorySequenceStore()
	day1 := time.Date(2026, 3, 5, 23, 59, 0, 0, time.UTC)
	gen := NewGenerator(store, WithClock(fixedClock(day1)))

	_, err := gen.Generate(context.Background())
	require.NoError(t, err)
	code, err := gen.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CTX-2026-0305-002", code.String())

	day2 := day1.Add(2 * time.Minute)
	gen = NewGenerator(store, WithClock(fixedClock(day2)))
	code, err = gen.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CTX-2026-0306-001", code.String())
}

func TestGeneratorWidensAt1000AndExhaustsAt9999(t *testing.T) {
	day := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	store := NewMemorySequenceStore()
	require.NoError(t, store.Save(context.Background(), SequenceState{Date: "2026-03-05", Sequence: 999}))

	gen := NewGenerator(store, WithClock(fixedClock(day)))
	code, err := gen.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CTX-2026-0305-1000", code.String())

	require.NoError(t, store.Save(context.Background(), SequenceState{Date: "2026-03-05", Sequence: 9999}))
	_, err = gen.Generate(context.Background())
	assert.ErrorIs(t, err, ErrSequenceExhausted)
}

func TestGeneratorUniqueUnderParallelCallers(t *testing.T) {
	day := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	gen := NewGenerator(NewMemorySequenceStore(), WithClock(fixedClock(day)))

	const callers = 50
	var wg sync.WaitGroup
	codes := make(chan ReferenceCode, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := gen.Generate(context.Background())
			if err == nil {
				codes <- code
			}
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[ReferenceCode]bool)
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Len(t, seen, callers)
}

func TestGeneratorCancelledBeforeAcquire(t *testing.T) {
	store := NewMemorySequenceStore()
	gen := NewGenerator(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gen.Generate(ctx)
	assert.Error(t, err)

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SequenceState{}, state, "cancelled generation must not mutate state")
}

func TestFileSequenceStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sequence.json")
	store := NewFileSequenceStore(path)
	ctx := context.Background()

	// Missing file reads as zero state.
	state, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SequenceState{}, state)

	// Save creates the parent directory.
	require.NoError(t, store.Save(ctx, SequenceState{Date: "2026-03-05", Sequence: 7}))
	state, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SequenceState{Date: "2026-03-05", Sequence: 7}, state)

	// On-disk shape is the documented JSON tuple.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2026-03-05", raw["date"])
	assert.Equal(t, float64(7), raw["sequence"])

	// Corrupt content self-heals to zero state.
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	state, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SequenceState{}, state)
}

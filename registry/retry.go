package registry

import (
	"sync"

	"github.com/dbhq-uk/cortex/refcode"
)

// RetryCounter tracks supervision retry counts per reference code.
type RetryCounter struct {
	mu     sync.Mutex
	counts map[refcode.ReferenceCode]int
}

// NewRetryCounter creates an empty retry counter.
func NewRetryCounter() *RetryCounter {
	return &RetryCounter{counts: make(map[refcode.ReferenceCode]int)}
}

// Increment bumps the counter and returns the new count.
func (r *RetryCounter) Increment(code refcode.ReferenceCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[code]++
	return r.counts[code]
}

// Get returns the current count, zero when never incremented.
func (r *RetryCounter) Get(code refcode.ReferenceCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[code]
}

// Reset clears the counter for the code.
func (r *RetryCounter) Reset(code refcode.ReferenceCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counts, code)
}

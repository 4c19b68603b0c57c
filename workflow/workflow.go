// Package workflow tracks parent tasks that were split into independent
// sub-tasks and correlates their replies for final assembly.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
)

// Status tracks a workflow's lifecycle: InProgress -> (Completed | Failed).
type Status string

const (
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Subtask describes one dispatched child of a workflow, in task order.
type Subtask struct {
	ReferenceCode refcode.ReferenceCode
	Capability    string
	Description   string
	AssignedTo    string
}

// Record is one live workflow: the original envelope plus its sub-tasks.
type Record struct {
	ReferenceCode    refcode.ReferenceCode
	OriginalEnvelope *message.Envelope
	Subtasks         []Subtask
	Summary          string
	Status           Status
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// SubtaskResult pairs a sub-task with its reply envelope.
type SubtaskResult struct {
	Subtask  Subtask
	Envelope *message.Envelope
}

type trackedRecord struct {
	mu        sync.Mutex
	record    Record
	results   map[refcode.ReferenceCode]*message.Envelope
	assembled bool
}

// Tracker is the in-memory workflow store. Sub-task lookup is constant
// time; the store-result/completeness decision is atomic per workflow so
// final assembly happens at most once.
type Tracker struct {
	mu      sync.RWMutex
	records map[refcode.ReferenceCode]*trackedRecord
	parents map[refcode.ReferenceCode]refcode.ReferenceCode // subtask -> parent
	now     func() time.Time
}

// NewTracker creates an empty workflow tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[refcode.ReferenceCode]*trackedRecord),
		parents: make(map[refcode.ReferenceCode]refcode.ReferenceCode),
		now:     time.Now,
	}
}

// Create atomically records the workflow and its sub-task index. The parent
// code must not appear as a sub-task, and each sub-task code may belong to
// only one live workflow.
func (t *Tracker) Create(record Record) error {
	if !record.ReferenceCode.Valid() {
		return fmt.Errorf("workflow requires a well-formed reference code, got %q", record.ReferenceCode)
	}
	if len(record.Subtasks) == 0 {
		return fmt.Errorf("workflow %s has no subtasks", record.ReferenceCode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[record.ReferenceCode]; exists {
		return fmt.Errorf("workflow %s already exists", record.ReferenceCode)
	}
	seen := make(map[refcode.ReferenceCode]bool, len(record.Subtasks))
	for _, st := range record.Subtasks {
		if st.ReferenceCode == record.ReferenceCode {
			return fmt.Errorf("workflow %s lists itself as a subtask", record.ReferenceCode)
		}
		if seen[st.ReferenceCode] {
			return fmt.Errorf("workflow %s repeats subtask %s", record.ReferenceCode, st.ReferenceCode)
		}
		if parent, taken := t.parents[st.ReferenceCode]; taken {
			return fmt.Errorf("subtask %s already belongs to workflow %s", st.ReferenceCode, parent)
		}
		seen[st.ReferenceCode] = true
	}

	if record.Status == "" {
		record.Status = StatusInProgress
	}
	record.CreatedAt = t.now().UTC()

	t.records[record.ReferenceCode] = &trackedRecord{
		record:  record,
		results: make(map[refcode.ReferenceCode]*message.Envelope, len(record.Subtasks)),
	}
	for _, st := range record.Subtasks {
		t.parents[st.ReferenceCode] = record.ReferenceCode
	}
	return nil
}

// Get returns the workflow record for the parent code.
func (t *Tracker) Get(parent refcode.ReferenceCode) (Record, bool) {
	t.mu.RLock()
	tr, ok := t.records[parent]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.record, true
}

// FindBySubtask returns the workflow owning the given sub-task code.
func (t *Tracker) FindBySubtask(code refcode.ReferenceCode) (Record, bool) {
	t.mu.RLock()
	parent, ok := t.parents[code]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return t.Get(parent)
}

// StoreSubtaskResult records a sub-task reply. The returned complete flag
// is true for exactly one caller: the one that stored the final missing
// result. Two concurrent final replies never both see complete.
func (t *Tracker) StoreSubtaskResult(code refcode.ReferenceCode, env *message.Envelope) (refcode.ReferenceCode, bool, error) {
	t.mu.RLock()
	parent, ok := t.parents[code]
	var tr *trackedRecord
	if ok {
		tr = t.records[parent]
	}
	t.mu.RUnlock()
	if !ok {
		return "", false, fmt.Errorf("subtask %s belongs to no workflow", code)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.results[code] = env
	if tr.assembled || len(tr.results) != len(tr.record.Subtasks) {
		return parent, false, nil
	}
	tr.assembled = true
	return parent, true, nil
}

// AllSubtasksComplete reports whether every sub-task has a stored result.
func (t *Tracker) AllSubtasksComplete(parent refcode.ReferenceCode) bool {
	t.mu.RLock()
	tr, ok := t.records[parent]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.results) == len(tr.record.Subtasks)
}

// CompletedResults returns a snapshot of stored results ordered to match
// the workflow's sub-task order. Sub-tasks without a result are skipped.
func (t *Tracker) CompletedResults(parent refcode.ReferenceCode) ([]SubtaskResult, error) {
	t.mu.RLock()
	tr, ok := t.records[parent]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %s: not found", parent)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]SubtaskResult, 0, len(tr.results))
	for _, st := range tr.record.Subtasks {
		if env, ok := tr.results[st.ReferenceCode]; ok {
			out = append(out, SubtaskResult{Subtask: st, Envelope: env})
		}
	}
	return out, nil
}

// UpdateStatus moves the workflow forward. Only InProgress workflows can
// transition, and only to Completed or Failed.
func (t *Tracker) UpdateStatus(parent refcode.ReferenceCode, status Status) error {
	t.mu.RLock()
	tr, ok := t.records[parent]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %s: not found", parent)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.record.Status != StatusInProgress {
		return fmt.Errorf("workflow %s is %s, cannot move to %s", parent, tr.record.Status, status)
	}
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("workflow %s: illegal target status %s", parent, status)
	}
	tr.record.Status = status
	completed := t.now().UTC()
	tr.record.CompletedAt = &completed
	return nil
}

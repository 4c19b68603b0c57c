package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
)

// DelegationStatus tracks a hand-off through its lifecycle. Transitions
// only move forward: Pending -> InProgress -> (Completed | Failed |
// Escalated).
type DelegationStatus string

const (
	DelegationPending    DelegationStatus = "pending"
	DelegationInProgress DelegationStatus = "inProgress"
	DelegationCompleted  DelegationStatus = "completed"
	DelegationFailed     DelegationStatus = "failed"
	DelegationEscalated  DelegationStatus = "escalated"
)

// Terminal reports whether the status admits no further transitions.
func (s DelegationStatus) Terminal() bool {
	switch s {
	case DelegationCompleted, DelegationFailed, DelegationEscalated:
		return true
	}
	return false
}

// canTransition encodes the legal state machine.
func canTransition(from, to DelegationStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case DelegationPending:
		return to == DelegationInProgress || to.Terminal()
	case DelegationInProgress:
		return to.Terminal()
	}
	return false
}

// Delegation records one hand-off of work from one agent to another. The
// dispatched envelope and capability are retained so supervision can
// re-dispatch without reconstructing them.
type Delegation struct {
	ReferenceCode refcode.ReferenceCode
	DelegatedBy   string
	DelegatedTo   string
	Capability    string
	Description   string
	DueAt         *time.Time
	Status        DelegationStatus
	Envelope      *message.Envelope
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DelegationRegistry is the in-memory delegation store keyed by reference
// code. Status updates are compare-and-set under the registry lock so no
// observer ever sees a backward transition.
type DelegationRegistry struct {
	mu          sync.RWMutex
	delegations map[refcode.ReferenceCode]*Delegation
	now         func() time.Time
}

// NewDelegationRegistry creates an empty delegation registry.
func NewDelegationRegistry() *DelegationRegistry {
	return &DelegationRegistry{
		delegations: make(map[refcode.ReferenceCode]*Delegation),
		now:         time.Now,
	}
}

// Delegate records a new delegation. Status defaults to Pending.
func (r *DelegationRegistry) Delegate(d Delegation) error {
	if !d.ReferenceCode.Valid() {
		return fmt.Errorf("delegation requires a well-formed reference code, got %q", d.ReferenceCode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.delegations[d.ReferenceCode]; exists {
		return fmt.Errorf("delegation %s already exists", d.ReferenceCode)
	}
	if d.Status == "" {
		d.Status = DelegationPending
	}
	now := r.now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	r.delegations[d.ReferenceCode] = &d
	return nil
}

// Get returns the delegation for the reference code.
func (r *DelegationRegistry) Get(code refcode.ReferenceCode) (Delegation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.delegations[code]
	if !ok {
		return Delegation{}, false
	}
	return *d, true
}

// UpdateStatus moves the delegation forward through its state machine.
func (r *DelegationRegistry) UpdateStatus(code refcode.ReferenceCode, status DelegationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.delegations[code]
	if !ok {
		return fmt.Errorf("delegation %s: %w", code, ErrNotFound)
	}
	if !canTransition(d.Status, status) {
		return fmt.Errorf("delegation %s: %s -> %s: %w", code, d.Status, status, ErrInvalidTransition)
	}
	d.Status = status
	d.UpdatedAt = r.now().UTC()
	return nil
}

// Reassign moves a pending or in-progress delegation to a different agent.
func (r *DelegationRegistry) Reassign(code refcode.ReferenceCode, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.delegations[code]
	if !ok {
		return fmt.Errorf("delegation %s: %w", code, ErrNotFound)
	}
	if d.Status.Terminal() {
		return fmt.Errorf("delegation %s is %s: %w", code, d.Status, ErrInvalidTransition)
	}
	d.DelegatedTo = agentID
	d.UpdatedAt = r.now().UTC()
	return nil
}

// FindByAssignee returns all delegations handed to the agent.
func (r *DelegationRegistry) FindByAssignee(agentID string) []Delegation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Delegation
	for _, d := range r.delegations {
		if d.DelegatedTo == agentID {
			out = append(out, *d)
		}
	}
	return out
}

// FindOverdue returns delegations whose DueAt has passed and whose status
// is still Pending or InProgress.
func (r *DelegationRegistry) FindOverdue(now time.Time) []Delegation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Delegation
	for _, d := range r.delegations {
		if d.DueAt == nil || d.Status.Terminal() {
			continue
		}
		if d.DueAt.Before(now) {
			out = append(out, *d)
		}
	}
	return out
}

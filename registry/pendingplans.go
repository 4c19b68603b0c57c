package registry

import (
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/skill"
)

// PendingPlan is a decomposition paused for human approval.
type PendingPlan struct {
	PendingReferenceCode refcode.ReferenceCode
	OriginalEnvelope     *message.Envelope
	Decomposition        skill.DecompositionResult
	ProposalMessageID    string
	StoredAt             time.Time
}

// PendingPlanRegistry stores plans awaiting approval, keyed by pending
// reference code. Remove is idempotent so resume races are harmless.
type PendingPlanRegistry struct {
	mu    sync.RWMutex
	plans map[refcode.ReferenceCode]PendingPlan
	now   func() time.Time
}

// NewPendingPlanRegistry creates an empty pending plan registry.
func NewPendingPlanRegistry() *PendingPlanRegistry {
	return &PendingPlanRegistry{
		plans: make(map[refcode.ReferenceCode]PendingPlan),
		now:   time.Now,
	}
}

// Store records a pending plan.
func (r *PendingPlanRegistry) Store(plan PendingPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if plan.StoredAt.IsZero() {
		plan.StoredAt = r.now().UTC()
	}
	r.plans[plan.PendingReferenceCode] = plan
}

// Get returns the pending plan for the code.
func (r *PendingPlanRegistry) Get(code refcode.ReferenceCode) (PendingPlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plan, ok := r.plans[code]
	return plan, ok
}

// FindByProposal returns the pending code whose proposal message carries
// the given message ID.
func (r *PendingPlanRegistry) FindByProposal(messageID string) (refcode.ReferenceCode, bool) {
	if messageID == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for code, plan := range r.plans {
		if plan.ProposalMessageID == messageID {
			return code, true
		}
	}
	return "", false
}

// Remove deletes the pending plan. Removing an absent plan is a no-op.
func (r *PendingPlanRegistry) Remove(code refcode.ReferenceCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plans, code)
}

// Take atomically retrieves and removes the plan, so only one caller can
// resume it.
func (r *PendingPlanRegistry) Take(code refcode.ReferenceCode) (PendingPlan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[code]
	if ok {
		delete(r.plans, code)
	}
	return plan, ok
}

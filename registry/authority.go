package registry

import (
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/message"
)

// AuthorityRegistry stores authority grants keyed by (agent, action).
// Reads take the shared lock only briefly; writes are serialized.
type AuthorityRegistry struct {
	mu     sync.RWMutex
	grants map[string]map[string]message.AuthorityClaim // agentID -> action -> claim
	now    func() time.Time
}

// NewAuthorityRegistry creates an empty authority registry.
func NewAuthorityRegistry() *AuthorityRegistry {
	return &AuthorityRegistry{
		grants: make(map[string]map[string]message.AuthorityClaim),
		now:    time.Now,
	}
}

// Grant stores the claim under every action it permits, replacing prior
// grants for the same (agent, action) pair.
func (r *AuthorityRegistry) Grant(claim message.AuthorityClaim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions, ok := r.grants[claim.GrantedTo]
	if !ok {
		actions = make(map[string]message.AuthorityClaim)
		r.grants[claim.GrantedTo] = actions
	}
	for _, action := range claim.PermittedActions {
		actions[action] = claim
	}
}

// Revoke removes the grant for one (agent, action) pair.
func (r *AuthorityRegistry) Revoke(agentID, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actions, ok := r.grants[agentID]; ok {
		delete(actions, action)
	}
}

// Claim returns the stored grant for the (agent, action) pair.
func (r *AuthorityRegistry) Claim(agentID, action string) (message.AuthorityClaim, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions, ok := r.grants[agentID]
	if !ok {
		return message.AuthorityClaim{}, false
	}
	claim, ok := actions[action]
	return claim, ok
}

// HasAuthority reports whether a non-expired grant exists for the agent
// covering the action at or above minTier.
func (r *AuthorityRegistry) HasAuthority(agentID, action string, minTier message.AuthorityTier) bool {
	claim, ok := r.Claim(agentID, action)
	if !ok {
		return false
	}
	if claim.Expired(r.now()) {
		return false
	}
	return claim.Tier >= minTier
}

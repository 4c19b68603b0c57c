package registry

import (
	"slices"
	"sync"
)

// AgentInfo is the registered descriptor of an agent: a stable identity,
// an ordered capability list, and a mutable availability flag.
type AgentInfo struct {
	ID           string
	Name         string
	Capabilities []string
	Available    bool
}

// HasCapability reports whether the agent declares the capability.
func (a AgentInfo) HasCapability(capability string) bool {
	return slices.Contains(a.Capabilities, capability)
}

// AgentRegistry is the in-memory agent store. Capability resolution walks
// agents in registration order so "first available" is deterministic.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentInfo
	order  []string
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*AgentInfo)}
}

// Register adds or replaces an agent descriptor.
func (r *AgentRegistry) Register(info AgentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[info.ID]; !exists {
		r.order = append(r.order, info.ID)
	}
	copied := info
	copied.Capabilities = slices.Clone(info.Capabilities)
	r.agents[info.ID] = &copied
}

// Unregister removes an agent.
func (r *AgentRegistry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agentID]; !exists {
		return
	}
	delete(r.agents, agentID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == agentID })
}

// FindByID returns the agent descriptor.
func (r *AgentRegistry) FindByID(agentID string) (AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[agentID]
	if !ok {
		return AgentInfo{}, false
	}
	return *info, true
}

// FindByCapability returns the first available agent declaring the
// capability, in registration order.
func (r *AgentRegistry) FindByCapability(capability string) (AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		info := r.agents[id]
		if info.Available && info.HasCapability(capability) {
			return *info, true
		}
	}
	return AgentInfo{}, false
}

// FindAllByCapability returns every available agent declaring the
// capability, in registration order.
func (r *AgentRegistry) FindAllByCapability(capability string) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AgentInfo
	for _, id := range r.order {
		info := r.agents[id]
		if info.Available && info.HasCapability(capability) {
			out = append(out, *info)
		}
	}
	return out
}

// HasCapability reports whether any registered agent declares the
// capability, available or not.
func (r *AgentRegistry) HasCapability(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, info := range r.agents {
		if info.HasCapability(capability) {
			return true
		}
	}
	return false
}

// SetAvailable flips an agent's availability flag.
func (r *AgentRegistry) SetAvailable(agentID string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.agents[agentID]; ok {
		info.Available = available
	}
}

// Capabilities returns the union of capabilities across all registered
// agents, in first-seen order.
func (r *AgentRegistry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range r.order {
		for _, capability := range r.agents[id].Capabilities {
			if !seen[capability] {
				seen[capability] = true
				out = append(out, capability)
			}
		}
	}
	return out
}

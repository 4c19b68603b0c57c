package registry

import (
	"sync"

	"github.com/dbhq-uk/cortex/skill"
)

// SkillRegistry is the in-memory skill store. It satisfies skill.Source.
type SkillRegistry struct {
	mu     sync.RWMutex
	skills map[string]skill.Skill
}

// NewSkillRegistry creates an empty skill registry.
func NewSkillRegistry() *SkillRegistry {
	return &SkillRegistry{skills: make(map[string]skill.Skill)}
}

// Register adds or replaces a skill definition.
func (r *SkillRegistry) Register(s skill.Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.ID] = s
}

// Get returns the skill with the given ID.
func (r *SkillRegistry) Get(id string) (skill.Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

// ListByCategory returns all skills in the given category.
func (r *SkillRegistry) ListByCategory(category string) []skill.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []skill.Skill
	for _, s := range r.skills {
		if s.Category == category {
			out = append(out, s)
		}
	}
	return out
}

// Package agent binds autonomous workers to their inbox queues: the Agent
// contract, the per-agent Harness, and the Runtime that owns harnesses and
// team membership.
package agent

import (
	"context"

	"github.com/dbhq-uk/cortex/message"
)

// Agent is an autonomous worker with a stable identity and a declared
// capability set. Process handles one inbound envelope and optionally
// returns a reply for the harness to route.
type Agent interface {
	ID() string
	Capabilities() []string
	Process(ctx context.Context, env *message.Envelope) (*message.Envelope, error)
}

// Persona is the descriptor configuring a skill-driven agent.
type Persona struct {
	AgentID          string   `yaml:"agent_id" json:"agentId"`
	Name             string   `yaml:"name" json:"name"`
	Capabilities     []string `yaml:"capabilities" json:"capabilities"`
	Pipeline         []string `yaml:"pipeline" json:"pipeline"`
	EscalationTarget string   `yaml:"escalation_target" json:"escalationTarget"`
	ModelTier        string   `yaml:"model_tier,omitempty" json:"modelTier,omitempty"`
}

// AuthorityProvider checks envelope claims against stored grants. The
// registry package provides the canonical implementation; a nil provider
// skips the stored-grant check.
type AuthorityProvider interface {
	HasAuthority(agentID, action string, minTier message.AuthorityTier) bool
}

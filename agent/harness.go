package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/registry"
)

// HarnessConfig wires one agent to the bus.
type HarnessConfig struct {
	Agent     Agent
	Bus       bus.Bus
	Agents    *registry.AgentRegistry
	Authority AuthorityProvider // optional: stored-grant validation

	// TeamID and TeamCeiling bound outbound authority when the agent
	// belongs to a team carrying a ceiling claim.
	TeamID      string
	TeamCeiling *message.AuthorityTier

	Logger *slog.Logger
	Clock  func() time.Time
}

// Harness binds one agent to its inbox queue, validates authority on every
// delivery, and routes replies. Stopping a harness disposes only its own
// consumer.
type Harness struct {
	agent       Agent
	bus         bus.Bus
	agents      *registry.AgentRegistry
	authority   AuthorityProvider
	teamID      string
	teamCeiling *message.AuthorityTier
	logger      *slog.Logger
	now         func() time.Time

	handle bus.ConsumerHandle
}

// NewHarness creates a harness from the config.
func NewHarness(cfg HarnessConfig) (*Harness, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("harness requires an agent")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("harness requires a bus")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("harness requires an agent registry")
	}
	h := &Harness{
		agent:       cfg.Agent,
		bus:         cfg.Bus,
		agents:      cfg.Agents,
		authority:   cfg.Authority,
		teamID:      cfg.TeamID,
		teamCeiling: cfg.TeamCeiling,
		logger:      cfg.Logger,
		now:         cfg.Clock,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// Queue returns the agent's inbox queue name.
func (h *Harness) Queue() string { return bus.AgentQueue(h.agent.ID()) }

// Start registers the agent as available and begins consuming its queue.
func (h *Harness) Start(ctx context.Context) error {
	if h.handle != nil {
		return fmt.Errorf("harness for %s already started", h.agent.ID())
	}
	h.agents.Register(registry.AgentInfo{
		ID:           h.agent.ID(),
		Capabilities: h.agent.Capabilities(),
		Available:    true,
	})

	handle, err := h.bus.StartConsuming(ctx, h.Queue(), h.dispatch)
	if err != nil {
		h.agents.SetAvailable(h.agent.ID(), false)
		return fmt.Errorf("start consuming %s: %w", h.Queue(), err)
	}
	h.handle = handle

	h.logger.Info("agent harness started",
		"agent_id", h.agent.ID(),
		"queue", h.Queue(),
		"team_id", h.teamID)
	return nil
}

// Stop disposes this harness's consumer only and marks the agent
// unavailable. The in-flight handler, if any, finishes first.
func (h *Harness) Stop(ctx context.Context) error {
	if h.handle == nil {
		return nil
	}
	if err := h.handle.Stop(ctx); err != nil {
		return fmt.Errorf("stop consumer %s: %w", h.Queue(), err)
	}
	h.handle = nil
	h.agents.SetAvailable(h.agent.ID(), false)
	h.logger.Info("agent harness stopped", "agent_id", h.agent.ID())
	return nil
}

// dispatch handles one delivered envelope.
func (h *Harness) dispatch(ctx context.Context, env *message.Envelope) error {
	if err := h.validateClaims(env); err != nil {
		h.logger.Warn("envelope rejected by authority validation",
			"agent_id", h.agent.ID(),
			"reference_code", env.ReferenceCode,
			"error", err)
		h.rejectWithError(ctx, env, err)
		return nil
	}

	reply, err := h.agent.Process(ctx, env)
	if err != nil {
		// Handler failure: the bus nacks to the dead-letter sink.
		return fmt.Errorf("agent %s: %w", h.agent.ID(), err)
	}
	if reply == nil {
		return nil
	}
	if env.Context.ReplyTo == "" {
		h.logger.Info("reply dropped, inbound envelope has no reply queue",
			"agent_id", h.agent.ID(),
			"reference_code", env.ReferenceCode)
		return nil
	}

	reply.Context.FromAgentID = h.agent.ID()
	reply.Context.ParentMessageID = env.Message.MessageID()
	reply.ReferenceCode = env.ReferenceCode
	if h.teamCeiling != nil {
		reply.AuthorityClaims = message.Narrow(reply.AuthorityClaims, *h.teamCeiling)
	}

	if err := h.bus.Publish(ctx, reply, env.Context.ReplyTo); err != nil {
		return fmt.Errorf("publish reply for %s: %w", env.ReferenceCode, err)
	}
	return nil
}

// validateClaims rejects envelopes whose claims are expired, granted to a
// different agent, or unsupported by a stored grant.
func (h *Harness) validateClaims(env *message.Envelope) error {
	now := h.now()
	for _, claim := range env.AuthorityClaims {
		if claim.Expired(now) {
			return fmt.Errorf("claim from %s expired at %s", claim.GrantedBy, claim.ExpiresAt)
		}
		if claim.GrantedTo != h.agent.ID() {
			return fmt.Errorf("claim granted to %q, not %q", claim.GrantedTo, h.agent.ID())
		}
		if h.authority != nil {
			for _, action := range claim.PermittedActions {
				if !h.authority.HasAuthority(claim.GrantedTo, action, claim.Tier) {
					return fmt.Errorf("no stored grant covers %q at tier %s", action, claim.Tier)
				}
			}
		}
	}
	return nil
}

// rejectWithError replies with an error response when a reply queue exists.
func (h *Harness) rejectWithError(ctx context.Context, env *message.Envelope, cause error) {
	if env.Context.ReplyTo == "" {
		return
	}
	reply := &message.Envelope{
		Message: &message.TaskResponse{
			Base:    message.NewBase(),
			Success: false,
			Error:   fmt.Sprintf("authority violation: %v", cause),
		},
		ReferenceCode: env.ReferenceCode,
		Context: message.Context{
			FromAgentID:     h.agent.ID(),
			ParentMessageID: env.Message.MessageID(),
		},
		Priority: env.Priority,
	}
	if err := h.bus.Publish(ctx, reply, env.Context.ReplyTo); err != nil {
		h.logger.Error("publish rejection reply",
			"agent_id", h.agent.ID(),
			"reference_code", env.ReferenceCode,
			"error", err)
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/registry"
)

// Runtime owns agent harnesses and team membership. Agents started later
// by other agents use the same entry points as boot-time agents.
type Runtime struct {
	bus       bus.Bus
	agents    *registry.AgentRegistry
	authority AuthorityProvider
	logger    *slog.Logger

	mu           sync.Mutex
	harnesses    map[string]*Harness
	teams        map[string]map[string]bool
	teamCeilings map[string]message.AuthorityTier
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithAuthority sets the stored-grant provider passed to every harness.
func WithAuthority(provider AuthorityProvider) RuntimeOption {
	return func(r *Runtime) { r.authority = provider }
}

// WithRuntimeLogger sets the runtime logger.
func WithRuntimeLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// NewRuntime creates a runtime over the given bus and agent registry.
func NewRuntime(b bus.Bus, agents *registry.AgentRegistry, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		bus:          b,
		agents:       agents,
		harnesses:    make(map[string]*Harness),
		teams:        make(map[string]map[string]bool),
		teamCeilings: make(map[string]message.AuthorityTier),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// StartOption configures one StartAgent call.
type StartOption func(*startOptions)

type startOptions struct {
	teamID string
}

// WithTeam records the agent as a member of the team.
func WithTeam(teamID string) StartOption {
	return func(o *startOptions) { o.teamID = teamID }
}

// SetTeamCeiling caps the authority tier of every outbound claim published
// by members of the team.
func (r *Runtime) SetTeamCeiling(teamID string, ceiling message.AuthorityTier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teamCeilings[teamID] = ceiling
}

// StartAgent constructs and starts a harness for the agent.
func (r *Runtime) StartAgent(ctx context.Context, a Agent, opts ...StartOption) error {
	var options startOptions
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	if _, running := r.harnesses[a.ID()]; running {
		r.mu.Unlock()
		return fmt.Errorf("agent %s already running", a.ID())
	}
	cfg := HarnessConfig{
		Agent:     a,
		Bus:       r.bus,
		Agents:    r.agents,
		Authority: r.authority,
		TeamID:    options.teamID,
		Logger:    r.logger,
	}
	if options.teamID != "" {
		if ceiling, ok := r.teamCeilings[options.teamID]; ok {
			c := ceiling
			cfg.TeamCeiling = &c
		}
	}
	r.mu.Unlock()

	h, err := NewHarness(cfg)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.harnesses[a.ID()] = h
	if options.teamID != "" {
		members, ok := r.teams[options.teamID]
		if !ok {
			members = make(map[string]bool)
			r.teams[options.teamID] = members
		}
		members[a.ID()] = true
	}
	r.mu.Unlock()
	return nil
}

// StopAgent disposes the agent's harness and removes team membership.
func (r *Runtime) StopAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	h, ok := r.harnesses[agentID]
	if ok {
		delete(r.harnesses, agentID)
		for _, members := range r.teams {
			delete(members, agentID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s not running", agentID)
	}
	return h.Stop(ctx)
}

// StopTeam stops every member of the team independently: one member's
// failure does not keep the rest running.
func (r *Runtime) StopTeam(ctx context.Context, teamID string) error {
	var errs []error
	for _, agentID := range r.TeamAgentIDs(teamID) {
		if err := r.StopAgent(ctx, agentID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunningAgentIDs returns the IDs of all running agents, sorted.
func (r *Runtime) RunningAgentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.harnesses))
	for id := range r.harnesses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TeamAgentIDs returns the members of the team, sorted.
func (r *Runtime) TeamAgentIDs(teamID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.teams[teamID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRunning reports whether the agent currently has a live harness.
func (r *Runtime) IsRunning(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.harnesses[agentID]
	return ok
}

// Stop stops every running agent and drains their handlers.
func (r *Runtime) Stop(ctx context.Context) error {
	var errs []error
	for _, agentID := range r.RunningAgentIDs() {
		if err := r.StopAgent(ctx, agentID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

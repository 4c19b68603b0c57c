// Package cos implements the chief-of-staff coordinator: a skill-driven
// agent that triages inbound goals, delegates to specialists, gates
// low-authority plans on human approval, and assembles fan-out results.
package cos

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dbhq-uk/cortex/agent"
	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/contextstore"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/registry"
	"github.com/dbhq-uk/cortex/skill"
	"github.com/dbhq-uk/cortex/workflow"
)

const (
	// DefaultConfidenceThreshold is the minimum decomposition confidence
	// before the coordinator escalates instead of dispatching.
	DefaultConfidenceThreshold = 0.7
	// DefaultMaxRetries bounds supervision re-dispatches per delegation.
	DefaultMaxRetries = 3
)

// Config wires a coordinator to its collaborators. Bus, Agents, Runner,
// Delegations, Workflows, PendingPlans, Retries, and Codes are required;
// Context is optional.
type Config struct {
	Persona agent.Persona

	ConfidenceThreshold float64
	MaxRetries          int

	Bus          bus.Bus
	Agents       *registry.AgentRegistry
	Runner       *skill.Runner
	Delegations  *registry.DelegationRegistry
	Workflows    *workflow.Tracker
	PendingPlans *registry.PendingPlanRegistry
	Retries      *registry.RetryCounter
	Codes        *refcode.Generator
	Context      contextstore.Store

	Logger *slog.Logger
	Clock  func() time.Time
}

// Validate checks that every required collaborator is present.
func (c Config) Validate() error {
	if c.Persona.AgentID == "" {
		return fmt.Errorf("coordinator requires a persona with an agent id")
	}
	if c.Bus == nil {
		return fmt.Errorf("coordinator requires a bus")
	}
	if c.Agents == nil {
		return fmt.Errorf("coordinator requires an agent registry")
	}
	if c.Runner == nil {
		return fmt.Errorf("coordinator requires a skill runner")
	}
	if c.Delegations == nil {
		return fmt.Errorf("coordinator requires a delegation registry")
	}
	if c.Workflows == nil {
		return fmt.Errorf("coordinator requires a workflow tracker")
	}
	if c.PendingPlans == nil {
		return fmt.Errorf("coordinator requires a pending plan registry")
	}
	if c.Retries == nil {
		return fmt.Errorf("coordinator requires a retry counter")
	}
	if c.Codes == nil {
		return fmt.Errorf("coordinator requires a reference code generator")
	}
	return nil
}

// SkillDrivenAgent is the coordinator. It satisfies agent.Agent so the
// standard harness binds it to its inbox queue like any other agent.
type SkillDrivenAgent struct {
	persona             agent.Persona
	confidenceThreshold float64
	maxRetries          int

	bus          bus.Bus
	agents       *registry.AgentRegistry
	runner       *skill.Runner
	delegations  *registry.DelegationRegistry
	workflows    *workflow.Tracker
	pendingPlans *registry.PendingPlanRegistry
	retries      *registry.RetryCounter
	codes        *refcode.Generator
	store        contextstore.Store

	logger *slog.Logger
	now    func() time.Time
}

// New creates a coordinator from the config.
func New(cfg Config) (*SkillDrivenAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &SkillDrivenAgent{
		persona:             cfg.Persona,
		confidenceThreshold: cfg.ConfidenceThreshold,
		maxRetries:          cfg.MaxRetries,
		bus:                 cfg.Bus,
		agents:              cfg.Agents,
		runner:              cfg.Runner,
		delegations:         cfg.Delegations,
		workflows:           cfg.Workflows,
		pendingPlans:        cfg.PendingPlans,
		retries:             cfg.Retries,
		codes:               cfg.Codes,
		store:               cfg.Context,
		logger:              cfg.Logger,
		now:                 cfg.Clock,
	}
	if a.confidenceThreshold == 0 {
		a.confidenceThreshold = DefaultConfidenceThreshold
	}
	if a.maxRetries == 0 {
		a.maxRetries = DefaultMaxRetries
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// ID returns the coordinator's agent identity.
func (a *SkillDrivenAgent) ID() string { return a.persona.AgentID }

// Capabilities returns the persona's declared capabilities.
func (a *SkillDrivenAgent) Capabilities() []string { return a.persona.Capabilities }

// Queue returns the coordinator's inbox queue.
func (a *SkillDrivenAgent) Queue() string { return bus.AgentQueue(a.persona.AgentID) }

// Process routes one inbound envelope. Alerts and approvals are handled
// before reply correlation; anything uncorrelated is treated as a new goal.
func (a *SkillDrivenAgent) Process(ctx context.Context, env *message.Envelope) (*message.Envelope, error) {
	switch msg := env.Message.(type) {
	case *message.SupervisionAlert:
		return nil, a.handleSupervisionAlert(ctx, env, msg)
	case *message.EscalationAlert:
		return nil, a.forwardEscalation(ctx, env, msg)
	case *message.PlanApprovalResponse:
		return nil, a.handleApproval(ctx, env, msg)
	case *message.TaskResponse:
		if _, ok := a.workflows.FindBySubtask(env.ReferenceCode); ok {
			return nil, a.handleSubtaskReply(ctx, env, msg)
		}
		a.logger.Info("uncorrelated task response dropped",
			"agent_id", a.ID(),
			"reference_code", env.ReferenceCode)
		return nil, nil
	case *message.TaskRequest:
		return nil, a.handleRequest(ctx, env, msg)
	default:
		a.logger.Warn("unsupported message type dropped",
			"agent_id", a.ID(),
			"message_type", env.Message.Type(),
			"reference_code", env.ReferenceCode)
		return nil, nil
	}
}

// delegatedClaims builds the authority claims forwarded with a delegated
// task: granted by the coordinator to the specialist, capped first by the
// highest valid inbound tier and then by the task's requested tier.
func (a *SkillDrivenAgent) delegatedClaims(env *message.Envelope, task message.ProposedTask, specialistID string) []message.AuthorityClaim {
	now := a.now()
	tier, ok := env.MaxInboundTier(now)
	if !ok {
		return nil
	}
	if task.RequestedTier != nil && *task.RequestedTier < tier {
		tier = *task.RequestedTier
	}
	return []message.AuthorityClaim{{
		GrantedBy:        a.ID(),
		GrantedTo:        specialistID,
		Tier:             tier,
		PermittedActions: []string{task.Capability},
		GrantedAt:        now.UTC(),
	}}
}

// escalate reports an unhandleable goal to the persona's escalation target
// instead of guessing. The hand-off is recorded as a delegation so the goal
// stays traceable under its reference code.
func (a *SkillDrivenAgent) escalate(ctx context.Context, env *message.Envelope, reason, description string) error {
	if a.persona.EscalationTarget == "" {
		return fmt.Errorf("cannot escalate %s: persona has no escalation target (%s)", env.ReferenceCode, reason)
	}
	a.recordEscalation(ctx, env, reason, description)
	alert, err := message.NewEnvelope(&message.EscalationAlert{
		Base:                message.NewBase(),
		RefCode:             string(env.ReferenceCode),
		Reason:              reason,
		OriginalDescription: description,
	}, env.ReferenceCode)
	if err != nil {
		return err
	}
	alert.Context.FromAgentID = a.ID()
	alert.Context.ReplyTo = a.Queue()
	alert.Priority = message.PriorityHigh

	a.logger.Warn("goal escalated",
		"agent_id", a.ID(),
		"reference_code", env.ReferenceCode,
		"reason", reason)
	if err := a.bus.Publish(ctx, alert, bus.AgentQueue(a.persona.EscalationTarget)); err != nil {
		return fmt.Errorf("publish escalation for %s: %w", env.ReferenceCode, err)
	}
	return nil
}

// recordEscalation leaves the paper trail for an escalated goal: a
// delegation to the escalation target carrying the reason, and a lesson in
// the context store. A goal that was already delegated keeps its existing
// record.
func (a *SkillDrivenAgent) recordEscalation(ctx context.Context, env *message.Envelope, reason, description string) {
	if err := a.delegations.Delegate(registry.Delegation{
		ReferenceCode: env.ReferenceCode,
		DelegatedBy:   a.ID(),
		DelegatedTo:   a.persona.EscalationTarget,
		Description:   reason,
		Status:        registry.DelegationEscalated,
		Envelope:      env,
	}); err != nil {
		a.logger.Debug("escalated goal already has a delegation",
			"agent_id", a.ID(),
			"reference_code", env.ReferenceCode,
			"error", err)
	}

	if a.store == nil {
		return
	}
	entry := contextstore.Entry{
		EntryID: fmt.Sprintf("escalation-%s", strings.ToLower(string(env.ReferenceCode))),
		Content: fmt.Sprintf("Goal escalated to %s: %s (goal: %s)",
			a.persona.EscalationTarget, reason, description),
		Category:      contextstore.CategoryLesson,
		ReferenceCode: string(env.ReferenceCode),
		CreatedAt:     a.now().UTC(),
	}
	if err := a.store.Store(ctx, entry); err != nil {
		a.logger.Warn("context store write failed",
			"agent_id", a.ID(),
			"reference_code", env.ReferenceCode,
			"error", err)
	}
}

// forwardEscalation relays an escalation alert to the persona's target.
func (a *SkillDrivenAgent) forwardEscalation(ctx context.Context, env *message.Envelope, _ *message.EscalationAlert) error {
	if a.persona.EscalationTarget == "" {
		a.logger.Warn("escalation alert dropped, no escalation target",
			"agent_id", a.ID(),
			"reference_code", env.ReferenceCode)
		return nil
	}
	forward := *env
	forward.Context.FromAgentID = a.ID()
	if err := a.bus.Publish(ctx, &forward, bus.AgentQueue(a.persona.EscalationTarget)); err != nil {
		return fmt.Errorf("forward escalation %s: %w", env.ReferenceCode, err)
	}
	return nil
}

package cos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/contextstore"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/registry"
	"github.com/dbhq-uk/cortex/skill"
	"github.com/dbhq-uk/cortex/workflow"
)

// handleRequest triages a new goal: run the persona's pipeline to decompose
// it, then dispatch directly (single task), fan out (multiple tasks), or
// pause on approval when the requester only holds ask-me-first authority.
func (a *SkillDrivenAgent) handleRequest(ctx context.Context, env *message.Envelope, req *message.TaskRequest) error {
	if len(a.persona.Pipeline) == 0 {
		return a.escalate(ctx, env, "persona has no triage pipeline", req.Content)
	}

	result, err := a.runner.Run(ctx, a.persona.Pipeline, a.triageParams(ctx, env, req))
	if err != nil {
		a.logger.Error("triage pipeline failed",
			"agent_id", a.ID(),
			"reference_code", env.ReferenceCode,
			"error", err)
		return a.escalate(ctx, env, fmt.Sprintf("triage pipeline failed: %v", err), req.Content)
	}

	dec, ok := asDecomposition(result)
	if !ok {
		return a.escalate(ctx, env, "triage pipeline produced no decomposition", req.Content)
	}
	if dec.Confidence < a.confidenceThreshold {
		return a.escalate(ctx, env,
			fmt.Sprintf("decomposition confidence %.2f below threshold %.2f", dec.Confidence, a.confidenceThreshold),
			req.Content)
	}
	if len(dec.Tasks) == 0 {
		return a.escalate(ctx, env, "decomposition produced no tasks", req.Content)
	}
	// Every capability must resolve before any path branches, so a plan
	// with an unknown capability is never proposed for approval.
	for _, task := range dec.Tasks {
		if _, ok := a.agents.FindByCapability(task.Capability); !ok {
			return a.escalate(ctx, env,
				fmt.Sprintf("no available agent for capability %q", task.Capability), req.Content)
		}
	}

	if len(dec.Tasks) == 1 {
		return a.dispatchDirect(ctx, env, req, dec.Tasks[0])
	}

	if tier, ok := env.MaxInboundTier(a.now()); ok && tier == message.TierAskMeFirst {
		return a.proposePlan(ctx, env, req, dec)
	}
	return a.dispatchPlan(ctx, env, req.Content, dec)
}

// triageParams seeds the shared pipeline parameters.
func (a *SkillDrivenAgent) triageParams(ctx context.Context, env *message.Envelope, req *message.TaskRequest) skill.Parameters {
	params := skill.Parameters{
		skill.ParamMessageContent:        req.Content,
		skill.ParamAvailableCapabilities: a.agents.Capabilities(),
	}
	if tier, ok := env.MaxInboundTier(a.now()); ok {
		params[skill.ParamMaxInboundTier] = tier.String()
	}
	if bc := a.businessContext(ctx, req.Content); bc != "" {
		params[skill.ParamBusinessContext] = bc
	}
	return params
}

// businessContext queries the context store for entries relevant to the
// goal and renders them as prompt-ready lines.
func (a *SkillDrivenAgent) businessContext(ctx context.Context, content string) string {
	if a.store == nil {
		return ""
	}
	entries, err := a.store.Query(ctx, contextstore.Query{Keywords: content, MaxResults: 5})
	if err != nil {
		a.logger.Warn("context store query failed", "agent_id", a.ID(), "error", err)
		return ""
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s", e.Category, e.Content))
	}
	return strings.Join(lines, "\n")
}

// asDecomposition normalises a pipeline result into a DecompositionResult.
func asDecomposition(result any) (skill.DecompositionResult, bool) {
	switch v := result.(type) {
	case skill.DecompositionResult:
		return v, true
	case *skill.DecompositionResult:
		if v != nil {
			return *v, true
		}
	}
	return skill.DecompositionResult{}, false
}

// dispatchDirect forwards a single-task goal straight to the specialist,
// under a fresh reference code, with the reply routed back to the original
// requester rather than through the coordinator.
func (a *SkillDrivenAgent) dispatchDirect(ctx context.Context, env *message.Envelope, req *message.TaskRequest, task message.ProposedTask) error {
	specialist, ok := a.agents.FindByCapability(task.Capability)
	if !ok {
		return a.escalate(ctx, env,
			fmt.Sprintf("no available agent for capability %q", task.Capability), req.Content)
	}

	code, err := a.codes.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate reference code: %w", err)
	}

	forward, err := message.NewEnvelope(req, code)
	if err != nil {
		return err
	}
	forward.Context = message.Context{
		ReplyTo:         env.Context.ReplyTo,
		OriginalGoal:    req.Content,
		ParentMessageID: req.MessageID(),
		FromAgentID:     a.ID(),
		TeamID:          env.Context.TeamID,
		ChannelID:       env.Context.ChannelID,
	}
	forward.Priority = env.Priority
	forward.SLA = env.SLA
	forward.AuthorityClaims = a.delegatedClaims(env, task, specialist.ID)

	if err := a.recordDelegation(code, specialist.ID, task, forward); err != nil {
		return err
	}
	if err := a.bus.Publish(ctx, forward, bus.AgentQueue(specialist.ID)); err != nil {
		return fmt.Errorf("dispatch %s to %s: %w", code, specialist.ID, err)
	}
	a.logger.Info("goal dispatched directly",
		"agent_id", a.ID(),
		"reference_code", code,
		"capability", task.Capability,
		"specialist", specialist.ID)
	return nil
}

// dispatchPlan fans a multi-task decomposition out to specialists. Every
// capability must resolve before anything is published, so a half-dispatched
// plan never exists.
func (a *SkillDrivenAgent) dispatchPlan(ctx context.Context, original *message.Envelope, goal string, dec skill.DecompositionResult) error {
	specialists := make([]registry.AgentInfo, len(dec.Tasks))
	for i, task := range dec.Tasks {
		info, ok := a.agents.FindByCapability(task.Capability)
		if !ok {
			return a.escalate(ctx, original,
				fmt.Sprintf("no available agent for capability %q", task.Capability), goal)
		}
		specialists[i] = info
	}

	subtasks := make([]workflow.Subtask, len(dec.Tasks))
	children := make([]*message.Envelope, len(dec.Tasks))
	for i, task := range dec.Tasks {
		code, err := a.codes.Generate(ctx)
		if err != nil {
			return fmt.Errorf("generate reference code: %w", err)
		}
		child, err := message.NewEnvelope(&message.TaskRequest{
			Base:    message.NewBase(),
			Content: task.Description,
		}, code)
		if err != nil {
			return err
		}
		child.Context = message.Context{
			ReplyTo:         a.Queue(),
			OriginalGoal:    goal,
			ParentMessageID: original.Message.MessageID(),
			FromAgentID:     a.ID(),
			TeamID:          original.Context.TeamID,
			ChannelID:       original.Context.ChannelID,
		}
		child.Priority = original.Priority
		child.SLA = original.SLA
		child.AuthorityClaims = a.delegatedClaims(original, task, specialists[i].ID)

		subtasks[i] = workflow.Subtask{
			ReferenceCode: code,
			Capability:    task.Capability,
			Description:   task.Description,
			AssignedTo:    specialists[i].ID,
		}
		children[i] = child
	}

	// The workflow record exists before the first child is published, so
	// even an instant reply finds its parent.
	if err := a.workflows.Create(workflow.Record{
		ReferenceCode:    original.ReferenceCode,
		OriginalEnvelope: original,
		Subtasks:         subtasks,
		Summary:          dec.Summary,
	}); err != nil {
		return fmt.Errorf("create workflow %s: %w", original.ReferenceCode, err)
	}

	for i, child := range children {
		if err := a.recordDelegation(child.ReferenceCode, specialists[i].ID, dec.Tasks[i], child); err != nil {
			return err
		}
		if err := a.bus.Publish(ctx, child, bus.AgentQueue(specialists[i].ID)); err != nil {
			return fmt.Errorf("dispatch %s to %s: %w", child.ReferenceCode, specialists[i].ID, err)
		}
	}
	a.logger.Info("workflow dispatched",
		"agent_id", a.ID(),
		"reference_code", original.ReferenceCode,
		"subtasks", len(subtasks))
	return nil
}

// recordDelegation registers a dispatched sub-task so supervision can
// re-dispatch it from the stored envelope.
func (a *SkillDrivenAgent) recordDelegation(code refcode.ReferenceCode, specialistID string, task message.ProposedTask, env *message.Envelope) error {
	var dueAt *time.Time
	if env.SLA > 0 {
		t := a.now().Add(env.SLA).UTC()
		dueAt = &t
	}
	if err := a.delegations.Delegate(registry.Delegation{
		ReferenceCode: code,
		DelegatedBy:   a.ID(),
		DelegatedTo:   specialistID,
		Capability:    task.Capability,
		Description:   task.Description,
		DueAt:         dueAt,
		Status:        registry.DelegationInProgress,
		Envelope:      env,
	}); err != nil {
		return fmt.Errorf("record delegation %s: %w", code, err)
	}
	return nil
}

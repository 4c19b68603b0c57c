package cos

import (
	"context"
	"fmt"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/registry"
	"github.com/dbhq-uk/cortex/skill"
)

// proposePlan pauses a multi-task decomposition on human approval: the plan
// is stored under a pending reference code and proposed to the escalation
// target. Nothing is dispatched until the approval arrives.
func (a *SkillDrivenAgent) proposePlan(ctx context.Context, env *message.Envelope, req *message.TaskRequest, dec skill.DecompositionResult) error {
	if a.persona.EscalationTarget == "" {
		return fmt.Errorf("cannot propose plan for %s: persona has no escalation target", env.ReferenceCode)
	}

	pendingCode, err := a.codes.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate pending reference code: %w", err)
	}

	proposalMsg := &message.PlanProposal{
		Base:                 message.NewBase(),
		Tasks:                dec.Tasks,
		Summary:              dec.Summary,
		OriginalGoal:         req.Content,
		PendingReferenceCode: string(pendingCode),
	}
	a.pendingPlans.Store(registry.PendingPlan{
		PendingReferenceCode: pendingCode,
		OriginalEnvelope:     env,
		Decomposition:        dec,
		ProposalMessageID:    proposalMsg.MessageID(),
	})
	if err := a.delegations.Delegate(registry.Delegation{
		ReferenceCode: pendingCode,
		DelegatedBy:   a.ID(),
		DelegatedTo:   a.persona.EscalationTarget,
		Description:   "plan approval: " + req.Content,
		Status:        registry.DelegationInProgress,
	}); err != nil {
		a.pendingPlans.Remove(pendingCode)
		return fmt.Errorf("record approval delegation %s: %w", pendingCode, err)
	}

	proposal, err := message.NewEnvelope(proposalMsg, pendingCode)
	if err != nil {
		return err
	}
	proposal.Context = message.Context{
		ReplyTo:         a.Queue(),
		ParentMessageID: req.MessageID(),
		FromAgentID:     a.ID(),
	}
	proposal.Priority = message.PriorityHigh

	if err := a.bus.Publish(ctx, proposal, bus.AgentQueue(a.persona.EscalationTarget)); err != nil {
		return fmt.Errorf("publish plan proposal %s: %w", pendingCode, err)
	}
	a.logger.Info("plan proposed for approval",
		"agent_id", a.ID(),
		"reference_code", env.ReferenceCode,
		"pending_reference_code", pendingCode,
		"tasks", len(dec.Tasks))
	return nil
}

// handleApproval resumes or abandons a pending plan. Take is atomic, so a
// duplicate approval finds nothing and is dropped.
func (a *SkillDrivenAgent) handleApproval(ctx context.Context, env *message.Envelope, resp *message.PlanApprovalResponse) error {
	pendingCode := refcode.ReferenceCode(resp.ReferenceCode)
	if pendingCode == "" {
		if byProposal, ok := a.pendingPlans.FindByProposal(env.Context.ParentMessageID); ok {
			pendingCode = byProposal
		} else {
			pendingCode = env.ReferenceCode
		}
	}

	plan, ok := a.pendingPlans.Take(pendingCode)
	if !ok {
		a.logger.Info("approval for unknown plan dropped",
			"agent_id", a.ID(),
			"pending_reference_code", pendingCode)
		return nil
	}
	if err := a.delegations.UpdateStatus(pendingCode, registry.DelegationCompleted); err != nil {
		a.logger.Warn("approval delegation already settled",
			"agent_id", a.ID(),
			"pending_reference_code", pendingCode,
			"error", err)
	}

	original := plan.OriginalEnvelope
	goal := original.Context.OriginalGoal
	if req, ok := original.Message.(*message.TaskRequest); ok && goal == "" {
		goal = req.Content
	}

	if !resp.Approved {
		a.logger.Info("plan rejected",
			"agent_id", a.ID(),
			"reference_code", original.ReferenceCode,
			"pending_reference_code", pendingCode)
		return a.replyRejected(ctx, original, resp.Amendments)
	}

	a.logger.Info("plan approved, dispatching",
		"agent_id", a.ID(),
		"reference_code", original.ReferenceCode,
		"pending_reference_code", pendingCode)
	return a.dispatchPlan(ctx, original, goal, plan.Decomposition)
}

// replyRejected tells the original requester their plan was declined.
func (a *SkillDrivenAgent) replyRejected(ctx context.Context, original *message.Envelope, amendments string) error {
	if original.Context.ReplyTo == "" {
		a.logger.Info("rejection reply dropped, original envelope has no reply queue",
			"agent_id", a.ID(),
			"reference_code", original.ReferenceCode)
		return nil
	}
	content := "Plan was not approved."
	if amendments != "" {
		content = fmt.Sprintf("Plan was not approved: %s", amendments)
	}
	reply, err := message.NewEnvelope(&message.TaskResponse{
		Base:    message.NewBase(),
		Content: content,
		Success: false,
		Error:   "plan rejected",
	}, original.ReferenceCode)
	if err != nil {
		return err
	}
	reply.Context = message.Context{
		ParentMessageID: original.Message.MessageID(),
		FromAgentID:     a.ID(),
	}
	if err := a.bus.Publish(ctx, reply, original.Context.ReplyTo); err != nil {
		return fmt.Errorf("publish rejection for %s: %w", original.ReferenceCode, err)
	}
	return nil
}

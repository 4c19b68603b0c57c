package cos

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbhq-uk/cortex/contextstore"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/registry"
	"github.com/dbhq-uk/cortex/workflow"
)

// handleSubtaskReply correlates a specialist's reply to its workflow. A
// failed sub-task fails the whole workflow immediately; the final success
// assembles all results into one report for the original requester.
func (a *SkillDrivenAgent) handleSubtaskReply(ctx context.Context, env *message.Envelope, resp *message.TaskResponse) error {
	code := env.ReferenceCode
	record, ok := a.workflows.FindBySubtask(code)
	if !ok {
		return fmt.Errorf("subtask %s belongs to no workflow", code)
	}

	a.retries.Reset(code)

	if !resp.Success {
		if err := a.delegations.UpdateStatus(code, registry.DelegationFailed); err != nil {
			a.logger.Warn("delegation already settled",
				"agent_id", a.ID(),
				"reference_code", code,
				"error", err)
		}
		return a.failWorkflow(ctx, record, code, resp)
	}

	if err := a.delegations.UpdateStatus(code, registry.DelegationCompleted); err != nil {
		a.logger.Warn("delegation already settled",
			"agent_id", a.ID(),
			"reference_code", code,
			"error", err)
	}

	parent, complete, err := a.workflows.StoreSubtaskResult(code, env)
	if err != nil {
		return err
	}
	if !complete {
		a.logger.Debug("subtask complete, workflow still in flight",
			"agent_id", a.ID(),
			"reference_code", code,
			"workflow", parent)
		return nil
	}
	return a.assembleWorkflow(ctx, parent)
}

// failWorkflow marks the workflow failed and reports the partial outcome.
// UpdateStatus is the exactly-once gate: a second failing reply finds the
// workflow already terminal and stops.
func (a *SkillDrivenAgent) failWorkflow(ctx context.Context, record workflow.Record, failedCode refcode.ReferenceCode, resp *message.TaskResponse) error {
	if err := a.workflows.UpdateStatus(record.ReferenceCode, workflow.StatusFailed); err != nil {
		a.logger.Info("workflow already settled, failure reply dropped",
			"agent_id", a.ID(),
			"workflow", record.ReferenceCode,
			"reference_code", failedCode)
		return nil
	}

	results, err := a.workflows.CompletedResults(record.ReferenceCode)
	if err != nil {
		return err
	}
	done := make(map[refcode.ReferenceCode]*message.Envelope, len(results))
	for _, r := range results {
		done[r.Subtask.ReferenceCode] = r.Envelope
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workflow failed: sub-task %s did not complete.\n", failedCode)
	if resp.Error != "" {
		fmt.Fprintf(&b, "Reason: %s\n", resp.Error)
	}
	b.WriteString("\nSub-task status:\n")
	for _, st := range record.Subtasks {
		switch {
		case st.ReferenceCode == failedCode:
			fmt.Fprintf(&b, "- %s (%s): FAILED\n", st.Capability, st.ReferenceCode)
		case done[st.ReferenceCode] != nil:
			fmt.Fprintf(&b, "- %s (%s): completed\n", st.Capability, st.ReferenceCode)
		default:
			fmt.Fprintf(&b, "- %s (%s): abandoned\n", st.Capability, st.ReferenceCode)
		}
	}

	return a.replyToRequester(ctx, record, &message.TaskResponse{
		Base:    message.NewBase(),
		Content: b.String(),
		Success: false,
		Error:   fmt.Sprintf("sub-task %s failed", failedCode),
	})
}

// assembleWorkflow builds the final report from all sub-task results, in
// task order, and completes the workflow.
func (a *SkillDrivenAgent) assembleWorkflow(ctx context.Context, parent refcode.ReferenceCode) error {
	record, ok := a.workflows.Get(parent)
	if !ok {
		return fmt.Errorf("workflow %s: not found", parent)
	}
	results, err := a.workflows.CompletedResults(parent)
	if err != nil {
		return err
	}

	var b strings.Builder
	if record.Summary != "" {
		b.WriteString(record.Summary)
		b.WriteString("\n")
	}
	for _, r := range results {
		fmt.Fprintf(&b, "\n## %s: %s\n", r.Subtask.Capability, r.Subtask.Description)
		if resp, ok := r.Envelope.Message.(*message.TaskResponse); ok {
			b.WriteString(resp.Content)
			b.WriteString("\n")
		}
	}

	if err := a.workflows.UpdateStatus(parent, workflow.StatusCompleted); err != nil {
		// A success landing after the workflow already failed is a benign
		// race, not a processing error.
		a.logger.Info("workflow already settled, late reply dropped",
			"agent_id", a.ID(),
			"workflow", parent,
			"error", err)
		return nil
	}
	a.recordOutcome(ctx, record)

	a.logger.Info("workflow completed",
		"agent_id", a.ID(),
		"workflow", parent,
		"subtasks", len(record.Subtasks))
	return a.replyToRequester(ctx, record, &message.TaskResponse{
		Base:    message.NewBase(),
		Content: b.String(),
		Success: true,
	})
}

// replyToRequester sends the final envelope, under the parent reference
// code, to the original requester's reply queue.
func (a *SkillDrivenAgent) replyToRequester(ctx context.Context, record workflow.Record, resp *message.TaskResponse) error {
	replyTo := record.OriginalEnvelope.Context.ReplyTo
	if replyTo == "" {
		a.logger.Info("final reply dropped, original envelope has no reply queue",
			"agent_id", a.ID(),
			"workflow", record.ReferenceCode)
		return nil
	}
	final, err := message.NewEnvelope(resp, record.ReferenceCode)
	if err != nil {
		return err
	}
	final.Context = message.Context{
		ParentMessageID: record.OriginalEnvelope.Message.MessageID(),
		OriginalGoal:    record.OriginalEnvelope.Context.OriginalGoal,
		FromAgentID:     a.ID(),
	}
	if err := a.bus.Publish(ctx, final, replyTo); err != nil {
		return fmt.Errorf("publish final reply for %s: %w", record.ReferenceCode, err)
	}
	return nil
}

// recordOutcome notes the completed workflow in the context store so later
// triage runs can draw on it.
func (a *SkillDrivenAgent) recordOutcome(ctx context.Context, record workflow.Record) {
	if a.store == nil {
		return
	}
	goal := record.OriginalEnvelope.Context.OriginalGoal
	if req, ok := record.OriginalEnvelope.Message.(*message.TaskRequest); ok && goal == "" {
		goal = req.Content
	}
	entry := contextstore.Entry{
		EntryID:       fmt.Sprintf("workflow-%s", strings.ToLower(string(record.ReferenceCode))),
		Content:       fmt.Sprintf("Completed workflow with %d sub-tasks: %s", len(record.Subtasks), goal),
		Category:      contextstore.CategoryOperational,
		ReferenceCode: string(record.ReferenceCode),
		CreatedAt:     a.now().UTC(),
	}
	if err := a.store.Store(ctx, entry); err != nil {
		a.logger.Warn("context store write failed",
			"agent_id", a.ID(),
			"workflow", record.ReferenceCode,
			"error", err)
	}
}

package cos

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/contextstore"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/registry"
)

// handleSupervisionAlert reacts to an overdue delegation: nudge the same
// specialist while retries remain and the agent is alive, otherwise hand
// the work to an alternate. The re-dispatched envelope keeps the original
// reference code so reply correlation is unaffected.
func (a *SkillDrivenAgent) handleSupervisionAlert(ctx context.Context, env *message.Envelope, alert *message.SupervisionAlert) error {
	code := refcode.ReferenceCode(alert.RefCode)
	delegation, ok := a.delegations.Get(code)
	if !ok {
		a.logger.Info("supervision alert for unknown delegation dropped",
			"agent_id", a.ID(),
			"reference_code", code)
		return nil
	}
	if delegation.Status.Terminal() {
		a.logger.Debug("supervision alert for settled delegation dropped",
			"agent_id", a.ID(),
			"reference_code", code,
			"status", delegation.Status)
		return nil
	}
	if delegation.Envelope == nil {
		return fmt.Errorf("delegation %s has no stored envelope to re-dispatch", code)
	}

	if !alert.IsAgentRunning || alert.RetryCount >= a.maxRetries-1 {
		return a.reassignDelegation(ctx, env, delegation, alert)
	}

	// Same specialist, one more chance.
	a.logger.Info("overdue delegation re-dispatched",
		"agent_id", a.ID(),
		"reference_code", code,
		"specialist", delegation.DelegatedTo,
		"retry_count", alert.RetryCount)
	if err := a.bus.Publish(ctx, delegation.Envelope, bus.AgentQueue(delegation.DelegatedTo)); err != nil {
		return fmt.Errorf("re-dispatch %s to %s: %w", code, delegation.DelegatedTo, err)
	}
	return nil
}

// reassignDelegation moves an overdue delegation to an alternate specialist
// with the same capability. No alternate means escalation.
func (a *SkillDrivenAgent) reassignDelegation(ctx context.Context, env *message.Envelope, delegation registry.Delegation, alert *message.SupervisionAlert) error {
	code := delegation.ReferenceCode

	var alternate string
	for _, info := range a.agents.FindAllByCapability(delegation.Capability) {
		if info.ID != delegation.DelegatedTo {
			alternate = info.ID
			break
		}
	}
	if alternate == "" {
		if err := a.delegations.UpdateStatus(code, registry.DelegationEscalated); err != nil {
			a.logger.Warn("delegation already settled",
				"agent_id", a.ID(),
				"reference_code", code,
				"error", err)
		}
		return a.escalate(ctx, env,
			fmt.Sprintf("delegation to %s is overdue and no alternate agent offers %q",
				delegation.DelegatedTo, delegation.Capability),
			delegation.Description)
	}

	if err := a.delegations.Reassign(code, alternate); err != nil {
		return fmt.Errorf("reassign %s: %w", code, err)
	}
	a.retries.Reset(code)
	a.recordReassignment(ctx, delegation, alternate)

	a.logger.Info("overdue delegation reassigned",
		"agent_id", a.ID(),
		"reference_code", code,
		"from", delegation.DelegatedTo,
		"to", alternate,
		"retry_count", alert.RetryCount)
	if err := a.bus.Publish(ctx, delegation.Envelope, bus.AgentQueue(alternate)); err != nil {
		return fmt.Errorf("re-dispatch %s to %s: %w", code, alternate, err)
	}
	return nil
}

// recordReassignment writes a lesson so future triage knows the original
// assignee stalled on this kind of work.
func (a *SkillDrivenAgent) recordReassignment(ctx context.Context, delegation registry.Delegation, alternate string) {
	if a.store == nil {
		return
	}
	entry := contextstore.Entry{
		EntryID: fmt.Sprintf("reassign-%s", strings.ToLower(string(delegation.ReferenceCode))),
		Content: fmt.Sprintf("Alternate agent %s chosen after supervision: %s did not complete %q in time",
			alternate, delegation.DelegatedTo, delegation.Capability),
		Category:      contextstore.CategoryLesson,
		Tags:          []string{delegation.Capability},
		ReferenceCode: string(delegation.ReferenceCode),
		CreatedAt:     a.now().UTC(),
	}
	if err := a.store.Store(ctx, entry); err != nil {
		a.logger.Warn("context store write failed",
			"agent_id", a.ID(),
			"reference_code", delegation.ReferenceCode,
			"error", err)
	}
}

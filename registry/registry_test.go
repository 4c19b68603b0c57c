package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/skill"
)

func code(t *testing.T, seq int) refcode.ReferenceCode {
	t.Helper()
	c, err := refcode.New(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), seq)
	require.NoError(t, err)
	return c
}

func TestAgentRegistryCapabilityResolution(t *testing.T) {
	r := NewAgentRegistry()
	r.Register(AgentInfo{ID: "translator-1", Capabilities: []string{"translation"}, Available: true})
	r.Register(AgentInfo{ID: "translator-2", Capabilities: []string{"translation"}, Available: true})
	r.Register(AgentInfo{ID: "researcher", Capabilities: []string{"research", "translation"}, Available: false})

	// First available in registration order wins.
	info, ok := r.FindByCapability("translation")
	require.True(t, ok)
	assert.Equal(t, "translator-1", info.ID)

	// Unavailable agents are skipped by resolution but still count as
	// declaring the capability.
	_, ok = r.FindByCapability("research")
	assert.False(t, ok)
	assert.True(t, r.HasCapability("research"))

	r.SetAvailable("translator-1", false)
	info, ok = r.FindByCapability("translation")
	require.True(t, ok)
	assert.Equal(t, "translator-2", info.ID)

	all := r.FindAllByCapability("translation")
	require.Len(t, all, 1)
	assert.Equal(t, "translator-2", all[0].ID)

	r.Unregister("translator-2")
	_, ok = r.FindByID("translator-2")
	assert.False(t, ok)

	assert.Equal(t, []string{"translation", "research"}, r.Capabilities())
}

func TestDelegationStatusStateMachine(t *testing.T) {
	r := NewDelegationRegistry()
	c := code(t, 1)
	require.NoError(t, r.Delegate(Delegation{
		ReferenceCode: c,
		DelegatedBy:   "cos",
		DelegatedTo:   "translator",
		Description:   "translate this",
	}))

	d, ok := r.Get(c)
	require.True(t, ok)
	assert.Equal(t, DelegationPending, d.Status)

	require.NoError(t, r.UpdateStatus(c, DelegationInProgress))
	require.NoError(t, r.UpdateStatus(c, DelegationCompleted))

	// No transition goes backward, and terminal states are final.
	err := r.UpdateStatus(c, DelegationInProgress)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = r.UpdateStatus(c, DelegationFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Pending may jump straight to a terminal state.
	c2 := code(t, 2)
	require.NoError(t, r.Delegate(Delegation{ReferenceCode: c2, DelegatedTo: "x"}))
	require.NoError(t, r.UpdateStatus(c2, DelegationEscalated))

	// Unknown code and duplicate creation are rejected.
	assert.ErrorIs(t, r.UpdateStatus(code(t, 99), DelegationCompleted), ErrNotFound)
	assert.Error(t, r.Delegate(Delegation{ReferenceCode: c}))
}

func TestDelegationFindOverdue(t *testing.T) {
	r := NewDelegationRegistry()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	mk := func(seq int, due *time.Time, status DelegationStatus) refcode.ReferenceCode {
		c := code(t, seq)
		require.NoError(t, r.Delegate(Delegation{ReferenceCode: c, DelegatedTo: "a", DueAt: due, Status: status}))
		return c
	}

	overdueCode := mk(1, &past, DelegationInProgress)
	mk(2, &past, DelegationCompleted) // terminal: never overdue
	mk(3, &future, DelegationPending) // not yet due
	mk(4, nil, DelegationPending)     // no deadline

	overdue := r.FindOverdue(now)
	require.Len(t, overdue, 1)
	assert.Equal(t, overdueCode, overdue[0].ReferenceCode)
}

func TestDelegationReassign(t *testing.T) {
	r := NewDelegationRegistry()
	c := code(t, 1)
	require.NoError(t, r.Delegate(Delegation{ReferenceCode: c, DelegatedTo: "translator-1"}))
	require.NoError(t, r.Reassign(c, "translator-2"))

	d, _ := r.Get(c)
	assert.Equal(t, "translator-2", d.DelegatedTo)

	require.NoError(t, r.UpdateStatus(c, DelegationCompleted))
	assert.ErrorIs(t, r.Reassign(c, "translator-3"), ErrInvalidTransition)
}

func TestAuthorityRegistry(t *testing.T) {
	r := NewAuthorityRegistry()
	now := time.Now().UTC()
	exp := now.Add(time.Hour)

	r.Grant(message.AuthorityClaim{
		GrantedBy:        "founder",
		GrantedTo:        "cos",
		Tier:             message.TierDoItAndShowMe,
		PermittedActions: []string{"translation", "research"},
		GrantedAt:        now,
		ExpiresAt:        &exp,
	})

	assert.True(t, r.HasAuthority("cos", "translation", message.TierAskMeFirst))
	assert.True(t, r.HasAuthority("cos", "translation", message.TierDoItAndShowMe))
	assert.False(t, r.HasAuthority("cos", "translation", message.TierJustDoIt), "tier below minimum")
	assert.False(t, r.HasAuthority("cos", "deploy", message.TierAskMeFirst), "action not permitted")
	assert.False(t, r.HasAuthority("intern", "translation", message.TierAskMeFirst), "different grantee")

	r.Revoke("cos", "translation")
	assert.False(t, r.HasAuthority("cos", "translation", message.TierAskMeFirst))
	assert.True(t, r.HasAuthority("cos", "research", message.TierAskMeFirst))

	// Expired grants confer nothing.
	gone := now.Add(-time.Minute)
	r.Grant(message.AuthorityClaim{
		GrantedTo:        "cos",
		Tier:             message.TierJustDoIt,
		PermittedActions: []string{"deploy"},
		ExpiresAt:        &gone,
	})
	assert.False(t, r.HasAuthority("cos", "deploy", message.TierAskMeFirst))
}

func TestPendingPlanRegistry(t *testing.T) {
	r := NewPendingPlanRegistry()
	c := code(t, 1)

	env, err := message.NewEnvelope(&message.TaskRequest{Base: message.NewBase(), Content: "goal"}, c)
	require.NoError(t, err)

	r.Store(PendingPlan{
		PendingReferenceCode: c,
		OriginalEnvelope:     env,
		Decomposition:        skill.DecompositionResult{Summary: "plan"},
	})

	plan, ok := r.Get(c)
	require.True(t, ok)
	assert.Equal(t, "plan", plan.Decomposition.Summary)
	assert.False(t, plan.StoredAt.IsZero())

	// Take retrieves exactly once.
	plan, ok = r.Take(c)
	require.True(t, ok)
	assert.Equal(t, env, plan.OriginalEnvelope)
	_, ok = r.Take(c)
	assert.False(t, ok)

	// Remove is idempotent.
	r.Remove(c)
	r.Remove(c)
}

func TestPendingPlanFindByProposal(t *testing.T) {
	r := NewPendingPlanRegistry()
	c := code(t, 1)

	r.Store(PendingPlan{
		PendingReferenceCode: c,
		ProposalMessageID:    "msg-123",
	})

	found, ok := r.FindByProposal("msg-123")
	require.True(t, ok)
	assert.Equal(t, c, found)

	_, ok = r.FindByProposal("msg-999")
	assert.False(t, ok)
	_, ok = r.FindByProposal("")
	assert.False(t, ok, "an empty message id never matches")
}

func TestRetryCounter(t *testing.T) {
	r := NewRetryCounter()
	c := code(t, 1)

	assert.Equal(t, 0, r.Get(c))
	for i := 1; i <= 4; i++ {
		assert.Equal(t, i, r.Increment(c))
	}
	assert.Equal(t, 4, r.Get(c))

	r.Reset(c)
	assert.Equal(t, 0, r.Get(c))
}

func TestSkillRegistry(t *testing.T) {
	r := NewSkillRegistry()
	r.Register(skill.Skill{ID: "triage", ExecutorType: "llm.prompt", Category: "routing"})
	r.Register(skill.Skill{ID: "decompose", ExecutorType: "llm.decompose", Category: "routing"})
	r.Register(skill.Skill{ID: "summarise", ExecutorType: "llm.prompt", Category: "writing"})

	s, ok := r.Get("triage")
	require.True(t, ok)
	assert.Equal(t, "llm.prompt", s.ExecutorType)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	routing := r.ListByCategory("routing")
	assert.Len(t, routing, 2)

	// SkillRegistry satisfies the pipeline's skill source.
	var _ skill.Source = r
}

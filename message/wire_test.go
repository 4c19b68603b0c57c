package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbhq-uk/cortex/refcode"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	granted := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	expires := granted.Add(24 * time.Hour)

	req := &TaskRequest{Base: NewBase(), Content: "translate this"}
	env := &Envelope{
		Message:       req,
		ReferenceCode: refcode.ReferenceCode("CTX-2026-0305-001"),
		AuthorityClaims: []AuthorityClaim{{
			GrantedBy:        "founder",
			GrantedTo:        "cos",
			Tier:             TierDoItAndShowMe,
			PermittedActions: []string{"translation", "research"},
			GrantedAt:        granted,
			ExpiresAt:        &expires,
		}},
		Context: Context{
			ParentMessageID: "parent-1",
			OriginalGoal:    "translate this",
			ReplyTo:         "client.a",
			FromAgentID:     "cos",
		},
		Priority: PriorityHigh,
		SLA:      30 * time.Minute,
	}

	body, typeName, err := Encode(env)
	require.NoError(t, err)
	assert.Equal(t, TypeTaskRequest, typeName)

	decoded, err := Decode(body, typeName)
	require.NoError(t, err)

	assert.Equal(t, env.ReferenceCode, decoded.ReferenceCode)
	assert.Equal(t, env.Context, decoded.Context)
	assert.Equal(t, env.Priority, decoded.Priority)
	assert.Equal(t, env.SLA, decoded.SLA)
	require.Len(t, decoded.AuthorityClaims, 1)
	claim := decoded.AuthorityClaims[0]
	assert.Equal(t, TierDoItAndShowMe, claim.Tier)
	assert.Equal(t, []string{"translation", "research"}, claim.PermittedActions)
	require.NotNil(t, claim.ExpiresAt)
	assert.True(t, claim.ExpiresAt.Equal(expires))

	got, ok := decoded.Message.(*TaskRequest)
	require.True(t, ok)
	assert.Equal(t, req.Content, got.Content)
	assert.Equal(t, req.MessageID(), got.MessageID())
}

func TestWireEnumsAreCamelCaseStrings(t *testing.T) {
	env := &Envelope{
		Message:       &TaskRequest{Base: NewBase(), Content: "x"},
		ReferenceCode: refcode.ReferenceCode("CTX-2026-0305-002"),
		AuthorityClaims: []AuthorityClaim{
			{GrantedTo: "cos", Tier: TierAskMeFirst, PermittedActions: []string{"any"}},
		},
		Priority: PriorityCritical,
	}
	body, _, err := Encode(env)
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `"priority":"critical"`)
	assert.Contains(t, s, `"tier":"askMeFirst"`)
	assert.NotContains(t, s, `"sla"`, "zero SLA must be omitted")
	assert.NotContains(t, s, "null")
}

func TestDecodeUnknownTypeIsPermanentFailure(t *testing.T) {
	env := &Envelope{
		Message:       &TaskRequest{Base: NewBase(), Content: "x"},
		ReferenceCode: refcode.ReferenceCode("CTX-2026-0305-003"),
	}
	body, _, err := Encode(env)
	require.NoError(t, err)

	_, err = Decode(body, "cortex.message.Nope")
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = Decode(body, "")
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode([]byte("{truncated"), TypeTaskRequest)
	assert.Error(t, err)

	// Valid JSON but bad reference code still fails decoding.
	wire := map[string]any{
		"message":       map[string]any{"messageId": "m", "timestamp": time.Now().UTC(), "content": "x"},
		"referenceCode": "not-a-code",
		"context":       map[string]any{},
		"priority":      "normal",
	}
	body, err := json.Marshal(wire)
	require.NoError(t, err)
	_, err = Decode(body, TypeTaskRequest)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "reference code"))
}

func TestAllRegisteredPayloadsRoundTrip(t *testing.T) {
	due := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	tier := TierDoItAndShowMe

	payloads := []Message{
		&TaskResponse{Base: NewBase(), Content: "done", Success: true},
		&PlanProposal{
			Base:                 NewBase(),
			Tasks:                []ProposedTask{{Capability: "research", Description: "dig", RequestedTier: &tier}},
			Summary:              "plan",
			OriginalGoal:         "goal",
			PendingReferenceCode: "CTX-2026-0305-010",
		},
		&PlanApprovalResponse{Base: NewBase(), Approved: true, ReferenceCode: "CTX-2026-0305-010"},
		&SupervisionAlert{Base: NewBase(), RefCode: "CTX-2026-0305-011", DelegatedAgentID: "translator", RetryCount: 1, DueAt: &due, Description: "late", IsAgentRunning: false},
		&EscalationAlert{Base: NewBase(), RefCode: "CTX-2026-0305-012", DelegatedAgentID: "translator", RetryCount: 3, Reason: "retries exhausted", OriginalDescription: "translate"},
	}

	for _, msg := range payloads {
		t.Run(msg.Type(), func(t *testing.T) {
			env := &Envelope{Message: msg, ReferenceCode: refcode.ReferenceCode("CTX-2026-0305-099")}
			body, typeName, err := Encode(env)
			require.NoError(t, err)
			decoded, err := Decode(body, typeName)
			require.NoError(t, err)
			assert.Equal(t, msg.Type(), decoded.Message.Type())
			assert.Equal(t, msg.MessageID(), decoded.Message.MessageID())
		})
	}
}

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/registry"
)

func TestRuntimeStartStopAgent(t *testing.T) {
	b := bus.NewInMemoryBus()
	agents := registry.NewAgentRegistry()
	rt := NewRuntime(b, agents)
	ctx := context.Background()

	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "translator", capabilities: []string{"translation"}}))
	assert.True(t, rt.IsRunning("translator"))
	assert.Equal(t, []string{"translator"}, rt.RunningAgentIDs())

	// Double start is rejected.
	err := rt.StartAgent(ctx, &echoAgent{id: "translator"})
	require.Error(t, err)

	require.NoError(t, rt.StopAgent(ctx, "translator"))
	assert.False(t, rt.IsRunning("translator"))

	// Stopping an unknown agent is an error.
	require.Error(t, rt.StopAgent(ctx, "translator"))
}

func TestRuntimeTeamMembershipAndStopTeam(t *testing.T) {
	b := bus.NewInMemoryBus()
	agents := registry.NewAgentRegistry()
	rt := NewRuntime(b, agents)
	ctx := context.Background()

	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "writer"}, WithTeam("content")))
	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "editor"}, WithTeam("content")))
	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "translator"}))

	assert.Equal(t, []string{"editor", "writer"}, rt.TeamAgentIDs("content"))
	assert.Equal(t, []string{"editor", "translator", "writer"}, rt.RunningAgentIDs())

	require.NoError(t, rt.StopTeam(ctx, "content"))
	assert.Empty(t, rt.TeamAgentIDs("content"))
	assert.Equal(t, []string{"translator"}, rt.RunningAgentIDs(),
		"agents outside the team keep running")
}

func TestRuntimeTeamCeilingPropagates(t *testing.T) {
	b := bus.NewInMemoryBus()
	agents := registry.NewAgentRegistry()
	rt := NewRuntime(b, agents)
	ctx := context.Background()

	rt.SetTeamCeiling("ops", message.TierDoItAndShowMe)

	worker := &echoAgent{id: "scheduler", process: func(_ context.Context, env *message.Envelope) (*message.Envelope, error) {
		reply, _ := message.NewEnvelope(&message.TaskResponse{Base: message.NewBase(), Content: "ok", Success: true}, env.ReferenceCode)
		reply.AuthorityClaims = []message.AuthorityClaim{{
			GrantedTo:        "client",
			Tier:             message.TierJustDoIt,
			PermittedActions: []string{"scheduling"},
		}}
		return reply, nil
	}}
	require.NoError(t, rt.StartAgent(ctx, worker, WithTeam("ops")))
	defer rt.Stop(ctx)

	replies := collect(t, b, "client.q")
	env := request(t, "book it", 1)
	env.Context.ReplyTo = "client.q"
	require.NoError(t, b.Publish(ctx, env, bus.AgentQueue("scheduler")))

	got := waitLen(t, replies, 1)
	require.Len(t, got[0].AuthorityClaims, 1)
	assert.Equal(t, message.TierDoItAndShowMe, got[0].AuthorityClaims[0].Tier)
}

func TestRuntimeStopOneAgentLeavesOthersConsuming(t *testing.T) {
	b := bus.NewInMemoryBus()
	agents := registry.NewAgentRegistry()
	rt := NewRuntime(b, agents)
	ctx := context.Background()

	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "a"}))
	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "b"}))
	defer rt.Stop(ctx)

	require.NoError(t, rt.StopAgent(ctx, "a"))

	replies := collect(t, b, "client.q")
	env := request(t, "still here", 1)
	env.Context.ReplyTo = "client.q"
	require.NoError(t, b.Publish(ctx, env, bus.AgentQueue("b")))

	got := waitLen(t, replies, 1)
	assert.Equal(t, "echo: still here", got[0].Message.(*message.TaskResponse).Content)

	// Nothing consumes a's queue now; the message waits rather than erroring.
	require.NoError(t, b.Publish(ctx, request(t, "parked", 2), bus.AgentQueue("a")))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, b.DeadLetters())
}

func TestRuntimeStopAll(t *testing.T) {
	b := bus.NewInMemoryBus()
	agents := registry.NewAgentRegistry()
	rt := NewRuntime(b, agents)
	ctx := context.Background()

	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "a"}))
	require.NoError(t, rt.StartAgent(ctx, &echoAgent{id: "b"}, WithTeam("t")))

	require.NoError(t, rt.Stop(ctx))
	assert.Empty(t, rt.RunningAgentIDs())
	assert.Empty(t, rt.TeamAgentIDs("t"))
}

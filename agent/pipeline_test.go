package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/registry"
	"github.com/dbhq-uk/cortex/skill"
)

type upperExecutor struct{ fail bool }

func (e *upperExecutor) ExecutorType() string { return "test.upper" }

func (e *upperExecutor) Execute(_ context.Context, _ skill.Skill, params skill.Parameters) (any, error) {
	if e.fail {
		return nil, errors.New("executor broke")
	}
	content, _ := params[skill.ParamMessageContent].(string)
	return "RESULT: " + content, nil
}

func pipelineFixture(t *testing.T, fail bool) *PipelineAgent {
	t.Helper()
	skills := registry.NewSkillRegistry()
	skills.Register(skill.Skill{ID: "upper", ExecutorType: "test.upper"})
	runner := skill.NewRunner(skills, []skill.Executor{&upperExecutor{fail: fail}}, nil)
	p, err := NewPipelineAgent(Persona{
		AgentID:      "translator",
		Capabilities: []string{"translation"},
		Pipeline:     []string{"upper"},
	}, runner)
	require.NoError(t, err)
	return p
}

func TestPipelineAgentRepliesWithPipelineResult(t *testing.T) {
	p := pipelineFixture(t, false)
	code, err := refcode.New(time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC), 1)
	require.NoError(t, err)
	env, err := message.NewEnvelope(&message.TaskRequest{Base: message.NewBase(), Content: "hello"}, code)
	require.NoError(t, err)

	reply, err := p.Process(context.Background(), env)
	require.NoError(t, err)
	resp := reply.Message.(*message.TaskResponse)
	assert.True(t, resp.Success)
	assert.Equal(t, "RESULT: hello", resp.Content)
	assert.Equal(t, code, reply.ReferenceCode)
}

func TestPipelineAgentSurfacesPipelineErrors(t *testing.T) {
	p := pipelineFixture(t, true)
	code, err := refcode.New(time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC), 2)
	require.NoError(t, err)
	env, err := message.NewEnvelope(&message.TaskRequest{Base: message.NewBase(), Content: "hello"}, code)
	require.NoError(t, err)

	_, err = p.Process(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline")
}

func TestPipelineAgentRejectsNonTaskMessages(t *testing.T) {
	p := pipelineFixture(t, false)
	code, err := refcode.New(time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC), 3)
	require.NoError(t, err)
	env, err := message.NewEnvelope(&message.TaskResponse{Base: message.NewBase(), Content: "x", Success: true}, code)
	require.NoError(t, err)

	_, err = p.Process(context.Background(), env)
	require.Error(t, err)
}

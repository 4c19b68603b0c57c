package skill

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]Skill

func (m mapSource) Get(id string) (Skill, bool) {
	s, ok := m[id]
	return s, ok
}

type stubExecutor struct {
	execType string
	fn       func(ctx context.Context, s Skill, params Parameters) (any, error)
}

func (e *stubExecutor) ExecutorType() string { return e.execType }

func (e *stubExecutor) Execute(ctx context.Context, s Skill, params Parameters) (any, error) {
	return e.fn(ctx, s, params)
}

func TestRunnerDepositsResultsUnderSkillID(t *testing.T) {
	skills := mapSource{
		"first":  {ID: "first", ExecutorType: "stub"},
		"second": {ID: "second", ExecutorType: "stub"},
	}
	exec := &stubExecutor{execType: "stub", fn: func(_ context.Context, s Skill, params Parameters) (any, error) {
		if s.ID == "second" {
			// Later skills consume earlier results.
			prior, _ := params["first"].(string)
			return prior + "+second", nil
		}
		return "first", nil
	}}

	runner := NewRunner(skills, []Executor{exec}, nil)
	params := Parameters{}
	result, err := runner.Run(context.Background(), []string{"first", "second"}, params)
	require.NoError(t, err)
	assert.Equal(t, "first+second", result)
	assert.Equal(t, "first", params["first"])
	assert.Equal(t, "first+second", params["second"])
}

func TestRunnerFirstMatchingExecutorWins(t *testing.T) {
	skills := mapSource{"s": {ID: "s", ExecutorType: "dup"}}
	first := &stubExecutor{execType: "dup", fn: func(_ context.Context, _ Skill, _ Parameters) (any, error) {
		return "first", nil
	}}
	second := &stubExecutor{execType: "dup", fn: func(_ context.Context, _ Skill, _ Parameters) (any, error) {
		return "second", nil
	}}

	runner := NewRunner(skills, []Executor{first, second}, nil)
	result, err := runner.Run(context.Background(), []string{"s"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", result)
}

func TestRunnerFailsOnUnresolvedExecutorType(t *testing.T) {
	skills := mapSource{"s": {ID: "s", ExecutorType: "missing"}}
	runner := NewRunner(skills, nil, nil)
	_, err := runner.Run(context.Background(), []string{"s"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no executor")
}

func TestRunnerFailsOnUnknownSkill(t *testing.T) {
	runner := NewRunner(mapSource{}, nil, nil)
	_, err := runner.Run(context.Background(), []string{"ghost"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRunnerPropagatesSkillError(t *testing.T) {
	skills := mapSource{"s": {ID: "s", ExecutorType: "stub"}}
	boom := errors.New("boom")
	exec := &stubExecutor{execType: "stub", fn: func(_ context.Context, _ Skill, _ Parameters) (any, error) {
		return nil, boom
	}}
	runner := NewRunner(skills, []Executor{exec}, nil)
	_, err := runner.Run(context.Background(), []string{"s"}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestRunnerEmptyPipelineReturnsNil(t *testing.T) {
	runner := NewRunner(mapSource{}, nil, nil)
	result, err := runner.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

type stubClient struct {
	reply string
	err   error
}

func (c *stubClient) Complete(_ context.Context, _ string) (string, error) {
	return c.reply, c.err
}

func TestDecomposeExecutorParsesFencedJSON(t *testing.T) {
	reply := "Here is the plan:\n```json\n" +
		`{"tasks":[{"capability":"research","description":"dig"},{"capability":"draft","description":"write"},],"summary":"report plan","confidence":0.9}` +
		"\n```"
	exec := NewDecomposeExecutor(&stubClient{reply: reply})

	params := Parameters{
		ParamMessageContent:        "prepare quarterly report",
		ParamAvailableCapabilities: []string{"research", "draft"},
	}
	result, err := exec.Execute(context.Background(), Skill{ID: "decompose"}, params)
	require.NoError(t, err)

	dec, ok := result.(DecompositionResult)
	require.True(t, ok)
	assert.Equal(t, "report plan", dec.Summary)
	assert.InDelta(t, 0.9, dec.Confidence, 0.001)
	require.Len(t, dec.Tasks, 2)
	assert.Equal(t, "research", dec.Tasks[0].Capability)
}

func TestDecomposeExecutorRejectsNonJSON(t *testing.T) {
	exec := NewDecomposeExecutor(&stubClient{reply: "sorry, I cannot help"})
	_, err := exec.Execute(context.Background(), Skill{ID: "decompose"}, Parameters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestPromptExecutorRendersTemplate(t *testing.T) {
	var captured string
	client := &captureClient{reply: "ok", capture: &captured}
	exec := NewPromptExecutor(client)

	s := Skill{ID: "triage", PromptTemplate: "Classify: {{.messageContent}}"}
	result, err := exec.Execute(context.Background(), s, Parameters{ParamMessageContent: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "Classify: hello", captured)
}

type captureClient struct {
	reply   string
	capture *string
}

func (c *captureClient) Complete(_ context.Context, prompt string) (string, error) {
	*c.capture = prompt
	return c.reply, nil
}

func TestExtractJSONCleansTrailingCommas(t *testing.T) {
	raw := extractJSON(`prefix {"a":[1,2,],"b":{"c":1,},} suffix`)
	assert.Equal(t, `{"a":[1,2],"b":{"c":1}}`, raw)
	assert.Equal(t, "", extractJSON("no json here"))
}

func TestBuildDecompositionPromptIncludesContext(t *testing.T) {
	prompt := buildDecompositionPrompt(Parameters{
		ParamMessageContent:        "goal",
		ParamAvailableCapabilities: []string{"a", "b"},
		ParamBusinessContext:       fmt.Sprintf("[%s] note", "Preference"),
	})
	assert.Contains(t, prompt, "goal")
	assert.Contains(t, prompt, "a, b")
	assert.Contains(t, prompt, "[Preference] note")
}

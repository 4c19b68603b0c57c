package agent

import (
	"context"
	"fmt"

	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/skill"
)

// PipelineAgent is a specialist whose behaviour is entirely described by
// its persona: inbound task content is fed through the persona's skill
// pipeline and the final result becomes the reply.
type PipelineAgent struct {
	persona Persona
	runner  *skill.Runner
}

// NewPipelineAgent creates a specialist from a persona and a skill runner.
func NewPipelineAgent(persona Persona, runner *skill.Runner) (*PipelineAgent, error) {
	if persona.AgentID == "" {
		return nil, fmt.Errorf("pipeline agent requires a persona with an agent id")
	}
	if runner == nil {
		return nil, fmt.Errorf("pipeline agent requires a skill runner")
	}
	return &PipelineAgent{persona: persona, runner: runner}, nil
}

// ID returns the persona's agent identity.
func (p *PipelineAgent) ID() string { return p.persona.AgentID }

// Capabilities returns the persona's declared capabilities.
func (p *PipelineAgent) Capabilities() []string { return p.persona.Capabilities }

// Persona returns the descriptor the agent was built from.
func (p *PipelineAgent) Persona() Persona { return p.persona }

// Process runs the persona's pipeline over the task content. Pipeline
// failures surface as errors so the harness dead-letters the envelope.
func (p *PipelineAgent) Process(ctx context.Context, env *message.Envelope) (*message.Envelope, error) {
	req, ok := env.Message.(*message.TaskRequest)
	if !ok {
		return nil, fmt.Errorf("agent %s handles task requests, got %s", p.ID(), env.Message.Type())
	}

	result, err := p.runner.Run(ctx, p.persona.Pipeline, skill.Parameters{
		skill.ParamMessageContent: req.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s pipeline: %w", p.ID(), err)
	}

	content, ok := result.(string)
	if !ok {
		content = fmt.Sprintf("%v", result)
	}
	reply, err := message.NewEnvelope(&message.TaskResponse{
		Base:    message.NewBase(),
		Content: content,
		Success: true,
	}, env.ReferenceCode)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

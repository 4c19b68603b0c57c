// Package skill provides the skill pipeline: named skills resolved to
// executors by advertised type, run in order over a shared parameter map.
package skill

import (
	"context"

	"github.com/dbhq-uk/cortex/message"
)

// Well-known parameter keys the coordinator seeds before running a pipeline.
const (
	ParamMessageContent        = "messageContent"
	ParamAvailableCapabilities = "availableCapabilities"
	ParamMaxInboundTier        = "maxInboundTier"
	ParamBusinessContext       = "businessContext"
)

// Skill names a unit of pipeline work and the executor type that runs it.
type Skill struct {
	ID           string `json:"id" yaml:"id"`
	ExecutorType string `json:"executorType" yaml:"executor_type"`
	Category     string `json:"category,omitempty" yaml:"category,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`

	// PromptTemplate is the text/template body used by LLM executors.
	PromptTemplate string `json:"promptTemplate,omitempty" yaml:"prompt_template,omitempty"`
}

// Parameters is the shared context passed through a pipeline. The runner
// deposits each skill's result under its skill ID.
type Parameters map[string]any

// Executor runs skills of one advertised type.
type Executor interface {
	// ExecutorType returns the type this executor handles.
	ExecutorType() string
	// Execute runs the skill against the shared parameters.
	Execute(ctx context.Context, s Skill, params Parameters) (any, error)
}

// Source resolves skill IDs to definitions. The registry package provides
// the canonical implementation.
type Source interface {
	Get(id string) (Skill, bool)
}

// DecompositionResult is the expected terminal result of a triage pipeline:
// the goal split into capability-addressed sub-tasks.
type DecompositionResult struct {
	Tasks      []message.ProposedTask `json:"tasks"`
	Summary    string                 `json:"summary"`
	Confidence float64                `json:"confidence"`
}

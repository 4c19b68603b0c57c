package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/dbhq-uk/cortex/llm"
)

// Executor types provided by this package.
const (
	ExecutorTypePrompt    = "llm.prompt"
	ExecutorTypeDecompose = "llm.decompose"
)

// PromptExecutor runs a skill's prompt template through the LLM and returns
// the raw completion text.
type PromptExecutor struct {
	client llm.Client
}

// NewPromptExecutor creates a prompt executor over the given client.
func NewPromptExecutor(client llm.Client) *PromptExecutor {
	return &PromptExecutor{client: client}
}

// ExecutorType returns the advertised executor type.
func (e *PromptExecutor) ExecutorType() string { return ExecutorTypePrompt }

// Execute renders the skill's template with the shared parameters and
// completes it. A skill without a template completes the message content
// directly.
func (e *PromptExecutor) Execute(ctx context.Context, s Skill, params Parameters) (any, error) {
	prompt, err := renderPrompt(s, params)
	if err != nil {
		return nil, err
	}
	text, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("complete prompt: %w", err)
	}
	return text, nil
}

// DecomposeExecutor asks the LLM to split a goal into capability-addressed
// sub-tasks and parses the reply into a DecompositionResult.
type DecomposeExecutor struct {
	client llm.Client
}

// NewDecomposeExecutor creates a decompose executor over the given client.
func NewDecomposeExecutor(client llm.Client) *DecomposeExecutor {
	return &DecomposeExecutor{client: client}
}

// ExecutorType returns the advertised executor type.
func (e *DecomposeExecutor) ExecutorType() string { return ExecutorTypeDecompose }

// Execute completes a decomposition prompt and parses the JSON result.
func (e *DecomposeExecutor) Execute(ctx context.Context, s Skill, params Parameters) (any, error) {
	prompt := buildDecompositionPrompt(params)
	text, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("complete decomposition: %w", err)
	}

	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in decomposition response")
	}
	var result DecompositionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	return result, nil
}

func renderPrompt(s Skill, params Parameters) (string, error) {
	if s.PromptTemplate == "" {
		content, _ := params[ParamMessageContent].(string)
		if content == "" {
			return "", fmt.Errorf("skill %q has no prompt template and no message content", s.ID)
		}
		return content, nil
	}
	tmpl, err := template.New(s.ID).Parse(s.PromptTemplate)
	if err != nil {
		return "", fmt.Errorf("parse prompt template for %q: %w", s.ID, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, map[string]any(params)); err != nil {
		return "", fmt.Errorf("render prompt template for %q: %w", s.ID, err)
	}
	return sb.String(), nil
}

func buildDecompositionPrompt(params Parameters) string {
	content, _ := params[ParamMessageContent].(string)
	capabilities, _ := params[ParamAvailableCapabilities].([]string)
	businessContext, _ := params[ParamBusinessContext].(string)

	var sb strings.Builder
	sb.WriteString("Decompose the following request into independent sub-tasks.\n\n")
	sb.WriteString("Request:\n")
	sb.WriteString(content)
	sb.WriteString("\n\nAvailable capabilities: ")
	sb.WriteString(strings.Join(capabilities, ", "))
	if businessContext != "" {
		sb.WriteString("\n\nBusiness context:\n")
		sb.WriteString(businessContext)
	}
	sb.WriteString("\n\nRespond with a JSON object: ")
	sb.WriteString(`{"tasks":[{"capability":"...","description":"..."}],"summary":"...","confidence":0.0}`)
	sb.WriteString("\nUse only the listed capabilities. Confidence is 0 to 1.")
	return sb.String()
}

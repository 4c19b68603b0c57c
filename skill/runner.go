package skill

import (
	"context"
	"fmt"
	"log/slog"
)

// Runner executes an ordered list of skill IDs over a shared parameter map.
// Each skill's result is deposited under its skill ID so later skills can
// consume it; the last result is returned.
type Runner struct {
	skills    Source
	executors []Executor
	logger    *slog.Logger
}

// NewRunner creates a runner over the given skill source and executors.
// Executor order matters: the first executor whose advertised type matches
// a skill's executorType is used.
func NewRunner(skills Source, executors []Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{skills: skills, executors: executors, logger: logger}
}

// Run executes the pipeline. An unknown skill ID or an executor type with
// no registered executor fails the pipeline.
func (r *Runner) Run(ctx context.Context, pipeline []string, params Parameters) (any, error) {
	if params == nil {
		params = Parameters{}
	}
	var last any
	for _, id := range pipeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, ok := r.skills.Get(id)
		if !ok {
			return nil, fmt.Errorf("skill %q not registered", id)
		}
		exec := r.resolve(s.ExecutorType)
		if exec == nil {
			return nil, fmt.Errorf("no executor for type %q (skill %q)", s.ExecutorType, id)
		}

		result, err := exec.Execute(ctx, s, params)
		if err != nil {
			return nil, fmt.Errorf("skill %q: %w", id, err)
		}
		params[id] = result
		last = result

		r.logger.Debug("skill executed", "skill", id, "executor_type", s.ExecutorType)
	}
	return last, nil
}

func (r *Runner) resolve(executorType string) Executor {
	for _, e := range r.executors {
		if e.ExecutorType() == executorType {
			return e
		}
	}
	return nil
}

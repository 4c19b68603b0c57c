package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dbhq-uk/cortex/agent"
)

// LoadPersona reads one persona from a YAML file.
func LoadPersona(path string) (agent.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agent.Persona{}, fmt.Errorf("failed to read persona file: %w", err)
	}
	var p agent.Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return agent.Persona{}, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}
	if p.AgentID == "" {
		return agent.Persona{}, fmt.Errorf("persona file %s has no agent_id", path)
	}
	return p, nil
}

// LoadPersonaDir reads every persona YAML file in the directory. Files that
// fail to parse are skipped with a warning so one bad persona does not take
// the fleet down.
func LoadPersonaDir(dir string, logger *slog.Logger) ([]agent.Persona, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read persona directory: %w", err)
	}

	var personas []agent.Persona
	for _, entry := range entries {
		if entry.IsDir() || !isPersonaFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := LoadPersona(path)
		if err != nil {
			logger.Warn("skipping persona file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		personas = append(personas, p)
	}
	return personas, nil
}

func isPersonaFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// PersonaWatcher watches a persona directory and reports added or updated
// personas, so the fleet can pick up edits without a restart.
type PersonaWatcher struct {
	dir      string
	onChange func(agent.Persona)
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	started bool
	done    chan struct{}
}

// NewPersonaWatcher creates a watcher over the directory. onChange runs for
// every persona successfully loaded after a create or write event.
func NewPersonaWatcher(dir string, onChange func(agent.Persona), logger *slog.Logger) (*PersonaWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("persona watcher requires an onChange callback")
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create persona watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch persona directory %s: %w", dir, err)
	}
	return &PersonaWatcher{
		dir:      dir,
		onChange: onChange,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the watch loop until the context is cancelled or Close is
// called.
func (w *PersonaWatcher) Start(ctx context.Context) {
	w.started = true
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("persona watcher error", slog.String("error", err.Error()))
			}
		}
	}()
}

func (w *PersonaWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !isPersonaFile(event.Name) {
		return
	}
	p, err := LoadPersona(event.Name)
	if err != nil {
		w.logger.Warn("ignoring persona change",
			slog.String("path", event.Name),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("persona reloaded",
		slog.String("path", event.Name),
		slog.String("agent_id", p.AgentID))
	w.onChange(p)
}

// Close stops the watcher and waits for the loop to exit.
func (w *PersonaWatcher) Close() error {
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

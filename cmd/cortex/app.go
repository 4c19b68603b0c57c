package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbhq-uk/cortex/agent"
	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/bus/natsbus"
	"github.com/dbhq-uk/cortex/config"
	"github.com/dbhq-uk/cortex/contextstore"
	"github.com/dbhq-uk/cortex/cos"
	"github.com/dbhq-uk/cortex/llm"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
	"github.com/dbhq-uk/cortex/registry"
	"github.com/dbhq-uk/cortex/skill"
	"github.com/dbhq-uk/cortex/supervision"
	"github.com/dbhq-uk/cortex/workflow"
)

// App wires together all components of the orchestration runtime.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Messaging
	bus bus.Bus

	// State
	agents      *registry.AgentRegistry
	skills      *registry.SkillRegistry
	delegations *registry.DelegationRegistry
	authority   *registry.AuthorityRegistry
	pending     *registry.PendingPlanRegistry
	retries     *registry.RetryCounter
	workflows   *workflow.Tracker
	codes       *refcode.Generator
	store       contextstore.Store

	// Execution
	runner      *skill.Runner
	runtime     *agent.Runtime
	coordinator *cos.SkillDrivenAgent
	supervisor  *supervision.Service
	personas    *config.PersonaWatcher
}

// NewApp creates an application instance from validated configuration.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	if err := a.startNATS(); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	transport, err := natsbus.New(ctx, a.js, natsbus.DefaultConfig(),
		natsbus.WithLogger(a.logger),
		natsbus.WithMetrics(bus.NewMetrics(prometheus.DefaultRegisterer)))
	if err != nil {
		return fmt.Errorf("initialize transport: %w", err)
	}
	a.bus = transport

	a.agents = registry.NewAgentRegistry()
	a.skills = registry.NewSkillRegistry()
	a.delegations = registry.NewDelegationRegistry()
	a.authority = registry.NewAuthorityRegistry()
	a.pending = registry.NewPendingPlanRegistry()
	a.retries = registry.NewRetryCounter()
	a.workflows = workflow.NewTracker()
	a.codes = refcode.NewGenerator(refcode.NewFileSequenceStore(a.cfg.Paths.SequenceFile))
	a.store = contextstore.NewFileStore(a.cfg.Paths.ContextDir)

	client := llm.NewHTTPClient(a.cfg.Model.Endpoint, a.cfg.Model.Default,
		llm.WithTemperature(a.cfg.Model.Temperature),
		llm.WithHTTPClient(&http.Client{Timeout: a.cfg.Model.Timeout}),
		llm.WithLogger(a.logger))
	a.runner = skill.NewRunner(a.skills, []skill.Executor{
		skill.NewDecomposeExecutor(client),
		skill.NewPromptExecutor(client),
	}, a.logger)
	a.registerBuiltinSkills()

	a.runtime = agent.NewRuntime(a.bus, a.agents,
		agent.WithAuthority(a.authority),
		agent.WithRuntimeLogger(a.logger))

	if err := a.startAgents(ctx); err != nil {
		return fmt.Errorf("start agents: %w", err)
	}

	supervisor, err := supervision.New(supervision.Config{
		Delegations:      a.delegations,
		Retries:          a.retries,
		Bus:              a.bus,
		Agents:           a.runtime,
		Interval:         a.cfg.Orchestration.SupervisionInterval,
		MaxRetries:       a.cfg.Orchestration.MaxRetries,
		CoordinatorID:    a.cfg.Orchestration.CoordinatorID,
		EscalationTarget: a.cfg.Orchestration.EscalationTarget,
		Logger:           a.logger,
		Metrics:          supervision.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("initialize supervision: %w", err)
	}
	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("start supervision: %w", err)
	}
	a.supervisor = supervisor

	if err := a.watchPersonas(ctx); err != nil {
		// Hot reload is a convenience, not a requirement.
		a.logger.Warn("persona hot reload disabled", "error", err)
	}

	a.logger.Info("cortex started",
		"coordinator", a.cfg.Orchestration.CoordinatorID,
		"agents", a.runtime.RunningAgentIDs())
	return nil
}

func (a *App) startNATS() error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		a.logger.Info("connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		a.logger.Info("starting embedded NATS server")
		opts := &server.Options{
			Port:      -1,
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}
		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

// registerBuiltinSkills installs the skills every deployment gets even
// without a skill catalogue on disk.
func (a *App) registerBuiltinSkills() {
	a.skills.Register(skill.Skill{
		ID:           "decompose-goal",
		ExecutorType: skill.ExecutorTypeDecompose,
		Category:     "triage",
		Description:  "Split an inbound goal into capability-addressed sub-tasks",
	})
	a.skills.Register(skill.Skill{
		ID:           "respond",
		ExecutorType: skill.ExecutorTypePrompt,
		Category:     "general",
		Description:  "Answer a task directly with the model",
		PromptTemplate: "You are a specialist agent. Complete the following task and " +
			"reply with the result only.\n\nTask: {{.messageContent}}",
	})
}

// startAgents boots the coordinator and one pipeline agent per persona file.
func (a *App) startAgents(ctx context.Context) error {
	personas, err := config.LoadPersonaDir(a.cfg.Paths.PersonaDir, a.logger)
	if err != nil {
		return err
	}

	coordinatorPersona := agent.Persona{
		AgentID:          a.cfg.Orchestration.CoordinatorID,
		Name:             "Chief of Staff",
		Capabilities:     []string{"coordination"},
		Pipeline:         []string{"decompose-goal"},
		EscalationTarget: a.cfg.Orchestration.EscalationTarget,
	}
	specialists := make([]agent.Persona, 0, len(personas))
	for _, p := range personas {
		if p.AgentID == a.cfg.Orchestration.CoordinatorID {
			coordinatorPersona = p
			continue
		}
		specialists = append(specialists, p)
	}

	coordinator, err := cos.New(cos.Config{
		Persona:             coordinatorPersona,
		ConfidenceThreshold: a.cfg.Orchestration.ConfidenceThreshold,
		MaxRetries:          a.cfg.Orchestration.MaxRetries,
		Bus:                 a.bus,
		Agents:              a.agents,
		Runner:              a.runner,
		Delegations:         a.delegations,
		Workflows:           a.workflows,
		PendingPlans:        a.pending,
		Retries:             a.retries,
		Codes:               a.codes,
		Context:             a.store,
		Logger:              a.logger,
	})
	if err != nil {
		return err
	}
	a.coordinator = coordinator
	if err := a.runtime.StartAgent(ctx, coordinator); err != nil {
		return err
	}

	for _, persona := range specialists {
		if err := a.startSpecialist(ctx, persona); err != nil {
			a.logger.Error("specialist failed to start",
				"agent_id", persona.AgentID,
				"error", err)
		}
	}
	return nil
}

func (a *App) startSpecialist(ctx context.Context, persona agent.Persona) error {
	if len(persona.Pipeline) == 0 {
		persona.Pipeline = []string{"respond"}
	}
	specialist, err := agent.NewPipelineAgent(persona, a.runner)
	if err != nil {
		return err
	}
	return a.runtime.StartAgent(ctx, specialist)
}

// watchPersonas restarts specialists when their persona files change.
func (a *App) watchPersonas(ctx context.Context) error {
	watcher, err := config.NewPersonaWatcher(a.cfg.Paths.PersonaDir, func(persona agent.Persona) {
		if persona.AgentID == a.cfg.Orchestration.CoordinatorID {
			a.logger.Warn("coordinator persona changes require a restart",
				"agent_id", persona.AgentID)
			return
		}
		if a.runtime.IsRunning(persona.AgentID) {
			if err := a.runtime.StopAgent(ctx, persona.AgentID); err != nil {
				a.logger.Error("specialist restart failed",
					"agent_id", persona.AgentID,
					"error", err)
				return
			}
		}
		if err := a.startSpecialist(ctx, persona); err != nil {
			a.logger.Error("specialist restart failed",
				"agent_id", persona.AgentID,
				"error", err)
		}
	}, a.logger)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	a.personas = watcher
	return nil
}

// SubmitGoal publishes a goal to the coordinator's queue on behalf of the
// operator and returns its reference code.
func (a *App) SubmitGoal(ctx context.Context, goal string, tier message.AuthorityTier) (refcode.ReferenceCode, error) {
	code, err := a.codes.Generate(ctx)
	if err != nil {
		return "", fmt.Errorf("generate reference code: %w", err)
	}
	env, err := message.NewEnvelope(&message.TaskRequest{
		Base:    message.NewBase(),
		Content: goal,
	}, code)
	if err != nil {
		return "", err
	}
	env.Context.ReplyTo = bus.AgentQueue(a.cfg.Orchestration.EscalationTarget)
	env.AuthorityClaims = []message.AuthorityClaim{{
		GrantedBy:        a.cfg.Orchestration.EscalationTarget,
		GrantedTo:        a.cfg.Orchestration.CoordinatorID,
		Tier:             tier,
		PermittedActions: []string{"coordination"},
		GrantedAt:        time.Now().UTC(),
	}}
	if err := a.bus.Publish(ctx, env, bus.AgentQueue(a.cfg.Orchestration.CoordinatorID)); err != nil {
		return "", fmt.Errorf("publish goal: %w", err)
	}
	return code, nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	if a.personas != nil {
		if err := a.personas.Close(); err != nil {
			a.logger.Warn("persona watcher close failed", "error", err)
		}
	}
	if a.supervisor != nil {
		if err := a.supervisor.Stop(); err != nil {
			a.logger.Warn("supervision stop failed", "error", err)
		}
	}
	if a.runtime != nil {
		if err := a.runtime.Stop(ctx); err != nil {
			a.logger.Warn("agent runtime stop failed", "error", err)
		}
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("NATS drain failed", "error", err)
		}
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
	a.logger.Info("shutdown complete")
}

// Package supervision watches delegations against their deadlines and
// alerts the coordinator when work goes overdue.
package supervision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/registry"
)

const (
	// DefaultInterval is how often the service sweeps for overdue work.
	DefaultInterval = 60 * time.Second
	// DefaultMaxRetries bounds how many alerts a delegation gets before
	// the service escalates it directly.
	DefaultMaxRetries = 3
)

// AgentStatus reports whether an agent currently has a live harness. The
// agent runtime satisfies this.
type AgentStatus interface {
	IsRunning(agentID string) bool
}

// Config wires the supervision service.
type Config struct {
	Delegations *registry.DelegationRegistry
	Retries     *registry.RetryCounter
	Bus         bus.Bus
	Agents      AgentStatus

	// Interval between overdue sweeps.
	Interval time.Duration
	// MaxRetries before a delegation escalates instead of alerting.
	MaxRetries int
	// CoordinatorID receives supervision alerts.
	CoordinatorID string
	// EscalationTarget receives escalation alerts once retries run out.
	EscalationTarget string

	Logger  *slog.Logger
	Clock   func() time.Time
	Metrics *Metrics
}

// Validate checks the required collaborators.
func (c Config) Validate() error {
	if c.Delegations == nil {
		return fmt.Errorf("supervision requires a delegation registry")
	}
	if c.Retries == nil {
		return fmt.Errorf("supervision requires a retry counter")
	}
	if c.Bus == nil {
		return fmt.Errorf("supervision requires a bus")
	}
	if c.Agents == nil {
		return fmt.Errorf("supervision requires agent status")
	}
	if c.CoordinatorID == "" {
		return fmt.Errorf("supervision requires a coordinator id")
	}
	if c.EscalationTarget == "" {
		return fmt.Errorf("supervision requires an escalation target")
	}
	return nil
}

// Service periodically sweeps the delegation registry for overdue work.
type Service struct {
	delegations *registry.DelegationRegistry
	retries     *registry.RetryCounter
	bus         bus.Bus
	agents      AgentStatus

	interval         time.Duration
	maxRetries       int
	coordinatorID    string
	escalationTarget string

	logger  *slog.Logger
	now     func() time.Time
	metrics *Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a supervision service from the config.
func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		delegations:      cfg.Delegations,
		retries:          cfg.Retries,
		bus:              cfg.Bus,
		agents:           cfg.Agents,
		interval:         cfg.Interval,
		maxRetries:       cfg.MaxRetries,
		coordinatorID:    cfg.CoordinatorID,
		escalationTarget: cfg.EscalationTarget,
		logger:           cfg.Logger,
		now:              cfg.Clock,
		metrics:          cfg.Metrics,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.maxRetries == 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Start launches the sweep loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("supervision service already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx)
	s.logger.Info("supervision service started", "interval", s.interval)
	return nil
}

// Stop halts the sweep loop and waits for the current sweep to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("supervision service stopped")
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CheckOverdue(ctx); err != nil {
				s.logger.Error("overdue sweep failed", "error", err)
			}
		}
	}
}

// CheckOverdue sweeps once: every overdue delegation gets an alert to the
// coordinator, or an escalation once its retries are spent.
func (s *Service) CheckOverdue(ctx context.Context) error {
	s.metrics.observeSweep()
	overdue := s.delegations.FindOverdue(s.now())
	for _, d := range overdue {
		count := s.retries.Increment(d.ReferenceCode)
		if count >= s.maxRetries {
			if err := s.escalateDelegation(ctx, d, count); err != nil {
				return err
			}
			continue
		}
		if err := s.alertCoordinator(ctx, d, count); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) alertCoordinator(ctx context.Context, d registry.Delegation, count int) error {
	alert, err := message.NewEnvelope(&message.SupervisionAlert{
		Base:             message.NewBase(),
		RefCode:          string(d.ReferenceCode),
		DelegatedAgentID: d.DelegatedTo,
		RetryCount:       count,
		DueAt:            d.DueAt,
		Description:      d.Description,
		IsAgentRunning:   s.agents.IsRunning(d.DelegatedTo),
	}, d.ReferenceCode)
	if err != nil {
		return err
	}
	alert.Priority = message.PriorityHigh

	s.logger.Warn("delegation overdue",
		"reference_code", d.ReferenceCode,
		"delegated_to", d.DelegatedTo,
		"retry_count", count)
	if err := s.bus.Publish(ctx, alert, bus.AgentQueue(s.coordinatorID)); err != nil {
		return fmt.Errorf("publish supervision alert %s: %w", d.ReferenceCode, err)
	}
	s.metrics.observeAlert()
	return nil
}

func (s *Service) escalateDelegation(ctx context.Context, d registry.Delegation, count int) error {
	if err := s.delegations.UpdateStatus(d.ReferenceCode, registry.DelegationEscalated); err != nil {
		s.logger.Warn("delegation already settled",
			"reference_code", d.ReferenceCode,
			"error", err)
		return nil
	}
	alert, err := message.NewEnvelope(&message.EscalationAlert{
		Base:                message.NewBase(),
		RefCode:             string(d.ReferenceCode),
		DelegatedAgentID:    d.DelegatedTo,
		RetryCount:          count,
		Reason:              fmt.Sprintf("delegation overdue after %d retries", count),
		OriginalDescription: d.Description,
	}, d.ReferenceCode)
	if err != nil {
		return err
	}
	alert.Priority = message.PriorityCritical

	s.logger.Error("delegation escalated",
		"reference_code", d.ReferenceCode,
		"delegated_to", d.DelegatedTo,
		"retry_count", count)
	if err := s.bus.Publish(ctx, alert, bus.AgentQueue(s.escalationTarget)); err != nil {
		return fmt.Errorf("publish escalation alert %s: %w", d.ReferenceCode, err)
	}
	s.metrics.observeEscalation()
	return nil
}

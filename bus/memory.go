package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/message"
)

// InMemoryBus is the reference bus implementation: exactly-once ordered
// delivery per queue, messages retained until consumed, handler failures
// routed to an inspectable dead-letter sink.
type InMemoryBus struct {
	mu        sync.Mutex
	queues    map[string]*memQueue
	consumers []*memConsumer

	deadMu sync.Mutex
	dead   []DeadLetter

	metrics *Metrics
	logger  *slog.Logger
}

// InMemoryOption configures an InMemoryBus.
type InMemoryOption func(*InMemoryBus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) InMemoryOption {
	return func(b *InMemoryBus) { b.logger = logger }
}

// WithMetrics attaches delivery counters.
func WithMetrics(m *Metrics) InMemoryOption {
	return func(b *InMemoryBus) { b.metrics = m }
}

// NewInMemoryBus creates an empty in-memory bus.
func NewInMemoryBus(opts ...InMemoryOption) *InMemoryBus {
	b := &InMemoryBus{queues: make(map[string]*memQueue)}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

type memQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*message.Envelope
}

func newMemQueue() *memQueue {
	q := &memQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (b *InMemoryBus) queue(name string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = newMemQueue()
		b.queues[name] = q
	}
	return q
}

// Publish appends the envelope to the named queue. Messages are retained
// until a consumer takes them.
func (b *InMemoryBus) Publish(ctx context.Context, env *message.Envelope, queue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("publish nil envelope to %q", queue)
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("publish to %q: %w", queue, err)
	}
	q := b.queue(queue)
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
	q.cond.Signal()
	b.metrics.ObservePublished(queue)
	return nil
}

// StartConsuming attaches a consumer to the queue. Each consumer runs its
// handler one envelope at a time; the returned handle stops only this
// consumer.
func (b *InMemoryBus) StartConsuming(ctx context.Context, queue string, handler Handler) (ConsumerHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("nil handler for queue %q", queue)
	}
	c := &memConsumer{
		bus:       b,
		queueName: queue,
		queue:     b.queue(queue),
		handler:   handler,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()

	go c.run()
	return c, nil
}

// StopConsuming stops every consumer owned by this bus.
func (b *InMemoryBus) StopConsuming(ctx context.Context) error {
	b.mu.Lock()
	consumers := make([]*memConsumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		if err := c.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Topology reports no bindings for the in-memory variant.
func (b *InMemoryBus) Topology(ctx context.Context) ([]Binding, error) {
	return []Binding{}, nil
}

// DeadLetters returns a snapshot of the dead-letter sink.
func (b *InMemoryBus) DeadLetters() []DeadLetter {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	out := make([]DeadLetter, len(b.dead))
	copy(out, b.dead)
	return out
}

func (b *InMemoryBus) deadLetter(queue string, env *message.Envelope, reason string) {
	b.deadMu.Lock()
	b.dead = append(b.dead, DeadLetter{
		Queue:    queue,
		Envelope: env,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	b.deadMu.Unlock()
	b.metrics.ObserveDeadLetter(queue)
	b.logger.Warn("envelope dead-lettered",
		"queue", queue,
		"reference_code", env.ReferenceCode,
		"reason", reason)
}

type memConsumer struct {
	bus       *InMemoryBus
	queueName string
	queue     *memQueue
	handler   Handler

	stopOnce sync.Once
	stopped  bool // guarded by queue.mu
	done     chan struct{}
}

// Queue returns the bound queue name.
func (c *memConsumer) Queue() string { return c.queueName }

// Stop halts this consumer only, draining the in-flight handler.
func (c *memConsumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.queue.mu.Lock()
		c.stopped = true
		c.queue.mu.Unlock()
		c.queue.cond.Broadcast()
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memConsumer) run() {
	defer close(c.done)
	ctx := context.Background()
	for {
		env, ok := c.next()
		if !ok {
			return
		}
		if err := c.handler(ctx, env); err != nil {
			c.bus.deadLetter(c.queueName, env, err.Error())
			continue
		}
		c.bus.metrics.ObserveConsumed(c.queueName)
	}
}

// next blocks until an envelope is available or the consumer is stopped.
func (c *memConsumer) next() (*message.Envelope, bool) {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	for {
		if c.stopped {
			// Pass the wakeup along so a live sibling on the same queue
			// is not left waiting on a signal this consumer absorbed.
			c.queue.cond.Signal()
			return nil, false
		}
		if len(c.queue.items) > 0 {
			env := c.queue.items[0]
			c.queue.items = c.queue.items[1:]
			return env, true
		}
		c.queue.cond.Wait()
	}
}

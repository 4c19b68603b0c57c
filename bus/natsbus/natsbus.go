// Package natsbus implements the bus contract over NATS JetStream. One
// durable work-queue stream carries all agent queues under queue.<name>
// subjects; permanently unprocessable envelopes are republished to a
// dead-letter stream and terminated.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dbhq-uk/cortex/bus"
	"github.com/dbhq-uk/cortex/message"
)

// reasonHeader records why an envelope was dead-lettered.
const reasonHeader = "cortex-dead-letter-reason"

// Config holds the JetStream topology settings.
type Config struct {
	// StreamName is the work-queue stream carrying agent queues.
	StreamName string

	// DeadLetterStream receives permanently failed envelopes.
	DeadLetterStream string

	// AckWait is how long a delivery may stay unacknowledged.
	AckWait time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StreamName:       "CORTEX",
		DeadLetterStream: "CORTEX_DLQ",
		AckWait:          2 * time.Minute,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream name is required")
	}
	if c.DeadLetterStream == "" {
		return fmt.Errorf("dead letter stream is required")
	}
	return nil
}

// Bus is the JetStream-backed transport. Delivery is at-least-once with
// explicit ack per message and prefetch 1 per consumer.
type Bus struct {
	js      jetstream.JetStream
	config  Config
	logger  *slog.Logger
	metrics *bus.Metrics

	mu        sync.Mutex
	consumers []*consumer
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithMetrics attaches delivery counters.
func WithMetrics(m *bus.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates the transport and provisions its streams.
func New(ctx context.Context, js jetstream.JetStream, config Config, opts ...Option) (*Bus, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid natsbus config: %w", err)
	}
	b := &Bus{js: js, config: config}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	// Work-queue retention keeps each message until its consumer acks it.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{"queue.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", config.StreamName, err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     config.DeadLetterStream,
		Subjects: []string{"dlq.>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create dead letter stream %s: %w", config.DeadLetterStream, err)
	}

	return b, nil
}

func queueSubject(queue string) string { return "queue." + queue }

func deadLetterSubject(queue string) string { return "dlq." + queue }

// consumerName derives a durable consumer name from a queue name.
func consumerName(queue string) string {
	return strings.ReplaceAll(queue, ".", "-")
}

// Publish serialises the envelope and publishes it to the queue's subject
// with the cortex-message-type header set.
func (b *Bus) Publish(ctx context.Context, env *message.Envelope, queue string) error {
	body, typeName, err := message.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope for %q: %w", queue, err)
	}
	msg := &nats.Msg{
		Subject: queueSubject(queue),
		Data:    body,
		Header: nats.Header{
			message.TypeHeader: []string{typeName},
			"Content-Type":     []string{message.ContentType},
		},
	}
	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %q: %w", queue, err)
	}
	b.metrics.ObservePublished(queue)
	return nil
}

// StartConsuming binds a durable consumer to the queue and starts a fetch
// loop. The returned handle stops only this consumer.
func (b *Bus) StartConsuming(ctx context.Context, queue string, handler bus.Handler) (bus.ConsumerHandle, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil handler for queue %q", queue)
	}

	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", b.config.StreamName, err)
	}

	jsConsumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName(queue),
		FilterSubject: queueSubject(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWait,
		MaxAckPending: 1, // prefetch 1: one envelope in flight per consumer
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %q: %w", queue, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &consumer{
		bus:      b,
		queue:    queue,
		handler:  handler,
		consumer: jsConsumer,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()

	go c.run(loopCtx)
	return c, nil
}

// StopConsuming stops every consumer owned by this bus.
func (b *Bus) StopConsuming(ctx context.Context) error {
	b.mu.Lock()
	consumers := make([]*consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		if err := c.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Topology reports one binding per active consumer.
func (b *Bus) Topology(ctx context.Context) ([]bus.Binding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bindings := make([]bus.Binding, 0, len(b.consumers))
	for _, c := range b.consumers {
		bindings = append(bindings, bus.Binding{
			Queue:   c.queue,
			Subject: queueSubject(c.queue),
		})
	}
	return bindings, nil
}

// deadLetter republishes the raw delivery to the dead-letter stream.
func (b *Bus) deadLetter(ctx context.Context, queue string, msg jetstream.Msg, reason string) {
	header := nats.Header{}
	for k, v := range msg.Headers() {
		header[k] = v
	}
	header.Set(reasonHeader, reason)

	_, err := b.js.PublishMsg(ctx, &nats.Msg{
		Subject: deadLetterSubject(queue),
		Data:    msg.Data(),
		Header:  header,
	})
	if err != nil {
		b.logger.Error("failed to publish dead letter",
			"queue", queue,
			"reason", reason,
			"error", err)
		return
	}
	b.metrics.ObserveDeadLetter(queue)
}

type consumer struct {
	bus      *Bus
	queue    string
	handler  bus.Handler
	consumer jetstream.Consumer

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// Queue returns the bound queue name.
func (c *consumer) Queue() string { return c.queue }

// Stop halts this consumer's fetch loop, draining the in-flight handler.
func (c *consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(c.cancel)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *consumer) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.bus.logger.Debug("fetch error", "queue", c.queue, "error", err)
			continue
		}
		for msg := range msgs.Messages() {
			c.deliver(ctx, msg)
		}
	}
}

func (c *consumer) deliver(ctx context.Context, msg jetstream.Msg) {
	typeName := msg.Headers().Get(message.TypeHeader)
	env, err := message.Decode(msg.Data(), typeName)
	if err != nil {
		// Permanent deserialisation failure: nack without requeue.
		c.bus.deadLetter(ctx, c.queue, msg, err.Error())
		if termErr := msg.Term(); termErr != nil {
			c.bus.logger.Error("terminate failed delivery", "queue", c.queue, "error", termErr)
		}
		return
	}

	if err := c.handler(ctx, env); err != nil {
		c.bus.deadLetter(ctx, c.queue, msg, err.Error())
		if termErr := msg.Term(); termErr != nil {
			c.bus.logger.Error("terminate failed delivery", "queue", c.queue, "error", termErr)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.bus.logger.Error("ack delivery", "queue", c.queue, "error", err)
		return
	}
	c.bus.metrics.ObserveConsumed(c.queue)
}

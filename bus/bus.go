// Package bus defines the message bus contract every transport implements,
// together with the in-memory reference implementation used by tests and
// single-process runs.
package bus

import (
	"context"
	"time"

	"github.com/dbhq-uk/cortex/message"
)

// Handler processes one delivered envelope. Returning an error nacks the
// delivery without requeue, routing the envelope to the dead-letter sink.
type Handler func(ctx context.Context, env *message.Envelope) error

// ConsumerHandle controls exactly one consumer. Stopping a handle must not
// affect any other consumer on the same bus.
type ConsumerHandle interface {
	// Queue returns the queue this consumer is bound to.
	Queue() string
	// Stop halts delivery, letting an in-flight handler finish first.
	Stop(ctx context.Context) error
}

// Binding describes one queue binding in the bus topology.
type Binding struct {
	Queue   string `json:"queue"`
	Subject string `json:"subject"`
}

// Bus carries envelopes between agents. Delivery is FIFO per queue with no
// ordering across queues. Each consumer runs its handler sequentially
// (prefetch 1); parallelism comes from running many consumers.
type Bus interface {
	// Publish enqueues the envelope for delivery to the named queue.
	Publish(ctx context.Context, env *message.Envelope, queue string) error

	// StartConsuming begins delivery on a dedicated stream for the queue.
	// The returned handle stops only its own consumer.
	StartConsuming(ctx context.Context, queue string, handler Handler) (ConsumerHandle, error)

	// StopConsuming stops every consumer owned by this bus.
	StopConsuming(ctx context.Context) error

	// Topology reports the current queue bindings.
	Topology(ctx context.Context) ([]Binding, error)
}

// DeadLetter records one envelope that could not be processed. Dead letters
// are the authoritative record of unprocessable envelopes.
type DeadLetter struct {
	Queue    string
	Envelope *message.Envelope
	Body     []byte
	Reason   string
	At       time.Time
}

// AgentQueue derives the inbox queue name for an agent.
func AgentQueue(agentID string) string {
	return "agent." + agentID
}

package message

import (
	"fmt"
	"time"

	"github.com/dbhq-uk/cortex/refcode"
)

// Priority orders envelopes by urgency. It does not affect FIFO delivery
// within a queue; consumers may use it for their own triage.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the camelCase wire name.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler for the wire format.
func (p Priority) MarshalText() ([]byte, error) {
	name, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown priority %d", int(p))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the wire format.
func (p *Priority) UnmarshalText(data []byte) error {
	s := string(data)
	for prio, name := range priorityNames {
		if name == s {
			*p = prio
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", s)
}

// Context carries the routing and correlation fields of an envelope.
// All fields are optional; the struct itself is always present.
type Context struct {
	ParentMessageID string `json:"parentMessageId,omitempty"`
	OriginalGoal    string `json:"originalGoal,omitempty"`
	TeamID          string `json:"teamId,omitempty"`
	ChannelID       string `json:"channelId,omitempty"`
	ReplyTo         string `json:"replyTo,omitempty"`
	FromAgentID     string `json:"fromAgentId,omitempty"`
}

// Envelope is the unit the bus carries. Handlers observe envelopes but do
// not mutate them; derived messages are built via NewEnvelope.
type Envelope struct {
	Message         Message
	ReferenceCode   refcode.ReferenceCode
	AuthorityClaims []AuthorityClaim
	Context         Context
	Priority        Priority
	SLA             time.Duration
}

// NewEnvelope builds an envelope, validating the reference code.
func NewEnvelope(msg Message, code refcode.ReferenceCode) (*Envelope, error) {
	if msg == nil {
		return nil, fmt.Errorf("envelope requires a message")
	}
	if !code.Valid() {
		return nil, fmt.Errorf("envelope requires a well-formed reference code, got %q", code)
	}
	return &Envelope{
		Message:       msg,
		ReferenceCode: code,
		Priority:      PriorityNormal,
	}, nil
}

// Validate checks the envelope invariants.
func (e *Envelope) Validate() error {
	if e.Message == nil {
		return fmt.Errorf("envelope message is nil")
	}
	if !e.ReferenceCode.Valid() {
		return fmt.Errorf("envelope reference code %q is malformed", e.ReferenceCode)
	}
	return nil
}

// MaxInboundTier returns the highest valid tier on the envelope's claims.
func (e *Envelope) MaxInboundTier(now time.Time) (AuthorityTier, bool) {
	return MaxTier(e.AuthorityClaims, now)
}

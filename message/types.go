// Package message defines the envelope and payload types carried by the bus,
// the authority claims attached to them, and the JSON wire codec used by the
// production transport.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is the payload carried inside an envelope. Concrete types are
// discriminated on the wire by their Type name.
type Message interface {
	MessageID() string
	Timestamp() time.Time
	CorrelationID() string
	Type() string
}

// Wire type names. Fully qualified so the cortex-message-type header is
// unambiguous across services.
const (
	TypeTaskRequest          = "cortex.message.TaskRequest"
	TypeTaskResponse         = "cortex.message.TaskResponse"
	TypePlanProposal         = "cortex.message.PlanProposal"
	TypePlanApprovalResponse = "cortex.message.PlanApprovalResponse"
	TypeSupervisionAlert     = "cortex.message.SupervisionAlert"
	TypeEscalationAlert      = "cortex.message.EscalationAlert"
)

// Base carries the fields every message shares.
type Base struct {
	ID          string    `json:"messageId"`
	At          time.Time `json:"timestamp"`
	Correlation string    `json:"correlationId,omitempty"`
}

// NewBase allocates a fresh message identity.
func NewBase() Base {
	return Base{ID: uuid.NewString(), At: time.Now().UTC()}
}

// MessageID returns the unique message identifier.
func (b Base) MessageID() string { return b.ID }

// Timestamp returns the creation time.
func (b Base) Timestamp() time.Time { return b.At }

// CorrelationID returns the optional correlation identifier.
func (b Base) CorrelationID() string { return b.Correlation }

// TaskRequest asks an agent to perform work described by Content.
type TaskRequest struct {
	Base
	Content string `json:"content"`
}

// Type returns the wire type name.
func (*TaskRequest) Type() string { return TypeTaskRequest }

// TaskResponse carries the outcome of a TaskRequest.
type TaskResponse struct {
	Base
	Content string `json:"content"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Type returns the wire type name.
func (*TaskResponse) Type() string { return TypeTaskResponse }

// ProposedTask is one sub-task inside a plan proposal or decomposition.
type ProposedTask struct {
	Capability    string         `json:"capability"`
	Description   string         `json:"description"`
	RequestedTier *AuthorityTier `json:"requestedTier,omitempty"`
}

// PlanProposal asks a human for approval of a decomposed plan before any
// sub-task is dispatched.
type PlanProposal struct {
	Base
	Tasks                []ProposedTask `json:"tasks"`
	Summary              string         `json:"summary"`
	OriginalGoal         string         `json:"originalGoal"`
	PendingReferenceCode string         `json:"pendingReferenceCode"`
}

// Type returns the wire type name.
func (*PlanProposal) Type() string { return TypePlanProposal }

// PlanApprovalResponse resolves a pending plan.
type PlanApprovalResponse struct {
	Base
	Approved      bool   `json:"approved"`
	Amendments    string `json:"amendments,omitempty"`
	ReferenceCode string `json:"referenceCode"`
}

// Type returns the wire type name.
func (*PlanApprovalResponse) Type() string { return TypePlanApprovalResponse }

// SupervisionAlert notifies the coordinator that a delegation is overdue.
type SupervisionAlert struct {
	Base
	RefCode          string     `json:"refCode"`
	DelegatedAgentID string     `json:"delegatedAgentId"`
	RetryCount       int        `json:"retryCount"`
	DueAt            *time.Time `json:"dueAt,omitempty"`
	Description      string     `json:"description"`
	IsAgentRunning   bool       `json:"isAgentRunning"`
}

// Type returns the wire type name.
func (*SupervisionAlert) Type() string { return TypeSupervisionAlert }

// EscalationAlert reports a delegation that exhausted its retries.
type EscalationAlert struct {
	Base
	RefCode             string `json:"refCode"`
	DelegatedAgentID    string `json:"delegatedAgentId"`
	RetryCount          int    `json:"retryCount"`
	Reason              string `json:"reason"`
	OriginalDescription string `json:"originalDescription"`
}

// Type returns the wire type name.
func (*EscalationAlert) Type() string { return TypeEscalationAlert }

package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownMessageType is returned when a wire type name has no registered
// factory. Receivers treat this as a permanent deserialisation failure.
var ErrUnknownMessageType = errors.New("unknown message type")

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]func() Message)
)

// RegisterPayload adds a factory for a wire type name. Registration of a
// duplicate name panics; payload types are wired at init time.
func RegisterPayload(typeName string, factory func() Message) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[typeName]; exists {
		panic("message: duplicate payload registration for " + typeName)
	}
	factories[typeName] = factory
}

// DecodePayload reconstructs a concrete message from its wire type name and
// JSON body.
func DecodePayload(typeName string, data []byte) (Message, error) {
	factoriesMu.RLock()
	factory, ok := factories[typeName]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typeName)
	}
	msg := factory()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", typeName, err)
	}
	return msg, nil
}

func init() {
	RegisterPayload(TypeTaskRequest, func() Message { return &TaskRequest{} })
	RegisterPayload(TypeTaskResponse, func() Message { return &TaskResponse{} })
	RegisterPayload(TypePlanProposal, func() Message { return &PlanProposal{} })
	RegisterPayload(TypePlanApprovalResponse, func() Message { return &PlanApprovalResponse{} })
	RegisterPayload(TypeSupervisionAlert, func() Message { return &SupervisionAlert{} })
	RegisterPayload(TypeEscalationAlert, func() Message { return &EscalationAlert{} })
}

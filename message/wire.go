package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dbhq-uk/cortex/refcode"
)

// TypeHeader is the transport header carrying the payload's wire type name.
const TypeHeader = "cortex-message-type"

// ContentType is the transport content type for envelope bodies.
const ContentType = "application/json"

// wireEnvelope is the JSON shape of an envelope body. Enums serialise as
// camelCase strings, SLA as a Go duration string, and nulls are omitted.
type wireEnvelope struct {
	Message         json.RawMessage  `json:"message"`
	ReferenceCode   string           `json:"referenceCode"`
	AuthorityClaims []AuthorityClaim `json:"authorityClaims,omitempty"`
	Context         Context          `json:"context"`
	Priority        Priority         `json:"priority"`
	SLA             string           `json:"sla,omitempty"`
}

// Encode serialises an envelope to its wire body and returns the payload
// type name for the cortex-message-type header.
func Encode(env *Envelope) (body []byte, typeName string, err error) {
	if err := env.Validate(); err != nil {
		return nil, "", err
	}
	payload, err := json.Marshal(env.Message)
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}
	wire := wireEnvelope{
		Message:         payload,
		ReferenceCode:   env.ReferenceCode.String(),
		AuthorityClaims: env.AuthorityClaims,
		Context:         env.Context,
		Priority:        env.Priority,
	}
	if env.SLA > 0 {
		wire.SLA = env.SLA.String()
	}
	body, err = json.Marshal(wire)
	if err != nil {
		return nil, "", fmt.Errorf("marshal envelope: %w", err)
	}
	return body, env.Message.Type(), nil
}

// Decode reconstructs an envelope from its wire body and type header.
// A missing or unknown type name, or a malformed body, is a permanent
// failure; callers route such messages to the dead-letter sink.
func Decode(body []byte, typeName string) (*Envelope, error) {
	if typeName == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrUnknownMessageType, TypeHeader)
	}
	var wire wireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal envelope body: %w", err)
	}
	msg, err := DecodePayload(typeName, wire.Message)
	if err != nil {
		return nil, err
	}
	code, err := refcode.Parse(wire.ReferenceCode)
	if err != nil {
		return nil, fmt.Errorf("envelope reference code: %w", err)
	}
	env := &Envelope{
		Message:         msg,
		ReferenceCode:   code,
		AuthorityClaims: wire.AuthorityClaims,
		Context:         wire.Context,
		Priority:        wire.Priority,
	}
	if wire.SLA != "" {
		sla, err := time.ParseDuration(wire.SLA)
		if err != nil {
			return nil, fmt.Errorf("envelope sla: %w", err)
		}
		env.SLA = sla
	}
	return env, nil
}

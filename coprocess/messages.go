package coprocess

import (
	"encoding/json"
	"fmt"

	"github.com/baldhumanity/neatlab/env"
	"github.com/baldhumanity/neatlab/neat"
)

// MessageType names a request or an event.
type MessageType string

// Requests.
const (
	TypeInit          MessageType = "INIT"
	TypeReset         MessageType = "RESET" // Also the reply to RESET
	TypeStart         MessageType = "START"
	TypeStop          MessageType = "STOP"
	TypeStep          MessageType = "STEP"
	TypeUpdateConfig  MessageType = "UPDATE_CONFIG"
	TypeRequestGenome MessageType = "REQUEST_GENOME"
	TypeState         MessageType = "STATE" // Also the reply to STATE
)

// Replies and events.
const (
	TypeInited             MessageType = "INITED"
	TypeStatus             MessageType = "STATUS"
	TypeProgress           MessageType = "PROGRESS"
	TypeGenerationComplete MessageType = "GENERATION_COMPLETE"
	TypeConfigUpdated      MessageType = "CONFIG_UPDATED"
	TypeGenomeDetails      MessageType = "GENOME_DETAILS"
	TypeEnvSizeUpdated     MessageType = "ENV_SIZE_UPDATED"
	TypeError              MessageType = "ERROR"
)

// Request is a message from the host. ID is optional and echoed as RequestID
// on the direct reply.
type Request struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a request with a JSON-encoded payload.
func NewRequest(t MessageType, payload any) (Request, error) {
	req := Request{Type: t}
	if payload == nil {
		return req, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return req, fmt.Errorf("encode %s payload: %w", t, err)
	}
	req.Payload = raw
	return req, nil
}

// decode unmarshals the payload into v. An empty payload leaves v untouched.
func (r Request) decode(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", r.Type, err)
	}
	return nil
}

// InitPayload configures INIT and RESET. Config is applied on top of the
// process's base configuration; Environment selects a registered task.
type InitPayload struct {
	Environment string            `json:"environment,omitempty"`
	Env         *env.Settings     `json:"env,omitempty"`
	Config      *neat.ConfigPatch `json:"config,omitempty"`
}

// UpdatePayload carries a live configuration change.
type UpdatePayload struct {
	Config *neat.ConfigPatch `json:"config,omitempty"`
	Env    *env.Settings     `json:"env,omitempty"`
}

// GenomeRequest asks for one genome by id.
type GenomeRequest struct {
	ID int `json:"id"`
}

// Progress reports evaluation progress inside a generation.
type Progress struct {
	Generation int `json:"generation"`
	Evaluated  int `json:"evaluated"`
	Total      int `json:"total"`
}

// Status reports whether the unattended loop is running.
type Status struct {
	Running    bool `json:"running"`
	Generation int  `json:"generation"`
}

// Size is the environment world size.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Message is a reply or an unsolicited event.
type Message struct {
	Type      MessageType           `json:"type"`
	RequestID string                `json:"requestId,omitempty"`
	RunID     string                `json:"runId,omitempty"`
	Snapshot  *neat.Snapshot        `json:"snapshot,omitempty"`
	Stats     *neat.GenerationStats `json:"stats,omitempty"`
	Progress  *Progress             `json:"progress,omitempty"`
	Status    *Status               `json:"status,omitempty"`
	Genome    *neat.Genome          `json:"genome,omitempty"`
	Replay    *env.Replay           `json:"replay,omitempty"`
	Size      *Size                 `json:"size,omitempty"`
	Message   string                `json:"message,omitempty"`
}

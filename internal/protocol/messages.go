package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatRequest        MessageType = "chat_request"
	TypeClientControl      MessageType = "client_control"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatRequest asks the persona bound to the session for one streamed turn.
type ChatRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Query     string      `json:"query"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Action    string      `json:"action"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	RoleName  string      `json:"role_name"`
	TextDelta string      `json:"text_delta"`
}

// AssistantTurnEnd closes a turn. Answer is the sanitized reply; it may be
// empty when the model said nothing but stage directions.
type AssistantTurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	RoleName  string      `json:"role_name"`
	Answer    string      `json:"answer"`
	Reason    string      `json:"reason"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatRequest:
		var msg ChatRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Query) == "" {
			return nil, errors.New("invalid chat_request: empty query")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

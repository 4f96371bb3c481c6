package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSessionID is used when a request omits session_id.
const DefaultSessionID = "default"

// ErrMalformedMessage is returned when a conversation cannot be formatted.
var ErrMalformedMessage = errors.New("malformed message")

// Message is a single role-tagged turn. Order within a conversation matters.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the body of /chat/stream and /chat/continue.
type Request struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"session_id,omitempty"`
}

// StopRequest is the body of /chat/stop.
type StopRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// AskRequest is the body of the single-shot /ask endpoint.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse carries the full generated answer.
type AskResponse struct {
	Answer string `json:"answer"`
}

// NormalizeSessionID trims the id and falls back to fallback, or to
// DefaultSessionID when fallback is blank too.
func NormalizeSessionID(id, fallback string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return DefaultSessionID
}

// ParseRole maps a wire role onto a known Role (case-insensitive).
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleSystem:
		return RoleSystem, nil
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrMalformedMessage, raw)
	}
}

// LastRole returns the role of the final message, or "" for an empty history.
func LastRole(messages []Message) Role {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Role
}

// StopResponse acknowledges a stop request. It does not wait for the
// generation to end.
type StopResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

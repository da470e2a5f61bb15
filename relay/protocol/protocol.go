// Package protocol defines the JSON messages exchanged between lens hosts,
// web trackers and the relay. Every message is an object carrying a "type"
// tag; the remaining fields depend on the kind.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the value of a message's "type" field.
type Kind string

// Inbound kinds.
const (
	KindSessionRequest Kind = "session-request"
	KindJoinRequest    Kind = "join-request"
	KindCodeAssignment Kind = "code-assignment"
	KindConnectRequest Kind = "connect-request"
	KindTelemetry      Kind = "telemetry"
)

// Outbound kinds. Telemetry is reused for forwarded values.
const (
	KindSessionResponse      Kind = "session-response"
	KindJoinResponse         Kind = "join-response"
	KindConnectionSuccessful Kind = "connection-successful"
	KindWebConnected         Kind = "web-connected"
	KindWebDisconnected      Kind = "web-disconnected"
	KindSessionEnded         Kind = "session-ended"
	KindError                Kind = "error"
)

// Inbound lists every kind a client may send.
var Inbound = []Kind{
	KindSessionRequest,
	KindJoinRequest,
	KindCodeAssignment,
	KindConnectRequest,
	KindTelemetry,
}

// Error codes carried in Error messages.
const (
	CodeBadRequest       = "bad-request"
	CodeSessionNotFound  = "session-not-found"
	CodeDuplicateSession = "duplicate-session"
	CodeInvalidCode      = "invalid-code"
	CodeInUse            = "code-in-use"
	CodeAlreadyClaimed   = "already-claimed"
	CodeWrongRole        = "wrong-role"
	CodeInternal         = "internal"
)

// Session end reasons.
const (
	ReasonHostDisconnected = "host-disconnected"
	ReasonExpired          = "expired"
	ReasonShutdown         = "server-shutdown"
)

var ErrMalformed = errors.New("malformed message")

// Envelope is a decoded message whose body has not been bound to a type yet.
type Envelope struct {
	Type Kind
	Raw  json.RawMessage
}

// Decode parses data far enough to read its type tag.
func Decode(data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return Envelope{Type: Kind(strings.TrimSpace(head.Type)), Raw: data}, nil
}

// Bind unmarshals the envelope body into v.
func (e Envelope) Bind(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// SessionRequest asks the relay to open a session. JoinRequest has the same shape.
type SessionRequest struct {
	SessionKey       string `json:"sessionKey"`
	HostConnectionID string `json:"hostConnectionId"`
}

type JoinRequest = SessionRequest

// Assignment binds one suffix to a host connection.
type Assignment struct {
	HostConnectionID string `json:"hostConnectionId"`
	SuffixChar       string `json:"suffixChar"`
	DisplayName      string `json:"displayName"`
	FullCode         string `json:"fullCode"`
}

// CodeAssignment accepts the assignment fields either flat or nested under
// "assignment".
type CodeAssignment struct {
	SessionKey       string      `json:"sessionKey"`
	HostConnectionID string      `json:"hostConnectionId"`
	SuffixChar       string      `json:"suffixChar"`
	DisplayName      string      `json:"displayName"`
	FullCode         string      `json:"fullCode"`
	Nested           *Assignment `json:"assignment,omitempty"`
}

// Resolved merges the nested and flat forms; nested fields win.
func (c CodeAssignment) Resolved() Assignment {
	a := Assignment{
		HostConnectionID: c.HostConnectionID,
		SuffixChar:       c.SuffixChar,
		DisplayName:      c.DisplayName,
		FullCode:         c.FullCode,
	}
	if n := c.Nested; n != nil {
		if n.HostConnectionID != "" {
			a.HostConnectionID = n.HostConnectionID
		}
		if n.SuffixChar != "" {
			a.SuffixChar = n.SuffixChar
		}
		if n.DisplayName != "" {
			a.DisplayName = n.DisplayName
		}
		if n.FullCode != "" {
			a.FullCode = n.FullCode
		}
	}
	return a
}

// ConnectRequest is sent by a web tracker to claim a full code.
type ConnectRequest struct {
	FullCode string `json:"fullCode"`
}

// Telemetry carries one openness sample. The value stays raw so the router
// can reject non-numeric input without failing the whole message.
type Telemetry struct {
	FullCode      string          `json:"fullCode"`
	OpennessValue json.RawMessage `json:"opennessValue"`
}

// SessionResponse answers session-request and join-request.
type SessionResponse struct {
	Type        Kind   `json:"type"`
	Success     bool   `json:"success"`
	DisplayCode string `json:"displayCode,omitempty"`
	SessionKey  string `json:"sessionKey,omitempty"`
}

type Error struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ConnectionSuccessful struct {
	Type        Kind   `json:"type"`
	FullCode    string `json:"fullCode"`
	DisplayName string `json:"displayName,omitempty"`
}

type WebConnected struct {
	Type        Kind   `json:"type"`
	FullCode    string `json:"fullCode"`
	DisplayName string `json:"displayName,omitempty"`
}

type WebDisconnected struct {
	Type     Kind   `json:"type"`
	FullCode string `json:"fullCode"`
}

// TelemetryUpdate is the forwarded form of Telemetry, stamped in Unix milliseconds.
type TelemetryUpdate struct {
	Type          Kind    `json:"type"`
	FullCode      string  `json:"fullCode"`
	OpennessValue float64 `json:"opennessValue"`
	Timestamp     int64   `json:"timestamp"`
}

type SessionEnded struct {
	Type   Kind   `json:"type"`
	Reason string `json:"reason"`
}

func NewSessionResponse(kind Kind, displayCode, sessionKey string) SessionResponse {
	return SessionResponse{Type: kind, Success: true, DisplayCode: displayCode, SessionKey: sessionKey}
}

func NewError(code, message string) Error {
	return Error{Type: KindError, Message: message, Code: code}
}

func NewConnectionSuccessful(fullCode, displayName string) ConnectionSuccessful {
	return ConnectionSuccessful{Type: KindConnectionSuccessful, FullCode: fullCode, DisplayName: displayName}
}

func NewWebConnected(fullCode, displayName string) WebConnected {
	return WebConnected{Type: KindWebConnected, FullCode: fullCode, DisplayName: displayName}
}

func NewWebDisconnected(fullCode string) WebDisconnected {
	return WebDisconnected{Type: KindWebDisconnected, FullCode: fullCode}
}

func NewTelemetryUpdate(fullCode string, value float64, timestamp int64) TelemetryUpdate {
	return TelemetryUpdate{Type: KindTelemetry, FullCode: fullCode, OpennessValue: value, Timestamp: timestamp}
}

func NewSessionEnded(reason string) SessionEnded {
	return SessionEnded{Type: KindSessionEnded, Reason: reason}
}

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Ftotnem/duels-network/shared/registry"
)

var (
	// ErrTimeout is returned when no response arrives before the deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrHandlerNotRegistered reports a request or message kind with no local handler.
	ErrHandlerNotRegistered = errors.New("handler not registered")
	// ErrUnknownKind is returned when a payload kind has no registered decoder.
	ErrUnknownKind = errors.New("unknown payload kind")
	// ErrUnexpectedResponse is returned when a response decodes to the wrong type.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrRemote wraps a failure reported by the handling peer.
	ErrRemote = errors.New("remote handler failed")
	// ErrNoSuchService is returned when no live peer can serve a request.
	ErrNoSuchService = registry.ErrNoSuchService
	// ErrStopped is returned by operations on a stopped service.
	ErrStopped = errors.New("messaging service stopped")
)

// Class discriminates the three envelope shapes.
type Class string

const (
	ClassMessage  Class = "message"
	ClassRequest  Class = "request"
	ClassResponse Class = "response"
)

// GlobalTarget is the target id of envelopes sent on the global channel.
const GlobalTarget = "global"

// Envelope is the wire form of every message, request and response. Kind is
// the discriminant used to pick a decoder for Payload.
type Envelope struct {
	Class         Class             `json:"class"`
	Kind          string            `json:"kind"`
	CorrelationID string            `json:"correlationId"`
	SenderID      string            `json:"senderId"`
	TargetID      string            `json:"targetId"`
	ReplyTo       string            `json:"replyTo,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Trace         map[string]string `json:"trace,omitempty"`
}

// RemoteError is sent back in place of a response when a request handler fails.
type RemoteError struct {
	Message string `json:"message"`
}

func (RemoteError) Kind() string { return "error" }

func (e RemoteError) Err() error {
	return fmt.Errorf("%w: %s", ErrRemote, e.Message)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Kind == "" {
		return env, errors.New("envelope without kind")
	}
	switch env.Class {
	case ClassMessage, ClassRequest, ClassResponse:
	default:
		return env, fmt.Errorf("envelope with unknown class %q", env.Class)
	}
	return env, nil
}
